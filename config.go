package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	origins        []string
	port           int
	prefix         string
	profile        bool
	searchEndpoint string
	searchKey      string
	searchTimeout  time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.searchTimeout <= 0 {
		return fmt.Errorf("invalid search timeout (must be positive): %s", c.searchTimeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// originAllowed reports whether a request origin may use the websocket
// and HTTP surfaces. An empty allow-list permits everything; requests
// without an Origin header (non-browser clients) are always allowed.
func (c *Config) originAllowed(origin string) bool {
	if origin == "" || len(c.origins) == 0 {
		return true
	}
	for _, allowed := range c.origins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), strings.TrimSuffix(origin, "/")) {
			return true
		}
	}
	return false
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BLINDTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "blindtest...",
		Short:         "A session coordinator for multiplayer blind-test (guess the song) games.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: BLINDTEST_BIND)")
	fs.StringSliceVar(&cfg.origins, "origin", nil, "allowed cross-origin sources, repeatable; empty allows all (env: BLINDTEST_ORIGIN)")
	fs.IntVarP(&cfg.port, "port", "p", 4000, "port to listen on (env: BLINDTEST_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: BLINDTEST_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: BLINDTEST_PROFILE)")
	fs.StringVar(&cfg.searchEndpoint, "search-endpoint", "https://www.googleapis.com/youtube/v3/search", "video catalog search endpoint (env: BLINDTEST_SEARCH_ENDPOINT)")
	fs.StringVar(&cfg.searchKey, "search-key", "", "api key for the video catalog (env: BLINDTEST_SEARCH_KEY)")
	fs.DurationVar(&cfg.searchTimeout, "search-timeout", 10*time.Second, "timeout for catalog search requests (env: BLINDTEST_SEARCH_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: BLINDTEST_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: BLINDTEST_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BLINDTEST_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: BLINDTEST_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("blindtest v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
