package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	assert.NoError(t, cfg.validate())

	cfg.port = 0
	assert.Error(t, cfg.validate())
	cfg.port = 70000
	assert.Error(t, cfg.validate())
	cfg.port = 4000

	cfg.tlsCert = "/etc/ssl/cert.pem"
	assert.Error(t, cfg.validate())
	cfg.tlsKey = "/etc/ssl/key.pem"
	assert.NoError(t, cfg.validate())

	cfg.searchTimeout = 0
	assert.Error(t, cfg.validate())
	cfg.searchTimeout = time.Second
	assert.NoError(t, cfg.validate())
}

func TestConfigScheme(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert = "/etc/ssl/cert.pem"
	cfg.tlsKey = "/etc/ssl/key.pem"
	assert.Equal(t, "https", cfg.scheme())
}

func TestOriginAllowed(t *testing.T) {
	cfg := testConfig()

	// Empty allow-list permits everything.
	assert.True(t, cfg.originAllowed("https://anything.example"))
	assert.True(t, cfg.originAllowed(""))

	cfg.origins = []string{"http://localhost:3000", "https://blindtest.example/"}

	assert.True(t, cfg.originAllowed("http://localhost:3000"))
	assert.True(t, cfg.originAllowed("https://blindtest.example"))
	assert.True(t, cfg.originAllowed("HTTPS://BLINDTEST.EXAMPLE"))
	assert.False(t, cfg.originAllowed("https://evil.example"))

	// Requests without an Origin header are always allowed.
	assert.True(t, cfg.originAllowed(""))
}

func TestNewCmdDefaults(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)

	assert.NoError(t, cmd.ParseFlags(nil))
	assert.Equal(t, "0.0.0.0", cfg.bind)
	assert.Equal(t, 4000, cfg.port)
	assert.Equal(t, 10*time.Second, cfg.searchTimeout)
	assert.NoError(t, cfg.validate())
}
