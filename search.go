package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
)

const maxSearchResults = 10

// SearchResult is one catalog entry a host can pick a track from.
type SearchResult struct {
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
}

// catalogResponse mirrors the fields we use from the upstream search API.
type catalogResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title      string `json:"title"`
			Thumbnails struct {
				Default struct {
					URL string `json:"url"`
				} `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

// serveSearch proxies free-text queries to the external video catalog and
// returns at most 10 results. The session coordinator itself never calls
// this; hosts use it to find a videoId to play.
func serveSearch(cfg *Config, errs chan<- error) httprouter.Handle {
	client := &http.Client{
		Timeout: cfg.searchTimeout,
	}

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		securityHeaders(cfg, w)
		if !corsHeaders(cfg, w, r) {
			return
		}

		query := r.URL.Query().Get("q")
		if query == "" {
			http.Error(w, "missing query", http.StatusBadRequest)
			return
		}

		if cfg.searchKey == "" {
			http.Error(w, "search is not configured", http.StatusServiceUnavailable)
			return
		}

		params := url.Values{}
		params.Set("part", "snippet")
		params.Set("type", "video")
		params.Set("maxResults", strconv.Itoa(maxSearchResults))
		params.Set("q", query)
		params.Set("key", cfg.searchKey)

		resp, err := client.Get(cfg.searchEndpoint + "?" + params.Encode())
		if err != nil {
			errs <- err
			http.Error(w, "catalog lookup failed", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			http.Error(w, "catalog lookup failed", http.StatusBadGateway)
			return
		}

		var upstream catalogResponse
		if err := json.NewDecoder(resp.Body).Decode(&upstream); err != nil {
			errs <- err
			http.Error(w, "catalog lookup failed", http.StatusBadGateway)
			return
		}

		results := make([]SearchResult, 0, maxSearchResults)
		for _, item := range upstream.Items {
			if item.ID.VideoID == "" {
				continue
			}
			results = append(results, SearchResult{
				VideoID:   item.ID.VideoID,
				Title:     item.Snippet.Title,
				Thumbnail: item.Snippet.Thumbnails.Default.URL,
			})
			if len(results) == maxSearchResults {
				break
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(results); err != nil {
			errs <- err

			return
		}

		logf(cfg, "SEARCH: %q (%d results) for %s in %s",
			query,
			len(results),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
