package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeCatalog(t *testing.T, items int) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "snippet", r.URL.Query().Get("part"))
		assert.Equal(t, "video", r.URL.Query().Get("type"))
		assert.NotEmpty(t, r.URL.Query().Get("key"))

		type thumb struct {
			URL string `json:"url"`
		}
		type item struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title      string `json:"title"`
				Thumbnails struct {
					Default thumb `json:"default"`
				} `json:"thumbnails"`
			} `json:"snippet"`
		}

		payload := struct {
			Items []item `json:"items"`
		}{}
		for i := 0; i < items; i++ {
			var entry item
			entry.ID.VideoID = fmt.Sprintf("video-%d", i)
			entry.Snippet.Title = fmt.Sprintf("Track %d", i)
			entry.Snippet.Thumbnails.Default.URL = fmt.Sprintf("https://img.example/%d.jpg", i)
			payload.Items = append(payload.Items, entry)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	}))
}

func searchRequest(cfg *Config, target string) *httptest.ResponseRecorder {
	errs := make(chan error, 8)
	handle := serveSearch(cfg, errs)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", target, nil)
	handle(w, r, nil)

	return w
}

func TestSearchMapsAndCapsResults(t *testing.T) {
	upstream := fakeCatalog(t, 12)
	defer upstream.Close()

	cfg := testConfig()
	cfg.searchEndpoint = upstream.URL
	cfg.searchKey = "test-key"

	w := searchRequest(cfg, "/search?q=daft+punk")
	require.Equal(t, http.StatusOK, w.Code)

	var results []SearchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))

	require.Len(t, results, maxSearchResults)
	assert.Equal(t, "video-0", results[0].VideoID)
	assert.Equal(t, "Track 0", results[0].Title)
	assert.Equal(t, "https://img.example/0.jpg", results[0].Thumbnail)
}

func TestSearchRequiresQuery(t *testing.T) {
	cfg := testConfig()
	cfg.searchKey = "test-key"

	w := searchRequest(cfg, "/search")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchWithoutKeyUnavailable(t *testing.T) {
	w := searchRequest(testConfig(), "/search?q=abba")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSearchUpstreamFailureIsBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.searchEndpoint = upstream.URL
	cfg.searchKey = "test-key"

	w := searchRequest(cfg, "/search?q=abba")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSearchRejectsDisallowedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.searchKey = "test-key"
	cfg.origins = []string{"https://blindtest.example"}

	errs := make(chan error, 8)
	handle := serveSearch(cfg, errs)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/search?q=abba", nil)
	r.Header.Set("Origin", "https://evil.example")
	handle(w, r, nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSearchAllowsConfiguredOrigin(t *testing.T) {
	upstream := fakeCatalog(t, 1)
	defer upstream.Close()

	cfg := testConfig()
	cfg.searchEndpoint = upstream.URL
	cfg.searchKey = "test-key"
	cfg.origins = []string{"https://blindtest.example"}
	cfg.searchTimeout = time.Second

	errs := make(chan error, 8)
	handle := serveSearch(cfg, errs)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/search?q=abba", nil)
	r.Header.Set("Origin", "https://blindtest.example")
	handle(w, r, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://blindtest.example", w.Header().Get("Access-Control-Allow-Origin"))
}
