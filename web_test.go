package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeHealthCheck(t *testing.T) {
	errs := make(chan error, 8)
	handle := serveHealthCheck(testConfig(), errs)

	w := httptest.NewRecorder()
	handle(w, httptest.NewRequest("GET", "/healthz", nil), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Ok\n", w.Body.String())
}

func TestServeVersion(t *testing.T) {
	errs := make(chan error, 8)
	handle := serveVersion(testConfig(), errs)

	w := httptest.NewRecorder()
	handle(w, httptest.NewRequest("GET", "/version", nil), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), releaseVersion)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.10:4242"
	assert.Equal(t, "192.0.2.10:4242", realIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7:4242", realIP(r))

	r.Header.Set("CF-Connecting-IP", "2001:db8::1")
	assert.Equal(t, "[2001:db8::1]:4242", realIP(r))
}

func TestServeRoomQR(t *testing.T) {
	registry := newRegistry()
	room := registry.create()

	handle := serveRoomQR(testConfig(), registry)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/rooms/"+room.code+"/qr", nil)
	handle(w, r, []httprouter.Param{{Key: "code", Value: room.code}})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestServeRoomQRUnknownRoom(t *testing.T) {
	handle := serveRoomQR(testConfig(), newRegistry())

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/rooms/ZZZZ/qr", nil)
	handle(w, r, []httprouter.Param{{Key: "code", Value: "ZZZZ"}})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewPage(t *testing.T) {
	page := newPage("Title", "Body")

	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, "<title>Title</title>")
	assert.Contains(t, page, "Body")
}

func TestHumanReadableSize(t *testing.T) {
	assert.Equal(t, "512 B", humanReadableSize(512))
	assert.Equal(t, "1.5 kB", humanReadableSize(1500))
	assert.Equal(t, "2.0 MB", humanReadableSize(2_000_000))
}
