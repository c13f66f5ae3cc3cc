package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_Success(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"time": 1712345678, "items": [1, 2]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{UserAgent: "datapages-test"})
	doc, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	obj, ok := doc.Value().(map[string]any)
	require.True(t, ok, "expected object document, got %T", doc.Value())
	assert.Equal(t, json.Number("1712345678"), obj["time"])
	assert.Equal(t, "datapages-test", gotUA)
	assert.Equal(t, "application/json", gotAccept)
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(Options{}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var ferr *Error
	require.True(t, errors.As(err, &ferr), "expected *fetch.Error, got %T", err)
	assert.Equal(t, http.StatusTooManyRequests, ferr.StatusCode)
	assert.Equal(t, srv.URL, ferr.URL)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestFetch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"time": `)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(Options{}).Fetch(context.Background(), srv.URL)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, http.StatusOK, ferr.StatusCode)
	assert.Contains(t, err.Error(), "malformed JSON body")
}

func TestFetch_BodyTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `{"pad": %q}`, strings.Repeat("x", 1024))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(Options{MaxBytes: 100}).Fetch(context.Background(), srv.URL)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Contains(t, err.Error(), "exceeds 100 bytes")
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewHTTPClient(Options{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Zero(t, ferr.StatusCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(Options{}).Fetch(context.Background(), url)
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Zero(t, ferr.StatusCode)
}

func TestFetch_InvalidURL(t *testing.T) {
	_, err := NewHTTPClient(Options{}).Fetch(context.Background(), "://bad")
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
}

func TestNewHTTPClient_Defaults(t *testing.T) {
	c := NewHTTPClient(Options{})
	assert.Equal(t, DefaultTimeout, c.client.Timeout)
	assert.Equal(t, DefaultUserAgent, c.userAgent)
	assert.Equal(t, DefaultMaxBytes, c.maxBytes)
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("boom")
	e := &Error{URL: "https://x/data.json", Err: cause}
	assert.Equal(t, "fetch https://x/data.json: boom", e.Error())
	assert.ErrorIs(t, e, cause)

	e.StatusCode = 502
	assert.Equal(t, "fetch https://x/data.json: status 502: boom", e.Error())
}
