package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalURLFollowsRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()

	hop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/landing", http.StatusFound)
	}))
	defer hop.Close()

	start := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, hop.URL+"/next", http.StatusMovedPermanently)
	}))
	defer start.Close()

	got, err := New(2*time.Second).FinalURL(context.Background(), start.URL)
	require.NoError(t, err)
	assert.Equal(t, final.URL+"/landing", got)
}

func TestFinalURLWithoutRedirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	got, err := New(2*time.Second).FinalURL(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, server.URL, got)
}

func TestFinalURLRedirectLoopStops(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/loop", http.StatusFound)
	}))
	defer server.Close()

	got, err := New(2*time.Second).FinalURL(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/loop", got)
}

func TestFinalURLErrorReturnsInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	got, err := New(time.Second).FinalURL(context.Background(), url)
	assert.Error(t, err)
	assert.Equal(t, url, got)
}

func TestFinalURLTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	_, err := New(50*time.Millisecond).FinalURL(context.Background(), server.URL)
	assert.Error(t, err)
}
