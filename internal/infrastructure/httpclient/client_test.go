package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/logging"
)

func TestNewClient(t *testing.T) {
	client := NewClient(0, nil)

	assert.NotNil(t, client.httpClient)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
	assert.Equal(t, int64(DefaultMaxBodyBytes), client.maxBodyBytes)
}

func TestGet_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lst/bmw", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "de-DE", r.Header.Get("Accept-Language"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte("<html>page</html>"))
	}))
	defer server.Close()

	client := NewClient(time.Second, logging.Discard())
	headers := http.Header{"Accept-Language": {"de-DE"}, "User-Agent": {"test-agent"}}

	status, body, err := client.Get(context.Background(), server.URL+"/lst/bmw?page=2", headers)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<html>page</html>", string(body))
}

func TestGet_NonSuccessStatusIsNotAnError(t *testing.T) {
	for _, code := range []int{http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests, http.StatusBadGateway} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		status, _, err := NewClient(time.Second, logging.Discard()).Get(context.Background(), server.URL, nil)
		server.Close()

		require.NoError(t, err)
		assert.Equal(t, code, status)
	}
}

func TestGet_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	status, body, err := NewClient(time.Second, logging.Discard()).Get(context.Background(), server.URL+"/old", nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "moved", string(body))
}

func TestGet_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("late"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewClient(time.Second, logging.Discard()).Get(ctx, server.URL, nil)
	assert.Error(t, err)
}

func TestGet_InvalidURL(t *testing.T) {
	_, _, err := NewClient(time.Second, logging.Discard()).Get(context.Background(), "://bad", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create request")
}

func TestReadLimitedBody(t *testing.T) {
	body, err := readLimitedBody(strings.NewReader("0123456789"), 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(body))
}
