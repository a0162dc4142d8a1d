package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPClient(t *testing.T) {
	var lastMethod, lastAuth, lastAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastMethod = r.Method
		lastAuth = r.Header.Get("Authorization")
		lastAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(nil, zap.NewNop())
	defer func() { _ = client.Close() }()

	t.Run("get applies headers", func(t *testing.T) {
		resp, err := client.Get(context.Background(), server.URL, map[string]string{
			"Authorization": "Bearer tok",
		})
		require.NoError(t, err)
		_ = resp.Body.Close()

		assert.Equal(t, http.MethodGet, lastMethod)
		assert.Equal(t, "Bearer tok", lastAuth)
		assert.Equal(t, "Revlake-HTTPClient/1.0", lastAgent)
	})

	t.Run("post sends body", func(t *testing.T) {
		resp, err := client.Post(context.Background(), server.URL, strings.NewReader("{}"), nil)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.MethodPost, lastMethod)
	})

	t.Run("stats track requests", func(t *testing.T) {
		total, failed := client.Stats()
		assert.Equal(t, int64(2), total)
		assert.Equal(t, int64(0), failed)

		_, err := client.Get(context.Background(), "http://127.0.0.1:1", nil)
		require.Error(t, err)

		total, failed = client.Stats()
		assert.Equal(t, int64(3), total)
		assert.Equal(t, int64(1), failed)
	})
}

func TestDefaultHTTPConfig(t *testing.T) {
	cfg := DefaultHTTPConfig()
	assert.True(t, cfg.EnableHTTP2)
	assert.Positive(t, cfg.RequestTimeout)
	assert.Positive(t, cfg.MaxIdleConnsPerHost)
}
