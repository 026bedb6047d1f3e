package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAllowedFailsOpenWhenRobotsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("test-agent", zap.NewNop())
	allowance := c.Allowed(context.Background(), srv.URL+"/page", "")
	require.True(t, allowance.Allowed)
}

func TestAllowedHonorsDisallowGroup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New("test-agent", zap.NewNop())
	blocked := c.Allowed(context.Background(), srv.URL+"/private/page", "")
	require.False(t, blocked.Allowed)
	require.False(t, blocked.FetchFailed)

	allowed := c.Allowed(context.Background(), srv.URL+"/public/page", "")
	require.True(t, allowed.Allowed)
}

func TestAllowedMemoizesPerHost(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New("test-agent", zap.NewNop())
	_ = c.Allowed(context.Background(), srv.URL+"/a", "")
	_ = c.Allowed(context.Background(), srv.URL+"/b", "")
	require.Equal(t, 1, hits)
}
