package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arlobrandt/polycrawl/internal/engine"
)

func TestFetchReturnsBodyAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	result, failure := f.Fetch(context.Background(), srv.URL)
	require.Nil(t, failure)
	require.Equal(t, "hello", string(result.Bytes))
	require.Equal(t, 200, result.HTTPStatus)
}

func TestFetchClassifiesHTTP4xxWithoutRetry(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	_, failure := f.Fetch(context.Background(), srv.URL)
	require.NotNil(t, failure)
	require.Equal(t, "http_4xx", string(failure.Type))
	require.Equal(t, 404, failure.HTTPStatus)
	require.Equal(t, 1, hits)
}

func TestFetchRetriesHTTP5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{}, nil)
	result, failure := f.Fetch(context.Background(), srv.URL)
	require.Nil(t, failure)
	require.Equal(t, "ok", string(result.Bytes))
	require.GreaterOrEqual(t, attempts, 2)
}

func TestRetryPolicyRejectsNonRetryableFailures(t *testing.T) {
	p := NewRetryPolicy()
	for _, failureType := range []engine.FailureType{
		engine.FailureSSLError, engine.FailureDNSError, engine.FailureRobotsBlocked,
	} {
		require.False(t, p.ShouldRetry(&engine.Failure{Type: failureType}, 0))
	}
}
