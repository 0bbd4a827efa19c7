package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/tinyland/update-all/internal/events"
)

// TestRetryBound checks testable property 6: the Download Manager invokes
// the HTTP client at most max_retries + 1 times, for an arbitrary retry
// budget against a server that always returns a retryable 503.
func TestRetryBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRetries := rapid.IntRange(1, 5).Draw(rt, "max_retries")

		var attempts int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&attempts, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		mgr, err := NewManager(t.TempDir(), nil)
		if err != nil {
			rt.Fatalf("NewManager failed: %v", err)
		}

		dest := filepath.Join(t.TempDir(), "artifact.bin")
		spec := Spec{
			URL:         server.URL,
			Destination: dest,
			MaxRetries:  maxRetries,
			RetryDelay:  time.Nanosecond,
		}

		result := mgr.Download(context.Background(), spec, func(events.Event) {})
		if result.Success {
			rt.Fatal("expected a persistently failing server to never succeed")
		}

		got := atomic.LoadInt64(&attempts)
		want := int64(maxRetries + 1)
		if got != want {
			rt.Fatalf("expected exactly max_retries+1=%d attempts, got %d", want, got)
		}
	})
}

// TestRetryBoundStopsImmediatelyOnNonRetryableStatus checks that a terminal
// status (404) never triggers a second attempt, regardless of max_retries.
func TestRetryBoundStopsImmediatelyOnNonRetryableStatus(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRetries := rapid.IntRange(1, 5).Draw(rt, "max_retries")

		var attempts int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&attempts, 1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		mgr, err := NewManager(t.TempDir(), nil)
		if err != nil {
			rt.Fatalf("NewManager failed: %v", err)
		}

		dest := filepath.Join(t.TempDir(), "artifact.bin")
		spec := Spec{
			URL:         server.URL,
			Destination: dest,
			MaxRetries:  maxRetries,
			RetryDelay:  time.Nanosecond,
		}

		mgr.Download(context.Background(), spec, func(events.Event) {})
		if got := atomic.LoadInt64(&attempts); got != 1 {
			rt.Fatalf("expected exactly 1 attempt for a non-retryable status, got %d", got)
		}
	})
}
