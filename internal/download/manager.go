package download

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tinyland/update-all/internal/events"
)

// Slotter acquires and releases a concurrent-download slot. The Resource
// Controller satisfies this via its Acquire(ctx, false, true) method; tests
// can pass a no-op Slotter.
type Slotter interface {
	AcquireDownload(ctx context.Context) (release func(), err error)
}

// Manager is the centralized download manager: retry/backoff, rate
// limiting, checksum verification, archive extraction, and the
// content-addressed cache all live here rather than in any individual
// plugin, completing the "global mutable state becomes an explicit
// dependency" design note — every caller is handed a *Manager explicitly.
type Manager struct {
	cache   *Cache
	slots   Slotter
	client  *http.Client
	now     func() time.Time
}

// NewManager creates a Download Manager backed by cacheDir.
func NewManager(cacheDir string, slots Slotter) (*Manager, error) {
	cache, err := NewCache(cacheDir)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cache:  cache,
		slots:  slots,
		client: &http.Client{},
		now:    time.Now,
	}, nil
}

// Download executes spec, emitting a stream of events via sink and
// returning the final Result. The last event sent to sink is always
// Completion, mirroring the plugin protocol's own invariant.
func (m *Manager) Download(ctx context.Context, spec Spec, sink func(events.Event)) Result {
	start := m.now()
	plugin := "download:" + filepath.Base(spec.Destination)

	if spec.Checksum != nil {
		if path, isDir, ok := m.cache.Lookup(*spec.Checksum); ok {
			sink(events.Output(plugin, events.StreamStdout, "using cached file"))
			hundred := 100
			sink(events.Progress(plugin, events.PhaseDownload, &hundred, "cached"))
			sink(events.PhaseEnd(plugin, events.PhaseDownload, true, ""))
			finalPath := path
			if isDir {
				finalPath = path
			}
			sink(events.Completion(plugin, true, 0, ""))
			return Result{
				Success:          true,
				FinalPath:        finalPath,
				FromCache:        true,
				ChecksumVerified: true,
				Duration:         m.now().Sub(start),
			}
		}
	}

	release, err := m.acquireSlot(ctx)
	if err != nil {
		sink(events.Completion(plugin, false, -1, err.Error()))
		return Result{Success: false, Error: err.Error(), Duration: m.now().Sub(start)}
	}
	defer release()

	sink(events.PhaseStart(plugin, events.PhaseDownload))

	var limiter *RateLimiter
	if spec.BandwidthLimitBytesPerSec > 0 {
		limiter = NewRateLimiter(spec.BandwidthLimitBytesPerSec)
	}

	tempPath := m.tempPath(spec)
	var lastErr error
	attempts := spec.maxRetries() + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		bytesWritten, checksumHash, err := m.attemptDownload(ctx, spec, tempPath, limiter, plugin, sink)
		if err == nil {
			return m.finish(spec, tempPath, bytesWritten, checksumHash, plugin, start, sink)
		}

		lastErr = err
		os.Remove(tempPath)

		if !isRetryable(err) {
			break
		}
		if attempt < attempts {
			delay := spec.retryDelay() * time.Duration(1<<uint(attempt-1))
			sink(events.Output(plugin, events.StreamStderr,
				fmt.Sprintf("retry %d/%d after error: %v (waiting %s)", attempt, spec.maxRetries(), err, delay)))
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break
			case <-time.After(delay):
			}
		}
	}

	sink(events.PhaseEnd(plugin, events.PhaseDownload, false, lastErr.Error()))
	sink(events.Completion(plugin, false, -1, lastErr.Error()))
	return Result{Success: false, Error: lastErr.Error(), Duration: m.now().Sub(start)}
}

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	_, ok := err.(retryableError)
	return ok
}

func (m *Manager) acquireSlot(ctx context.Context) (func(), error) {
	if m.slots == nil {
		return func() {}, nil
	}
	return m.slots.AcquireDownload(ctx)
}

func (m *Manager) tempPath(spec Spec) string {
	if info, err := os.Stat(spec.Destination); err == nil && info.IsDir() {
		return filepath.Join(spec.Destination, "."+filenameFromURL(spec.URL)+".download")
	}
	return filepath.Join(filepath.Dir(spec.Destination), "."+filepath.Base(spec.Destination)+".download")
}

// filenameFromURL returns the last path segment of rawURL, the name a
// download is given when its Destination is an existing directory.
func filenameFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := u.Path[strings.LastIndex(u.Path, "/")+1:]; name != "" {
			return name
		}
	}
	return "download"
}

func newHasher(alg string) hash.Hash {
	switch strings.ToLower(alg) {
	case "sha512":
		return sha512.New()
	default:
		return sha256.New()
	}
}

// attemptDownload performs one HTTP GET + streamed write to tempPath.
func (m *Manager) attemptDownload(ctx context.Context, spec Spec, tempPath string, limiter *RateLimiter, plugin string, sink func(events.Event)) (int64, hash.Hash, error) {
	if err := os.MkdirAll(filepath.Dir(tempPath), 0755); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, nil, retryableError{err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return 0, nil, err
	}

	out, err := os.Create(tempPath)
	if err != nil {
		return 0, nil, fmt.Errorf("disk I/O error: %w", err)
	}
	defer out.Close()

	var hasher hash.Hash
	if spec.Checksum != nil {
		hasher = newHasher(spec.Checksum.Algorithm)
	}

	var written int64
	total := resp.ContentLength
	if spec.ExpectedSize > 0 {
		total = spec.ExpectedSize
	}

	buf := make([]byte, chunkSize)
	lastProgress := m.now()
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if limiter != nil {
				if werr := limiter.Wait(ctx, int64(n)); werr != nil {
					return written, hasher, retryableError{werr}
				}
			}
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, hasher, fmt.Errorf("disk I/O error: %w", werr)
			}
			if hasher != nil {
				hasher.Write(buf[:n])
			}
			written += int64(n)

			if m.now().Sub(lastProgress) >= 500*time.Millisecond {
				lastProgress = m.now()
				sink(progressEvent(plugin, written, total))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, hasher, retryableError{rerr}
		}
	}

	return written, hasher, nil
}

func progressEvent(plugin string, written, total int64) events.Event {
	var percent *int
	if total > 0 {
		p := int(written * 100 / total)
		percent = &p
	}
	ev := events.Progress(plugin, events.PhaseDownload, percent, "")
	ev.BytesDownloaded = &written
	if total > 0 {
		ev.BytesTotal = &total
	}
	return ev
}

// classifyStatus maps an HTTP status to a retryable or terminal error, nil for success.
func classifyStatus(status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if status == http.StatusTooManyRequests {
		return retryableError{fmt.Errorf("http %d: rate limited", status)}
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("http %d: not found", status)
	}
	if status >= 400 && status < 500 {
		return fmt.Errorf("http %d", status)
	}
	if status >= 500 {
		return retryableError{fmt.Errorf("http %d", status)}
	}
	return fmt.Errorf("unexpected http status %d", status)
}

// finish verifies checksum (if any), extracts or moves the temp file, and
// populates the cache.
func (m *Manager) finish(spec Spec, tempPath string, written int64, hasher hash.Hash, plugin string, start time.Time, sink func(events.Event)) Result {
	verified := false
	if spec.Checksum != nil {
		got := fmt.Sprintf("%x", hasher.Sum(nil))
		if !strings.EqualFold(got, spec.Checksum.Hex) {
			os.Remove(tempPath)
			errMsg := fmt.Sprintf("Checksum mismatch: expected %s, got %s", spec.Checksum.Hex, got)
			sink(events.PhaseEnd(plugin, events.PhaseDownload, false, errMsg))
			sink(events.Completion(plugin, false, -1, errMsg))
			return Result{Success: false, Error: errMsg, Duration: m.now().Sub(start), BytesTransferred: written}
		}
		verified = true
	}

	finalPath := spec.Destination
	if spec.Extract {
		destDir := spec.Destination
		if err := Extract(tempPath, destDir, spec.ExtractFormat); err != nil {
			os.Remove(tempPath)
			sink(events.PhaseEnd(plugin, events.PhaseDownload, false, err.Error()))
			sink(events.Completion(plugin, false, -1, err.Error()))
			return Result{Success: false, Error: err.Error(), Duration: m.now().Sub(start), BytesTransferred: written}
		}
		os.Remove(tempPath)
		finalPath = destDir
		if spec.Checksum != nil {
			_ = m.cache.PutDirMarker(*spec.Checksum, destDir)
		}
	} else {
		if info, err := os.Stat(spec.Destination); err == nil && info.IsDir() {
			finalPath = filepath.Join(spec.Destination, filenameFromURL(spec.URL))
		}
		if err := os.Rename(tempPath, finalPath); err != nil {
			sink(events.PhaseEnd(plugin, events.PhaseDownload, false, err.Error()))
			sink(events.Completion(plugin, false, -1, err.Error()))
			return Result{Success: false, Error: err.Error(), Duration: m.now().Sub(start), BytesTransferred: written}
		}
		if spec.Checksum != nil {
			_ = m.cache.PutFile(*spec.Checksum, finalPath)
		}
	}

	sink(events.PhaseEnd(plugin, events.PhaseDownload, true, ""))
	sink(events.Completion(plugin, true, 0, ""))
	return Result{
		Success:          true,
		FinalPath:        finalPath,
		BytesTransferred: written,
		ChecksumVerified: verified,
		Duration:         m.now().Sub(start),
	}
}

// GC removes cache entries older than maxAge.
func (m *Manager) GC(maxAge time.Duration) (int, error) {
	return m.cache.GC(maxAge)
}
