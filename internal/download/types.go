// Package download implements the centralized Download Manager: retrying,
// rate-limited, checksum-verifying, cache-aware HTTP downloads with
// optional archive extraction.
package download

import "time"

// ExtractFormat names a supported archive format.
type ExtractFormat string

const (
	ExtractNone   ExtractFormat = ""
	ExtractTarGz  ExtractFormat = "tar.gz"
	ExtractTarBz2 ExtractFormat = "tar.bz2"
	ExtractTarXz  ExtractFormat = "tar.xz"
	ExtractZip    ExtractFormat = "zip"
)

// Checksum is an expected content digest.
type Checksum struct {
	Algorithm string // e.g. "sha256"
	Hex       string
}

// Spec describes one download request. It is immutable once issued.
type Spec struct {
	URL           string
	Destination   string
	ExpectedSize  int64 // 0 if unknown
	Checksum      *Checksum
	Extract       bool
	ExtractFormat ExtractFormat
	Headers       map[string]string
	Timeout       time.Duration

	// MaxRetries is the number of retries after the first attempt
	// (default 3, i.e. 4 total attempts).
	MaxRetries int
	// RetryDelay is the base backoff delay (default 1s); actual wait is
	// RetryDelay * 2^(attempt-1).
	RetryDelay time.Duration
	// BandwidthLimitBytesPerSec caps transfer rate; 0 disables the limiter.
	BandwidthLimitBytesPerSec int64
}

const (
	DefaultMaxRetries           = 3
	DefaultRetryDelay           = time.Second
	DefaultConcurrentDownloads  = 2
	DefaultUserAgent            = "update-all-download-manager/1.0"
	chunkSize                   = 64 * 1024
)

func (s Spec) maxRetries() int {
	if s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return DefaultMaxRetries
}

func (s Spec) retryDelay() time.Duration {
	if s.RetryDelay > 0 {
		return s.RetryDelay
	}
	return DefaultRetryDelay
}

// Result is the outcome of a download.
type Result struct {
	Success          bool
	FinalPath        string
	BytesTransferred int64
	Duration         time.Duration
	FromCache        bool
	ChecksumVerified bool
	Error            string
}
