package types

import (
	"runtime"
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// Transfer constants
const (
	BufferSize   = 4 * KB // Chunk size read from the response body per loop iteration
	MaxRedirects = 5      // Redirects followed before TOO_MANY_REDIRECTS
)

// Retry defaults
const (
	DefaultTimeout           = 5000 * time.Millisecond
	DefaultMaxRetries        = 1
	DefaultBackoffMultiplier = 1.0
)

// HTTP Client Tuning
const (
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	KeepAliveDuration            = 30 * time.Second
)

// Channel buffer sizes
const (
	ProgressChannelBuffer = 100
)

const defaultUserAgent = "thindl/1.0 (+https://github.com/thindl/thindl)"

// RuntimeConfig holds dynamic settings that can override defaults
type RuntimeConfig struct {
	PoolSize            int
	UserAgent           string
	ProxyURL            string
	SkipTLSVerification bool
	LenientEndOfStream  bool
	BufferSize          int

	InitialTimeout    time.Duration
	MaxRetries        int
	BackoffMultiplier float64
}

// GetPoolSize returns configured value or the host core count
func (r *RuntimeConfig) GetPoolSize() int {
	if r == nil || r.PoolSize <= 0 {
		return runtime.NumCPU()
	}
	return r.PoolSize
}

// GetUserAgent returns the configured user agent or the default
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return defaultUserAgent
	}
	return r.UserAgent
}

// GetBufferSize returns configured value or default
func (r *RuntimeConfig) GetBufferSize() int {
	if r == nil || r.BufferSize <= 0 {
		return BufferSize
	}
	return r.BufferSize
}

// GetInitialTimeout returns configured value or default
func (r *RuntimeConfig) GetInitialTimeout() time.Duration {
	if r == nil || r.InitialTimeout <= 0 {
		return DefaultTimeout
	}
	return r.InitialTimeout
}

// GetMaxRetries returns configured value or default. Zero is a valid budget.
func (r *RuntimeConfig) GetMaxRetries() int {
	if r == nil || r.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return r.MaxRetries
}

// GetBackoffMultiplier returns configured value or default
func (r *RuntimeConfig) GetBackoffMultiplier() float64 {
	if r == nil || r.BackoffMultiplier < 0 {
		return DefaultBackoffMultiplier
	}
	return r.BackoffMultiplier
}
