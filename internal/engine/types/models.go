package types

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a download request.
// Values are bit flags so callers can build status masks.
type Status int

const (
	StatusPending Status = 1 << iota
	StatusStarted
	StatusConnecting
	StatusRunning
	StatusSuccessful
	StatusFailed
	StatusNotFound // only ever returned for unknown ids
	StatusRetrying
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusStarted:
		return "started"
	case StatusConnecting:
		return "connecting"
	case StatusRunning:
		return "running"
	case StatusSuccessful:
		return "successful"
	case StatusFailed:
		return "failed"
	case StatusNotFound:
		return "not_found"
	case StatusRetrying:
		return "retrying"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

// ErrorCode is reported with every failure event. HTTP 416, 500 and 503
// are passed through as their raw status code instead.
type ErrorCode int

const (
	ErrorFile                          ErrorCode = 1001
	ErrorUnhandledHTTPCode             ErrorCode = 1002
	ErrorHTTPData                      ErrorCode = 1004
	ErrorTooManyRedirects              ErrorCode = 1005
	ErrorDownloadSizeUnknown           ErrorCode = 1006
	ErrorMalformedURI                  ErrorCode = 1007
	ErrorDownloadCancelled             ErrorCode = 1008
	ErrorConnectionTimeoutAfterRetries ErrorCode = 1009
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorFile:
		return "FILE_ERROR"
	case ErrorUnhandledHTTPCode:
		return "UNHANDLED_HTTP_CODE"
	case ErrorHTTPData:
		return "HTTP_DATA_ERROR"
	case ErrorTooManyRedirects:
		return "TOO_MANY_REDIRECTS"
	case ErrorDownloadSizeUnknown:
		return "DOWNLOAD_SIZE_UNKNOWN"
	case ErrorMalformedURI:
		return "MALFORMED_URI"
	case ErrorDownloadCancelled:
		return "DOWNLOAD_CANCELLED"
	case ErrorConnectionTimeoutAfterRetries:
		return "CONNECTION_TIMEOUT_AFTER_RETRIES"
	}
	return fmt.Sprintf("HTTP_%d", int(c))
}

// Priority orders pending requests. Higher values are dispatched first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityImmediate
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityImmediate:
		return "immediate"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a CLI/config value into a Priority
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "immediate":
		return PriorityImmediate, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}
