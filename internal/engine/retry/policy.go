// Package retry decides whether a timed out connection attempt is repeated
// and with what timeout.
package retry

import (
	"errors"
	"time"

	"github.com/thindl/thindl/internal/engine/types"
)

// ErrRetryExhausted is returned by Retry once the budget is spent.
var ErrRetryExhausted = errors.New("retry budget exhausted")

// Policy is consulted by a dispatcher after every timeout.
// Implementations are used by a single dispatcher at a time.
type Policy interface {
	CurrentTimeout() time.Duration
	CurrentRetryCount() int
	BackoffMultiplier() float64
	// Retry consumes one attempt and grows the timeout. It returns
	// ErrRetryExhausted when no attempts are left.
	Retry() error
}

// DefaultPolicy grows the timeout by timeout*multiplier on every retry.
type DefaultPolicy struct {
	timeoutMs  int64
	count      int
	maxRetries int
	multiplier float64
}

// NewDefaultPolicy returns a policy. Negative inputs fall back to the
// package defaults; a zero retry budget is kept as-is.
func NewDefaultPolicy(initial time.Duration, maxRetries int, multiplier float64) *DefaultPolicy {
	if initial <= 0 {
		initial = types.DefaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = types.DefaultMaxRetries
	}
	if multiplier < 0 {
		multiplier = types.DefaultBackoffMultiplier
	}
	return &DefaultPolicy{
		timeoutMs:  initial.Milliseconds(),
		maxRetries: maxRetries,
		multiplier: multiplier,
	}
}

// Default returns a policy with 5000ms timeout, one retry and multiplier 1.
func Default() *DefaultPolicy {
	return NewDefaultPolicy(types.DefaultTimeout, types.DefaultMaxRetries, types.DefaultBackoffMultiplier)
}

// FromConfig builds a policy from runtime settings.
func FromConfig(rc *types.RuntimeConfig) *DefaultPolicy {
	return NewDefaultPolicy(rc.GetInitialTimeout(), rc.GetMaxRetries(), rc.GetBackoffMultiplier())
}

func (p *DefaultPolicy) CurrentTimeout() time.Duration {
	return time.Duration(p.timeoutMs) * time.Millisecond
}

func (p *DefaultPolicy) CurrentRetryCount() int {
	return p.count
}

func (p *DefaultPolicy) BackoffMultiplier() float64 {
	return p.multiplier
}

func (p *DefaultPolicy) Retry() error {
	p.count++
	p.timeoutMs += int64(float64(p.timeoutMs) * p.multiplier)
	if p.count > p.maxRetries {
		return ErrRetryExhausted
	}
	return nil
}
