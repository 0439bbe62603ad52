package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thindl/thindl/internal/engine/types"
)

func TestDefaultPolicy_Defaults(t *testing.T) {
	p := Default()
	assert.Equal(t, 5000*time.Millisecond, p.CurrentTimeout())
	assert.Equal(t, 0, p.CurrentRetryCount())
	assert.Equal(t, 1.0, p.BackoffMultiplier())
}

func TestDefaultPolicy_SingleRetryThenExhausted(t *testing.T) {
	p := Default()

	require.NoError(t, p.Retry())
	assert.Equal(t, 1, p.CurrentRetryCount())
	assert.Equal(t, 10000*time.Millisecond, p.CurrentTimeout())

	err := p.Retry()
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.Equal(t, 2, p.CurrentRetryCount())
}

func TestDefaultPolicy_Backoff(t *testing.T) {
	p := NewDefaultPolicy(1000*time.Millisecond, 3, 0.5)

	want := []time.Duration{1500 * time.Millisecond, 2250 * time.Millisecond, 3375 * time.Millisecond}
	for i, w := range want {
		require.NoError(t, p.Retry(), "retry %d", i+1)
		assert.Equal(t, w, p.CurrentTimeout(), "timeout after retry %d", i+1)
	}
	assert.ErrorIs(t, p.Retry(), ErrRetryExhausted)
}

func TestDefaultPolicy_ZeroBudget(t *testing.T) {
	p := NewDefaultPolicy(time.Second, 0, 1)
	assert.ErrorIs(t, p.Retry(), ErrRetryExhausted)
}

func TestDefaultPolicy_ZeroMultiplierKeepsTimeout(t *testing.T) {
	p := NewDefaultPolicy(200*time.Millisecond, 2, 0)
	require.NoError(t, p.Retry())
	assert.Equal(t, 200*time.Millisecond, p.CurrentTimeout())
}

func TestFromConfig(t *testing.T) {
	p := FromConfig(&types.RuntimeConfig{InitialTimeout: 300 * time.Millisecond, MaxRetries: 4, BackoffMultiplier: 2})
	assert.Equal(t, 300*time.Millisecond, p.CurrentTimeout())
	assert.Equal(t, 2.0, p.BackoffMultiplier())

	p = FromConfig(nil)
	assert.Equal(t, types.DefaultTimeout, p.CurrentTimeout())
}
