package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yln-platform/sheetstore/pkg/types"
)

func TestBackoffDelayDoublesToCeiling(t *testing.T) {
	rc := types.RetryConfig{
		MaxAttempts: 10,
		Base:        time.Second,
		Ceiling:     10 * time.Second,
		Jitter:      0,
	}

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		got := backoffDelay(rc, i+1)
		assert.Equal(t, w, got, "attempt %d", i+1)
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	rc := types.RetryConfig{
		MaxAttempts: 5,
		Base:        time.Second,
		Ceiling:     time.Minute,
		Jitter:      0.5,
	}
	for i := 0; i < 50; i++ {
		got := backoffDelay(rc, 1)
		assert.GreaterOrEqual(t, got, 500*time.Millisecond)
		assert.LessOrEqual(t, got, 1500*time.Millisecond)
	}
}

func TestRetryDelayHonorsRetryAfterHint(t *testing.T) {
	rc := types.DefaultRetryConfig()
	hinted := &types.RemoteError{
		Kind:       types.RemoteRateLimited,
		RetryAfter: 42 * time.Second,
		Err:        errors.New("quota"),
	}
	assert.Equal(t, 42*time.Second, retryDelay(rc, 1, hinted))

	// No hint falls back to the computed schedule.
	plain := &types.RemoteError{Kind: types.RemoteTransient, Err: errors.New("boom")}
	got := retryDelay(types.RetryConfig{MaxAttempts: 5, Base: time.Second, Ceiling: time.Minute}, 1, plain)
	assert.Equal(t, time.Second, got)
}

func TestPollInterval(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, pollInterval(types.RetryConfig{Base: time.Second}))
	// The ceiling keeps the worker responsive to short Retry-After hints
	// even under a long backoff base.
	assert.Equal(t, time.Second, pollInterval(types.RetryConfig{Base: 15 * time.Second}))
	assert.Equal(t, time.Second, pollInterval(types.RetryConfig{Base: time.Hour}))
	assert.Equal(t, 5*time.Millisecond, pollInterval(types.RetryConfig{Base: time.Millisecond}))
}
