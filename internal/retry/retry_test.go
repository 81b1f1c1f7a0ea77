package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPolicy() (*Policy, *[]time.Duration) {
	var slept []time.Duration
	p := NewPolicyWithSleep(3, time.Second, func(d time.Duration) {
		slept = append(slept, d)
	})
	return p, &slept
}

func TestDoSucceedsFirstTry(t *testing.T) {
	p, slept := newTestPolicy()

	calls := 0
	err := p.Do(func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDoRetriesRateLimitThenSucceeds(t *testing.T) {
	p, slept := newTestPolicy()

	calls := 0
	err := p.Do(func() error {
		calls++
		if calls <= 3 {
			return fmt.Errorf("upstream: %w", sources.ErrRateLimited)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *slept)
}

func TestDoExhaustsRetries(t *testing.T) {
	p, _ := newTestPolicy()

	calls := 0
	err := p.Do(func() error {
		calls++
		return sources.ErrRateLimited
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sources.ErrRateLimited)
	assert.Equal(t, 4, calls)
}

func TestDoDoesNotRetryOtherErrors(t *testing.T) {
	p, slept := newTestPolicy()

	boom := errors.New("boom")
	calls := 0
	err := p.Do(func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}
