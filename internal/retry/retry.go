// Package retry wraps the rate-limited API source with exponential backoff.
package retry

import (
	"errors"
	"log"
	"time"

	"github.com/chrishadley1983/hadley-bricks-inventory-management-sub008/internal/sources"
)

// Policy retries rate-limited calls with exponentially growing delays.
// Any other error, or exhaustion of retries, propagates immediately.
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	sleep      func(time.Duration)
}

// NewPolicy returns the stock policy: 3 extra attempts at 1s, 2s, 4s.
func NewPolicy() *Policy {
	return NewPolicyWithSleep(3, time.Second, time.Sleep)
}

// NewPolicyWithSleep allows tests to inject the sleep function.
func NewPolicyWithSleep(maxRetries int, baseDelay time.Duration, sleep func(time.Duration)) *Policy {
	return &Policy{maxRetries: maxRetries, baseDelay: baseDelay, sleep: sleep}
}

// Do invokes fn, reissuing it on sources.ErrRateLimited up to the retry
// budget. The delay doubles after every attempt.
func (p *Policy) Do(fn func() error) error {
	delay := p.baseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, sources.ErrRateLimited) || attempt >= p.maxRetries {
			return err
		}
		log.Printf("[Retry] rate limited, retry %d/%d in %s", attempt+1, p.maxRetries, delay)
		p.sleep(delay)
		delay *= 2
	}
}
