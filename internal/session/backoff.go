// ABOUTME: Reconnect attempt budget over an exponential backoff schedule
// ABOUTME: Delays double from the initial value up to a ceiling with no jitter

package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

type reconnectPolicy struct {
	backoff     *backoff.ExponentialBackOff
	maxAttempts int
	attempts    int
}

func newReconnectPolicy(initial, ceiling time.Duration, maxAttempts int) *reconnectPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = ceiling
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	return &reconnectPolicy{backoff: b, maxAttempts: maxAttempts}
}

// next consumes one attempt. ok is false once the budget is spent.
func (p *reconnectPolicy) next() (attempt int, delay time.Duration, ok bool) {
	if p.attempts >= p.maxAttempts {
		return p.attempts, 0, false
	}
	p.attempts++
	return p.attempts, p.backoff.NextBackOff(), true
}

func (p *reconnectPolicy) reset() {
	p.attempts = 0
	p.backoff.Reset()
}
