package host

import (
	"time"

	"github.com/jpillora/backoff"
)

// ReconnectPolicy yields the pause before each reconnect attempt. Delays
// grow by Factor from Min up to Max and drop back to Min after Reset.
type ReconnectPolicy struct {
	b *backoff.Backoff
}

// NewReconnectPolicy returns a policy starting at min, growing by factor
// and capped at max.
func NewReconnectPolicy(min, max time.Duration, factor float64) *ReconnectPolicy {
	return &ReconnectPolicy{b: &backoff.Backoff{Min: min, Max: max, Factor: factor}}
}

// DefaultReconnectPolicy waits 2s, then 3s, 4.5s and so on up to a minute.
func DefaultReconnectPolicy() *ReconnectPolicy {
	return NewReconnectPolicy(2*time.Second, 60*time.Second, 1.5)
}

// Next returns the delay for the upcoming attempt and advances the policy.
func (p *ReconnectPolicy) Next() time.Duration {
	return p.b.Duration()
}

// Attempt is the number of delays handed out since the last reset.
func (p *ReconnectPolicy) Attempt() int {
	return int(p.b.Attempt())
}

// Reset is called after a successful connect.
func (p *ReconnectPolicy) Reset() {
	p.b.Reset()
}
