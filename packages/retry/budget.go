package retry

import (
	"time"

	"golang.org/x/time/rate"
)

// Budget limits how often retries may happen across all requests sharing
// it. Each retry takes a token; when none is left the retry waits for one,
// and is declined when the wait would exceed MaxWait.
type Budget struct {
	limiter *rate.Limiter
	maxWait time.Duration
	now     func() time.Time
}

// NewBudget allows perSecond retries on average with bursts of burst.
func NewBudget(perSecond float64, burst int, maxWait time.Duration) *Budget {
	if burst < 1 {
		burst = 1
	}
	return &Budget{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		maxWait: maxWait,
		now:     time.Now,
	}
}

// Reserve takes a token for a retry that wants to wait at least delay. It
// returns the delay to actually use, or false when the budget is exhausted.
func (b *Budget) Reserve(delay time.Duration) (bool, time.Duration) {
	now := b.now()
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	wait := r.DelayFrom(now)
	if b.maxWait > 0 && wait > b.maxWait {
		r.CancelAt(now)
		return false, 0
	}
	if wait > delay {
		delay = wait
	}
	return true, delay
}

// SetLimit changes the sustained retry rate.
func (b *Budget) SetLimit(perSecond float64) {
	if perSecond > 0 {
		b.limiter.SetLimitAt(b.now(), rate.Limit(perSecond))
	}
}

// Tokens reports how many retries may start without waiting.
func (b *Budget) Tokens() float64 {
	return b.limiter.TokensAt(b.now())
}
