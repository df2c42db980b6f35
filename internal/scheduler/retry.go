package scheduler

import (
	"math"
	"math/rand/v2"
	"time"
)

// Default retry policy values
const (
	DefaultRetryBaseInterval = 30 * time.Second
	DefaultRetryMaxInterval  = 30 * time.Minute
	DefaultRetryMaxAttempts  = 5
	DefaultRetryJitter       = 0.1
)

// RetryPolicy computes when a failed job runs next: exponential backoff with
// a ceiling, plus jitter so simultaneous failures (e.g. a downstream outage)
// do not retry in lockstep.
type RetryPolicy struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	MaxAttempts  int
	Jitter       float64 // fraction of the delay, applied as +/- up to this much
}

// DefaultRetryPolicy returns the reference policy: 30s base, 30m ceiling,
// 5 attempts, +/-10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseInterval: DefaultRetryBaseInterval,
		MaxInterval:  DefaultRetryMaxInterval,
		MaxAttempts:  DefaultRetryMaxAttempts,
		Jitter:       DefaultRetryJitter,
	}
}

// NextRetry returns the next execution time after failed attempt n (the
// retry_count after increment, 1-indexed). ok is false once attempt reaches
// MaxAttempts: the job has consumed its attempt budget and must fail
// terminally.
func (p RetryPolicy) NextRetry(attempt int, now time.Time) (next time.Time, ok bool) {
	if attempt >= p.MaxAttempts {
		return time.Time{}, false
	}

	delay := float64(p.BaseInterval) * math.Pow(2, float64(attempt-1))
	if max := float64(p.MaxInterval); p.MaxInterval > 0 && delay > max {
		delay = max
	}

	if p.Jitter > 0 {
		// rand deliberately non-crypto, same as every backoff in the wild
		delay *= 1 + (rand.Float64()*2-1)*p.Jitter
	}

	return now.Add(time.Duration(delay)), true
}
