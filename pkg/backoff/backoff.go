package backoff

import (
	"math/rand"
	"time"
)

// Policy is a capped-exponential backoff shared by the cache, the feed
// manager and the verification loop. Delay for attempt k is
// Base * 2^min(k-1, cap exponent), plus up to Jitter fraction of that.
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // 0..1, fraction of the delay added randomly
}

// Default returns a policy suitable for upstream retries.
func Default() Policy {
	return Policy{Base: 500 * time.Millisecond, Cap: 30 * time.Second, Jitter: 0.2}
}

// Delay computes the backoff for the given 1-based attempt number.
// Attempt values below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Cap > 0 && d >= p.Cap {
			d = p.Cap
			break
		}
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
		if p.Cap > 0 && d > p.Cap {
			d = p.Cap
		}
	}
	return d
}
