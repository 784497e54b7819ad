package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces consecutive operations at least interval apart. The first
// Wait returns immediately. Pacer is not safe for concurrent use.
type Pacer struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// NewPacer returns nil when interval is not positive; a nil Pacer never waits.
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return nil
	}
	return &Pacer{
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (p *Pacer) Interval() time.Duration {
	if p == nil {
		return 0
	}
	return p.interval
}

// Wait blocks until the next operation may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// Mark restarts the interval at the current time: the next Wait returns no
// earlier than one interval from now, however long ago the last Wait was.
func (p *Pacer) Mark() {
	if p == nil {
		return
	}
	p.markAt(time.Now())
}

func (p *Pacer) markAt(now time.Time) {
	limiter := rate.NewLimiter(rate.Every(p.interval), 1)
	limiter.AllowN(now, 1)
	p.limiter = limiter
}
