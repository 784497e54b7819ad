package deploy

import (
	"context"
	"sync"
	"time"

	"incubant/go-deployer/internal/platform/ratelimiter"
)

type cancellingBroadcaster struct {
	next   Broadcaster
	cancel context.CancelFunc
}

func (c cancellingBroadcaster) Broadcast(ctx context.Context, raw []byte) (string, error) {
	txID, err := c.next.Broadcast(ctx, raw)
	c.cancel()
	return txID, err
}

func broadcastThen(next Broadcaster, cancel context.CancelFunc) Broadcaster {
	return cancellingBroadcaster{next: next, cancel: cancel}
}

func newTestPacer() *ratelimiter.Pacer {
	return ratelimiter.NewPacer(time.Hour)
}

type broadcastSpan struct {
	start, end time.Time
}

// slowBroadcaster holds every broadcast for delay and records when each ran.
type slowBroadcaster struct {
	next  Broadcaster
	delay time.Duration

	mu    sync.Mutex
	spans []broadcastSpan
}

func (s *slowBroadcaster) Broadcast(ctx context.Context, raw []byte) (string, error) {
	start := time.Now()
	time.Sleep(s.delay)
	txID, err := s.next.Broadcast(ctx, raw)
	s.mu.Lock()
	s.spans = append(s.spans, broadcastSpan{start: start, end: time.Now()})
	s.mu.Unlock()
	return txID, err
}
