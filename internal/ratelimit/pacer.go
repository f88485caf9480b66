// Package ratelimit paces outbound sends so a burst of tool calls
// cannot machine-gun the Messages app.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a smooth, non-bursty send rate: each caller is
// scheduled at least one interval after the prior scheduled caller,
// even under concurrency. A nil *Pacer is unthrottled.
type Pacer struct {
	mu      sync.Mutex
	tokens  chan struct{}
	stopCh  chan struct{}
	stopped bool
}

// NewPacer creates a pacer allowing rpm sends per minute. rpm <= 0
// returns nil (no throttling).
func NewPacer(rpm int) *Pacer {
	if rpm <= 0 {
		return nil
	}
	interval := time.Minute / time.Duration(rpm)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	p := &Pacer{
		tokens: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}

	// Allow one immediate send.
	p.tokens <- struct{}{}

	go p.run(interval)
	return p
}

func (p *Pacer) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Emit at most 1 token ahead (smooth, non-bursty).
			select {
			case p.tokens <- struct{}{}:
			default:
			}
		case <-p.stopCh:
			close(p.tokens)
			return
		}
	}
}

// Wait blocks until the caller may send, or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.tokens:
		// A closed channel means the pacer stopped; treat as
		// unthrottled.
		return nil
	}
}

// Close stops the pacer. Pending and future Wait calls return
// immediately.
func (p *Pacer) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
}
