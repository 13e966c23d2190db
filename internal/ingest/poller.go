package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller runs SyncOrders for each provider on its own interval, as a safety
// net for webhooks that never arrive.
type Poller struct {
	svc       *Service
	intervals map[string]time.Duration
	tick      time.Duration
	timeout   time.Duration
	next      map[string]time.Time
	now       func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// NewPoller polls each provider in intervals; zero or negative intervals are skipped.
func NewPoller(svc *Service, intervals map[string]time.Duration) *Poller {
	iv := map[string]time.Duration{}
	for id, d := range intervals {
		if d > 0 {
			iv[id] = d
		}
	}
	return &Poller{svc: svc, intervals: iv, tick: time.Second, timeout: 2 * time.Minute, next: map[string]time.Time{}, now: time.Now,
		stop: make(chan struct{}), done: make(chan struct{})}
}

// Start launches the poll loop. Calls after the first, or after Shutdown, do nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.tick)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.pollOnce()
			}
		}
	}()
}

// Shutdown stops the loop and waits for an in-flight poll to finish. It is
// safe to call more than once and without a prior Start.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	started := p.started
	if !p.stopped {
		p.stopped = true
		close(p.stop)
	}
	p.mu.Unlock()
	if started {
		<-p.done
	}
}

func (p *Poller) pollOnce() {
	now := p.now()
	ids := make([]string, 0, len(p.intervals))
	for id := range p.intervals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if due, ok := p.next[id]; ok && now.Before(due) {
			continue
		}
		p.next[id] = now.Add(p.intervals[id])
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if _, err := p.svc.SyncOrders(ctx, id); err != nil {
			p.svc.log.Warn("poll failed", zap.String("provider", id), zap.Error(err))
		}
		cancel()
	}
}
