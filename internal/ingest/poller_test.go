package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbridge/internal/integrations"
)

func TestPollOnceHonoursIntervals(t *testing.T) {
	fa := &fakeAdapter{orders: integrations.OrderSyncResult{Success: true}}
	svc, _ := newService(t, seeded(), fa)
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	p := NewPoller(svc, map[string]time.Duration{"fake": time.Minute, "off": 0})
	p.now = func() time.Time { return now }

	p.pollOnce()
	p.pollOnce()
	require.Len(t, fa.sinces, 1)

	now = now.Add(time.Minute)
	p.pollOnce()
	assert.Len(t, fa.sinces, 2)
}

func TestPollerStartAndShutdown(t *testing.T) {
	fa := &fakeAdapter{orders: integrations.OrderSyncResult{Success: true}}
	svc, _ := newService(t, seeded(), fa)
	p := NewPoller(svc, map[string]time.Duration{"fake": time.Hour})
	p.tick = 5 * time.Millisecond
	p.Start()

	require.Eventually(t, func() bool {
		fa.mu.Lock()
		defer fa.mu.Unlock()
		return len(fa.sinces) == 1
	}, time.Second, 5*time.Millisecond)
	p.Shutdown()
}

func TestPollerShutdownIsIdempotent(t *testing.T) {
	svc, _ := newService(t, seeded(), &fakeAdapter{})

	idle := NewPoller(svc, map[string]time.Duration{"fake": time.Hour})
	done := make(chan struct{})
	go func() {
		idle.Shutdown()
		idle.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown of a poller that never started did not return")
	}

	// a stopped poller stays stopped
	idle.Start()
	idle.Shutdown()

	running := NewPoller(svc, map[string]time.Duration{"fake": time.Hour})
	running.tick = 5 * time.Millisecond
	running.Start()
	running.Start()
	assert.NotPanics(t, func() {
		running.Shutdown()
		running.Shutdown()
	})
}
