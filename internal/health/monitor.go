// Package health runs the periodic liveness sweep: ping every registered
// node, track missed pongs, and escalate to suspend then deregister —
// piggybacking the conversation store and pairing guard sweeps on the same
// tick.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// NodeLister exposes the set of currently registered node ids.
type NodeLister func() []string

// Pinger sends a heartbeat.ping to a node; errors are treated as a missed
// beat for that tick.
type Pinger func(ctx context.Context, nodeID string) error

// Sweeper is piggybacked on every tick (conversation store / pairing guard).
type Sweeper func()

// Escalation callbacks fire when a node crosses the suspend/deregister
// thresholds.
type SuspendFunc func(nodeID string)
type DeregisterFunc func(nodeID string)

// Monitor runs the periodic health-check tick.
type Monitor struct {
	interval   time.Duration
	listNodes  NodeLister
	ping       Pinger
	sweepers   []Sweeper
	onSuspend  SuspendFunc
	onDeregister DeregisterFunc

	mu     sync.Mutex
	misses map[string]int

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a health monitor. It does not start ticking until Start is
// called.
func New(interval time.Duration, listNodes NodeLister, ping Pinger, onSuspend SuspendFunc, onDeregister DeregisterFunc, sweepers ...Sweeper) *Monitor {
	return &Monitor{
		interval:     interval,
		listNodes:    listNodes,
		ping:         ping,
		sweepers:     sweepers,
		onSuspend:    onSuspend,
		onDeregister: onDeregister,
		misses:       make(map[string]int),
	}
}

// Start begins ticking in a background goroutine until ctx is canceled or
// Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Monitor) tick(ctx context.Context) {
	nodeIDs := m.listNodes()

	g, gctx := errgroup.WithContext(ctx)
	results := make([]bool, len(nodeIDs))
	for i, nodeID := range nodeIDs {
		i, nodeID := i, nodeID
		g.Go(func() error {
			err := m.ping(gctx, nodeID)
			results[i] = err == nil
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	for i, nodeID := range nodeIDs {
		if results[i] {
			delete(m.misses, nodeID)
			continue
		}
		m.misses[nodeID]++
		misses := m.misses[nodeID]
		switch {
		// A single miss is only one interval elapsed; suspension requires
		// more than two intervals (two consecutive misses) without a pong.
		case misses == 2:
			if m.onSuspend != nil {
				m.onSuspend(nodeID)
			}
		case misses >= 3:
			delete(m.misses, nodeID)
			if m.onDeregister != nil {
				m.onDeregister(nodeID)
			}
		}
	}
	m.mu.Unlock()

	for _, sweep := range m.sweepers {
		sweep()
	}
}
