// Package netmon provides the connectivity signal the sync engine reacts
// to. The engine only consumes a boolean online state and transition
// notifications; where the signal comes from is pluggable.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor is the connectivity capability the core consumes. Subscribers
// are notified on transitions only, and the returned cancel func makes
// the subscription's lifetime explicit: subscribe on start, cancel on
// teardown.
type Monitor interface {
	Subscribe(fn func(online bool)) (cancel func())
	Online() bool
}

// notifier implements the shared subscribe/notify bookkeeping.
type notifier struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]func(bool)
}

func newNotifier(initial bool) *notifier {
	return &notifier{online: initial, subs: make(map[int]func(bool))}
}

func (n *notifier) Subscribe(fn func(online bool)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

func (n *notifier) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

// set records the new state and notifies subscribers on a transition.
// Callbacks run outside the lock so a subscriber may re-enter the monitor.
func (n *notifier) set(online bool) {
	n.mu.Lock()
	if n.online == online {
		n.mu.Unlock()
		return
	}
	n.online = online
	fns := make([]func(bool), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// ManualMonitor is fed connectivity transitions by the host application,
// which hears about reachability from the OS.
type ManualMonitor struct {
	*notifier
}

// NewManual creates a ManualMonitor with the given initial state.
func NewManual(initial bool) *ManualMonitor {
	return &ManualMonitor{notifier: newNotifier(initial)}
}

// Set pushes the current reachability state in.
func (m *ManualMonitor) Set(online bool) {
	m.set(online)
}

// Pinger probes the remote API for reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingMonitor derives connectivity by polling a Pinger. Useful when the
// host platform gives no reachability signal, and as a guard against
// false-positive "online" reports.
type PingMonitor struct {
	*notifier
	pinger   Pinger
	interval time.Duration
}

// NewPing creates a PingMonitor that probes at the given interval.
// The monitor starts offline until the first probe succeeds.
func NewPing(p Pinger, interval time.Duration) *PingMonitor {
	return &PingMonitor{
		notifier: newNotifier(false),
		pinger:   p,
		interval: interval,
	}
}

// Run starts the probe loop. Blocks until ctx is cancelled.
func (m *PingMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Probe immediately on start, then on each tick
	m.probe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *PingMonitor) probe(ctx context.Context) {
	err := m.pinger.Ping(ctx)
	if ctx.Err() != nil {
		return
	}

	online := err == nil
	if online != m.Online() {
		slog.Info("connectivity changed",
			"component", "netmon",
			"action", "transition",
			"online", online,
		)
	}
	m.set(online)
}
