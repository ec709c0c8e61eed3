package connectivity

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/charlesng35/inspectsync/pkg/logger"
	"github.com/charlesng35/inspectsync/pkg/metrics"
)

// Monitor is the single source of truth for whether the remote API is believed
// to be reachable. It is a heuristic signal, never a guarantee.
type Monitor struct {
	online atomic.Bool

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64

	// pending transitions awaiting delivery, drained by the Set call that owns delivering.
	pending    []bool
	delivering bool

	log *zap.Logger
}

// Subscription is the handle returned by Subscribe. Call Unsubscribe on teardown.
type Subscription struct {
	id      uint64
	monitor *Monitor
	fn      func(online bool)
	active  atomic.Bool
}

// NewMonitor constructs a monitor seeded with the initial state.
func NewMonitor(initial bool) *Monitor {
	m := &Monitor{
		subs: make(map[uint64]*Subscription),
		log:  logger.WithModule("connectivity"),
	}
	m.online.Store(initial)
	metrics.SetOnline(initial)
	return m
}

// IsOnline returns the current state without blocking.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// Subscribe registers fn to be called once per transition with the new state.
func (m *Monitor) Subscribe(fn func(online bool)) *Subscription {
	sub := &Subscription{monitor: m, fn: fn}
	if fn == nil {
		return sub
	}
	sub.active.Store(true)

	m.mu.Lock()
	m.nextID++
	sub.id = m.nextID
	m.subs[sub.id] = sub
	m.mu.Unlock()

	return sub
}

// Unsubscribe stops deliveries. It is idempotent and safe to call from inside the callback.
func (s *Subscription) Unsubscribe() {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}
	s.monitor.mu.Lock()
	delete(s.monitor.subs, s.id)
	s.monitor.mu.Unlock()
}

// Set records the state reported by the runtime. Subscribers are notified only
// when the value changes, in transition order and without any lock held. When
// another Set is already delivering, the transition is handed to it and Set
// returns at once; this includes Set called from inside a subscriber.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online.Swap(online) == online {
		m.mu.Unlock()
		return
	}
	metrics.SetOnline(online)
	m.log.Info("connectivity changed", zap.Bool("online", online))

	m.pending = append(m.pending, online)
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true

	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		subs := m.snapshotLocked()
		m.mu.Unlock()

		for _, sub := range subs {
			if sub.active.Load() {
				m.deliver(sub, next)
			}
		}
		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

// SubscriberCount reports active registrations.
func (m *Monitor) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Monitor) snapshotLocked() []*Subscription {
	out := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (m *Monitor) deliver(sub *Subscription, online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("connectivity subscriber panicked", zap.Any("error", r))
		}
	}()
	sub.fn(online)
}
