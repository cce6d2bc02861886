package device

import (
	"sync"
)

// Subscription is an ordered feed of signal changes. Changes are queued
// without bound so a slow reader never loses an edge.
type Subscription struct {
	ids map[string]struct{}
	out chan Change

	mu     sync.Mutex
	queue  []Change
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
	hub    *Hub
}

// C returns the channel changes are delivered on
func (s *Subscription) C() <-chan Change {
	return s.out
}

// Close stops delivery. Pending changes are discarded.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.closed)
		if s.hub != nil {
			s.hub.remove(s)
		}
	})
}

func (s *Subscription) wants(id string) bool {
	if len(s.ids) == 0 {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

func (s *Subscription) push(ch Change) {
	s.mu.Lock()
	s.queue = append(s.queue, ch)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.closed:
				return
			}
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.closed:
			return
		}
	}
}

// Hub fans signal changes out to subscriptions
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers interest in the given signals; no ids means all signals
func (h *Hub) Subscribe(ids ...string) *Subscription {
	sub := &Subscription{
		ids:    make(map[string]struct{}, len(ids)),
		out:    make(chan Change),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		hub:    h,
	}
	for _, id := range ids {
		sub.ids[id] = struct{}{}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go sub.pump()
	return sub
}

// Publish delivers a change to every interested subscription
func (h *Hub) Publish(ch Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.wants(ch.ID) {
			sub.push(ch)
		}
	}
}

// Len returns the number of open subscriptions
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}
