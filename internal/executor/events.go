package executor

import (
	"sync"
	"time"

	"barista/internal/models"
)

// EventKind names a lifecycle event of a recipe run
type EventKind string

const (
	EventRecipeStarted   EventKind = "recipe_started"
	EventStepStarted     EventKind = "step_started"
	EventRecipeCompleted EventKind = "recipe_completed"
	EventRecipeFailed    EventKind = "recipe_failed"
	EventRecipeAborted   EventKind = "recipe_aborted"
	EventRecipePaused    EventKind = "recipe_paused"
	EventRecipeResumed   EventKind = "recipe_resumed"
)

// Event represents one structured lifecycle event
type Event struct {
	Kind   EventKind `json:"event"`
	Recipe string    `json:"recipe"`
	Step   int       `json:"step,omitempty"`
	Total  int       `json:"total,omitempty"`
	Reason string    `json:"reason,omitempty"`
	// Elapsed is set on terminal events and measures the whole run
	Elapsed time.Duration `json:"elapsed,omitempty"`
	At      time.Time     `json:"at"`
}

// StateChange is pushed to state subscribers on every state or progress change
type StateChange struct {
	State    models.ExecutionState `json:"state"`
	Progress models.RunProgress    `json:"progress"`
	At       time.Time             `json:"at"`
}

// subscriber is one feed of a broadcaster. A buffered subscriber drops
// values when its buffer is full; a queued one buffers without bound and
// is fed by its own pump goroutine.
type subscriber[T any] struct {
	out    chan T
	queued bool

	mu    sync.Mutex
	queue []T
	wake  chan struct{}
	// flush is closed when the broadcaster closes: deliver the rest, then stop
	flush chan struct{}
	// stop is closed on unsubscribe: stop at once
	stop      chan struct{}
	stopOnce  sync.Once
	flushOnce sync.Once
}

func (s *subscriber[T]) send(v T) {
	if !s.queued {
		select {
		case s.out <- v:
		default:
		}
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.flush:
				s.mu.Lock()
				empty := len(s.queue) == 0
				s.mu.Unlock()
				if empty {
					return
				}
				continue
			case <-s.stop:
				return
			}
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.stop:
			return
		}
	}
}

// unsubscribe stops delivery. A queued subscriber closes its channel from the pump.
func (s *subscriber[T]) unsubscribe() {
	s.stopOnce.Do(func() {
		if s.queued {
			close(s.stop)
		} else {
			close(s.out)
		}
	})
}

// closeFeed ends the feed once everything queued is delivered
func (s *subscriber[T]) closeFeed() {
	if !s.queued {
		s.unsubscribe()
		return
	}
	s.flushOnce.Do(func() { close(s.flush) })
}

// broadcaster fans values out to subscribers. Publishing never blocks.
type broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]*subscriber[T]
	next   int
	closed bool
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{subs: make(map[int]*subscriber[T])}
}

// subscribe returns a feed buffering buf values; later values are dropped
// until the reader catches up
func (b *broadcaster[T]) subscribe(buf int) (<-chan T, func()) {
	if buf < 1 {
		buf = 1
	}
	return b.add(&subscriber[T]{out: make(chan T, buf)})
}

// subscribeQueued returns a lossless, ordered feed
func (b *broadcaster[T]) subscribeQueued() (<-chan T, func()) {
	sub := &subscriber[T]{
		out:    make(chan T),
		queued: true,
		wake:   make(chan struct{}, 1),
		flush:  make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go sub.pump()
	return b.add(sub)
}

func (b *broadcaster[T]) add(sub *subscriber[T]) (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closeFeed()
		return sub.out, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = sub

	return sub.out, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.unsubscribe()
	}
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.send(v)
	}
}

func (b *broadcaster[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.closeFeed()
	}
}
