package events

import (
	"sync"
	"sync/atomic"
)

// Bus fans events out to subscribers. Each subscriber owns a buffered
// channel. When it is full, progress and snapshot events are dropped for
// that subscriber; lifecycle events (see Lossless) are queued and delivered
// in order. A slow consumer never blocks a publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	next    uint64
	dropped atomic.Uint64
}

type subscription struct {
	ch     chan Event
	filter map[string]bool
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []Event
	pumping bool
}

// Lossless reports whether an event must reach every subscriber even when
// the subscriber is behind.
func Lossless(name string) bool {
	switch name {
	case StatusChanged, DownloadComplete, DownloadError, DownloadCanceled, ModelNotDownloaded:
		return true
	}
	return false
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscription)}
}

// Subscribe registers a subscriber. If names is non-empty only those events
// are delivered. The returned cancel func closes the channel and discards
// queued events.
func (b *Bus) Subscribe(buffer int, names ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &subscription{ch: make(chan Event, buffer), done: make(chan struct{})}
	if len(names) > 0 {
		s.filter = make(map[string]bool, len(names))
		for _, n := range names {
			s.filter[n] = true
		}
	}
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.done)
			s.wg.Wait()
			close(s.ch)
		})
	}
}

// Publish delivers e to every matching subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.filter != nil && !s.filter[e.Name] {
			continue
		}
		if !s.deliver(e) {
			b.dropped.Add(1)
		}
	}
}

// deliver sends e directly when nothing is queued and the buffer has room.
// Otherwise a lossless event joins the queue and a lossy one is dropped.
func (s *subscription) deliver(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		select {
		case s.ch <- e:
			return true
		default:
		}
	}
	if !Lossless(e.Name) {
		return false
	}
	s.pending = append(s.pending, e)
	if !s.pumping {
		s.pumping = true
		s.wg.Add(1)
		go s.pump()
	}
	return true
}

// pump moves queued events into the channel until the queue is empty or
// the subscription is canceled.
func (s *subscription) pump() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.pumping = false
			s.mu.Unlock()
			return
		}
		e := s.pending[0]
		s.mu.Unlock()
		select {
		case s.ch <- e:
		case <-s.done:
			return
		}
		s.mu.Lock()
		s.pending = s.pending[1:]
		s.mu.Unlock()
	}
}

// Dropped returns how many lossy deliveries were skipped because a
// subscriber was behind.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Fanout publishes every event to all publishers in order.
type Fanout []Publisher

func (f Fanout) Publish(e Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(e)
		}
	}
}
