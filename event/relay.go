package event

import (
	"sync"
	"sync/atomic"

	"github.com/user/attendance-ping/logger"
)

// DefaultBuffer is the consumer channel size used when Attach gets <= 0
const DefaultBuffer = 64

// Relay fans events from any number of producers into one consumer.
// Publish never blocks: with no consumer attached, or a full buffer, the
// event is dropped.
type Relay struct {
	mu      sync.Mutex
	ch      chan Event
	dropped atomic.Uint64
}

func NewRelay() *Relay {
	return &Relay{}
}

// Attach installs a consumer, replacing (and closing) any previous one.
// detach closes the channel; it is safe to call more than once.
func (r *Relay) Attach(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	r.mu.Lock()
	if r.ch != nil {
		close(r.ch)
	}
	r.ch = ch
	r.mu.Unlock()

	detach := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.ch == ch {
			close(ch)
			r.ch = nil
		}
	}
	return ch, detach
}

// Publish forwards e to the consumer if one is attached and has room.
// A nil Relay discards everything.
func (r *Relay) Publish(e Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch == nil {
		r.dropped.Add(1)
		logger.Trace("Relay", "🗑️  No consumer, dropping %s event", e.Kind)
		return
	}
	select {
	case r.ch <- e:
	default:
		r.dropped.Add(1)
		logger.Debug("Relay", "🗑️  Consumer is behind, dropping %s event", e.Kind)
	}
}

// Attached reports whether a consumer is listening
func (r *Relay) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch != nil
}

// Dropped returns how many events were discarded
func (r *Relay) Dropped() uint64 {
	return r.dropped.Load()
}
