// Package stream fans domain events out to live subscribers such as SSE
// clients. Delivery is best effort: a slow subscriber loses events rather
// than blocking the publisher.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event kinds published by the API.
const (
	TransactionPosted   = "transaction.posted"
	TransactionReversed = "transaction.reversed"
	InvoiceChanged      = "invoice.changed"
	BankSynced          = "bank.synced"
	BankMatched         = "bank.matched"
	BankUnmatched       = "bank.unmatched"
)

// Event is one change notification. Data carries the affected record.
type Event struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const bufferSize = 16

// Stream fans events out to every active subscriber.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Uint64
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, bufferSize)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish stamps evt with the current time if unset and fans it out.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber's
// buffer was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
