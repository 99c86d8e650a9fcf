package chathub

import (
	"supportchat/backend/internal/models"
	"sync"

	"github.com/google/uuid"
)

// Subscriber is one registration on a topic. Delivery never blocks the
// publisher: when the queue is full the oldest undelivered event is
// discarded and counted, and the consumer is expected to send a RESYNC
// (see TakeDropped).
type Subscriber struct {
	ID     string
	UserID string
	Role   models.Role
	Topic  string

	mu      sync.Mutex
	queue   chan models.Event
	dropped uint64
	closed  bool
	done    chan struct{}
}

func newSubscriber(topic, userID string, role models.Role, size int) *Subscriber {
	if size <= 0 {
		size = 1
	}
	return &Subscriber{
		ID:     uuid.New().String(),
		UserID: userID,
		Role:   role,
		Topic:  topic,
		queue:  make(chan models.Event, size),
		done:   make(chan struct{}),
	}
}

// Events is closed when the subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan models.Event {
	return s.queue
}

// Done is closed together with Events.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// RoomID returns the room of a room-topic subscriber, "" otherwise.
func (s *Subscriber) RoomID() string {
	roomID, _ := roomFromTopic(s.Topic)
	return roomID
}

// deliver enqueues ev, evicting the oldest queued event on overflow.
// Returns false if an event had to be dropped.
func (s *Subscriber) deliver(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	lossless := true
	for {
		select {
		case s.queue <- ev:
			return lossless
		default:
		}
		select {
		case <-s.queue:
			s.dropped++
			lossless = false
		default:
		}
	}
}

// TakeDropped returns how many events were discarded since the last call
// and resets the counter.
func (s *Subscriber) TakeDropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.dropped
	s.dropped = 0
	return n
}

func (s *Subscriber) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.queue)
	close(s.done)
	return true
}
