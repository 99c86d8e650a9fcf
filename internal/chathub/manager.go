// Package chathub fans chat events out to streaming subscribers.
//
// There is one global topic for room-list level events and one topic per
// room for full messages. Room topics exist only while they have
// subscribers. Publishing takes a snapshot of the subscriber set and hands
// every subscriber the event without blocking.
package chathub

import (
	"context"
	"errors"
	"log"
	"strings"
	"supportchat/backend/internal/models"
	"sync"
)

const (
	GlobalTopic   = "global"
	firehoseTopic = "*"
	roomPrefix    = "room:"
)

var (
	ErrHubClosed = errors.New("chathub: hub is closed")
	// ErrTransportDropped marks events lost to a slow subscriber. It is not
	// fatal; the subscriber receives a RESYNC instead.
	ErrTransportDropped = errors.New("chathub: events dropped")
)

// RoomTopic names the topic of a room.
func RoomTopic(roomID string) string {
	return roomPrefix + roomID
}

func roomFromTopic(topic string) (string, bool) {
	if strings.HasPrefix(topic, roomPrefix) {
		return strings.TrimPrefix(topic, roomPrefix), true
	}
	return "", false
}

// Publisher is what the chat service needs from the hub.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev models.Event)
}

// ManagerService is the in-process broadcaster.
type ManagerService struct {
	queueSize int
	relay     Relay

	globalMu sync.RWMutex
	global   map[string]*Subscriber

	roomsMu sync.RWMutex
	rooms   map[string]map[string]*Subscriber

	firehoseMu sync.RWMutex
	firehose   map[string]*Subscriber

	closeMu sync.RWMutex
	closed  bool
}

// NewManagerService creates a hub whose subscribers buffer up to queueSize events.
func NewManagerService(queueSize int) *ManagerService {
	return &ManagerService{
		queueSize: queueSize,
		global:    make(map[string]*Subscriber),
		rooms:     make(map[string]map[string]*Subscriber),
		firehose:  make(map[string]*Subscriber),
	}
}

// SubscribeGlobal registers a room-list subscriber.
func (m *ManagerService) SubscribeGlobal(userID string, role models.Role) (*Subscriber, error) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return nil, ErrHubClosed
	}

	sub := newSubscriber(GlobalTopic, userID, role, m.queueSize)
	m.globalMu.Lock()
	m.global[sub.ID] = sub
	m.globalMu.Unlock()
	log.Printf("INFO: [Hub] %s subscribed to global topic (%s).", userID, sub.ID)
	return sub, nil
}

// SubscribeRoom registers a subscriber on a room topic, creating the topic if needed.
func (m *ManagerService) SubscribeRoom(roomID, userID string, role models.Role) (*Subscriber, error) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return nil, ErrHubClosed
	}

	sub := newSubscriber(RoomTopic(roomID), userID, role, m.queueSize)
	m.roomsMu.Lock()
	set, ok := m.rooms[roomID]
	if !ok {
		set = make(map[string]*Subscriber)
		m.rooms[roomID] = set
	}
	set[sub.ID] = sub
	m.roomsMu.Unlock()
	log.Printf("INFO: [Hub] %s subscribed to room %s (%s).", userID, roomID, sub.ID)
	return sub, nil
}

// SubscribeFirehose registers an internal consumer that sees every published
// event once, whichever topic carried it.
func (m *ManagerService) SubscribeFirehose(name string) (*Subscriber, error) {
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return nil, ErrHubClosed
	}

	sub := newSubscriber(firehoseTopic, name, "", m.queueSize)
	m.firehoseMu.Lock()
	m.firehose[sub.ID] = sub
	m.firehoseMu.Unlock()
	return sub, nil
}

// Unsubscribe removes the registration immediately and closes its queue.
// Calling it more than once is safe.
func (m *ManagerService) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	switch {
	case sub.Topic == GlobalTopic:
		m.globalMu.Lock()
		delete(m.global, sub.ID)
		m.globalMu.Unlock()
	case sub.Topic == firehoseTopic:
		m.firehoseMu.Lock()
		delete(m.firehose, sub.ID)
		m.firehoseMu.Unlock()
	default:
		roomID, _ := roomFromTopic(sub.Topic)
		m.roomsMu.Lock()
		if set, ok := m.rooms[roomID]; ok {
			delete(set, sub.ID)
			if len(set) == 0 {
				delete(m.rooms, roomID)
			}
		}
		m.roomsMu.Unlock()
	}
	if sub.close() {
		log.Printf("INFO: [Hub] Subscriber %s (%s) left %s.", sub.ID, sub.UserID, sub.Topic)
	}
}

// Publish sends ev to every subscriber of topic. With a relay configured the
// event travels through it and is delivered when it comes back; if the relay
// fails the event is delivered locally.
func (m *ManagerService) Publish(ctx context.Context, topic string, ev models.Event) {
	if m.relay != nil {
		err := m.relay.Publish(ctx, Envelope{Topic: topic, Event: ev})
		if err == nil {
			return
		}
		log.Printf("ERROR: [Hub] Relay publish failed, delivering locally: %v", err)
	}
	m.Deliver(topic, ev)
}

// Deliver hands ev to local subscribers only.
func (m *ManagerService) Deliver(topic string, ev models.Event) {
	for _, sub := range m.snapshot(topic) {
		if !sub.deliver(ev) {
			log.Printf("WARN: [Hub] Queue overflow for subscriber %s on %s, oldest event dropped.", sub.ID, topic)
		}
	}
	// Room topics repeat the global ROOM_UPDATED; the firehose takes it once.
	if topic != GlobalTopic && ev.Type == models.EventRoomUpdated {
		return
	}
	for _, sub := range m.firehoseSnapshot() {
		sub.deliver(ev)
	}
}

func (m *ManagerService) snapshot(topic string) []*Subscriber {
	if topic == GlobalTopic {
		m.globalMu.RLock()
		defer m.globalMu.RUnlock()
		return collect(m.global)
	}
	roomID, ok := roomFromTopic(topic)
	if !ok {
		return nil
	}
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()
	return collect(m.rooms[roomID])
}

func (m *ManagerService) firehoseSnapshot() []*Subscriber {
	m.firehoseMu.RLock()
	defer m.firehoseMu.RUnlock()
	return collect(m.firehose)
}

func collect(set map[string]*Subscriber) []*Subscriber {
	out := make([]*Subscriber, 0, len(set))
	for _, sub := range set {
		out = append(out, sub)
	}
	return out
}

// GlobalSubscribers returns how many global subscribers are registered.
func (m *ManagerService) GlobalSubscribers() int {
	m.globalMu.RLock()
	defer m.globalMu.RUnlock()
	return len(m.global)
}

// RoomSubscribers returns how many subscribers a room topic has.
func (m *ManagerService) RoomSubscribers(roomID string) int {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()
	return len(m.rooms[roomID])
}

// RoomTopics returns the number of live room topics.
func (m *ManagerService) RoomTopics() int {
	m.roomsMu.RLock()
	defer m.roomsMu.RUnlock()
	return len(m.rooms)
}

// Close unregisters and closes every subscriber. Later subscriptions fail
// with ErrHubClosed.
func (m *ManagerService) Close() {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return
	}
	m.closed = true
	m.closeMu.Unlock()

	var all []*Subscriber
	m.globalMu.Lock()
	all = append(all, collect(m.global)...)
	m.global = make(map[string]*Subscriber)
	m.globalMu.Unlock()

	m.roomsMu.Lock()
	for _, set := range m.rooms {
		all = append(all, collect(set)...)
	}
	m.rooms = make(map[string]map[string]*Subscriber)
	m.roomsMu.Unlock()

	m.firehoseMu.Lock()
	all = append(all, collect(m.firehose)...)
	m.firehose = make(map[string]*Subscriber)
	m.firehoseMu.Unlock()

	for _, sub := range all {
		sub.close()
	}
	log.Printf("INFO: [Hub] Closed %d subscribers.", len(all))
}
