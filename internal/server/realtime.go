package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventAnnotationChanged = "annotation-change"
	RealtimeEventAnnotationDeleted = "annotation-delete"
	RealtimeEventMembersChanged    = "member-change"
	realtimeEventHeartbeat         = "heartbeat"
	realtimeSourceBackend          = "collabstore"

	defaultHeartbeatInterval = 25 * time.Second
)

// RealtimeMessage announces a change to one document's annotations or members.
type RealtimeMessage struct {
	DocumentID string
	EventType  string
	RecordIDs  []string
	ActorID    string
	Timestamp  time.Time
}

// RealtimeDispatcher fans messages out to the subscribers of each document.
// Slow subscribers drop messages rather than blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers for documentID until ctx ends or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, documentID string) (<-chan RealtimeMessage, func()) {
	if documentID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(documentID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(documentID, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.DocumentID == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.DocumentID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports how many streams are open for documentID.
func (d *RealtimeDispatcher) SubscriberCount(documentID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[documentID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(documentID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[documentID]; !ok {
		d.subscribers[documentID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[documentID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(documentID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[documentID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, documentID)
		}
	}
	d.mu.Unlock()
}
