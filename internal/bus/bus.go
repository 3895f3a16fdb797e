package bus

import (
	"sync"
	"sync/atomic"
)

type Topic string

const (
	TopicNewEmergency   Topic = "new_emergency"
	TopicStatusUpdate   Topic = "status_update"
	TopicLocationUpdate Topic = "location_update"
)

type Role string

const (
	RoleCitizen   Role = "citizen"
	RoleResponder Role = "responder"
	RoleHospital  Role = "hospital"
	RoleAdmin     Role = "admin"
)

// roleTopics scopes what each observer role may receive.
var roleTopics = map[Role][]Topic{
	RoleCitizen:   {TopicStatusUpdate, TopicLocationUpdate},
	RoleResponder: {TopicNewEmergency, TopicStatusUpdate},
	RoleHospital:  {TopicNewEmergency, TopicStatusUpdate},
	RoleAdmin:     {TopicNewEmergency, TopicStatusUpdate, TopicLocationUpdate},
}

func ValidRole(r Role) bool {
	_, ok := roleTopics[r]
	return ok
}

type Event struct {
	Topic   Topic `json:"topic"`
	Payload any   `json:"payload"`
}

type subscriber struct {
	topics map[Topic]bool
	ch     chan Event
}

// Bus fans every state change out to connected observers. Delivery is
// best-effort and at-most-once: a full subscriber buffer drops the event
// rather than stalling the publisher.
type Bus struct {
	subscribers map[uint64]*subscriber
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
	}
}

// Subscribe registers an observer for the given role. With no explicit
// topics the subscription covers everything the role is scoped to;
// requested topics outside the role's scope are ignored.
func (b *Bus) Subscribe(role Role, topics ...Topic) (uint64, <-chan Event) {
	allowed := make(map[Topic]bool)
	for _, t := range roleTopics[role] {
		allowed[t] = true
	}

	selected := allowed
	if len(topics) > 0 {
		selected = make(map[Topic]bool)
		for _, t := range topics {
			if allowed[t] {
				selected[t] = true
			}
		}
	}

	sub := &subscriber{
		topics: selected,
		ch:     make(chan Event, 64), // Buffer for bursts of transitions
	}

	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	return id, sub.ch
}

func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// Publish delivers the event to every subscriber scoped to its topic.
// Never blocks: slow subscribers miss events instead of holding up the
// allocation core.
func (b *Bus) Publish(topic Topic, payload any) {
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Skip slow subscribers
		}
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
