package events

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Publisher is the write side of the bus, handed to components that emit events.
type Publisher interface {
	Publish(event Event)
}

// Bus delivers events synchronously to handlers in subscription order.
//
// Handlers run on the publisher's goroutine and must not block; a handler
// that needs to do real work should hand the event to its own goroutine.
type Bus struct {
	logger *zap.Logger

	mu             sync.RWMutex
	subscribers    map[Type][]subscription
	allSubscribers []subscription
	closed         bool

	idCounter uint64
}

type subscription struct {
	id      SubscriptionID
	handler Handler
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:      logger,
		subscribers: make(map[Type][]subscription),
	}
}

// Publish delivers event to type subscribers, then to wildcard subscribers.
// Panicking handlers are logged and do not stop delivery.
func (b *Bus) Publish(event Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	typed := append([]subscription(nil), b.subscribers[event.Type()]...)
	all := append([]subscription(nil), b.allSubscribers...)
	b.mu.RUnlock()

	for _, sub := range typed {
		b.call(sub, event)
	}
	for _, sub := range all {
		b.call(sub, event)
	}
}

func (b *Bus) call(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.Any("panic", r),
				zap.String("event_type", string(event.Type())),
				zap.String("subscription", string(sub.id)))
		}
	}()
	sub.handler(event)
}

// Subscribe registers handler for one event type. Subscribing to a closed bus returns an empty ID.
func (b *Bus) Subscribe(eventType Type, handler Handler) SubscriptionID {
	if handler == nil {
		panic("event handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ""
	}

	id := SubscriptionID(fmt.Sprintf("sub-%d", atomic.AddUint64(&b.idCounter, 1)))
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})
	return id
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) SubscriptionID {
	if handler == nil {
		panic("event handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ""
	}

	id := SubscriptionID(fmt.Sprintf("sub-all-%d", atomic.AddUint64(&b.idCounter, 1)))
	b.allSubscribers = append(b.allSubscribers, subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}

	for i, sub := range b.allSubscribers {
		if sub.id == id {
			b.allSubscribers = append(b.allSubscribers[:i:i], b.allSubscribers[i+1:]...)
			return
		}
	}
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("event bus already closed")
	}
	b.closed = true
	b.subscribers = make(map[Type][]subscription)
	b.allSubscribers = nil
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
