// Package events is the in-process event bus. Components publish typed
// events; subscribers react without the publisher knowing about them.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
)

// Event is one message on the bus. Payload depends on Type.
type Event struct {
	Type    string
	OwnerID string
	Payload any
	At      time.Time
}

// QuestionSelected is the payload of domain.EventQuestionSelected.
type QuestionSelected struct {
	QuestionID string
}

// Handler reacts to an event.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a typed pub/sub bus. Subscribers run in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   atomic.Uint64
	wg       sync.WaitGroup
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]subscription)}
}

// Subscribe registers h for eventType and returns a func that removes it.
func (b *Bus) Subscribe(eventType string, h Handler) (unsubscribe func()) {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.handlers[eventType]
			for i, s := range subs {
				if s.id == id {
					b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Bus) snapshot(eventType string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := make([]subscription, len(b.handlers[eventType]))
	copy(subs, b.handlers[eventType])
	return subs
}

// Publish delivers ev to every subscriber before returning.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, s := range b.snapshot(ev.Type) {
		b.dispatch(ctx, s.handler, ev)
	}
}

// PublishAsync delivers ev in the background with a context detached from
// the caller's cancellation. Use Wait to drain pending deliveries.
func (b *Bus) PublishAsync(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	subs := b.snapshot(ev.Type)
	if len(subs) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, s := range subs {
			b.dispatch(detached, s.handler, ev)
		}
	}()
}

// Wait blocks until all asynchronous deliveries have finished.
func (b *Bus) Wait() { b.wg.Wait() }

func (b *Bus) dispatch(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			observability.LoggerFromContext(ctx).Error("event handler panicked",
				slog.String("event", ev.Type),
				slog.Any("panic", r))
		}
	}()
	h(ctx, ev)
}
