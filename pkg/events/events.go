// Package events provides the named lifecycle/runtime event bus. Handlers run
// in registration order; a failing handler is logged and skipped, never
// aborting the rest of the fan-out.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/pothead-chat/pothead/pkg/logger"
)

// Event names a bus event.
type Event string

const (
	PostStartup         Event = "post_startup"
	PreShutdown         Event = "pre_shutdown"
	Timer               Event = "timer"
	ChatMessageReceived Event = "chat_message_received"
	ChatMessageEdited   Event = "chat_message_edited"
	ChatMessageDeleted  Event = "chat_message_deleted"
	GroupUpdate         Event = "group_update"
)

// Handler receives the event arguments. Args are event-specific; message
// events carry the normalized message as the single argument.
type Handler func(ctx context.Context, args ...interface{}) error

// Bus is the in-process event registry. Registration is additive only and
// expected to happen during startup, before the main loop begins.
type Bus struct {
	handlers map[Event][]Handler
	mu       sync.RWMutex
	closed   bool
}

func New() *Bus {
	return &Bus{handlers: make(map[Event][]Handler)}
}

// On registers a handler for an event. There is no unregister.
func (b *Bus) On(event Event, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Fire invokes every handler registered for event, in registration order,
// awaiting each in turn. A handler that returns an error or panics is logged
// with context and skipped.
func (b *Bus) Fire(ctx context.Context, event Event, args ...interface{}) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := b.handlers[event]
	b.mu.RUnlock()

	logger.DebugCF("events", "Firing event", map[string]interface{}{
		"event":    string(event),
		"handlers": len(handlers),
	})

	for i, handler := range handlers {
		if err := runHandler(ctx, handler, args); err != nil {
			logger.ErrorCF("events", "Event handler failed", map[string]interface{}{
				"event":   string(event),
				"handler": i,
				"error":   err.Error(),
			})
		}
	}
}

func runHandler(ctx context.Context, handler Handler, args []interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, args...)
}

// HandlerCount returns the total number of registered handlers, for
// diagnostics.
func (b *Bus) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, hs := range b.handlers {
		count += len(hs)
	}
	return count
}

// Close stops all future dispatch.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
