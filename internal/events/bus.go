// Package events provides the pub/sub bus the orchestration core publishes
// step events and notices to. Subscribers are decoupled from the core:
// logging, progress aggregation, notifications and the SSE stream all
// consume the same feed.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"scenesmith/internal/core"
)

// Event is the base interface for all bus events.
type Event interface {
	EventType() string
	Timestamp() time.Time
}

// Step wraps a core step event for the bus.
type Step struct {
	core.StepEvent
}

func (e Step) EventType() string    { return "step" }
func (e Step) Timestamp() time.Time { return e.At }

// Notice is a free-text operator message.
type Notice struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (e Notice) EventType() string    { return "notice" }
func (e Notice) Timestamp() time.Time { return e.At }

// TaskTransition announces a task status change.
type TaskTransition struct {
	Key    core.JobKey     `json:"key"`
	Status core.TaskStatus `json:"status"`
	At     time.Time       `json:"at"`
}

func (e TaskTransition) EventType() string    { return "task" }
func (e TaskTransition) Timestamp() time.Time { return e.At }

type subscriber struct {
	ch       chan Event
	types    map[string]bool // empty means all types
	priority bool
}

// Bus is a fan-out event bus with per-subscriber buffers. Slow subscribers
// drop events rather than block the publisher; priority subscribers never
// drop and block the publisher instead.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	bufferSize  int
	dropped     int64
	closed      bool
}

// New creates a bus with the given per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe returns a channel receiving the named event types, or all
// events when no types are given.
func (b *Bus) Subscribe(types ...string) <-chan Event {
	return b.subscribe(false, types)
}

// SubscribePriority returns a channel that never drops events: a full
// buffer blocks the publisher instead. Use it only for consumers that must
// see every event and always drain, like the progress counters.
func (b *Bus) SubscribePriority(types ...string) <-chan Event {
	return b.subscribe(true, types)
}

func (b *Bus) subscribe(priority bool, types []string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{
		ch:       make(chan Event, b.bufferSize),
		types:    make(map[string]bool, len(types)),
		priority: priority,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// Unsubscribe removes and closes a subscription channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subscribers[:0]
	for _, sub := range b.subscribers {
		if sub.ch != ch {
			kept = append(kept, sub)
		} else {
			close(sub.ch)
		}
	}
	b.subscribers = kept
}

// Publish delivers the event to every matching subscriber. Full buffers
// drop the event for that subscriber and count it, except for priority
// subscribers, which the publisher waits on.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if len(sub.types) > 0 && !sub.types[event.EventType()] {
			continue
		}
		if sub.priority {
			sub.ch <- event
			continue
		}
		select {
		case sub.ch <- event:
		default:
			atomic.AddInt64(&b.dropped, 1)
		}
	}
}

// Dropped returns the number of events dropped on full buffers.
func (b *Bus) Dropped() int64 {
	return atomic.LoadInt64(&b.dropped)
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}

// OnStep implements core.EventSink.
func (b *Bus) OnStep(ev core.StepEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.Publish(Step{StepEvent: ev})
}

// OnNotice implements core.EventSink.
func (b *Bus) OnNotice(message string) {
	b.Publish(Notice{Message: message, At: time.Now()})
}

// OnTransition publishes a task status change.
func (b *Bus) OnTransition(key core.JobKey, status core.TaskStatus) {
	b.Publish(TaskTransition{Key: key, Status: status, At: time.Now()})
}
