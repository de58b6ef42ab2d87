// Package bus provides an in-process event bus between the conversation
// engine and its observers (HTTP API, visualizer stream, metrics).
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

const (
	// Conversation events
	EventTypeStateChanged     EventType = "conversation.state_changed"
	EventTypeVoiceModeChanged EventType = "conversation.voice_mode_changed"
	EventTypeUtterance        EventType = "conversation.utterance"
	EventTypeNotice           EventType = "conversation.notice"

	// Persona events
	EventTypePersonaChanged EventType = "persona.changed"
	EventTypeSpeakerChanged EventType = "persona.speaker_changed"
	EventTypeDepthChanged   EventType = "persona.depth_changed"

	// Audio events
	EventTypeMutedChanged   EventType = "audio.muted_changed"
	EventTypeAmbientChanged EventType = "audio.ambient_changed"
	EventTypeSpeechStart    EventType = "audio.speech_start"
	EventTypeSpeechEnd      EventType = "audio.speech_end"
)

// Event represents a bus event
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles events
type Handler func(Event)

type subscription struct {
	id uint64
	h  Handler
}

// EventBus is a simple pub/sub event bus. A handler registered with
// SubscribeAll receives every event type.
type EventBus struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[EventType][]subscription
	all      []subscription
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]subscription),
	}
}

// Subscribe adds a handler for an event type and returns a function that
// removes it.
func (b *EventBus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, h: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[eventType] = remove(b.handlers[eventType], id)
	}
}

// SubscribeAll adds a handler for every event type.
func (b *EventBus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.all = append(b.all, subscription{id: id, h: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// Publish delivers an event to every subscribed handler in subscription
// order on the caller's goroutine. Handlers must not block.
func (b *EventBus) Publish(event Event) {
	for _, h := range b.snapshot(event.Type) {
		h(event)
	}
}

// PublishAsync runs each handler on its own goroutine.
func (b *EventBus) PublishAsync(event Event) {
	for _, h := range b.snapshot(event.Type) {
		go h(event)
	}
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]subscription)
	b.all = nil
}

func (b *EventBus) snapshot(t EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hs := make([]Handler, 0, len(b.handlers[t])+len(b.all))
	for _, s := range b.handlers[t] {
		hs = append(hs, s.h)
	}
	for _, s := range b.all {
		hs = append(hs, s.h)
	}
	return hs
}

func remove(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}
