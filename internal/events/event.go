// Package events delivers inbound data and connection-lost notifications from
// the session reader to whoever is listening, without ever blocking the reader.
package events

import (
	"sync"
)

// Kind names an event type. The values are the wire names used by the plugin.
type Kind string

const (
	KindData           Kind = "data"
	KindConnectionLost Kind = "connectionLost"
)

// Event is one asynchronous notification.
// Data carries the base64 payload of a data event, Message the reason of a lost connection.
type Event struct {
	Kind    Kind   `json:"event"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Data builds a data event from an encoded payload.
func Data(encoded string) Event {
	return Event{Kind: KindData, Data: encoded}
}

// ConnectionLost builds a connectionLost event.
func ConnectionLost(message string) Event {
	return Event{Kind: KindConnectionLost, Message: message}
}

// Sink receives events. Emit must not block for long: it runs on the reader goroutine.
type Sink interface {
	Emit(Event)
}

// Func adapts a plain function to Sink.
type Func func(Event)

func (f Func) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = Func(func(Event) {})

// Multi fans events out to several sinks in registration order.
// Sinks can be attached and detached while events flow.
type Multi struct {
	mu     sync.RWMutex
	nextID uint64
	sinks  []entry
}

type entry struct {
	id   uint64
	sink Sink
}

// NewMulti returns a fan-out over the given sinks; nil entries are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add attaches a sink and returns a function that detaches it.
func (m *Multi) Add(s Sink) (remove func()) {
	if s == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.sinks = append(m.sinks, entry{id: id, sink: s})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, cur := range m.sinks {
				if cur.id == id {
					m.sinks = append(m.sinks[:i:i], m.sinks[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Multi) Emit(e Event) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()

	for _, en := range sinks {
		en.sink.Emit(e)
	}
}

// Len returns the number of attached sinks.
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}
