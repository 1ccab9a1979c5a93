package jscontext

import (
	"sync"
)

// EventListenerFunc is a callback for [EventTarget.AddEventListener].
type EventListenerFunc func(event *Event)

// ListenerID identifies a registered listener, since Go functions cannot
// be compared for equality.
type ListenerID uint64

type listenerEntry struct { //nolint:govet // betteralign:ignore
	id       ListenerID
	listener EventListenerFunc
	once     bool
}

// EventTarget provides DOM-style event dispatching. Each [Realm] is an
// EventTarget, receiving "error", "unhandledrejection" and
// "rejectionhandled" events.
//
// EventTarget is safe for concurrent use, though events are normally
// dispatched from the owning thread. Listeners are called synchronously,
// in registration order, and panics propagate to the dispatcher.
type EventTarget struct {
	listeners      map[string][]listenerEntry
	nextListenerID ListenerID
	mu             sync.RWMutex
}

// Event is dispatched by [EventTarget.DispatchEvent]. It is not safe for
// concurrent use.
type Event struct { //nolint:govet // betteralign:ignore
	// Type is the name of the event, e.g. "unhandledrejection".
	Type string

	// Target is set by DispatchEvent.
	Target *EventTarget

	// DefaultPrevented is true if PreventDefault was called on a
	// cancelable event.
	DefaultPrevented bool

	// Cancelable indicates whether PreventDefault has any effect.
	Cancelable bool

	immediatePropagationStopped bool

	detail any
}

// NewEventTarget creates an EventTarget with no listeners.
func NewEventTarget() *EventTarget {
	return &EventTarget{
		listeners:      make(map[string][]listenerEntry),
		nextListenerID: 1,
	}
}

// AddEventListener registers listener for eventType, returning an id for
// [EventTarget.RemoveEventListenerByID]. A nil listener returns 0.
func (et *EventTarget) AddEventListener(eventType string, listener EventListenerFunc) ListenerID {
	return et.addListener(eventType, listener, false)
}

// AddEventListenerOnce registers a listener that is removed after it is
// first called.
func (et *EventTarget) AddEventListenerOnce(eventType string, listener EventListenerFunc) ListenerID {
	return et.addListener(eventType, listener, true)
}

func (et *EventTarget) addListener(eventType string, listener EventListenerFunc, once bool) ListenerID {
	if listener == nil {
		return 0
	}

	et.mu.Lock()
	defer et.mu.Unlock()

	id := et.nextListenerID
	et.nextListenerID++

	et.listeners[eventType] = append(et.listeners[eventType], listenerEntry{
		id:       id,
		listener: listener,
		once:     once,
	})
	return id
}

// RemoveEventListenerByID removes a listener, returning true if it was
// registered.
func (et *EventTarget) RemoveEventListenerByID(eventType string, id ListenerID) bool {
	et.mu.Lock()
	defer et.mu.Unlock()
	return et.removeLocked(eventType, id)
}

func (et *EventTarget) removeLocked(eventType string, id ListenerID) bool {
	entries := et.listeners[eventType]
	for i, entry := range entries {
		if entry.id == id {
			et.listeners[eventType] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// DispatchEvent calls every listener registered for event.Type. It
// returns false if the event is cancelable and a listener called
// PreventDefault.
func (et *EventTarget) DispatchEvent(event *Event) bool {
	if event == nil {
		return true
	}

	event.Target = et

	// copied, so listeners may add or remove listeners
	et.mu.RLock()
	entries := make([]listenerEntry, len(et.listeners[event.Type]))
	copy(entries, et.listeners[event.Type])
	et.mu.RUnlock()

	for _, entry := range entries {
		if event.immediatePropagationStopped {
			break
		}
		if entry.once {
			et.mu.Lock()
			removed := et.removeLocked(event.Type, entry.id)
			et.mu.Unlock()
			if !removed {
				continue
			}
		}
		entry.listener(event)
	}

	return !event.Cancelable || !event.DefaultPrevented
}

// HasEventListeners reports whether any listener is registered for
// eventType.
func (et *EventTarget) HasEventListeners(eventType string) bool {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.listeners[eventType]) > 0
}

// ListenerCount returns the number of listeners for eventType.
func (et *EventTarget) ListenerCount(eventType string) int {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.listeners[eventType])
}

// RemoveAllEventListeners removes the listeners for eventType, or every
// listener if eventType is empty.
func (et *EventTarget) RemoveAllEventListeners(eventType string) {
	et.mu.Lock()
	defer et.mu.Unlock()
	if eventType == "" {
		et.listeners = make(map[string][]listenerEntry)
	} else {
		delete(et.listeners, eventType)
	}
}

// PreventDefault cancels a cancelable event.
func (e *Event) PreventDefault() {
	if e.Cancelable {
		e.DefaultPrevented = true
	}
}

// StopImmediatePropagation prevents any further listeners from being
// called.
func (e *Event) StopImmediatePropagation() {
	e.immediatePropagationStopped = true
}

// IsImmediatePropagationStopped reports whether StopImmediatePropagation
// was called.
func (e *Event) IsImmediatePropagationStopped() bool {
	return e.immediatePropagationStopped
}

// Detail returns the data carried by the event. For the events created by
// this package it is the enclosing *PromiseRejectionEvent or *ErrorEvent.
func (e *Event) Detail() any {
	return e.detail
}

// NewEvent creates a non-cancelable event.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType}
}

// NewCustomEvent creates an event carrying detail.
func NewCustomEvent(eventType string, detail any, cancelable bool) *Event {
	return &Event{Type: eventType, Cancelable: cancelable, detail: detail}
}

// PromiseRejectionEvent is dispatched at a realm as "unhandledrejection"
// (cancelable) or "rejectionhandled".
type PromiseRejectionEvent struct {
	Event

	// Promise is the rejected promise.
	Promise Promise

	// Reason is the rejection reason, Promise.Result().
	Reason any
}

// NewPromiseRejectionEvent creates a PromiseRejectionEvent for p.
func NewPromiseRejectionEvent(eventType string, p Promise, cancelable bool) *PromiseRejectionEvent {
	e := &PromiseRejectionEvent{
		Event:   Event{Type: eventType, Cancelable: cancelable},
		Promise: p,
	}
	if p != nil {
		e.Reason = p.Result()
	}
	e.detail = e
	return e
}

// AsPromiseRejectionEvent returns the PromiseRejectionEvent e belongs to.
func AsPromiseRejectionEvent(e *Event) (*PromiseRejectionEvent, bool) {
	if e == nil {
		return nil, false
	}
	pre, ok := e.detail.(*PromiseRejectionEvent)
	return pre, ok
}

// ErrorEvent is dispatched at a realm as "error" (cancelable) when a
// script exception is reported.
type ErrorEvent struct {
	Event

	// Err is the reported exception.
	Err error
}

// NewErrorEvent creates a cancelable "error" event.
func NewErrorEvent(err error) *ErrorEvent {
	e := &ErrorEvent{
		Event: Event{Type: "error", Cancelable: true},
		Err:   err,
	}
	e.detail = e
	return e
}

// AsErrorEvent returns the ErrorEvent e belongs to.
func AsErrorEvent(e *Event) (*ErrorEvent, bool) {
	if e == nil {
		return nil, false
	}
	ee, ok := e.detail.(*ErrorEvent)
	return ee, ok
}
