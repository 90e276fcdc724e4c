package mqtt

import (
	"errors"
	"sync"
)

// FakePublisher records published events for test assertions and can
// deliver scripted commands. Safe for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains all relay events that were published.
	Events []StateEvent

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	handler CommandHandler
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the relay event.
func (f *FakePublisher) Publish(event StateEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// SubscribeCommands stores h for Deliver.
func (f *FakePublisher) SubscribeCommands(h CommandHandler) error {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return nil
}

// Deliver simulates an inbound command message.
func (f *FakePublisher) Deliver(relay, payload string) error {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return errors.New("no command handler subscribed")
	}
	h(relay, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// EventsSnapshot returns a copy of the recorded relay events.
func (f *FakePublisher) EventsSnapshot() []StateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]StateEvent, len(f.Events))
	copy(out, f.Events)
	return out
}

// SystemEventsSnapshot returns a copy of the recorded system events.
func (f *FakePublisher) SystemEventsSnapshot() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SystemEvent, len(f.SystemEvents))
	copy(out, f.SystemEvents)
	return out
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
