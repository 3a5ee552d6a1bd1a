package hub

import (
	"sync"

	"github.com/rdevtools/rdev/internal/domain/events"
	"github.com/rdevtools/rdev/internal/domain/ports"
)

// FilteredSubscriber wraps a subscriber and filters events by session ID.
// Events without a session ID (global events) are always forwarded.
// If no sessions are subscribed, all events are forwarded.
type FilteredSubscriber struct {
	inner    ports.Subscriber
	sessions map[string]bool // Set of session IDs to receive events for
	mu       sync.RWMutex
}

// NewFilteredSubscriber creates a new filtered subscriber wrapping the given subscriber.
func NewFilteredSubscriber(inner ports.Subscriber) *FilteredSubscriber {
	return &FilteredSubscriber{
		inner:    inner,
		sessions: make(map[string]bool),
	}
}

// ID returns the subscriber's unique identifier.
func (f *FilteredSubscriber) ID() string {
	return f.inner.ID()
}

// Send sends an event to the subscriber if it passes the filter.
func (f *FilteredSubscriber) Send(event events.Event) error {
	if !f.shouldForward(event) {
		return nil // Silently skip events that don't match filter
	}
	return f.inner.Send(event)
}

// Close closes the subscriber.
func (f *FilteredSubscriber) Close() error {
	return f.inner.Close()
}

// Done returns a channel that's closed when the subscriber is done.
func (f *FilteredSubscriber) Done() <-chan struct{} {
	return f.inner.Done()
}

// SubscribeSession adds a session to the filter.
// Events for this session will be forwarded to the subscriber.
func (f *FilteredSubscriber) SubscribeSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = true
}

// UnsubscribeSession removes a session from the filter.
func (f *FilteredSubscriber) UnsubscribeSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
}

// SubscribeAll clears the filter, forwarding all events (default behavior).
func (f *FilteredSubscriber) SubscribeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = make(map[string]bool)
}

// SubscribedSessions returns the list of subscribed session IDs.
func (f *FilteredSubscriber) SubscribedSessions() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		result = append(result, id)
	}
	return result
}

// IsFiltering returns true if the subscriber is filtering by session.
func (f *FilteredSubscriber) IsFiltering() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sessions) > 0
}

// shouldForward determines if an event should be forwarded to the subscriber.
func (f *FilteredSubscriber) shouldForward(event events.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	// No filter set, forward everything
	if len(f.sessions) == 0 {
		return true
	}

	// Global events carry no session ID and are always forwarded
	sessionID := event.GetSessionID()
	if sessionID == "" {
		return true
	}

	return f.sessions[sessionID]
}
