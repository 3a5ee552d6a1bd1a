package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/rdevtools/rdev/internal/domain/events"
	"github.com/rdevtools/rdev/internal/testutil"
)

// waitUntil polls cond until it holds or the timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func subscribe(t *testing.T, h *Hub, id string) *testutil.MockSubscriber {
	t.Helper()
	sub := testutil.NewMockSubscriber(id)
	want := h.SubscriberCount() + 1
	h.Subscribe(sub)
	if !waitUntil(t, time.Second, func() bool { return h.SubscriberCount() == want }) {
		t.Fatalf("subscriber %s never registered", id)
	}
	return sub
}

func TestHub_StartStop(t *testing.T) {
	h := New()

	if h.IsRunning() {
		t.Error("hub running before Start()")
	}
	if err := h.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !h.IsRunning() {
		t.Error("hub not running after Start()")
	}

	// Both are idempotent.
	if err := h.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if h.IsRunning() {
		t.Error("hub still running after Stop()")
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestHub_DeliversSessionLifecycle(t *testing.T) {
	h := New()
	_ = h.Start()
	defer func() { _ = h.Stop() }()

	sub := subscribe(t, h, "cli")

	h.Publish(events.NewSessionStartedEvent("web-20260826120000-1a2b3c4d", "web", "devbox", "short"))
	h.Publish(events.NewSyncCompletedEvent("web-20260826120000-1a2b3c4d", "rsync", false, 0, true))
	h.Publish(events.NewSessionStoppedEvent("web-20260826120000-1a2b3c4d", "web", "devbox", "short"))

	if !waitUntil(t, time.Second, func() bool { return sub.EventCount() == 3 }) {
		t.Fatalf("subscriber received %d events, want 3", sub.EventCount())
	}

	got := sub.Events()
	wantTypes := []events.EventType{
		events.EventTypeSessionStarted,
		events.EventTypeSyncCompleted,
		events.EventTypeSessionStopped,
	}
	for i, want := range wantTypes {
		if got[i].Type() != want {
			t.Errorf("event %d type = %v, want %v", i, got[i].Type(), want)
		}
		if got[i].GetSessionID() != "web-20260826120000-1a2b3c4d" {
			t.Errorf("event %d session = %q", i, got[i].GetSessionID())
		}
	}
}

func TestHub_FansOutToAllSubscribers(t *testing.T) {
	h := New()
	_ = h.Start()
	defer func() { _ = h.Stop() }()

	ws := subscribe(t, h, "ws-1")
	cli := subscribe(t, h, "cli")
	daemon := subscribe(t, h, "daemon-log")

	for i := 0; i < 5; i++ {
		h.Publish(events.NewFileChangedEvent("web-1", "src/main.go"))
	}

	for _, sub := range []*testutil.MockSubscriber{ws, cli, daemon} {
		if !waitUntil(t, time.Second, func() bool { return sub.EventCount() == 5 }) {
			t.Errorf("subscriber %s received %d events, want 5", sub.ID(), sub.EventCount())
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := New()
	_ = h.Start()
	defer func() { _ = h.Stop() }()

	sub := subscribe(t, h, "cli")

	h.Unsubscribe("cli")
	if !waitUntil(t, time.Second, func() bool { return h.SubscriberCount() == 0 }) {
		t.Fatalf("SubscriberCount() = %d after unsubscribe, want 0", h.SubscriberCount())
	}
	if !sub.IsClosed() {
		t.Error("subscriber not closed by unsubscribe")
	}

	h.Publish(events.NewFileChangedEvent("web-1", "src/main.go"))
	time.Sleep(50 * time.Millisecond)
	if sub.EventCount() != 0 {
		t.Errorf("unsubscribed subscriber received %d events", sub.EventCount())
	}
}

func TestHub_FailedSendRemovesSubscriber(t *testing.T) {
	h := New()
	_ = h.Start()
	defer func() { _ = h.Stop() }()

	failing := subscribe(t, h, "slow-ws")
	failing.SetSendError(errTestSendFailed)
	good := subscribe(t, h, "cli")

	// The removal is queued best-effort, so keep publishing until it lands.
	if !waitUntil(t, time.Second, func() bool {
		if h.SubscriberCount() == 1 {
			return true
		}
		h.Publish(events.NewSessionStartedEvent("web-1", "web", "devbox", "short"))
		return false
	}) {
		t.Errorf("SubscriberCount() = %d, want 1 after failed send", h.SubscriberCount())
	}
	if !waitUntil(t, time.Second, func() bool { return good.EventCount() >= 1 }) {
		t.Errorf("good subscriber received %d events, want at least 1", good.EventCount())
	}
}

// Publish never blocks: when the broadcast buffer is full events are
// dropped, so under concurrent publishers every subscriber sees the same
// possibly-truncated sequence, never duplicates and never a partial fan-out.
func TestHub_ConcurrentPublishLossyButConsistent(t *testing.T) {
	h := New()
	_ = h.Start()
	defer func() { _ = h.Stop() }()

	const numPublishers = 10
	const numEvents = 100

	subs := make([]*testutil.MockSubscriber, 3)
	for i := range subs {
		subs[i] = subscribe(t, h, string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	wg.Add(numPublishers)
	for i := 0; i < numPublishers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numEvents; j++ {
				h.Publish(events.NewFileChangedEvent("web-1", "src/main.go"))
			}
		}(i)
	}
	wg.Wait()

	// Wait until delivery drains: counts agree across subscribers and
	// stop moving between polls.
	published := numPublishers * numEvents
	last := -1
	waitUntil(t, 2*time.Second, func() bool {
		n := subs[0].EventCount()
		settled := n > 0 && n == last
		last = n
		if !settled {
			return false
		}
		for _, sub := range subs[1:] {
			if sub.EventCount() != n {
				return false
			}
		}
		return true
	})

	first := subs[0].EventCount()
	if first == 0 || first > published {
		t.Fatalf("subscriber a received %d events, want within (0, %d]", first, published)
	}
	for _, sub := range subs[1:] {
		if got := sub.EventCount(); got != first {
			t.Errorf("subscriber %s received %d events, want %d (same as subscriber a)", sub.ID(), got, first)
		}
	}
}

func TestHub_PublishAfterStopDoesNotPanic(t *testing.T) {
	h := New()
	_ = h.Start()

	sub := subscribe(t, h, "cli")
	_ = h.Stop()

	if !sub.IsClosed() {
		t.Error("subscriber not closed by hub stop")
	}

	h.Publish(events.NewFileChangedEvent("web-1", "src/main.go"))
	h.Unsubscribe("cli")
}

func TestHub_StopClosesAllSubscribers(t *testing.T) {
	h := New()
	_ = h.Start()

	sub1 := subscribe(t, h, "ws-1")
	sub2 := subscribe(t, h, "cli")

	_ = h.Stop()

	if !sub1.IsClosed() || !sub2.IsClosed() {
		t.Error("subscribers not closed by hub stop")
	}
	if h.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d after stop, want 0", h.SubscriberCount())
	}
}

// errTestSendFailed is a test error for failed sends.
var errTestSendFailed = &testSendError{}

type testSendError struct{}

func (e *testSendError) Error() string { return "test send failed" }
