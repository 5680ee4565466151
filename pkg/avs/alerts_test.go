package avs

import (
	"sync"
	"testing"
	"time"
)

type recordedEvent struct {
	name  string
	token string
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) record(name, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: name, token: token})
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.name)
	}
	return out
}

func instantTone(stop <-chan struct{}) {
	<-stop
}

func TestAlertSchedulerSetAlertRejectsBadTimestamp(t *testing.T) {
	rec := &eventRecorder{}
	s := NewAlertScheduler(rec.record, instantTone)

	if s.SetAlert("token-1", "ALARM", "not-a-timestamp") {
		t.Fatal("expected SetAlert to reject a malformed timestamp")
	}
}

func TestAlertSchedulerSetAndDeleteBeforeFiring(t *testing.T) {
	rec := &eventRecorder{}
	s := NewAlertScheduler(rec.record, instantTone)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	if !s.SetAlert("token-1", "ALARM", future) {
		t.Fatal("expected SetAlert to succeed")
	}

	entry := s.StateContextEntry()
	payload := entry.Payload.(alertsStatePayload)
	if len(payload.AllAlerts) != 1 || payload.AllAlerts[0].Token != "token-1" {
		t.Fatalf("expected token-1 in allAlerts, got %+v", payload.AllAlerts)
	}
	if len(payload.ActiveAlerts) != 0 {
		t.Fatalf("expected no active alerts before firing, got %+v", payload.ActiveAlerts)
	}

	if !s.DeleteAlert("token-1") {
		t.Fatal("expected DeleteAlert to succeed")
	}
	if s.DeleteAlert("token-1") {
		t.Fatal("expected second DeleteAlert on the same token to fail")
	}

	entry = s.StateContextEntry()
	payload = entry.Payload.(alertsStatePayload)
	if len(payload.AllAlerts) != 0 {
		t.Fatalf("expected empty allAlerts after delete, got %+v", payload.AllAlerts)
	}
	// No AlertStarted/AlertStopped should have fired for an alert that
	// was deleted before it ever went active.
	if len(rec.names()) != 0 {
		t.Fatalf("expected no alert events, got %v", rec.names())
	}
}

func TestAlertSchedulerFiresAndTearsDown(t *testing.T) {
	rec := &eventRecorder{}
	toneDone := make(chan struct{})
	tone := func(stop <-chan struct{}) {
		close(toneDone)
		<-stop
	}
	s := NewAlertScheduler(rec.record, tone)

	past := time.Now().Add(-time.Second).UTC().Format(time.RFC3339)
	if !s.SetAlert("token-2", "TIMER", past) {
		t.Fatal("expected SetAlert to succeed for an immediate alert")
	}

	select {
	case <-toneDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert to fire")
	}

	// The scheduler enforces a 30s foreground cap via its own internal
	// timer; deleting the alert here simulates the user/dispatcher
	// acknowledging it so we don't have to wait out the cap in a test.
	s.DeleteAlert("token-2")

	names := rec.names()
	if len(names) < 1 || names[0] != NameAlertStarted {
		t.Fatalf("expected AlertStarted to be the first event, got %v", names)
	}
}

func TestAlertSchedulerStateReflectsActiveAlert(t *testing.T) {
	rec := &eventRecorder{}
	entered := make(chan struct{})
	tone := func(stop <-chan struct{}) {
		close(entered)
		<-stop
	}
	s := NewAlertScheduler(rec.record, tone)

	past := time.Now().Add(-time.Second).UTC().Format(time.RFC3339)
	s.SetAlert("token-3", "REMINDER", past)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert to fire")
	}

	entry := s.StateContextEntry()
	payload := entry.Payload.(alertsStatePayload)
	if len(payload.ActiveAlerts) != 1 || payload.ActiveAlerts[0].Token != "token-3" {
		t.Fatalf("expected token-3 to be active, got %+v", payload.ActiveAlerts)
	}

	s.DeleteAlert("token-3")
}
