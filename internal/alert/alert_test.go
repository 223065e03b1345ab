package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func TestFanout_DeliversToAllNotifiers(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	f := NewFanout(zap.NewNop(), a, b)

	f.Notify(context.Background(), Event{
		Severity: SeverityWarning,
		Summary:  "queue is full",
	})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("delivery counts a=%d b=%d, want 1 each", len(a.events), len(b.events))
	}
	if a.events[0].At.IsZero() {
		t.Error("fanout should stamp the event time")
	}
}

func TestFanout_ContinuesPastFailingNotifier(t *testing.T) {
	broken := &recordingNotifier{err: errors.New("sns unreachable")}
	healthy := &recordingNotifier{}
	f := NewFanout(zap.NewNop(), broken, healthy)

	f.Notify(context.Background(), Event{Severity: SeverityCritical, Summary: "flush failed"})

	if len(healthy.events) != 1 {
		t.Fatal("a failing notifier must not block the others")
	}
}

func TestFanout_PreservesExplicitTimestamp(t *testing.T) {
	n := &recordingNotifier{}
	f := NewFanout(zap.NewNop(), n)

	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	f.Notify(context.Background(), Event{Summary: "x", At: at})

	if !n.events[0].At.Equal(at) {
		t.Errorf("At = %s, want %s", n.events[0].At, at)
	}
}

func TestLogNotifier_NeverFails(t *testing.T) {
	n := NewLogNotifier(zap.NewNop())
	for _, sev := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical} {
		if err := n.Notify(context.Background(), Event{Severity: sev, Summary: "x"}); err != nil {
			t.Errorf("Notify(%s) = %v", sev, err)
		}
	}
}

func TestWebhookNotifier_PostsJSON(t *testing.T) {
	var (
		mu       sync.Mutex
		received Event
		agent    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		agent = r.Header.Get("User-Agent")
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	n := NewWebhookNotifier(srv.URL, time.Second, zap.NewNop())
	err := n.Notify(context.Background(), Event{
		Severity: SeverityWarning,
		Summary:  "retry queue is not draining",
		Detail:   "3 consecutive partial flushes",
		At:       time.Now(),
	})
	if err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received.Summary != "retry queue is not draining" || received.Severity != SeverityWarning {
		t.Errorf("webhook received %+v", received)
	}
	if agent != "smsrelay/1.0" {
		t.Errorf("User-Agent = %q", agent)
	}
}

func TestWebhookNotifier_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	n := NewWebhookNotifier(srv.URL, time.Second, zap.NewNop())
	if err := n.Notify(context.Background(), Event{Summary: "x"}); err == nil {
		t.Fatal("5xx response should be an error")
	}
}

func TestWebhookNotifier_UnreachableEndpoint(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1", time.Second, zap.NewNop())
	if err := n.Notify(context.Background(), Event{Summary: "x"}); err == nil {
		t.Fatal("connection failure should be an error")
	}
}

func TestWebhookNotifier_DefaultTimeout(t *testing.T) {
	n := NewWebhookNotifier("http://example.com", 0, zap.NewNop())
	if n.client.Timeout != 10*time.Second {
		t.Errorf("timeout = %s, want 10s", n.client.Timeout)
	}
}
