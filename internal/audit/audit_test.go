package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Write(ctx context.Context, e Event) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func TestRecorderFansOut(t *testing.T) {
	a, b := &memorySink{}, &memorySink{err: errors.New("disk full")}
	core, logs := observer.New(zap.WarnLevel)
	r := NewRecorder(zap.New(core).Sugar(), time.Second, a, b)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	r.Record(ctx, Event{Action: ActionLogin, UserID: "u-1", Level: "user"})
	r.Wait()

	for _, s := range []*memorySink{a, b} {
		if len(s.events) != 1 {
			t.Fatalf("sink got %d events", len(s.events))
		}
		e := s.events[0]
		if e.RequestID != "req-1" || e.At.IsZero() {
			t.Fatalf("event not enriched: %+v", e)
		}
	}
	if logs.FilterMessage("audit sink failed").Len() != 1 {
		t.Fatalf("expected one sink failure to be logged, got %d", logs.Len())
	}
}

func TestRecorderSurvivesCancelledRequest(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(nil, time.Second, sink)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, Event{Action: ActionLogout})
	r.Wait()
	if len(sink.events) != 1 {
		t.Fatal("event lost after request cancellation")
	}
}

func TestRecorderDropsNamelessEvents(t *testing.T) {
	sink := &memorySink{}
	r := NewRecorder(nil, time.Second, sink)
	r.Record(context.Background(), Event{Action: "  "})
	r.Wait()
	if len(sink.events) != 0 {
		t.Fatal("event without action was written")
	}
}

func TestLogSinkFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSink(zap.New(core).Sugar())
	err := s.Write(context.Background(), Event{
		Action:   ActionTenantCreate,
		TenantID: "t-1",
		Metadata: map[string]any{"schema": "tenant_acme"},
		At:       time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["action"] != ActionTenantCreate || fields["tenant_id"] != "t-1" || fields["type"] != "audit" {
		t.Fatalf("fields = %v", fields)
	}
	if entries[0].LoggerName != "audit" {
		t.Fatalf("logger name = %q", entries[0].LoggerName)
	}
}
