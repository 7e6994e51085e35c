package availability

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/assistly/callcore/services/booking-service/internal/interval"
)

type fakeStore struct {
	overlap bool
	err     error
	calls   int
}

func (f *fakeStore) HasOverlap(_ context.Context, _ string, _, _ time.Time) (bool, error) {
	f.calls++
	return f.overlap, f.err
}

type fakeTokens struct {
	token string
	ok    bool
	err   error
	calls int
}

func (f *fakeTokens) AccessToken(_ context.Context, _ string) (string, bool, error) {
	f.calls++
	return f.token, f.ok, f.err
}

type fakeCalendar struct {
	busy  []interval.Span
	err   error
	calls int
}

func (f *fakeCalendar) QueryBusy(_ context.Context, _ string, _, _ time.Time) ([]interval.Span, error) {
	f.calls++
	return f.busy, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

var (
	reqStart = time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	reqEnd   = time.Date(2026, 3, 12, 11, 0, 0, 0, time.UTC)
)

func TestIsAvailable_LocalConflictIsAuthoritative(t *testing.T) {
	// External calendar reports free, but the local store has a booking.
	store := &fakeStore{overlap: true}
	tokens := &fakeTokens{token: "tok", ok: true}
	cal := &fakeCalendar{}

	r := NewReconciler(store, tokens, cal, testLogger())
	ok, err := r.IsAvailable(context.Background(), "biz-1", reqStart, reqEnd)
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if ok {
		t.Fatal("local conflict must reject even when external calendar is free")
	}
}

func TestIsAvailable_ExternalBusyRejects(t *testing.T) {
	store := &fakeStore{}
	tokens := &fakeTokens{token: "tok", ok: true}
	cal := &fakeCalendar{busy: []interval.Span{{Start: reqStart, End: reqEnd}}}

	r := NewReconciler(store, tokens, cal, testLogger())
	ok, err := r.IsAvailable(context.Background(), "biz-1", reqStart, reqEnd)
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if ok {
		t.Fatal("external busy interval must reject")
	}
}

func TestIsAvailable_TouchingBusySpanDoesNotReject(t *testing.T) {
	// A busy period ending exactly where the request starts shares no
	// instant with it under the half-open rule.
	store := &fakeStore{}
	tokens := &fakeTokens{token: "tok", ok: true}
	cal := &fakeCalendar{busy: []interval.Span{{Start: reqStart.Add(-time.Hour), End: reqStart}}}

	r := NewReconciler(store, tokens, cal, testLogger())
	ok, err := r.IsAvailable(context.Background(), "biz-1", reqStart, reqEnd)
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if !ok {
		t.Fatal("adjacent busy interval must not reject the slot")
	}
}

func TestIsAvailable_BothFree(t *testing.T) {
	store := &fakeStore{}
	tokens := &fakeTokens{token: "tok", ok: true}
	cal := &fakeCalendar{}

	r := NewReconciler(store, tokens, cal, testLogger())
	ok, err := r.IsAvailable(context.Background(), "biz-1", reqStart, reqEnd)
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if !ok {
		t.Fatal("expected available")
	}
	if store.calls != 1 || cal.calls != 1 {
		t.Fatalf("expected one local and one external query, got %d/%d", store.calls, cal.calls)
	}
}

func TestIsAvailable_NoCredentialLocalOnly(t *testing.T) {
	store := &fakeStore{}
	tokens := &fakeTokens{ok: false}
	cal := &fakeCalendar{}

	r := NewReconciler(store, tokens, cal, testLogger())
	ok, err := r.IsAvailable(context.Background(), "biz-1", reqStart, reqEnd)
	if err != nil {
		t.Fatalf("IsAvailable: %v", err)
	}
	if !ok {
		t.Fatal("expected available in local-only mode")
	}
	if cal.calls != 0 {
		t.Fatal("external calendar must not be queried without a credential")
	}
}

func TestIsAvailable_AdapterErrorFallsBackToLocal(t *testing.T) {
	store := &fakeStore{}
	tokens := &fakeTokens{token: "tok", ok: true}
	cal := &fakeCalendar{err: errors.New("freebusy 503")}

	r := NewReconciler(store, tokens, cal, testLogger())
	ok, err := r.IsAvailable(context.Background(), "biz-1", reqStart, reqEnd)
	if err != nil {
		t.Fatalf("adapter failure must not surface as error, got %v", err)
	}
	if !ok {
		t.Fatal("expected local-only fallback to report available")
	}
}

func TestIsAvailable_RefreshFailureFallsBackToLocal(t *testing.T) {
	store := &fakeStore{overlap: true}
	tokens := &fakeTokens{err: errors.New("refresh grant rejected")}
	cal := &fakeCalendar{}

	r := NewReconciler(store, tokens, cal, testLogger())
	ok, err := r.IsAvailable(context.Background(), "biz-1", reqStart, reqEnd)
	if err != nil {
		t.Fatalf("refresh failure must not surface as error, got %v", err)
	}
	if ok {
		t.Fatal("local conflict still rejects during fallback")
	}
	if cal.calls != 0 {
		t.Fatal("external calendar must not be queried after a token failure")
	}
}

func TestIsAvailable_StoreFailureIsFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	tokens := &fakeTokens{token: "tok", ok: true}
	cal := &fakeCalendar{}

	r := NewReconciler(store, tokens, cal, testLogger())
	if _, err := r.IsAvailable(context.Background(), "biz-1", reqStart, reqEnd); err == nil {
		t.Fatal("unreachable local store must be fatal")
	}
	if tokens.calls != 0 {
		t.Fatal("no external work after a store failure")
	}
}
