package booking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/assistly/callcore/services/booking-service/internal/model"
	"github.com/assistly/callcore/services/booking-service/internal/outbox"
)

type fakeAvailability struct {
	available bool
	err       error
	calls     int
}

func (f *fakeAvailability) IsAvailable(_ context.Context, _ string, _, _ time.Time) (bool, error) {
	f.calls++
	return f.available, f.err
}

type fakeStore struct {
	err     error
	commits int
	lead    model.Lead
	appt    model.Appointment
	events  []outbox.Event
}

func (f *fakeStore) CommitBooking(_ context.Context, lead model.Lead, appt *model.Appointment, events []outbox.Event) error {
	if f.err != nil {
		return f.err
	}
	f.commits++
	appt.LeadID = "lead-1"
	f.lead = lead
	f.appt = *appt
	f.events = events
	return nil
}

type fakeTokens struct {
	token string
	ok    bool
	err   error
}

func (f *fakeTokens) AccessToken(_ context.Context, _ string) (string, bool, error) {
	return f.token, f.ok, f.err
}

type fakeCreator struct {
	err    error
	called chan model.Appointment
}

func newFakeCreator(err error) *fakeCreator {
	return &fakeCreator{err: err, called: make(chan model.Appointment, 1)}
}

func (f *fakeCreator) CreateEvent(_ context.Context, _ string, appt model.Appointment, _ string) (string, error) {
	f.called <- appt
	if f.err != nil {
		return "", f.err
	}
	return "evt-1", nil
}

func newTestService(avail *fakeAvailability, store *fakeStore, tokens *fakeTokens, creator *fakeCreator) *Service {
	svc := NewService(avail, store, tokens, creator, slog.New(slog.DiscardHandler), Config{})
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func validRequest() Request {
	return Request{
		BusinessID:    "biz-1",
		CustomerName:  "Dana Cole",
		CustomerPhone: "+15551234567",
		Start:         time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
		Language:      "en",
	}
}

func TestBook_ValidationLeavesNoWrites(t *testing.T) {
	avail := &fakeAvailability{available: true}
	store := &fakeStore{}
	svc := newTestService(avail, store, &fakeTokens{}, newFakeCreator(nil))

	cases := []func(*Request){
		func(r *Request) { r.BusinessID = "" },
		func(r *Request) { r.CustomerName = "" },
		func(r *Request) { r.CustomerPhone = "" },
		func(r *Request) { r.Start = time.Time{} },
	}
	for i, mutate := range cases {
		req := validRequest()
		mutate(&req)
		_, err := svc.Book(context.Background(), req)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
	if avail.calls != 0 || store.commits != 0 {
		t.Fatal("invalid requests must cause no availability checks and no writes")
	}
}

func TestBook_UnavailableLeavesNoWrites(t *testing.T) {
	avail := &fakeAvailability{available: false}
	store := &fakeStore{}
	svc := newTestService(avail, store, &fakeTokens{}, newFakeCreator(nil))

	res, err := svc.Book(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if res.Available {
		t.Fatal("expected unavailable")
	}
	if res.AppointmentID != "" {
		t.Fatal("rejected booking must not carry an appointment id")
	}
	if store.commits != 0 {
		t.Fatal("rejected booking must not write")
	}
}

func TestBook_CommitsWithDefaultDuration(t *testing.T) {
	avail := &fakeAvailability{available: true}
	store := &fakeStore{}
	creator := newFakeCreator(nil)
	svc := newTestService(avail, store, &fakeTokens{token: "tok", ok: true}, creator)

	req := validRequest()
	req.Duration = 0 // callers that omit duration get 60 minutes

	res, err := svc.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if !res.Available || res.AppointmentID == "" {
		t.Fatalf("expected committed booking, got %+v", res)
	}
	if store.appt.Status != model.StatusScheduled {
		t.Fatalf("expected scheduled status, got %q", store.appt.Status)
	}
	if got := store.appt.EndTime.Sub(store.appt.StartTime); got != DefaultDuration {
		t.Fatalf("expected default 60m duration, got %s", got)
	}
	if store.lead.Phone != req.CustomerPhone || store.lead.Name != req.CustomerName {
		t.Fatalf("lead not built from request: %+v", store.lead)
	}

	select {
	case appt := <-creator.called:
		if appt.ID != res.AppointmentID {
			t.Fatalf("projected wrong appointment: %s", appt.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("calendar projection never attempted")
	}
}

func TestBook_EmitsScheduledAndReminderEvents(t *testing.T) {
	avail := &fakeAvailability{available: true}
	store := &fakeStore{}
	svc := newTestService(avail, store, &fakeTokens{}, newFakeCreator(nil))

	// Start is 11 days past the fixed now, so both default offsets (24h, 10m)
	// are still in the future.
	if _, err := svc.Book(context.Background(), validRequest()); err != nil {
		t.Fatalf("Book: %v", err)
	}

	var scheduled, reminders int
	for _, evt := range store.events {
		switch evt.EventType {
		case outbox.EventAppointmentScheduled:
			scheduled++
			var payload map[string]any
			if err := json.Unmarshal(evt.Payload, &payload); err != nil {
				t.Fatalf("scheduled payload: %v", err)
			}
			if payload["business_id"] != "biz-1" {
				t.Fatalf("scheduled payload missing business id: %v", payload)
			}
		case outbox.EventReminderRequested:
			reminders++
		default:
			t.Fatalf("unexpected event type %q", evt.EventType)
		}
	}
	if scheduled != 1 {
		t.Fatalf("expected exactly one scheduled event, got %d", scheduled)
	}
	if reminders != 2 {
		t.Fatalf("expected reminders for both offsets, got %d", reminders)
	}
}

func TestBook_SkipsRemindersAlreadyInThePast(t *testing.T) {
	avail := &fakeAvailability{available: true}
	store := &fakeStore{}
	svc := newTestService(avail, store, &fakeTokens{}, newFakeCreator(nil))

	req := validRequest()
	req.Start = time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC) // 30m after fixed now

	if _, err := svc.Book(context.Background(), req); err != nil {
		t.Fatalf("Book: %v", err)
	}

	var reminders int
	for _, evt := range store.events {
		if evt.EventType == outbox.EventReminderRequested {
			reminders++
		}
	}
	// The 24h reminder would fire in the past; only the 10m one survives.
	if reminders != 1 {
		t.Fatalf("expected one reminder event, got %d", reminders)
	}
}

func TestBook_ConflictMapsToUnavailable(t *testing.T) {
	avail := &fakeAvailability{available: true}
	store := &fakeStore{err: &pgconn.PgError{Code: "23P01"}}
	svc := newTestService(avail, store, &fakeTokens{}, newFakeCreator(nil))

	res, err := svc.Book(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("exclusion conflict must not surface as error, got %v", err)
	}
	if res.Available {
		t.Fatal("race loser must see unavailable")
	}
}

func TestBook_StoreFailurePropagates(t *testing.T) {
	avail := &fakeAvailability{available: true}
	store := &fakeStore{err: errors.New("connection reset")}
	svc := newTestService(avail, store, &fakeTokens{}, newFakeCreator(nil))

	if _, err := svc.Book(context.Background(), validRequest()); err == nil {
		t.Fatal("non-conflict store failure must propagate")
	}
}

func TestBook_ProjectionFailureDoesNotAffectResult(t *testing.T) {
	avail := &fakeAvailability{available: true}
	store := &fakeStore{}
	creator := newFakeCreator(errors.New("calendar 500"))
	svc := newTestService(avail, store, &fakeTokens{token: "tok", ok: true}, creator)

	res, err := svc.Book(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if !res.Available || res.AppointmentID == "" {
		t.Fatalf("projection failure leaked into booking result: %+v", res)
	}

	select {
	case <-creator.called:
	case <-time.After(2 * time.Second):
		t.Fatal("projection never attempted")
	}
}

func TestBook_NoCredentialSkipsProjection(t *testing.T) {
	avail := &fakeAvailability{available: true}
	store := &fakeStore{}
	creator := newFakeCreator(nil)
	svc := newTestService(avail, store, &fakeTokens{ok: false}, creator)

	res, err := svc.Book(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if !res.Available {
		t.Fatal("expected committed booking")
	}

	select {
	case <-creator.called:
		t.Fatal("no calendar connected; projection must not create events")
	case <-time.After(100 * time.Millisecond):
	}
}
