package gcal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/assistly/callcore/services/booking-service/internal/interval"
	"github.com/assistly/callcore/services/booking-service/internal/model"
)

// ErrAdapter marks any external calendar failure: network, non-2xx,
// malformed payload, or timeout. It is always recoverable: queries fall
// back to local availability and event creation is best-effort.
var ErrAdapter = errors.New("calendar adapter failure")

// targetCalendar is the single calendar this system reads and writes.
const targetCalendar = "primary"

// Adapter talks to the business owner's Google Calendar. Every call is
// bounded by the configured timeout so a slow calendar API can never stall a
// booking decision.
type Adapter struct {
	timeout time.Duration
	extra   []option.ClientOption // test hook: endpoint/http client overrides
}

func NewAdapter(timeout time.Duration, extra ...option.ClientOption) *Adapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{timeout: timeout, extra: extra}
}

// QueryBusy returns the busy intervals on the target calendar intersecting
// [start, end). Treat a returned error as "the external view is unknown",
// not as "the slot is taken".
func (a *Adapter) QueryBusy(ctx context.Context, token string, start, end time.Time) ([]interval.Span, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	svc, err := a.service(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapter, err)
	}

	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: targetCalendar}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: freebusy query: %v", ErrAdapter, err)
	}

	cal, ok := resp.Calendars[targetCalendar]
	if !ok {
		return nil, nil
	}

	spans := make([]interval.Span, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		s, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed busy start %q", ErrAdapter, period.Start)
		}
		e, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed busy end %q", ErrAdapter, period.End)
		}
		spans = append(spans, interval.Span{Start: s, End: e})
	}
	return spans, nil
}

// CreateEvent mirrors a committed appointment into the external calendar.
// The appointment and business ids ride along as private extended properties
// for traceability; nothing ever reads them back.
func (a *Adapter) CreateEvent(ctx context.Context, token string, appt model.Appointment, leadName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	svc, err := a.service(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAdapter, err)
	}

	event := &calendar.Event{
		Summary:     "Appointment with " + leadName,
		Description: "Appointment scheduled via AI phone agent",
		Start: &calendar.EventDateTime{
			DateTime: appt.StartTime.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: appt.EndTime.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				"appointment_id": appt.ID,
				"business_id":    appt.BusinessID,
			},
		},
	}

	created, err := svc.Events.Insert(targetCalendar, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: event insert: %v", ErrAdapter, err)
	}
	return created.Id, nil
}

func (a *Adapter) service(ctx context.Context, token string) (*calendar.Service, error) {
	opts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})),
	}, a.extra...)
	return calendar.NewService(ctx, opts...)
}
