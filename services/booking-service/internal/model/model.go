package model

import "time"

// Appointment statuses. Only scheduled and confirmed block the calendar.
const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusNoShow    = "no_show"
)

// ActiveStatus reports whether an appointment in status s occupies its time
// slot for overlap purposes.
func ActiveStatus(s string) bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func ValidStatus(s string) bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Lead is a customer contact scoped to one business, matched by phone number.
type Lead struct {
	ID          string
	BusinessID  string
	Name        string
	Phone       string
	Language    string
	CallSummary string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Appointment is a committed booking belonging to one lead and one business.
// StartTime/EndTime form a half-open interval [StartTime, EndTime).
type Appointment struct {
	ID         string
	BusinessID string
	LeadID     string
	StartTime  time.Time
	EndTime    time.Time
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CalendarCredential caches the external calendar authorization for a
// business. A missing row means no calendar is connected.
type CalendarCredential struct {
	BusinessID   string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero when the provider did not report an expiry
}
