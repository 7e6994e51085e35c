package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (one event type per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the booking core. Downstream consumers (reminder
// dispatch, analytics) subscribe by topic.
const (
	EventAppointmentScheduled = "booking.appointment.scheduled.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
	EventAppointmentUpdated   = "booking.appointment.updated.v1"
	EventReminderRequested    = "booking.reminder.requested.v1"
)
