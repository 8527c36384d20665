// Package events publishes appointment lifecycle events after the store
// transaction that produced them has committed.
package events

import (
	"context"
	"time"

	"github.com/docslot/docslot/internal/platform/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Type string

const (
	AppointmentBooked    Type = "appointment.booked"
	AppointmentCancelled Type = "appointment.cancelled"
	AppointmentCompleted Type = "appointment.completed"
	AppointmentPaid      Type = "appointment.paid"
)

// Event carries identifiers only. Patient details stay in the store.
type Event struct {
	ID            uuid.UUID `json:"id"`
	Type          Type      `json:"type"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	SlotDate      string    `json:"slot_date"`
	SlotTime      string    `json:"slot_time"`
	Amount        int64     `json:"amount"`
	Actor         string    `json:"actor,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Emitter publishes best effort: failures are logged and counted, never
// returned to the caller.
type Emitter struct {
	pub     Publisher
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewEmitter(pub Publisher, logger zerolog.Logger) *Emitter {
	return &Emitter{pub: pub, logger: logger, timeout: 2 * time.Second, now: time.Now}
}

func (e *Emitter) Emit(ctx context.Context, evt Event) {
	if e == nil || e.pub == nil {
		return
	}
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = e.now().UTC()
	}

	// The request may already be finishing; give the publish its own deadline.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	if err := e.pub.Publish(pctx, evt); err != nil {
		metrics.EventPublishFailures.WithLabelValues(string(evt.Type)).Inc()
		e.logger.Warn().Err(err).
			Str("event", string(evt.Type)).
			Str("appointment_id", evt.AppointmentID.String()).
			Msg("event publish failed")
	}
}
