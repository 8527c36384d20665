package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogPublisher writes events to the application log. It is the default when
// no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(ctx context.Context, evt Event) error {
	p.logger.Info().
		Str("event_id", evt.ID.String()).
		Str("event", string(evt.Type)).
		Str("appointment_id", evt.AppointmentID.String()).
		Str("doctor_id", evt.DoctorID.String()).
		Str("slot_date", evt.SlotDate).
		Str("slot_time", evt.SlotTime).
		Msg("appointment event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
