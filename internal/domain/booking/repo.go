package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger holds one reservation per taken (doctor, date, time). A missing row
// means the slot is free.
type Ledger interface {
	IsSlotFree(ctx context.Context, doctorID uuid.UUID, slot SlotKey) (bool, error)
	// Reserve inserts the reservation or fails with apperr.ErrSlotTaken.
	Reserve(ctx context.Context, doctorID uuid.UUID, slot SlotKey, appointmentID uuid.UUID) error
	// Release removes the reservation only while it still belongs to
	// appointmentID. Releasing twice is harmless.
	Release(ctx context.Context, doctorID uuid.UUID, slot SlotKey, appointmentID uuid.UUID) (bool, error)
	// BookedSlots returns taken time keys per date, for dates >= fromDate.
	BookedSlots(ctx context.Context, doctorID uuid.UUID, fromDate string) (map[string][]string, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Transition moves the appointment from -> to and reports whether the row
	// was in state from.
	Transition(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error)
	// MarkPaid sets payment on an active unpaid appointment and reports
	// whether the row changed.
	MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	// Stats aggregates all appointments, or one doctor's when doctorID is set.
	Stats(ctx context.Context, doctorID *uuid.UUID) (Stats, error)
	Recent(ctx context.Context, doctorID *uuid.UUID, n int) ([]*Appointment, error)
}

// LedgerReconciler repairs drift between the ledger and live appointments.
type LedgerReconciler interface {
	// ReleaseOrphans deletes reservations with no live appointment on the
	// same slot.
	ReleaseOrphans(ctx context.Context) (int, error)
	// RestoreMissing reserves the slot of every live appointment that has
	// no reservation.
	RestoreMissing(ctx context.Context) (int, error)
}

// Store bundles the repositories of one driver.
type Store struct {
	Ledger       Ledger
	Appointments AppointmentRepository
	Reconciler   LedgerReconciler
}
