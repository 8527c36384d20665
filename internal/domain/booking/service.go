package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docslot/docslot/internal/domain/directory"
	"github.com/docslot/docslot/internal/platform/auth"
	"github.com/docslot/docslot/internal/platform/db"
	"github.com/docslot/docslot/internal/platform/events"
	"github.com/docslot/docslot/internal/platform/metrics"
	"github.com/docslot/docslot/pkg/apperr"
)

// Directory is the read side of the doctor and patient directory.
type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
}

type Options struct {
	Location *time.Location
	Retry    db.RetryPolicy
	Events   *events.Emitter
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Service struct {
	dir    Directory
	ledger Ledger
	appts  AppointmentRepository
	tx     db.Transactor
	events *events.Emitter
	logger zerolog.Logger
	loc    *time.Location
	retry  db.RetryPolicy
	now    func() time.Time
}

func NewService(dir Directory, store Store, tx db.Transactor, opts Options) *Service {
	s := &Service{
		dir:    dir,
		ledger: store.Ledger,
		appts:  store.Appointments,
		tx:     tx,
		events: opts.Events,
		logger: opts.Logger,
		loc:    opts.Location,
		retry:  opts.Retry,
		now:    opts.Now,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.retry.Attempts == 0 {
		s.retry = db.DefaultRetry
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// BookRequest is the booking input. PatientID is taken from the caller for
// patients; an admin books on behalf of PatientID. Fee, when set, is the fee
// the client was shown and must match the doctor's current fee.
type BookRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	SlotDate  string    `json:"slot_date"`
	SlotTime  string    `json:"slot_time"`
	Fee       *int64    `json:"fee,omitempty"`
}

// -- Booking --

func (s *Service) Book(ctx context.Context, caller auth.Identity, req BookRequest) (*Appointment, error) {
	a, err := s.book(ctx, caller, req)
	if err != nil {
		metrics.Bookings.WithLabelValues(string(apperr.CodeOf(err))).Inc()
		return nil, err
	}
	metrics.Bookings.WithLabelValues("ok").Inc()
	s.emit(ctx, events.AppointmentBooked, a, caller)
	return a, nil
}

func (s *Service) book(ctx context.Context, caller auth.Identity, req BookRequest) (*Appointment, error) {
	patientID, err := bookingPatient(caller, req.PatientID)
	if err != nil {
		return nil, err
	}

	doc, err := s.dir.GetDoctor(ctx, req.DoctorID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return nil, apperr.ErrDoctorUnavailable.WithMessage("doctor not found")
	case err != nil:
		return nil, err
	case !doc.Available:
		return nil, apperr.ErrDoctorUnavailable
	}

	slot, err := ParseSlot(req.SlotDate, req.SlotTime)
	if err != nil {
		return nil, err
	}
	if !slot.Start(s.loc).After(s.now()) {
		return nil, apperr.ErrSlotInPast
	}

	free, err := db.RetryRead(ctx, s.retry, func(ctx context.Context) (bool, error) {
		return s.ledger.IsSlotFree(ctx, doc.ID, slot)
	})
	if err != nil {
		return nil, err
	}
	if !free {
		s.logger.Debug().Str("doctor_id", doc.ID.String()).Str("slot", slot.String()).Msg("slot already booked")
		return nil, apperr.ErrSlotTaken
	}

	a, err := s.draft(ctx, doc, patientID, slot, req.Fee)
	if err != nil {
		return nil, err
	}

	var reserved bool
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ledger.Reserve(ctx, doc.ID, slot, a.ID); err != nil {
			return err
		}
		reserved = true
		return s.appts.Create(ctx, a)
	})
	if err != nil {
		if reserved {
			s.compensate(ctx, a)
		}
		if errors.Is(err, apperr.ErrSlotTaken) {
			s.logger.Debug().Str("doctor_id", doc.ID.String()).Str("slot", slot.String()).Msg("slot taken at reserve")
		}
		return nil, err
	}
	return a, nil
}

func bookingPatient(caller auth.Identity, requested uuid.UUID) (uuid.UUID, error) {
	switch {
	case caller.IsAdmin():
		return requested, nil
	case caller.Role == auth.RolePatient:
		if requested != uuid.Nil && requested != caller.ID {
			return uuid.Nil, apperr.ErrNotAuthorized.WithMessage("patients can only book for themselves")
		}
		return caller.ID, nil
	default:
		return uuid.Nil, apperr.ErrNotAuthorized.WithMessage("only patients can book appointments")
	}
}

// draft checks fee, patient and doctor snapshot and builds the appointment
// to insert.
func (s *Service) draft(ctx context.Context, doc *directory.Doctor, patientID uuid.UUID, slot SlotKey, fee *int64) (*Appointment, error) {
	if doc.Fee <= 0 {
		return nil, apperr.Invalid("doctor has no valid fee")
	}
	if fee != nil && *fee != doc.Fee {
		return nil, apperr.Invalid("fee %d does not match the doctor's current fee %d", *fee, doc.Fee)
	}
	if strings.TrimSpace(doc.Name) == "" || strings.TrimSpace(doc.Speciality) == "" {
		return nil, apperr.Invalid("doctor profile is incomplete")
	}
	if patientID == uuid.Nil {
		return nil, apperr.Invalid("patient_id is required")
	}
	p, err := s.dir.GetPatient(ctx, patientID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Invalid("patient profile is required before booking")
	}
	if err != nil {
		return nil, err
	}

	return &Appointment{
		ID:        uuid.New(),
		PatientID: p.ID,
		DoctorID:  doc.ID,
		SlotDate:  slot.Date,
		SlotTime:  slot.Time,
		Amount:    doc.Fee,
		Status:    StatusActive,
		Doctor: DoctorSnapshot{
			ID:         doc.ID,
			Name:       doc.Name,
			Speciality: doc.Speciality,
			Degree:     doc.Degree,
			Image:      doc.Image,
			Fee:        doc.Fee,
			Address:    doc.Address,
		},
		Patient: PatientSnapshot{
			ID:     p.ID,
			Name:   p.Name,
			Email:  p.Email,
			Phone:  p.Phone,
			Gender: p.Gender,
			DOB:    p.DOB,
		},
	}, nil
}

// compensate releases a reservation left behind when the booking transaction
// failed in a way the store could not roll back, such as a lost commit
// acknowledgement. The release only applies while no appointment row exists.
func (s *Service) compensate(ctx context.Context, a *Appointment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := s.appts.GetByID(ctx, a.ID); !errors.Is(err, apperr.ErrNotFound) {
		if err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).
				Msg("could not verify failed booking; leaving reservation for reconciliation")
		}
		return
	}
	released, err := s.ledger.Release(ctx, a.DoctorID, a.Slot(), a.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).
			Msg("compensating release failed; leaving reservation for reconciliation")
		return
	}
	if released {
		metrics.CompensatingReleases.Inc()
		s.logger.Warn().Str("appointment_id", a.ID.String()).Str("slot", a.Slot().String()).
			Msg("released reservation of failed booking")
	}
}

// -- Workflow --

// Cancel moves an active appointment to cancelled and releases its slot in
// the same transaction. Cancelling a cancelled appointment succeeds without
// touching the ledger.
func (s *Service) Cancel(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !caller.IsPatient(a.PatientID) && !caller.IsDoctor(a.DoctorID) {
		return nil, apperr.ErrNotAuthorized.WithMessage("not allowed to cancel this appointment")
	}

	changed, err := s.transition(ctx, a, StatusCancelled, func(ctx context.Context) error {
		_, err := s.ledger.Release(ctx, a.DoctorID, a.Slot(), a.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return a, nil
	}
	metrics.Cancellations.Inc()
	s.emit(ctx, events.AppointmentCancelled, a, caller)
	return a, nil
}

// Complete marks an active appointment completed. The slot stays taken.
func (s *Service) Complete(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !caller.IsDoctor(a.DoctorID) {
		return nil, apperr.ErrNotAuthorized.WithMessage("only the doctor or an admin can complete an appointment")
	}

	changed, err := s.transition(ctx, a, StatusCompleted, nil)
	if err != nil {
		return nil, err
	}
	if !changed {
		return a, nil
	}
	metrics.Completions.Inc()
	s.emit(ctx, events.AppointmentCompleted, a, caller)
	return a, nil
}

// transition applies Active -> to. A repeat of the same transition is a
// no-op reporting changed=false; any other move out of a terminal state is
// rejected. a is refreshed from the store on return.
func (s *Service) transition(ctx context.Context, a *Appointment, to Status, inTx func(ctx context.Context) error) (bool, error) {
	if a.Status == to {
		return false, nil
	}
	if !a.Status.CanTransition(to) {
		return false, apperr.Invalid("appointment is %s and cannot be %s", a.Status, to)
	}

	var changed bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		changed, err = s.appts.Transition(ctx, a.ID, a.Status, to, s.now().UTC())
		if err != nil || !changed {
			return err
		}
		if inTx != nil {
			return inTx(ctx)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	fresh, err := s.appts.GetByID(ctx, a.ID)
	if err != nil {
		return false, err
	}
	*a = *fresh
	if !changed && a.Status != to {
		// Lost a race against the other terminal transition.
		return false, apperr.Invalid("appointment is %s and cannot be %s", a.Status, to)
	}
	return changed, nil
}

// MarkPaid records an external payment on an active appointment.
func (s *Service) MarkPaid(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	if !caller.IsAdmin() {
		return nil, apperr.ErrNotAuthorized.WithMessage("only an admin can mark payments")
	}
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Payment {
		return a, nil
	}
	if a.Status != StatusActive {
		return nil, apperr.Invalid("appointment is %s and cannot be marked paid", a.Status)
	}

	changed, err := s.appts.MarkPaid(ctx, a.ID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	fresh, err := s.appts.GetByID(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if !changed {
		if fresh.Payment {
			return fresh, nil
		}
		return nil, apperr.Invalid("appointment is %s and cannot be marked paid", fresh.Status)
	}
	s.emit(ctx, events.AppointmentPaid, fresh, caller)
	return fresh, nil
}

// -- Reads --

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return db.RetryRead(ctx, s.retry, func(ctx context.Context) (*Appointment, error) {
		return s.appts.GetByID(ctx, id)
	})
}

// Get returns the appointment to its patient, its doctor or an admin.
func (s *Service) Get(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && !caller.IsPatient(a.PatientID) && !caller.IsDoctor(a.DoctorID) {
		return nil, apperr.ErrNotAuthorized.WithMessage("not allowed to view this appointment")
	}
	return a, nil
}

type appointmentPage struct {
	items []*Appointment
	total int
}

// List scopes the filter to the caller: patients see their own
// appointments, doctors the appointments booked with them, admins anything.
func (s *Service) List(ctx context.Context, caller auth.Identity, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	switch caller.Role {
	case auth.RoleAdmin:
	case auth.RolePatient:
		if f.PatientID != nil && *f.PatientID != caller.ID {
			return nil, 0, apperr.ErrNotAuthorized.WithMessage("patients can only list their own appointments")
		}
		f.PatientID = &caller.ID
	case auth.RoleDoctor:
		if f.DoctorID != nil && *f.DoctorID != caller.ID {
			return nil, 0, apperr.ErrNotAuthorized.WithMessage("doctors can only list their own appointments")
		}
		f.DoctorID = &caller.ID
	default:
		return nil, 0, apperr.ErrNotAuthorized
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, apperr.Invalid("unknown status %q", *f.Status)
	}

	page, err := db.RetryRead(ctx, s.retry, func(ctx context.Context) (appointmentPage, error) {
		items, total, err := s.appts.List(ctx, f, limit, offset)
		return appointmentPage{items, total}, err
	})
	return page.items, page.total, err
}

// DoctorSlots returns the doctor's taken slots from fromDate on (today in
// the clinic timezone when empty), keyed by date with times in order.
func (s *Service) DoctorSlots(ctx context.Context, doctorID uuid.UUID, fromDate string) (map[string][]string, error) {
	if _, err := s.dir.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	from := s.now().In(s.loc).Format(DateLayout)
	if fromDate != "" {
		d, err := parseDate(fromDate)
		if err != nil {
			return nil, err
		}
		from = d.Format(DateLayout)
	}
	return db.RetryRead(ctx, s.retry, func(ctx context.Context) (map[string][]string, error) {
		return s.ledger.BookedSlots(ctx, doctorID, from)
	})
}

func (s *Service) emit(ctx context.Context, typ events.Type, a *Appointment, caller auth.Identity) {
	s.events.Emit(ctx, events.Event{
		Type:          typ,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		SlotDate:      a.SlotDate,
		SlotTime:      a.SlotTime,
		Amount:        a.Amount,
		Actor:         caller.String(),
	})
}
