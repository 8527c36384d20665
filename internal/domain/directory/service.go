package directory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/docslot/docslot/internal/platform/auth"
	"github.com/docslot/docslot/internal/platform/db"
	"github.com/docslot/docslot/pkg/apperr"
)

type Service struct {
	doctors  DoctorRepository
	patients PatientRepository
	retry    db.RetryPolicy
}

func NewService(doctors DoctorRepository, patients PatientRepository, retry db.RetryPolicy) *Service {
	return &Service{doctors: doctors, patients: patients, retry: retry}
}

// -- Doctors --

func (s *Service) AddDoctor(ctx context.Context, caller auth.Identity, in DoctorInput) (*Doctor, error) {
	if !caller.IsAdmin() {
		return nil, apperr.ErrNotAuthorized.WithMessage("only an admin can add doctors")
	}
	if err := checkDoctorInput(&in); err != nil {
		return nil, err
	}

	d := &Doctor{ID: uuid.New(), Available: true}
	if in.Available != nil {
		d.Available = *in.Available
	}
	in.apply(d)
	if err := s.doctors.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return db.RetryRead(ctx, s.retry, func(ctx context.Context) (*Doctor, error) {
		return s.doctors.GetByID(ctx, id)
	})
}

type doctorPage struct {
	items []*Doctor
	total int
}

func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter, limit, offset int) ([]*Doctor, int, error) {
	page, err := db.RetryRead(ctx, s.retry, func(ctx context.Context) (doctorPage, error) {
		items, total, err := s.doctors.List(ctx, f, limit, offset)
		return doctorPage{items, total}, err
	})
	return page.items, page.total, err
}

// UpdateDoctor replaces the profile fields. Availability changes go through
// ChangeAvailability.
func (s *Service) UpdateDoctor(ctx context.Context, caller auth.Identity, id uuid.UUID, in DoctorInput) (*Doctor, error) {
	if !caller.IsAdmin() && !caller.IsDoctor(id) {
		return nil, apperr.ErrNotAuthorized
	}
	if err := checkDoctorInput(&in); err != nil {
		return nil, err
	}

	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(d)
	if err := s.doctors.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ChangeAvailability toggles whether new bookings are accepted. Existing
// appointments are not touched.
func (s *Service) ChangeAvailability(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Doctor, error) {
	if !caller.IsAdmin() && !caller.IsDoctor(id) {
		return nil, apperr.ErrNotAuthorized
	}
	if _, err := s.doctors.ToggleAvailable(ctx, id); err != nil {
		return nil, err
	}
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) CountDoctors(ctx context.Context) (int, error) {
	return db.RetryRead(ctx, s.retry, s.doctors.Count)
}

func checkDoctorInput(in *DoctorInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Speciality = strings.TrimSpace(in.Speciality)
	if err := checkStruct(in); err != nil {
		return err
	}
	if strings.TrimSpace(in.Address.Line1) == "" {
		return apperr.Invalid("address.line1 is required")
	}
	return nil
}

// -- Patients --

// UpsertPatientProfile writes the caller's own profile.
func (s *Service) UpsertPatientProfile(ctx context.Context, caller auth.Identity, in PatientInput) (*Patient, error) {
	if caller.Role != auth.RolePatient || caller.ID == uuid.Nil {
		return nil, apperr.ErrNotAuthorized.WithMessage("only a patient can write their profile")
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := checkStruct(&in); err != nil {
		return nil, err
	}

	p := &Patient{
		ID:      caller.ID,
		Name:    in.Name,
		Email:   in.Email,
		Phone:   in.Phone,
		Gender:  in.Gender,
		DOB:     in.DOB,
		Address: in.Address,
	}
	if err := s.patients.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPatientProfile(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Patient, error) {
	if !caller.IsAdmin() && !caller.IsPatient(id) {
		return nil, apperr.ErrNotAuthorized
	}
	return s.GetPatient(ctx, id)
}

// GetPatient reads a profile without an authorization check, for callers
// that have already authorized the request.
func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return db.RetryRead(ctx, s.retry, func(ctx context.Context) (*Patient, error) {
		return s.patients.GetByID(ctx, id)
	})
}

func (s *Service) CountPatients(ctx context.Context) (int, error) {
	return db.RetryRead(ctx, s.retry, s.patients.Count)
}
