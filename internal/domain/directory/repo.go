package directory

import (
	"context"

	"github.com/google/uuid"
)

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	// ToggleAvailable flips the flag atomically and returns the new value.
	ToggleAvailable(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, f DoctorFilter, limit, offset int) ([]*Doctor, int, error)
	Count(ctx context.Context) (int, error)
}

type PatientRepository interface {
	// Upsert creates the profile or replaces its writable fields.
	Upsert(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Count(ctx context.Context) (int, error)
}
