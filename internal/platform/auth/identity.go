package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Role is the caller's relationship to the clinic.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Identity is the pre-validated caller. Patients and doctors always carry an
// ID; an admin may not.
type Identity struct {
	Role Role
	ID   uuid.UUID
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// IsPatient reports whether the caller is the patient id.
func (i Identity) IsPatient(id uuid.UUID) bool {
	return i.Role == RolePatient && i.ID == id
}

// IsDoctor reports whether the caller is the doctor id.
func (i Identity) IsDoctor(id uuid.UUID) bool {
	return i.Role == RoleDoctor && i.ID == id
}

func (i Identity) String() string {
	if i.ID == uuid.Nil {
		return string(i.Role)
	}
	return string(i.Role) + ":" + i.ID.String()
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller set by the authentication middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
