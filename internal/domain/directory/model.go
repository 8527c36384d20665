package directory

import (
	"time"

	"github.com/google/uuid"
)

type Address struct {
	Line1 string `json:"line1" validate:"max=200"`
	Line2 string `json:"line2" validate:"max=200"`
}

// Doctor is a bookable practitioner. Fee is in minor currency units.
type Doctor struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Image      string    `json:"image"`
	Speciality string    `json:"speciality"`
	Degree     string    `json:"degree"`
	Experience string    `json:"experience"`
	About      string    `json:"about"`
	Available  bool      `json:"available"`
	Fee        int64     `json:"fee"`
	Address    Address   `json:"address"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DoctorInput is the writable part of a doctor profile.
type DoctorInput struct {
	Name       string  `json:"name" validate:"required,max=120"`
	Email      string  `json:"email" validate:"required,email"`
	Image      string  `json:"image" validate:"omitempty,max=500"`
	Speciality string  `json:"speciality" validate:"required,max=80"`
	Degree     string  `json:"degree" validate:"required,max=80"`
	Experience string  `json:"experience" validate:"required,max=40"`
	About      string  `json:"about" validate:"required,max=2000"`
	Fee        int64   `json:"fee" validate:"gt=0"`
	Address    Address `json:"address"`
	// Available defaults to true on create and is ignored on update.
	Available *bool `json:"available,omitempty"`
}

func (in DoctorInput) apply(d *Doctor) {
	d.Name = in.Name
	d.Email = in.Email
	d.Image = in.Image
	d.Speciality = in.Speciality
	d.Degree = in.Degree
	d.Experience = in.Experience
	d.About = in.About
	d.Fee = in.Fee
	d.Address = in.Address
}

// DoctorFilter narrows ListDoctors. Zero values match everything.
type DoctorFilter struct {
	Speciality    string
	AvailableOnly bool
}

// Patient is the profile a booking snapshots.
type Patient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Gender    string    `json:"gender"`
	DOB       string    `json:"dob,omitempty"`
	Address   Address   `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PatientInput struct {
	Name    string  `json:"name" validate:"required,max=120"`
	Email   string  `json:"email" validate:"required,email"`
	Phone   string  `json:"phone" validate:"omitempty,max=30"`
	Gender  string  `json:"gender" validate:"omitempty,oneof=male female other 'not selected'"`
	DOB     string  `json:"dob" validate:"omitempty,datetime=2006-01-02"`
	Address Address `json:"address"`
}
