package booking

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/docslot/docslot/internal/domain/directory"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusActive: {StatusCancelled, StatusCompleted},
}

// CanTransition reports whether s may move to next. Cancelled and completed
// are terminal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// DoctorSnapshot is the doctor as seen at booking time.
type DoctorSnapshot struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Speciality string            `json:"speciality"`
	Degree     string            `json:"degree"`
	Image      string            `json:"image,omitempty"`
	Fee        int64             `json:"fee"`
	Address    directory.Address `json:"address"`
}

// PatientSnapshot is the patient profile as seen at booking time.
type PatientSnapshot struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Phone  string    `json:"phone,omitempty"`
	Gender string    `json:"gender,omitempty"`
	DOB    string    `json:"dob,omitempty"`
}

type Appointment struct {
	ID          uuid.UUID       `json:"id"`
	PatientID   uuid.UUID       `json:"patient_id"`
	DoctorID    uuid.UUID       `json:"doctor_id"`
	SlotDate    string          `json:"slot_date"`
	SlotTime    string          `json:"slot_time"`
	Amount      int64           `json:"amount"`
	Status      Status          `json:"status"`
	Payment     bool            `json:"payment"`
	Doctor      DoctorSnapshot  `json:"doctor"`
	Patient     PatientSnapshot `json:"patient"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (a *Appointment) Slot() SlotKey {
	return SlotKey{Date: a.SlotDate, Time: a.SlotTime}
}

// Live reports whether the appointment holds its slot.
func (a *Appointment) Live() bool {
	return a.Status != StatusCancelled
}

// MarshalJSON adds the cancelled and is_completed flags derived from Status.
func (a Appointment) MarshalJSON() ([]byte, error) {
	type plain Appointment
	return json.Marshal(struct {
		plain
		Cancelled   bool `json:"cancelled"`
		IsCompleted bool `json:"is_completed"`
	}{
		plain:       plain(a),
		Cancelled:   a.Status == StatusCancelled,
		IsCompleted: a.Status == StatusCompleted,
	})
}

// ListFilter scopes ListAppointments. Nil fields match everything.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    *Status
}

// Stats aggregates appointments in a single consistent read.
type Stats struct {
	// Live counts appointments that are not cancelled.
	Live      int
	Cancelled int
	Completed int
	// Revenue sums the fees of live appointments, paid or not.
	Revenue int64
	// Collected sums the fees of live appointments that are paid or completed.
	Collected int64
	// Patients counts distinct patients across all appointments.
	Patients int
}
