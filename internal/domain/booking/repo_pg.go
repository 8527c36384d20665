package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docslot/docslot/internal/platform/db"
	"github.com/docslot/docslot/pkg/apperr"
)

// NewStorePG wires the postgres ledger, appointment store and reconciler.
func NewStorePG(pool *pgxpool.Pool) Store {
	return Store{
		Ledger:       &ledgerPG{pool: pool},
		Appointments: &appointmentRepoPG{pool: pool},
		Reconciler:   &reconcilerPG{pool: pool},
	}
}

// -- Ledger --

type ledgerPG struct {
	pool *pgxpool.Pool
}

func (l *ledgerPG) IsSlotFree(ctx context.Context, doctorID uuid.UUID, slot SlotKey) (bool, error) {
	var taken bool
	err := db.PgConn(ctx, l.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM slot_reservation
			WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3)`,
		doctorID, slot.Date, slot.Time,
	).Scan(&taken)
	if err != nil {
		return false, db.Classify(fmt.Errorf("ledger lookup: %w", err))
	}
	return !taken, nil
}

func (l *ledgerPG) Reserve(ctx context.Context, doctorID uuid.UUID, slot SlotKey, appointmentID uuid.UUID) error {
	tag, err := db.PgConn(ctx, l.pool).Exec(ctx, `
		INSERT INTO slot_reservation (doctor_id, slot_date, slot_time, appointment_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doctor_id, slot_date, slot_time) DO NOTHING`,
		doctorID, slot.Date, slot.Time, appointmentID,
	)
	if err != nil {
		return db.Classify(fmt.Errorf("ledger reserve: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrSlotTaken
	}
	return nil
}

func (l *ledgerPG) Release(ctx context.Context, doctorID uuid.UUID, slot SlotKey, appointmentID uuid.UUID) (bool, error) {
	tag, err := db.PgConn(ctx, l.pool).Exec(ctx, `
		DELETE FROM slot_reservation
		WHERE doctor_id = $1 AND slot_date = $2 AND slot_time = $3 AND appointment_id = $4`,
		doctorID, slot.Date, slot.Time, appointmentID,
	)
	if err != nil {
		return false, db.Classify(fmt.Errorf("ledger release: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

func (l *ledgerPG) BookedSlots(ctx context.Context, doctorID uuid.UUID, fromDate string) (map[string][]string, error) {
	rows, err := db.PgConn(ctx, l.pool).Query(ctx, `
		SELECT slot_date, slot_time FROM slot_reservation
		WHERE doctor_id = $1 AND slot_date >= $2
		ORDER BY slot_date`,
		doctorID, fromDate,
	)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("ledger slots: %w", err))
	}
	defer rows.Close()
	return collectSlots(rows)
}

type slotRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectSlots(rows slotRows) (map[string][]string, error) {
	booked := make(map[string][]string)
	for rows.Next() {
		var date, clock string
		if err := rows.Scan(&date, &clock); err != nil {
			return nil, fmt.Errorf("ledger scan: %w", err)
		}
		booked[date] = append(booked[date], clock)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	for _, times := range booked {
		SortTimes(times)
	}
	return booked, nil
}

// -- Appointment Repository --

type appointmentRepoPG struct {
	pool *pgxpool.Pool
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.PgConn(ctx, r.pool)
}

const appointmentCols = `id, patient_id, doctor_id, slot_date, slot_time, amount, status, payment,
	doctor_snapshot, patient_snapshot, created_at, updated_at, cancelled_at, completed_at`

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	doctorJSON, patientJSON, err := marshalSnapshots(a)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, slot_date, slot_time, amount, status,
			payment, doctor_snapshot, patient_snapshot)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.SlotDate, a.SlotTime, a.Amount, a.Status,
		a.Payment, doctorJSON, patientJSON,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.ErrSlotTaken
	}
	if err != nil {
		return db.Classify(fmt.Errorf("appointment create: %w", err))
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment")
	}
	if err != nil {
		return nil, db.Classify(fmt.Errorf("appointment get: %w", err))
	}
	return a, nil
}

func (r *appointmentRepoPG) Transition(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = $3, updated_at = $4,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancelled_at END,
			completed_at = CASE WHEN $3 = 'completed' THEN $4 ELSE completed_at END
		WHERE id = $1 AND status = $2`,
		id, from, to, at,
	)
	if err != nil {
		return false, db.Classify(fmt.Errorf("appointment transition: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

func (r *appointmentRepoPG) MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET payment = TRUE, updated_at = $2
		WHERE id = $1 AND status = 'active' AND NOT payment`,
		id, at,
	)
	if err != nil {
		return false, db.Classify(fmt.Errorf("appointment mark paid: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1

	if f.PatientID != nil {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.DoctorID != nil {
		where += fmt.Sprintf(" AND doctor_id = $%d", idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, *f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM appointment"+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(fmt.Errorf("appointment count: %w", err))
	}

	query := "SELECT " + appointmentCols + " FROM appointment" + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoPG) Stats(ctx context.Context, doctorID *uuid.UUID) (Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status <> 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COALESCE(SUM(amount) FILTER (WHERE status <> 'cancelled'), 0),
			COALESCE(SUM(amount) FILTER (WHERE status <> 'cancelled' AND (payment OR status = 'completed')), 0),
			COUNT(DISTINCT patient_id)
		FROM appointment`
	var args []interface{}
	if doctorID != nil {
		query += " WHERE doctor_id = $1"
		args = append(args, *doctorID)
	}

	var s Stats
	err := r.conn(ctx).QueryRow(ctx, query, args...).Scan(
		&s.Live, &s.Cancelled, &s.Completed, &s.Revenue, &s.Collected, &s.Patients)
	if err != nil {
		return Stats{}, db.Classify(fmt.Errorf("appointment stats: %w", err))
	}
	return s, nil
}

func (r *appointmentRepoPG) Recent(ctx context.Context, doctorID *uuid.UUID, n int) ([]*Appointment, error) {
	if doctorID != nil {
		return r.query(ctx, `SELECT `+appointmentCols+` FROM appointment
			WHERE doctor_id = $1 ORDER BY created_at DESC, id LIMIT $2`, *doctorID, n)
	}
	return r.query(ctx, `SELECT `+appointmentCols+` FROM appointment
		ORDER BY created_at DESC, id LIMIT $1`, n)
}

func (r *appointmentRepoPG) query(ctx context.Context, query string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("appointment list: %w", err))
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointment scan: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	return items, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var doctorJSON, patientJSON []byte
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.SlotDate, &a.SlotTime, &a.Amount,
		&a.Status, &a.Payment, &doctorJSON, &patientJSON,
		&a.CreatedAt, &a.UpdatedAt, &a.CancelledAt, &a.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalSnapshots(&a, doctorJSON, patientJSON); err != nil {
		return nil, err
	}
	return &a, nil
}

func marshalSnapshots(a *Appointment) ([]byte, []byte, error) {
	doctorJSON, err := json.Marshal(a.Doctor)
	if err != nil {
		return nil, nil, fmt.Errorf("doctor snapshot: %w", err)
	}
	patientJSON, err := json.Marshal(a.Patient)
	if err != nil {
		return nil, nil, fmt.Errorf("patient snapshot: %w", err)
	}
	return doctorJSON, patientJSON, nil
}

func unmarshalSnapshots(a *Appointment, doctorJSON, patientJSON []byte) error {
	if err := json.Unmarshal(doctorJSON, &a.Doctor); err != nil {
		return fmt.Errorf("doctor snapshot: %w", err)
	}
	if err := json.Unmarshal(patientJSON, &a.Patient); err != nil {
		return fmt.Errorf("patient snapshot: %w", err)
	}
	return nil
}

// -- Reconciler --

type reconcilerPG struct {
	pool *pgxpool.Pool
}

func (r *reconcilerPG) ReleaseOrphans(ctx context.Context) (int, error) {
	tag, err := db.PgConn(ctx, r.pool).Exec(ctx, `
		DELETE FROM slot_reservation s
		WHERE NOT EXISTS (
			SELECT 1 FROM appointment a
			WHERE a.id = s.appointment_id AND a.doctor_id = s.doctor_id
				AND a.slot_date = s.slot_date AND a.slot_time = s.slot_time
				AND a.status <> 'cancelled')`)
	if err != nil {
		return 0, db.Classify(fmt.Errorf("release orphan reservations: %w", err))
	}
	return int(tag.RowsAffected()), nil
}

func (r *reconcilerPG) RestoreMissing(ctx context.Context) (int, error) {
	tag, err := db.PgConn(ctx, r.pool).Exec(ctx, `
		INSERT INTO slot_reservation (doctor_id, slot_date, slot_time, appointment_id)
		SELECT a.doctor_id, a.slot_date, a.slot_time, a.id
		FROM appointment a
		WHERE a.status <> 'cancelled'
			AND NOT EXISTS (
				SELECT 1 FROM slot_reservation s
				WHERE s.doctor_id = a.doctor_id AND s.slot_date = a.slot_date
					AND s.slot_time = a.slot_time)
		ON CONFLICT (doctor_id, slot_date, slot_time) DO NOTHING`)
	if err != nil {
		return 0, db.Classify(fmt.Errorf("restore missing reservations: %w", err))
	}
	return int(tag.RowsAffected()), nil
}
