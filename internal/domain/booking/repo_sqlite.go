package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docslot/docslot/internal/platform/db"
	"github.com/docslot/docslot/pkg/apperr"
)

// NewStoreSQLite wires the sqlite ledger, appointment store and reconciler.
// The sqlite store runs on a single connection, so the conditional insert in
// Reserve is serialized with every other write.
func NewStoreSQLite(sqlDB *sql.DB) Store {
	return Store{
		Ledger:       &ledgerSQLite{db: sqlDB, now: time.Now},
		Appointments: &appointmentRepoSQLite{db: sqlDB, now: time.Now},
		Reconciler:   &reconcilerSQLite{db: sqlDB, now: time.Now},
	}
}

// -- Ledger --

type ledgerSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func (l *ledgerSQLite) IsSlotFree(ctx context.Context, doctorID uuid.UUID, slot SlotKey) (bool, error) {
	var taken bool
	err := db.SQLConn(ctx, l.db).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM slot_reservation
			WHERE doctor_id = ? AND slot_date = ? AND slot_time = ?)`,
		doctorID.String(), slot.Date, slot.Time,
	).Scan(&taken)
	if err != nil {
		return false, db.Classify(fmt.Errorf("ledger lookup: %w", err))
	}
	return !taken, nil
}

func (l *ledgerSQLite) Reserve(ctx context.Context, doctorID uuid.UUID, slot SlotKey, appointmentID uuid.UUID) error {
	res, err := db.SQLConn(ctx, l.db).ExecContext(ctx, `
		INSERT INTO slot_reservation (doctor_id, slot_date, slot_time, appointment_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (doctor_id, slot_date, slot_time) DO NOTHING`,
		doctorID.String(), slot.Date, slot.Time, appointmentID.String(), db.FormatTime(l.now().UTC()),
	)
	if err != nil {
		return db.Classify(fmt.Errorf("ledger reserve: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return db.Classify(fmt.Errorf("ledger reserve: %w", err))
	}
	if n == 0 {
		return apperr.ErrSlotTaken
	}
	return nil
}

func (l *ledgerSQLite) Release(ctx context.Context, doctorID uuid.UUID, slot SlotKey, appointmentID uuid.UUID) (bool, error) {
	res, err := db.SQLConn(ctx, l.db).ExecContext(ctx, `
		DELETE FROM slot_reservation
		WHERE doctor_id = ? AND slot_date = ? AND slot_time = ? AND appointment_id = ?`,
		doctorID.String(), slot.Date, slot.Time, appointmentID.String(),
	)
	if err != nil {
		return false, db.Classify(fmt.Errorf("ledger release: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, db.Classify(fmt.Errorf("ledger release: %w", err))
	}
	return n > 0, nil
}

func (l *ledgerSQLite) BookedSlots(ctx context.Context, doctorID uuid.UUID, fromDate string) (map[string][]string, error) {
	rows, err := db.SQLConn(ctx, l.db).QueryContext(ctx, `
		SELECT slot_date, slot_time FROM slot_reservation
		WHERE doctor_id = ? AND slot_date >= ?
		ORDER BY slot_date`,
		doctorID.String(), fromDate,
	)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("ledger slots: %w", err))
	}
	defer rows.Close()
	return collectSlots(rows)
}

// -- Appointment Repository --

type appointmentRepoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func (r *appointmentRepoSQLite) conn(ctx context.Context) db.SQLQuerier {
	return db.SQLConn(ctx, r.db)
}

func (r *appointmentRepoSQLite) Create(ctx context.Context, a *Appointment) error {
	doctorJSON, patientJSON, err := marshalSnapshots(a)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	_, err = r.conn(ctx).ExecContext(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, slot_date, slot_time, amount, status,
			payment, doctor_snapshot, patient_snapshot, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID.String(), a.PatientID.String(), a.DoctorID.String(), a.SlotDate, a.SlotTime, a.Amount,
		string(a.Status), a.Payment, string(doctorJSON), string(patientJSON),
		db.FormatTime(now), db.FormatTime(now),
	)
	if db.IsUniqueViolation(err) {
		return apperr.ErrSlotTaken
	}
	if err != nil {
		return db.Classify(fmt.Errorf("appointment create: %w", err))
	}
	a.CreatedAt, a.UpdatedAt = now, now
	return nil
}

func (r *appointmentRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointmentSQLite(r.conn(ctx).QueryRowContext(ctx,
		`SELECT `+appointmentCols+` FROM appointment WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("appointment")
	}
	if err != nil {
		return nil, db.Classify(fmt.Errorf("appointment get: %w", err))
	}
	return a, nil
}

func (r *appointmentRepoSQLite) Transition(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	ts := db.FormatTime(at)
	res, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE appointment SET status = ?1, updated_at = ?2,
			cancelled_at = CASE WHEN ?1 = 'cancelled' THEN ?2 ELSE cancelled_at END,
			completed_at = CASE WHEN ?1 = 'completed' THEN ?2 ELSE completed_at END
		WHERE id = ?3 AND status = ?4`,
		string(to), ts, id.String(), string(from),
	)
	return affected(res, err, "appointment transition")
}

func (r *appointmentRepoSQLite) MarkPaid(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE appointment SET payment = 1, updated_at = ?
		WHERE id = ? AND status = 'active' AND payment = 0`,
		db.FormatTime(at), id.String(),
	)
	return affected(res, err, "appointment mark paid")
}

func affected(res sql.Result, err error, op string) (bool, error) {
	n, err := count(res, err, op)
	return n > 0, err
}

func (r *appointmentRepoSQLite) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := " WHERE 1=1"
	var args []interface{}

	if f.PatientID != nil {
		where += " AND patient_id = ?"
		args = append(args, f.PatientID.String())
	}
	if f.DoctorID != nil {
		where += " AND doctor_id = ?"
		args = append(args, f.DoctorID.String())
	}
	if f.Status != nil {
		where += " AND status = ?"
		args = append(args, string(*f.Status))
	}

	var total int
	if err := r.conn(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM appointment"+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(fmt.Errorf("appointment count: %w", err))
	}

	args = append(args, limit, offset)
	items, err := r.query(ctx, "SELECT "+appointmentCols+" FROM appointment"+where+
		" ORDER BY created_at DESC, id LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *appointmentRepoSQLite) Stats(ctx context.Context, doctorID *uuid.UUID) (Stats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status <> 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status <> 'cancelled' THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status <> 'cancelled' AND (payment = 1 OR status = 'completed')
				THEN amount ELSE 0 END), 0),
			COUNT(DISTINCT patient_id)
		FROM appointment`
	var args []interface{}
	if doctorID != nil {
		query += " WHERE doctor_id = ?"
		args = append(args, doctorID.String())
	}

	var s Stats
	err := r.conn(ctx).QueryRowContext(ctx, query, args...).Scan(
		&s.Live, &s.Cancelled, &s.Completed, &s.Revenue, &s.Collected, &s.Patients)
	if err != nil {
		return Stats{}, db.Classify(fmt.Errorf("appointment stats: %w", err))
	}
	return s, nil
}

func (r *appointmentRepoSQLite) Recent(ctx context.Context, doctorID *uuid.UUID, n int) ([]*Appointment, error) {
	if doctorID != nil {
		return r.query(ctx, `SELECT `+appointmentCols+` FROM appointment
			WHERE doctor_id = ? ORDER BY created_at DESC, id LIMIT ?`, doctorID.String(), n)
	}
	return r.query(ctx, `SELECT `+appointmentCols+` FROM appointment
		ORDER BY created_at DESC, id LIMIT ?`, n)
}

func (r *appointmentRepoSQLite) query(ctx context.Context, query string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, db.Classify(fmt.Errorf("appointment list: %w", err))
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointmentSQLite(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointmentSQLite(row rowScanner) (*Appointment, error) {
	var (
		a                        Appointment
		id, patientID, doctorID  string
		status                   string
		doctorJSON, patientJSON  string
		created, updated         string
		cancelledAt, completedAt sql.NullString
	)
	err := row.Scan(&id, &patientID, &doctorID, &a.SlotDate, &a.SlotTime, &a.Amount,
		&status, &a.Payment, &doctorJSON, &patientJSON,
		&created, &updated, &cancelledAt, &completedAt)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	for _, f := range []struct {
		dst *uuid.UUID
		src string
	}{{&a.ID, id}, {&a.PatientID, patientID}, {&a.DoctorID, doctorID}} {
		if *f.dst, err = uuid.Parse(f.src); err != nil {
			return nil, fmt.Errorf("appointment id %q: %w", f.src, err)
		}
	}
	if a.CreatedAt, err = db.ParseTime(created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	if a.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
		return nil, err
	}
	if a.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if err := unmarshalSnapshots(&a, []byte(doctorJSON), []byte(patientJSON)); err != nil {
		return nil, err
	}
	return &a, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := db.ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// -- Reconciler --

type reconcilerSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func (r *reconcilerSQLite) ReleaseOrphans(ctx context.Context) (int, error) {
	res, err := db.SQLConn(ctx, r.db).ExecContext(ctx, `
		DELETE FROM slot_reservation
		WHERE NOT EXISTS (
			SELECT 1 FROM appointment a
			WHERE a.id = slot_reservation.appointment_id
				AND a.doctor_id = slot_reservation.doctor_id
				AND a.slot_date = slot_reservation.slot_date
				AND a.slot_time = slot_reservation.slot_time
				AND a.status <> 'cancelled')`)
	return count(res, err, "release orphan reservations")
}

func (r *reconcilerSQLite) RestoreMissing(ctx context.Context) (int, error) {
	res, err := db.SQLConn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO slot_reservation (doctor_id, slot_date, slot_time, appointment_id, created_at)
		SELECT a.doctor_id, a.slot_date, a.slot_time, a.id, ?
		FROM appointment a
		WHERE a.status <> 'cancelled'
			AND NOT EXISTS (
				SELECT 1 FROM slot_reservation s
				WHERE s.doctor_id = a.doctor_id AND s.slot_date = a.slot_date
					AND s.slot_time = a.slot_time)
		ON CONFLICT (doctor_id, slot_date, slot_time) DO NOTHING`,
		db.FormatTime(r.now().UTC()))
	return count(res, err, "restore missing reservations")
}

func count(res sql.Result, err error, op string) (int, error) {
	if err != nil {
		return 0, db.Classify(fmt.Errorf("%s: %w", op, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, db.Classify(fmt.Errorf("%s: %w", op, err))
	}
	return int(n), nil
}
