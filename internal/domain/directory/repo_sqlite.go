package directory

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

// The sqlite repositories store UUIDs as text, booleans as 0/1 and instants
// as db.TimeLayout strings.

type rowScanner interface {
	Scan(dest ...any) error
}

// -- Doctor Repository --

type doctorRepoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewDoctorRepoSQLite(sqlDB *sql.DB) DoctorRepository {
	return &doctorRepoSQLite{db: sqlDB, now: time.Now}
}

func (r *doctorRepoSQLite) conn(ctx context.Context) db.SQLQuerier {
	return db.SQLConn(ctx, r.db)
}

func (r *doctorRepoSQLite) Create(ctx context.Context, d *Doctor) error {
	now := r.now().UTC()
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO doctor (id, name, email, image, speciality, degree, experience, about,
			available, fee, address_line1, address_line2, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID.String(), d.Name, d.Email, d.Image, d.Speciality, d.Degree, d.Experience, d.About,
		d.Available, d.Fee, d.Address.Line1, d.Address.Line2, db.FormatTime(now), db.FormatTime(now),
	)
	if db.IsUniqueViolation(err) {
		return apperr.Invalid("email %s is already registered", d.Email)
	}
	if err != nil {
		return db.Classify(fmt.Errorf("doctor create: %w", err))
	}
	d.CreatedAt, d.UpdatedAt = now, now
	return nil
}

func (r *doctorRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctorSQLite(r.conn(ctx).QueryRowContext(ctx,
		`SELECT `+doctorCols+` FROM doctor WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("doctor")
	}
	if err != nil {
		return nil, db.Classify(fmt.Errorf("doctor get: %w", err))
	}
	return d, nil
}

func (r *doctorRepoSQLite) Update(ctx context.Context, d *Doctor) error {
	now := r.now().UTC()
	res, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE doctor SET name=?, email=?, image=?, speciality=?, degree=?, experience=?,
			about=?, fee=?, address_line1=?, address_line2=?, updated_at=?
		WHERE id = ?`,
		d.Name, d.Email, d.Image, d.Speciality, d.Degree, d.Experience,
		d.About, d.Fee, d.Address.Line1, d.Address.Line2, db.FormatTime(now), d.ID.String(),
	)
	if db.IsUniqueViolation(err) {
		return apperr.Invalid("email %s is already registered", d.Email)
	}
	if err != nil {
		return db.Classify(fmt.Errorf("doctor update: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("doctor")
	}
	d.UpdatedAt = now
	return nil
}

func (r *doctorRepoSQLite) ToggleAvailable(ctx context.Context, id uuid.UUID) (bool, error) {
	var available bool
	err := r.conn(ctx).QueryRowContext(ctx,
		`UPDATE doctor SET available = 1 - available, updated_at = ? WHERE id = ? RETURNING available`,
		db.FormatTime(r.now()), id.String()).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperr.NotFound("doctor")
	}
	if err != nil {
		return false, db.Classify(fmt.Errorf("doctor toggle availability: %w", err))
	}
	return available, nil
}

func (r *doctorRepoSQLite) List(ctx context.Context, f DoctorFilter, limit, offset int) ([]*Doctor, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	if f.Speciality != "" {
		where += " AND speciality = ?"
		args = append(args, f.Speciality)
	}
	if f.AvailableOnly {
		where += " AND available = 1"
	}

	var total int
	if err := r.conn(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM doctor"+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(fmt.Errorf("doctor count: %w", err))
	}

	rows, err := r.conn(ctx).QueryContext(ctx,
		"SELECT "+doctorCols+" FROM doctor"+where+" ORDER BY created_at DESC, id LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, db.Classify(fmt.Errorf("doctor list: %w", err))
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctorSQLite(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("doctor scan: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify(err)
	}
	return items, total, nil
}

func (r *doctorRepoSQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM doctor`).Scan(&n); err != nil {
		return 0, db.Classify(fmt.Errorf("doctor count: %w", err))
	}
	return n, nil
}

func scanDoctorSQLite(row rowScanner) (*Doctor, error) {
	var (
		d                Doctor
		id               string
		created, updated string
	)
	err := row.Scan(&id, &d.Name, &d.Email, &d.Image, &d.Speciality, &d.Degree, &d.Experience, &d.About,
		&d.Available, &d.Fee, &d.Address.Line1, &d.Address.Line2, &created, &updated)
	if err != nil {
		return nil, err
	}
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("doctor id %q: %w", id, err)
	}
	if d.CreatedAt, err = db.ParseTime(created); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	return &d, nil
}

// -- Patient Repository --

type patientRepoSQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewPatientRepoSQLite(sqlDB *sql.DB) PatientRepository {
	return &patientRepoSQLite{db: sqlDB, now: time.Now}
}

func (r *patientRepoSQLite) conn(ctx context.Context) db.SQLQuerier {
	return db.SQLConn(ctx, r.db)
}

func (r *patientRepoSQLite) Upsert(ctx context.Context, p *Patient) error {
	now := db.FormatTime(r.now())
	var created, updated string
	err := r.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO patient (id, name, email, phone, gender, dob, address_line1, address_line2, created_at, updated_at)
		VALUES (?,?,?,?,?,NULLIF(?,''),?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, email = excluded.email, phone = excluded.phone,
			gender = excluded.gender, dob = excluded.dob,
			address_line1 = excluded.address_line1, address_line2 = excluded.address_line2,
			updated_at = excluded.updated_at
		RETURNING created_at, updated_at`,
		p.ID.String(), p.Name, p.Email, p.Phone, p.Gender, p.DOB, p.Address.Line1, p.Address.Line2, now, now,
	).Scan(&created, &updated)
	if err != nil {
		return db.Classify(fmt.Errorf("patient upsert: %w", err))
	}
	if p.CreatedAt, err = db.ParseTime(created); err != nil {
		return err
	}
	p.UpdatedAt, err = db.ParseTime(updated)
	return err
}

func (r *patientRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var (
		p                Patient
		pid              string
		dob              sql.NullString
		created, updated string
	)
	err := r.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, email, phone, gender, dob, address_line1, address_line2, created_at, updated_at
		FROM patient WHERE id = ?`, id.String()).Scan(
		&pid, &p.Name, &p.Email, &p.Phone, &p.Gender, &dob,
		&p.Address.Line1, &p.Address.Line2, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("patient")
	}
	if err != nil {
		return nil, db.Classify(fmt.Errorf("patient get: %w", err))
	}
	if p.ID, err = uuid.Parse(pid); err != nil {
		return nil, fmt.Errorf("patient id %q: %w", pid, err)
	}
	p.DOB = dob.String
	if p.CreatedAt, err = db.ParseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoSQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM patient`).Scan(&n); err != nil {
		return 0, db.Classify(fmt.Errorf("patient count: %w", err))
	}
	return n, nil
}
