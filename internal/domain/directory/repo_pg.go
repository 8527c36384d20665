package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docslot/docslot/internal/platform/db"
	"github.com/docslot/docslot/pkg/apperr"
)

// -- Doctor Repository --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	return db.PgConn(ctx, r.pool)
}

const doctorCols = `id, name, email, image, speciality, degree, experience, about,
	available, fee, address_line1, address_line2, created_at, updated_at`

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor (id, name, email, image, speciality, degree, experience, about,
			available, fee, address_line1, address_line2)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Email, d.Image, d.Speciality, d.Degree, d.Experience, d.About,
		d.Available, d.Fee, d.Address.Line1, d.Address.Line2,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Invalid("email %s is already registered", d.Email)
	}
	if err != nil {
		return db.Classify(fmt.Errorf("doctor create: %w", err))
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("doctor")
	}
	if err != nil {
		return nil, db.Classify(fmt.Errorf("doctor get: %w", err))
	}
	return d, nil
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor SET name=$2, email=$3, image=$4, speciality=$5, degree=$6, experience=$7,
			about=$8, fee=$9, address_line1=$10, address_line2=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Name, d.Email, d.Image, d.Speciality, d.Degree, d.Experience,
		d.About, d.Fee, d.Address.Line1, d.Address.Line2,
	).Scan(&d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("doctor")
	}
	if db.IsUniqueViolation(err) {
		return apperr.Invalid("email %s is already registered", d.Email)
	}
	if err != nil {
		return db.Classify(fmt.Errorf("doctor update: %w", err))
	}
	return nil
}

func (r *doctorRepoPG) ToggleAvailable(ctx context.Context, id uuid.UUID) (bool, error) {
	var available bool
	err := r.conn(ctx).QueryRow(ctx,
		`UPDATE doctor SET available = NOT available, updated_at = NOW() WHERE id = $1 RETURNING available`,
		id).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, apperr.NotFound("doctor")
	}
	if err != nil {
		return false, db.Classify(fmt.Errorf("doctor toggle availability: %w", err))
	}
	return available, nil
}

func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter, limit, offset int) ([]*Doctor, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1

	if f.Speciality != "" {
		where += fmt.Sprintf(" AND speciality = $%d", idx)
		args = append(args, f.Speciality)
		idx++
	}
	if f.AvailableOnly {
		where += " AND available"
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM doctor"+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(fmt.Errorf("doctor count: %w", err))
	}

	query := "SELECT " + doctorCols + " FROM doctor" + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(fmt.Errorf("doctor list: %w", err))
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
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

func (r *doctorRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor`).Scan(&n); err != nil {
		return 0, db.Classify(fmt.Errorf("doctor count: %w", err))
	}
	return n, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Email, &d.Image, &d.Speciality, &d.Degree, &d.Experience, &d.About,
		&d.Available, &d.Fee, &d.Address.Line1, &d.Address.Line2, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.PgConn(ctx, r.pool)
}

const patientCols = `id, name, email, phone, gender, COALESCE(dob::text, ''),
	address_line1, address_line2, created_at, updated_at`

func (r *patientRepoPG) Upsert(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, name, email, phone, gender, dob, address_line1, address_line2)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,'')::date,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
			gender = EXCLUDED.gender, dob = EXCLUDED.dob,
			address_line1 = EXCLUDED.address_line1, address_line2 = EXCLUDED.address_line2,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Email, p.Phone, p.Gender, p.DOB, p.Address.Line1, p.Address.Line2,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return db.Classify(fmt.Errorf("patient upsert: %w", err))
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id).Scan(
		&p.ID, &p.Name, &p.Email, &p.Phone, &p.Gender, &p.DOB,
		&p.Address.Line1, &p.Address.Line2, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient")
	}
	if err != nil {
		return nil, db.Classify(fmt.Errorf("patient get: %w", err))
	}
	return &p, nil
}

func (r *patientRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&n); err != nil {
		return 0, db.Classify(fmt.Errorf("patient count: %w", err))
	}
	return n, nil
}
