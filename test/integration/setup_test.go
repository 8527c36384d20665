//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/docslot/docslot/internal/domain/booking"
	"github.com/docslot/docslot/internal/domain/directory"
	"github.com/docslot/docslot/internal/platform/auth"
	"github.com/docslot/docslot/internal/platform/db"
	"github.com/docslot/docslot/migrations"
)

// connStr points at the shared postgres: TEST_DATABASE_URL when set,
// otherwise a throwaway container.
var connStr string

func TestMain(m *testing.M) {
	ctx := context.Background()

	cleanup := func() {}
	connStr = os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
			os.Exit(1)
		}
	}

	code := m.Run()
	cleanup()
	os.Exit(code)
}

// newSchemaPool creates a fresh schema, points a pool at it and applies the
// embedded migrations. The schema is dropped when the test ends.
func newSchemaPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	schema := "t_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")

	admin, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("schema pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		if _, err := admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	if _, err := db.NewMigrator(pool, migrations.Postgres).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

var adminCaller = auth.Identity{Role: auth.RoleAdmin}

type pgEnv struct {
	pool     *pgxpool.Pool
	dir      *directory.Service
	store    booking.Store
	bookings *booking.Service
	doctor   *directory.Doctor
}

func newPGEnv(t *testing.T) *pgEnv {
	t.Helper()
	pool := newSchemaPool(t)
	e := &pgEnv{pool: pool, store: booking.NewStorePG(pool)}
	e.dir = directory.NewService(directory.NewDoctorRepoPG(pool), directory.NewPatientRepoPG(pool), db.DefaultRetry)
	e.bookings = booking.NewService(e.dir, e.store, db.NewPgTransactor(pool), booking.Options{
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC) },
	})

	var err error
	e.doctor, err = e.dir.AddDoctor(context.Background(), adminCaller, directory.DoctorInput{
		Name:       "Dr. D",
		Email:      "d@clinic.example",
		Speciality: "General physician",
		Degree:     "MBBS",
		Experience: "4 Years",
		About:      "GP.",
		Fee:        500,
		Address:    directory.Address{Line1: "1 Main St"},
	})
	if err != nil {
		t.Fatalf("add doctor: %v", err)
	}
	return e
}

func (e *pgEnv) patient(t *testing.T, name string) auth.Identity {
	t.Helper()
	p := auth.Identity{Role: auth.RolePatient, ID: uuid.New()}
	_, err := e.dir.UpsertPatientProfile(context.Background(), p, directory.PatientInput{
		Name:  name,
		Email: name + "@mail.example",
		DOB:   "1990-01-01",
	})
	if err != nil {
		t.Fatalf("patient %s: %v", name, err)
	}
	return p
}

func (e *pgEnv) book(p auth.Identity, clock string) (*booking.Appointment, error) {
	return e.bookings.Book(context.Background(), p, booking.BookRequest{
		DoctorID: e.doctor.ID,
		SlotDate: "2024-05-01",
		SlotTime: clock,
	})
}

func (e *pgEnv) reservations(t *testing.T) int {
	t.Helper()
	var n int
	if err := e.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM slot_reservation`).Scan(&n); err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	return n
}
