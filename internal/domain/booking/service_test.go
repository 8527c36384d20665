package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docslot/docslot/internal/domain/directory"
	"github.com/docslot/docslot/internal/platform/auth"
	"github.com/docslot/docslot/internal/platform/db"
	"github.com/docslot/docslot/migrations"
	"github.com/docslot/docslot/pkg/apperr"
)

var (
	admin = auth.Identity{Role: auth.RoleAdmin}
	// The day before the example slot 2024-05-01 10:00 AM.
	testNow = time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC)
)

// fixture is a booking service on a real in-memory sqlite store with one
// doctor (fee 500) and two patients with profiles.
type fixture struct {
	svc     *Service
	dir     *directory.Service
	store   Store
	sqlDB   *sql.DB
	doctors directory.DoctorRepository
	doctor  *directory.Doctor
	p1, p2  auth.Identity
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, ":memory:", migrations.SQLite)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	f := &fixture{sqlDB: sqlDB, now: testNow}
	f.doctors = directory.NewDoctorRepoSQLite(sqlDB)
	patients := directory.NewPatientRepoSQLite(sqlDB)
	f.dir = directory.NewService(f.doctors, patients, db.RetryPolicy{Attempts: 1})
	f.store = NewStoreSQLite(sqlDB)
	f.svc = NewService(f.dir, f.store, db.NewSQLTransactor(sqlDB), Options{
		Logger: zerolog.Nop(),
		Retry:  db.RetryPolicy{Attempts: 1},
		Now:    func() time.Time { return f.now },
	})

	f.doctor = f.addDoctor(t, "d@clinic.example", 500)
	f.p1 = f.addPatient(t, "P1")
	f.p2 = f.addPatient(t, "P2")
	return f
}

func (f *fixture) addDoctor(t *testing.T, email string, fee int64) *directory.Doctor {
	t.Helper()
	d := &directory.Doctor{
		ID:         uuid.New(),
		Name:       "Dr. D",
		Email:      email,
		Speciality: "General physician",
		Degree:     "MBBS",
		Experience: "4 Years",
		Available:  true,
		Fee:        fee,
		Address:    directory.Address{Line1: "17th Cross, Richmond", Line2: "Circle, Ring Road"},
	}
	if err := f.doctors.Create(context.Background(), d); err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return d
}

func (f *fixture) addPatient(t *testing.T, name string) auth.Identity {
	t.Helper()
	id := auth.Identity{Role: auth.RolePatient, ID: uuid.New()}
	_, err := f.dir.UpsertPatientProfile(context.Background(), id, directory.PatientInput{
		Name:  name,
		Email: name + "@mail.example",
		Phone: "9000000000",
	})
	if err != nil {
		t.Fatalf("create patient %s: %v", name, err)
	}
	return id
}

func (f *fixture) doctorIdentity() auth.Identity {
	return auth.Identity{Role: auth.RoleDoctor, ID: f.doctor.ID}
}

func (f *fixture) book(caller auth.Identity, date, clock string) (*Appointment, error) {
	return f.svc.Book(context.Background(), caller, BookRequest{
		DoctorID: f.doctor.ID,
		SlotDate: date,
		SlotTime: clock,
	})
}

func (f *fixture) bookedSlots(t *testing.T) map[string][]string {
	t.Helper()
	slots, err := f.svc.DoctorSlots(context.Background(), f.doctor.ID, "2000-01-01")
	if err != nil {
		t.Fatalf("DoctorSlots: %v", err)
	}
	return slots
}

func (f *fixture) reservationCount(t *testing.T) int {
	t.Helper()
	var n int
	if err := f.sqlDB.QueryRow(`SELECT COUNT(*) FROM slot_reservation`).Scan(&n); err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	return n
}

func TestBook_ExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a1, err := f.book(f.p1, "2024-05-01", "10:00 AM")
	if err != nil {
		t.Fatalf("P1 book: %v", err)
	}
	if a1.Status != StatusActive || a1.Payment || a1.Amount != 500 {
		t.Errorf("unexpected appointment: %+v", a1)
	}
	if a1.Doctor.Name != "Dr. D" || a1.Doctor.Fee != 500 || a1.Patient.Name != "P1" {
		t.Errorf("snapshots not taken: %+v / %+v", a1.Doctor, a1.Patient)
	}
	if got := f.bookedSlots(t)["2024-05-01"]; len(got) != 1 || got[0] != "10:00 AM" {
		t.Fatalf("expected ledger [10:00 AM], got %v", got)
	}

	if _, err := f.book(f.p2, "2024-05-01", "10:00 AM"); !errors.Is(err, apperr.ErrSlotTaken) {
		t.Fatalf("P2 expected slot_taken, got %v", err)
	}

	if _, err := f.svc.Cancel(ctx, f.p1, a1.ID); err != nil {
		t.Fatalf("P1 cancel: %v", err)
	}
	if got := f.bookedSlots(t); len(got) != 0 {
		t.Fatalf("expected empty ledger after cancel, got %v", got)
	}

	a2, err := f.book(f.p2, "2024-05-01", "10:00 AM")
	if err != nil {
		t.Fatalf("P2 rebook: %v", err)
	}
	if a2.PatientID != f.p2.ID {
		t.Errorf("expected P2's appointment, got patient %s", a2.PatientID)
	}

	stats, err := f.store.Appointments.Stats(ctx, nil)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Live != 1 || stats.Cancelled != 1 || stats.Revenue != 500 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	old, err := f.svc.Get(ctx, f.p1, a1.ID)
	if err != nil {
		t.Fatalf("cancelled appointment should stay readable: %v", err)
	}
	if old.Status != StatusCancelled || old.CancelledAt == nil {
		t.Errorf("expected cancelled with timestamp, got %+v", old)
	}
}

func TestBook_ConcurrentMutualExclusion(t *testing.T) {
	f := newFixture(t)

	const n = 16
	callers := make([]auth.Identity, n)
	for i := range callers {
		callers[i] = f.addPatient(t, fmt.Sprintf("racer%d", i))
	}

	var (
		wg      sync.WaitGroup
		ok      atomic.Int32
		taken   atomic.Int32
		start   = make(chan struct{})
		failure = make(chan error, n)
	)
	for _, c := range callers {
		wg.Add(1)
		go func(c auth.Identity) {
			defer wg.Done()
			<-start
			_, err := f.book(c, "2024-05-01", "10:00 AM")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrSlotTaken):
				taken.Add(1)
			default:
				failure <- err
			}
		}(c)
	}
	close(start)
	wg.Wait()
	close(failure)

	for err := range failure {
		t.Errorf("unexpected error: %v", err)
	}
	if ok.Load() != 1 || taken.Load() != n-1 {
		t.Errorf("expected 1 success and %d slot_taken, got %d and %d", n-1, ok.Load(), taken.Load())
	}
	if got := f.reservationCount(t); got != 1 {
		t.Errorf("expected 1 reservation, got %d", got)
	}
	live := StatusActive
	_, total, err := f.svc.List(context.Background(), admin, ListFilter{Status: &live}, 50, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 {
		t.Errorf("expected 1 live appointment, got %d", total)
	}
}

// countingLedger counts Release calls that removed a reservation.
type countingLedger struct {
	Ledger
	released atomic.Int32
}

func (l *countingLedger) Release(ctx context.Context, doctorID uuid.UUID, slot SlotKey, apptID uuid.UUID) (bool, error) {
	ok, err := l.Ledger.Release(ctx, doctorID, slot, apptID)
	if ok {
		l.released.Add(1)
	}
	return ok, err
}

func TestCancel_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ledger := &countingLedger{Ledger: f.store.Ledger}
	f.store.Ledger = ledger
	f.svc = NewService(f.dir, f.store, db.NewSQLTransactor(f.sqlDB), Options{
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return f.now },
	})

	a, err := f.book(f.p1, "2024-05-01", "10:00 AM")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	for i := 0; i < 3; i++ {
		got, err := f.svc.Cancel(context.Background(), f.p1, a.ID)
		if err != nil {
			t.Fatalf("cancel #%d: %v", i+1, err)
		}
		if got.Status != StatusCancelled {
			t.Errorf("cancel #%d: status %s", i+1, got.Status)
		}
	}
	if n := ledger.released.Load(); n != 1 {
		t.Errorf("expected exactly one release, got %d", n)
	}
}

func TestCancel_KeepsOtherBookingsSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a1, err := f.book(f.p1, "2024-05-01", "10:00 AM")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, f.p1, a1.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.book(f.p2, "2024-05-01", "10:00 AM"); err != nil {
		t.Fatalf("rebook: %v", err)
	}
	// A late repeat cancel of the old appointment must not free P2's slot.
	if _, err := f.svc.Cancel(ctx, f.p1, a1.ID); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if got := f.bookedSlots(t)["2024-05-01"]; len(got) != 1 {
		t.Errorf("expected P2's slot to stay reserved, got %v", got)
	}
}

func TestBook_PastSlotLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	f.now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for _, clock := range []string{"10:00 AM", "09:59 AM", "08:00 AM"} {
		if _, err := f.book(f.p1, "2024-05-01", clock); !errors.Is(err, apperr.ErrSlotInPast) {
			t.Errorf("%s: expected slot_in_past, got %v", clock, err)
		}
	}
	if _, err := f.book(f.p1, "30_4_2024", "11:00 PM"); !errors.Is(err, apperr.ErrSlotInPast) {
		t.Errorf("yesterday: expected slot_in_past, got %v", err)
	}
	if n := f.reservationCount(t); n != 0 {
		t.Errorf("expected no reservations, got %d", n)
	}
	if _, err := f.book(f.p1, "2024-05-01", "10:01 AM"); err != nil {
		t.Errorf("future slot should book: %v", err)
	}
}

func TestBook_UnavailableDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.dir.ChangeAvailability(ctx, admin, f.doctor.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := f.book(f.p1, "2024-05-01", "10:00 AM"); !errors.Is(err, apperr.ErrDoctorUnavailable) {
		t.Fatalf("expected doctor_unavailable, got %v", err)
	}
	if n := f.reservationCount(t); n != 0 {
		t.Errorf("expected ledger untouched, got %d reservations", n)
	}

	_, err := f.svc.Book(ctx, f.p1, BookRequest{DoctorID: uuid.New(), SlotDate: "2024-05-01", SlotTime: "10:00 AM"})
	if !errors.Is(err, apperr.ErrDoctorUnavailable) {
		t.Errorf("unknown doctor: expected doctor_unavailable, got %v", err)
	}
}

func TestBook_AvailabilityDoesNotAffectExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.book(f.p1, "2024-05-01", "10:00 AM")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.dir.ChangeAvailability(ctx, admin, f.doctor.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	got, err := f.svc.Get(ctx, f.p1, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("existing booking changed to %s", got.Status)
	}
	if _, err := f.svc.Cancel(ctx, f.p1, a.ID); err != nil {
		t.Errorf("cancel with doctor unavailable: %v", err)
	}
}

func TestBook_ValidationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.book(f.p1, "2024-05-01", "10:00 AM"); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	f.now = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	// Past beats taken.
	if _, err := f.book(f.p2, "2024-05-01", "10:00 AM"); !errors.Is(err, apperr.ErrSlotInPast) {
		t.Errorf("expected slot_in_past before slot_taken, got %v", err)
	}

	// Unavailable beats malformed.
	if _, err := f.dir.ChangeAvailability(ctx, admin, f.doctor.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := f.book(f.p2, "not a date", "10:00 AM"); !errors.Is(err, apperr.ErrDoctorUnavailable) {
		t.Errorf("expected doctor_unavailable first, got %v", err)
	}
}

func TestBook_InvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wrongFee := int64(400)
	rightFee := int64(500)
	noProfile := auth.Identity{Role: auth.RolePatient, ID: uuid.New()}

	tests := []struct {
		name   string
		caller auth.Identity
		req    BookRequest
		want   error
	}{
		{"malformed date", f.p1, BookRequest{SlotDate: "2024/05/01", SlotTime: "10:00 AM"}, apperr.ErrInvalidRequest},
		{"malformed time", f.p1, BookRequest{SlotDate: "2024-05-01", SlotTime: "morning"}, apperr.ErrInvalidRequest},
		{"fee mismatch", f.p1, BookRequest{SlotDate: "2024-05-01", SlotTime: "10:00 AM", Fee: &wrongFee}, apperr.ErrInvalidRequest},
		{"no patient profile", noProfile, BookRequest{SlotDate: "2024-05-01", SlotTime: "10:00 AM"}, apperr.ErrInvalidRequest},
		{"admin without patient", admin, BookRequest{SlotDate: "2024-05-01", SlotTime: "10:00 AM"}, apperr.ErrInvalidRequest},
		{"doctor cannot book", f.doctorIdentity(), BookRequest{SlotDate: "2024-05-01", SlotTime: "10:00 AM"}, apperr.ErrNotAuthorized},
		{"patient for someone else", f.p1, BookRequest{PatientID: f.p2.ID, SlotDate: "2024-05-01", SlotTime: "10:00 AM"}, apperr.ErrNotAuthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.DoctorID = f.doctor.ID
			_, err := f.svc.Book(ctx, tt.caller, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if n := f.reservationCount(t); n != 0 {
		t.Errorf("rejected bookings reserved %d slots", n)
	}

	a, err := f.svc.Book(ctx, admin, BookRequest{
		DoctorID: f.doctor.ID, PatientID: f.p2.ID, SlotDate: "2024-05-01", SlotTime: "10:00 AM", Fee: &rightFee,
	})
	if err != nil {
		t.Fatalf("admin booking on behalf of P2: %v", err)
	}
	if a.PatientID != f.p2.ID {
		t.Errorf("expected P2, got %s", a.PatientID)
	}
}

func TestComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.book(f.p1, "2024-05-01", "10:00 AM")
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	other := auth.Identity{Role: auth.RoleDoctor, ID: uuid.New()}
	for _, caller := range []auth.Identity{f.p1, other} {
		if _, err := f.svc.Complete(ctx, caller, a.ID); !errors.Is(err, apperr.ErrNotAuthorized) {
			t.Errorf("%s: expected not_authorized, got %v", caller, err)
		}
	}

	got, err := f.svc.Complete(ctx, f.doctorIdentity(), a.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Errorf("expected completed, got %+v", got)
	}
	if _, err := f.svc.Complete(ctx, admin, a.ID); err != nil {
		t.Errorf("repeat complete should be a no-op: %v", err)
	}
	if n := f.reservationCount(t); n != 1 {
		t.Errorf("completion must keep the slot, got %d reservations", n)
	}
	if _, err := f.svc.Cancel(ctx, f.p1, a.ID); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("cancel after complete: expected invalid_request, got %v", err)
	}
}

func TestCancel_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.book(f.p1, "2024-05-01", "10:00 AM")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	other := auth.Identity{Role: auth.RoleDoctor, ID: uuid.New()}
	for _, caller := range []auth.Identity{f.p2, other} {
		if _, err := f.svc.Cancel(ctx, caller, a.ID); !errors.Is(err, apperr.ErrNotAuthorized) {
			t.Errorf("%s: expected not_authorized, got %v", caller, err)
		}
		if _, err := f.svc.Get(ctx, caller, a.ID); !errors.Is(err, apperr.ErrNotAuthorized) {
			t.Errorf("%s: get expected not_authorized, got %v", caller, err)
		}
	}
	if _, err := f.svc.Cancel(ctx, f.doctorIdentity(), a.ID); err != nil {
		t.Errorf("doctor on the appointment should cancel: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, admin, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown appointment: expected not_found, got %v", err)
	}
}

func TestCancel_ThenCompleteIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.book(f.p1, "2024-05-01", "10:00 AM")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, f.p1, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.Complete(ctx, f.doctorIdentity(), a.ID); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("expected invalid_request, got %v", err)
	}
}

func TestMarkPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.book(f.p1, "2024-05-01", "10:00 AM")
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	if _, err := f.svc.MarkPaid(ctx, f.p1, a.ID); !errors.Is(err, apperr.ErrNotAuthorized) {
		t.Errorf("patient: expected not_authorized, got %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := f.svc.MarkPaid(ctx, admin, a.ID)
		if err != nil {
			t.Fatalf("mark paid #%d: %v", i+1, err)
		}
		if !got.Payment {
			t.Errorf("mark paid #%d: payment not set", i+1)
		}
	}

	b, err := f.book(f.p2, "2024-05-01", "11:00 AM")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := f.svc.Cancel(ctx, f.p2, b.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.MarkPaid(ctx, admin, b.ID); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("cancelled: expected invalid_request, got %v", err)
	}

	stats, err := f.store.Appointments.Stats(ctx, nil)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Collected != 500 || stats.Revenue != 500 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestList_ScopedByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, c := range []auth.Identity{f.p1, f.p2, f.p1} {
		if _, err := f.book(c, "2024-05-01", fmt.Sprintf("%02d:00 AM", i+9)); err != nil {
			t.Fatalf("book: %v", err)
		}
	}

	tests := []struct {
		name   string
		caller auth.Identity
		filter ListFilter
		want   int
	}{
		{"patient sees own", f.p1, ListFilter{}, 2},
		{"other patient sees own", f.p2, ListFilter{}, 1},
		{"doctor sees theirs", f.doctorIdentity(), ListFilter{}, 3},
		{"other doctor sees none", auth.Identity{Role: auth.RoleDoctor, ID: uuid.New()}, ListFilter{}, 0},
		{"admin filters by patient", admin, ListFilter{PatientID: &f.p2.ID}, 1},
		{"admin sees all", admin, ListFilter{}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := f.svc.List(ctx, tt.caller, tt.filter, 20, 0)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if total != tt.want || len(items) != tt.want {
				t.Errorf("expected %d, got total=%d len=%d", tt.want, total, len(items))
			}
			for _, a := range items {
				if tt.caller.Role == auth.RolePatient && a.PatientID != tt.caller.ID {
					t.Errorf("patient saw another patient's appointment %s", a.ID)
				}
			}
		})
	}

	if _, _, err := f.svc.List(ctx, f.p1, ListFilter{PatientID: &f.p2.ID}, 20, 0); !errors.Is(err, apperr.ErrNotAuthorized) {
		t.Errorf("expected not_authorized, got %v", err)
	}
	bogus := Status("archived")
	if _, _, err := f.svc.List(ctx, admin, ListFilter{Status: &bogus}, 20, 0); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("expected invalid_request, got %v", err)
	}
}

func TestDoctorSlots_SortedAndFiltered(t *testing.T) {
	f := newFixture(t)
	for _, s := range []struct{ date, clock string }{
		{"2024-05-02", "01:00 PM"},
		{"2024-05-02", "09:30 AM"},
		{"2024-05-01", "10:00 AM"},
		{"2024-05-02", "12:00 PM"},
	} {
		if _, err := f.book(f.p1, s.date, s.clock); err != nil {
			t.Fatalf("book %s %s: %v", s.date, s.clock, err)
		}
	}

	slots, err := f.svc.DoctorSlots(context.Background(), f.doctor.ID, "2_5_2024")
	if err != nil {
		t.Fatalf("DoctorSlots: %v", err)
	}
	if _, ok := slots["2024-05-01"]; ok {
		t.Error("dates before from should be excluded")
	}
	want := []string{"09:30 AM", "12:00 PM", "01:00 PM"}
	got := slots["2024-05-02"]
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	// Defaults to today in the clinic timezone.
	all, err := f.svc.DoctorSlots(context.Background(), f.doctor.ID, "")
	if err != nil {
		t.Fatalf("DoctorSlots: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected both dates from today, got %v", all)
	}

	if _, err := f.svc.DoctorSlots(context.Background(), uuid.New(), ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown doctor: expected not_found, got %v", err)
	}
}

// failingCreate fails every appointment insert.
type failingCreate struct {
	AppointmentRepository
	err error
}

func (r failingCreate) Create(context.Context, *Appointment) error { return r.err }

// autoCommit runs fn without a transaction so a failed insert leaves the
// reservation behind, like a commit whose outcome was lost.
type autoCommit struct{}

func (autoCommit) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestBook_CompensatesReservationOnFailedInsert(t *testing.T) {
	f := newFixture(t)
	store := f.store
	store.Appointments = failingCreate{AppointmentRepository: f.store.Appointments, err: apperr.ErrStoreUnavailable}
	f.svc = NewService(f.dir, store, autoCommit{}, Options{
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return f.now },
	})

	_, err := f.book(f.p1, "2024-05-01", "10:00 AM")
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("expected store_unavailable, got %v", err)
	}
	if n := f.reservationCount(t); n != 0 {
		t.Errorf("expected the reservation to be released, got %d", n)
	}
}

func TestBook_FailedTransactionRollsBackReservation(t *testing.T) {
	f := newFixture(t)
	store := f.store
	store.Appointments = failingCreate{AppointmentRepository: f.store.Appointments, err: errors.New("disk full")}
	f.svc = NewService(f.dir, store, db.NewSQLTransactor(f.sqlDB), Options{
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return f.now },
	})

	if _, err := f.book(f.p1, "2024-05-01", "10:00 AM"); err == nil {
		t.Fatal("expected error")
	}
	if n := f.reservationCount(t); n != 0 {
		t.Errorf("expected rollback to drop the reservation, got %d", n)
	}
}
