// Package dashboard derives admin and doctor summaries from the directory
// and the appointment store at read time.
package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docslot/docslot/internal/domain/booking"
	"github.com/docslot/docslot/internal/domain/directory"
	"github.com/docslot/docslot/internal/platform/auth"
	"github.com/docslot/docslot/internal/platform/db"
	"github.com/docslot/docslot/internal/platform/metrics"
	"github.com/docslot/docslot/pkg/apperr"
)

type Directory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	CountDoctors(ctx context.Context) (int, error)
	CountPatients(ctx context.Context) (int, error)
}

// Appointments is the read side of the appointment store.
type Appointments interface {
	Stats(ctx context.Context, doctorID *uuid.UUID) (booking.Stats, error)
	Recent(ctx context.Context, doctorID *uuid.UUID, n int) ([]*booking.Appointment, error)
}

type Summary struct {
	Doctors          int                    `json:"doctors"`
	Patients         int                    `json:"patients"`
	Appointments     int                    `json:"appointments"`
	Cancelled        int                    `json:"cancelled"`
	Completed        int                    `json:"completed"`
	TotalRevenue     int64                  `json:"total_revenue"`
	CollectedRevenue int64                  `json:"collected_revenue"`
	Latest           []*booking.Appointment `json:"latest_appointments"`
}

type DoctorSummary struct {
	DoctorID     uuid.UUID              `json:"doctor_id"`
	Earnings     int64                  `json:"earnings"`
	Appointments int                    `json:"appointments"`
	Cancelled    int                    `json:"cancelled"`
	Completed    int                    `json:"completed"`
	Patients     int                    `json:"patients"`
	Latest       []*booking.Appointment `json:"latest_appointments"`
}

type Options struct {
	// Recent is how many latest appointments a summary lists.
	Recent int
	Cache  Cache
	TTL    time.Duration
	Retry  db.RetryPolicy
	Logger zerolog.Logger
}

type Service struct {
	dir    Directory
	appts  Appointments
	cache  Cache
	ttl    time.Duration
	recent int
	retry  db.RetryPolicy
	logger zerolog.Logger
}

func NewService(dir Directory, appts Appointments, opts Options) *Service {
	s := &Service{
		dir:    dir,
		appts:  appts,
		cache:  opts.Cache,
		ttl:    opts.TTL,
		recent: opts.Recent,
		retry:  opts.Retry,
		logger: opts.Logger,
	}
	if s.recent <= 0 {
		s.recent = 5
	}
	if s.retry.Attempts == 0 {
		s.retry = db.DefaultRetry
	}
	if s.ttl <= 0 {
		s.cache = nil
	}
	return s
}

// Summary is the admin dashboard.
func (s *Service) Summary(ctx context.Context, caller auth.Identity) (*Summary, error) {
	if !caller.IsAdmin() {
		return nil, apperr.ErrNotAuthorized.WithMessage("only an admin can view the dashboard")
	}
	return cached(ctx, s, "admin", s.summary)
}

func (s *Service) summary(ctx context.Context) (*Summary, error) {
	return db.RetryRead(ctx, s.retry, func(ctx context.Context) (*Summary, error) {
		doctors, err := s.dir.CountDoctors(ctx)
		if err != nil {
			return nil, err
		}
		patients, err := s.dir.CountPatients(ctx)
		if err != nil {
			return nil, err
		}
		st, err := s.appts.Stats(ctx, nil)
		if err != nil {
			return nil, err
		}
		latest, err := s.appts.Recent(ctx, nil, s.recent)
		if err != nil {
			return nil, err
		}
		return &Summary{
			Doctors:          doctors,
			Patients:         patients,
			Appointments:     st.Live,
			Cancelled:        st.Cancelled,
			Completed:        st.Completed,
			TotalRevenue:     st.Revenue,
			CollectedRevenue: st.Collected,
			Latest:           nonNil(latest),
		}, nil
	})
}

// DoctorSummary is the dashboard of one doctor, for that doctor or an admin.
func (s *Service) DoctorSummary(ctx context.Context, caller auth.Identity, doctorID uuid.UUID) (*DoctorSummary, error) {
	if !caller.IsAdmin() && !caller.IsDoctor(doctorID) {
		return nil, apperr.ErrNotAuthorized.WithMessage("not allowed to view this dashboard")
	}
	if _, err := s.dir.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return cached(ctx, s, "doctor:"+doctorID.String(), func(ctx context.Context) (*DoctorSummary, error) {
		return s.doctorSummary(ctx, doctorID)
	})
}

func (s *Service) doctorSummary(ctx context.Context, doctorID uuid.UUID) (*DoctorSummary, error) {
	return db.RetryRead(ctx, s.retry, func(ctx context.Context) (*DoctorSummary, error) {
		st, err := s.appts.Stats(ctx, &doctorID)
		if err != nil {
			return nil, err
		}
		latest, err := s.appts.Recent(ctx, &doctorID, s.recent)
		if err != nil {
			return nil, err
		}
		return &DoctorSummary{
			DoctorID:     doctorID,
			Earnings:     st.Collected,
			Appointments: st.Live,
			Cancelled:    st.Cancelled,
			Completed:    st.Completed,
			Patients:     st.Patients,
			Latest:       nonNil(latest),
		}, nil
	})
}

// cached returns the cached value under key, or computes and stores it. A
// failing cache never fails the read.
func cached[T any](ctx context.Context, s *Service, key string, compute func(ctx context.Context) (T, error)) (T, error) {
	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.DashboardCache.WithLabelValues("error").Inc()
			s.logger.Warn().Err(err).Str("key", key).Msg("dashboard cache read failed")
		case ok:
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				metrics.DashboardCache.WithLabelValues("hit").Inc()
				return v, nil
			}
			metrics.DashboardCache.WithLabelValues("miss").Inc()
		default:
			metrics.DashboardCache.WithLabelValues("miss").Inc()
		}
	}

	v, err := compute(ctx)
	if err != nil || s.cache == nil {
		return v, err
	}
	if raw, err := json.Marshal(v); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("dashboard cache encode failed")
	} else if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("dashboard cache write failed")
	}
	return v, nil
}

func nonNil(items []*booking.Appointment) []*booking.Appointment {
	if items == nil {
		return []*booking.Appointment{}
	}
	return items
}
