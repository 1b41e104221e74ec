package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WeeklyScheduleRepository stores one row per (doctor, weekday).
type WeeklyScheduleRepository interface {
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*WeeklySchedule, error)
	GetByDay(ctx context.Context, doctorID uuid.UUID, day int) (*WeeklySchedule, error)
	// Upsert inserts or overwrites the row for ws.DoctorID/ws.DayOfWeek and
	// fills in the stored id and timestamps.
	Upsert(ctx context.Context, ws *WeeklySchedule) error
	DeleteByDay(ctx context.Context, doctorID uuid.UUID, day int) (bool, error)
	DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
}

// SpecialScheduleRepository stores date overrides, one per (doctor, date).
type SpecialScheduleRepository interface {
	Create(ctx context.Context, s *SpecialSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*SpecialSchedule, error)
	GetByDate(ctx context.Context, doctorID uuid.UUID, date time.Time) (*SpecialSchedule, error)
	// ListByDoctor returns overrides with from <= date <= to, ordered by date.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*SpecialSchedule, error)
	Update(ctx context.Context, s *SpecialSchedule) error
	Delete(ctx context.Context, doctorID, id uuid.UUID) (bool, error)
	DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
}

type TemplateRepository interface {
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Template, error)
	ClearDefault(ctx context.Context, doctorID uuid.UUID) error
	DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error)
}

// AppointmentReader exposes booked times. Cancelled appointments are never
// returned.
type AppointmentReader interface {
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error)
}

// Transactor runs fn so that every repository call made with the context it
// receives commits or rolls back together.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ViewCache holds rendered views per scope. Invalidate discards everything
// cached for a scope.
type ViewCache interface {
	Get(ctx context.Context, scope, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, scope, key string, v interface{}) error
	Invalidate(ctx context.Context, scope string) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, string, string, interface{}) (bool, error) { return false, nil }
func (noopCache) Set(context.Context, string, string, interface{}) error         { return nil }
func (noopCache) Invalidate(context.Context, string) error                       { return nil }
