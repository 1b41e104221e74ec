package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carepoint/scheduler/internal/platform/db"
)

const pgUniqueViolation = "23505"

// pgErr maps driver errors onto the engine's error kinds. Anything it does
// not recognise is returned unchanged.
func pgErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFoundf("%s not found", what)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == pgUniqueViolation {
		return conflictf("%s already exists", what)
	}
	return err
}

// =========== Weekly Schedule Repository ===========

type weeklyRepoPG struct{ pool *pgxpool.Pool }

func NewWeeklyScheduleRepoPG(pool *pgxpool.Pool) WeeklyScheduleRepository {
	return &weeklyRepoPG{pool: pool}
}

func (r *weeklyRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const weeklyCols = `id, doctor_id, day_of_week, start_time, end_time, break_start_time, break_end_time,
	slot_duration_minutes, is_available, template_id, created_at, updated_at`

func (r *weeklyRepoPG) scanWeekly(row pgx.Row) (*WeeklySchedule, error) {
	var w WeeklySchedule
	var start, end, bs, be pgtype.Time
	err := row.Scan(&w.ID, &w.DoctorID, &w.DayOfWeek, &start, &end, &bs, &be,
		&w.SlotDurationMinutes, &w.IsAvailable, &w.TemplateID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.StartTime = fromPGTime(start)
	w.EndTime = fromPGTime(end)
	w.BreakStartTime = fromPGTimePtr(bs)
	w.BreakEndTime = fromPGTimePtr(be)
	return &w, nil
}

func (r *weeklyRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*WeeklySchedule, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+weeklyCols+` FROM weekly_schedule
		WHERE doctor_id = $1 ORDER BY day_of_week`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*WeeklySchedule
	for rows.Next() {
		w, err := r.scanWeekly(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (r *weeklyRepoPG) GetByDay(ctx context.Context, doctorID uuid.UUID, day int) (*WeeklySchedule, error) {
	w, err := r.scanWeekly(r.conn(ctx).QueryRow(ctx, `SELECT `+weeklyCols+` FROM weekly_schedule
		WHERE doctor_id = $1 AND day_of_week = $2`, doctorID, day))
	if err != nil {
		return nil, pgErr(err, "schedule for "+DayName(day))
	}
	return w, nil
}

func (r *weeklyRepoPG) Upsert(ctx context.Context, ws *WeeklySchedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO weekly_schedule (id, doctor_id, day_of_week, start_time, end_time,
			break_start_time, break_end_time, slot_duration_minutes, is_available, template_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (doctor_id, day_of_week) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			break_start_time = EXCLUDED.break_start_time,
			break_end_time = EXCLUDED.break_end_time,
			slot_duration_minutes = EXCLUDED.slot_duration_minutes,
			is_available = EXCLUDED.is_available,
			template_id = EXCLUDED.template_id,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), ws.DoctorID, ws.DayOfWeek, pgTime(ws.StartTime), pgTime(ws.EndTime),
		pgTimePtr(ws.BreakStartTime), pgTimePtr(ws.BreakEndTime),
		ws.SlotDurationMinutes, ws.IsAvailable, ws.TemplateID,
	).Scan(&ws.ID, &ws.CreatedAt, &ws.UpdatedAt)
	return err
}

func (r *weeklyRepoPG) DeleteByDay(ctx context.Context, doctorID uuid.UUID, day int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM weekly_schedule WHERE doctor_id = $1 AND day_of_week = $2`, doctorID, day)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *weeklyRepoPG) DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM weekly_schedule WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =========== Special Schedule Repository ===========

type specialRepoPG struct{ pool *pgxpool.Pool }

func NewSpecialScheduleRepoPG(pool *pgxpool.Pool) SpecialScheduleRepository {
	return &specialRepoPG{pool: pool}
}

func (r *specialRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const specialCols = `id, doctor_id, schedule_date, type, start_time, end_time, break_start_time, break_end_time,
	slot_duration_minutes, note, created_at, updated_at`

func (r *specialRepoPG) scanSpecial(row pgx.Row) (*SpecialSchedule, error) {
	var s SpecialSchedule
	var typ string
	var start, end, bs, be pgtype.Time
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &typ, &start, &end, &bs, &be,
		&s.SlotDurationMinutes, &s.Note, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Type = SpecialType(typ)
	s.Date = civilDate(s.Date)
	s.StartTime = fromPGTimePtr(start)
	s.EndTime = fromPGTimePtr(end)
	s.BreakStartTime = fromPGTimePtr(bs)
	s.BreakEndTime = fromPGTimePtr(be)
	return &s, nil
}

func (r *specialRepoPG) Create(ctx context.Context, s *SpecialSchedule) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO special_schedule (id, doctor_id, schedule_date, type, start_time, end_time,
			break_start_time, break_end_time, slot_duration_minutes, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, civilDate(s.Date), string(s.Type), pgTimePtr(s.StartTime), pgTimePtr(s.EndTime),
		pgTimePtr(s.BreakStartTime), pgTimePtr(s.BreakEndTime), s.SlotDurationMinutes, s.Note,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	return pgErr(err, "special schedule for "+s.DateString())
}

func (r *specialRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SpecialSchedule, error) {
	s, err := r.scanSpecial(r.conn(ctx).QueryRow(ctx, `SELECT `+specialCols+` FROM special_schedule WHERE id = $1`, id))
	if err != nil {
		return nil, pgErr(err, "special schedule")
	}
	return s, nil
}

func (r *specialRepoPG) GetByDate(ctx context.Context, doctorID uuid.UUID, date time.Time) (*SpecialSchedule, error) {
	s, err := r.scanSpecial(r.conn(ctx).QueryRow(ctx, `SELECT `+specialCols+` FROM special_schedule
		WHERE doctor_id = $1 AND schedule_date = $2`, doctorID, civilDate(date)))
	if err != nil {
		return nil, pgErr(err, "special schedule for "+dateKey(date))
	}
	return s, nil
}

func (r *specialRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*SpecialSchedule, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+specialCols+` FROM special_schedule
		WHERE doctor_id = $1 AND schedule_date BETWEEN $2 AND $3
		ORDER BY schedule_date`, doctorID, civilDate(from), civilDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*SpecialSchedule
	for rows.Next() {
		s, err := r.scanSpecial(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *specialRepoPG) Update(ctx context.Context, s *SpecialSchedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE special_schedule SET schedule_date=$3, type=$4, start_time=$5, end_time=$6,
			break_start_time=$7, break_end_time=$8, slot_duration_minutes=$9, note=$10, updated_at=NOW()
		WHERE id = $1 AND doctor_id = $2
		RETURNING updated_at`,
		s.ID, s.DoctorID, civilDate(s.Date), string(s.Type), pgTimePtr(s.StartTime), pgTimePtr(s.EndTime),
		pgTimePtr(s.BreakStartTime), pgTimePtr(s.BreakEndTime), s.SlotDurationMinutes, s.Note,
	).Scan(&s.UpdatedAt)
	return pgErr(err, "special schedule for "+s.DateString())
}

func (r *specialRepoPG) Delete(ctx context.Context, doctorID, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM special_schedule WHERE id = $1 AND doctor_id = $2`, id, doctorID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *specialRepoPG) DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM special_schedule WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =========== Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepoPG{pool: pool}
}

func (r *templateRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const templateCols = `id, doctor_id, name, description, is_default, entries, created_at`

func (r *templateRepoPG) scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var raw []byte
	if err := row.Scan(&t.ID, &t.DoctorID, &t.Name, &t.Description, &t.IsDefault, &raw, &t.CreatedAt); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &t.Entries); err != nil {
			t.Entries = nil
			return &t, fmt.Errorf("%w: %v", ErrCorruptTemplate, err)
		}
	}
	return &t, nil
}

func (r *templateRepoPG) Create(ctx context.Context, t *Template) error {
	entries, err := json.Marshal(t.Entries)
	if err != nil {
		return fmt.Errorf("encode template entries: %w", err)
	}
	t.ID = uuid.New()
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedule_template (id, doctor_id, name, description, is_default, entries)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		t.ID, t.DoctorID, t.Name, t.Description, t.IsDefault, entries,
	).Scan(&t.CreatedAt)
	return pgErr(err, "template "+t.Name)
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := r.scanTemplate(r.conn(ctx).QueryRow(ctx, `SELECT `+templateCols+` FROM schedule_template WHERE id = $1`, id))
	if err != nil {
		return nil, pgErr(err, "template")
	}
	return t, nil
}

func (r *templateRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*Template, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+templateCols+` FROM schedule_template
		WHERE doctor_id = $1 ORDER BY name`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Template
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		// A corrupt snapshot still lists; apply reports it.
		if err != nil && !errors.Is(err, ErrCorruptTemplate) {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *templateRepoPG) ClearDefault(ctx context.Context, doctorID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE schedule_template SET is_default = FALSE
		WHERE doctor_id = $1 AND is_default`, doctorID)
	return err
}

func (r *templateRepoPG) DeleteByDoctor(ctx context.Context, doctorID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM schedule_template WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =========== Appointment Reader ===========

type appointmentReaderPG struct{ pool *pgxpool.Pool }

func NewAppointmentReaderPG(pool *pgxpool.Pool) AppointmentReader {
	return &appointmentReaderPG{pool: pool}
}

func (r *appointmentReaderPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, doctor_id, patient_id, appointment_date, appointment_time, status
		FROM appointment
		WHERE doctor_id = $1 AND appointment_date BETWEEN $2 AND $3 AND status <> $4
		ORDER BY appointment_date, appointment_time`,
		doctorID, civilDate(from), civilDate(to), AppointmentCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		var a Appointment
		var at pgtype.Time
		if err := rows.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &at, &a.Status); err != nil {
			return nil, err
		}
		a.Date = civilDate(a.Date)
		a.Time = fromPGTime(at)
		items = append(items, &a)
	}
	return items, rows.Err()
}
