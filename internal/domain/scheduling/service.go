package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxTemplateName = 100

// legacyTemplateMarker tags the snapshot blob older clients appended to a
// template description.
const legacyTemplateMarker = "__TEMPLATE_DATA__:"

type Service struct {
	weekly       WeeklyScheduleRepository
	special      SpecialScheduleRepository
	templates    TemplateRepository
	appointments AppointmentReader
	tx           Transactor
	cache        ViewCache
	loc          *time.Location
	now          func() time.Time
	logger       zerolog.Logger
}

type Option func(*Service)

// WithLocation sets the clinic time zone used for dates and slot times.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithCache(c ViewCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(weekly WeeklyScheduleRepository, special SpecialScheduleRepository, tmpl TemplateRepository,
	appts AppointmentReader, tx Transactor, opts ...Option) *Service {
	s := &Service{
		weekly:       weekly,
		special:      special,
		templates:    tmpl,
		appointments: appts,
		tx:           tx,
		cache:        noopCache{},
		loc:          time.UTC,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the current calendar date in the clinic time zone.
func (s *Service) Today() time.Time {
	return civilDate(s.now().In(s.loc))
}

func (s *Service) Location() *time.Location { return s.loc }

func cacheScope(doctorID uuid.UUID) string { return "doctor:" + doctorID.String() }

// invalidate drops every cached view for the doctor. A failure is logged but
// does not fail the write that triggered it.
func (s *Service) invalidate(ctx context.Context, doctorID uuid.UUID) {
	if err := s.cache.Invalidate(ctx, cacheScope(doctorID)); err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("view cache invalidation failed")
	}
}

func requireDoctor(doctorID uuid.UUID) error {
	if doctorID == uuid.Nil {
		return invalidf("doctor id is required")
	}
	return nil
}

func requireDay(day int) error {
	if !validDay(day) {
		return invalidf("day of week must be between 0 (Sunday) and 6 (Saturday), got %d", day)
	}
	return nil
}

// distinctDays validates and de-duplicates days, preserving order.
func distinctDays(days []int, skip int) ([]int, error) {
	seen := make(map[int]bool, len(days))
	var out []int
	for _, d := range days {
		if err := requireDay(d); err != nil {
			return nil, err
		}
		if d == skip || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out, nil
}

// -- Weekly Schedule --

func (s *Service) GetWeeklySchedule(ctx context.Context, doctorID uuid.UUID) ([]*WeeklySchedule, error) {
	if err := requireDoctor(doctorID); err != nil {
		return nil, err
	}
	items, err := s.weekly.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, storageErr("list weekly schedule", err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].DayOfWeek < items[j].DayOfWeek })
	return items, nil
}

func (s *Service) UpsertWeeklySchedule(ctx context.Context, doctorID uuid.UUID, day int, rule Rule) (*WeeklySchedule, error) {
	if err := requireDoctor(doctorID); err != nil {
		return nil, err
	}
	if err := requireDay(day); err != nil {
		return nil, err
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	ws := &WeeklySchedule{DoctorID: doctorID, DayOfWeek: day, Rule: rule}
	if err := s.weekly.Upsert(ctx, ws); err != nil {
		return nil, storageErr("save weekly schedule", err)
	}
	s.invalidate(ctx, doctorID)
	s.logger.Info().Str("doctor_id", doctorID.String()).Int("day", day).Msg("weekly schedule saved")
	return ws, nil
}

func (s *Service) DeleteWeeklySchedule(ctx context.Context, doctorID uuid.UUID, day int) error {
	if err := requireDoctor(doctorID); err != nil {
		return err
	}
	if err := requireDay(day); err != nil {
		return err
	}
	deleted, err := s.weekly.DeleteByDay(ctx, doctorID, day)
	if err != nil {
		return storageErr("delete weekly schedule", err)
	}
	if !deleted {
		return notFoundf("no schedule found for %s", DayName(day))
	}
	s.invalidate(ctx, doctorID)
	s.logger.Info().Str("doctor_id", doctorID.String()).Int("day", day).Msg("weekly schedule deleted")
	return nil
}

// CopyWeeklySchedule overwrites each target day with the source day's rule
// and returns how many days were written. The source day itself is skipped
// if listed.
func (s *Service) CopyWeeklySchedule(ctx context.Context, doctorID uuid.UUID, sourceDay int, targetDays []int) (int, error) {
	if err := requireDoctor(doctorID); err != nil {
		return 0, err
	}
	if err := requireDay(sourceDay); err != nil {
		return 0, err
	}
	targets, err := distinctDays(targetDays, sourceDay)
	if err != nil {
		return 0, err
	}
	if len(targets) == 0 {
		return 0, invalidf("at least one target day other than %s is required", DayName(sourceDay))
	}

	src, err := s.weekly.GetByDay(ctx, doctorID, sourceDay)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, notFoundf("no schedule found for %s", DayName(sourceDay))
		}
		return 0, storageErr("read source schedule", err)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, day := range targets {
			ws := &WeeklySchedule{DoctorID: doctorID, DayOfWeek: day, Rule: src.Rule}
			if err := s.weekly.Upsert(ctx, ws); err != nil {
				return storageErr("copy weekly schedule", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, doctorID)
	s.logger.Info().Str("doctor_id", doctorID.String()).Int("source_day", sourceDay).
		Ints("target_days", targets).Msg("weekly schedule copied")
	return len(targets), nil
}

// BulkUpdate writes the same rule to every listed day in one transaction.
func (s *Service) BulkUpdate(ctx context.Context, doctorID uuid.UUID, days []int, rule Rule) ([]*WeeklySchedule, error) {
	if err := requireDoctor(doctorID); err != nil {
		return nil, err
	}
	targets, err := distinctDays(days, -1)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, invalidf("at least one day is required")
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	var saved []*WeeklySchedule
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		saved = saved[:0]
		for _, day := range targets {
			ws := &WeeklySchedule{DoctorID: doctorID, DayOfWeek: day, Rule: rule}
			if err := s.weekly.Upsert(ctx, ws); err != nil {
				return storageErr("bulk update weekly schedule", err)
			}
			saved = append(saved, ws)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, doctorID)
	s.logger.Info().Str("doctor_id", doctorID.String()).Ints("days", targets).Msg("weekly schedule bulk updated")
	return saved, nil
}

// -- Special Schedule --

// parseSpecialInput turns client strings into a SpecialSchedule. Every
// problem is collected so the caller sees them all at once.
func parseSpecialInput(doctorID uuid.UUID, in SpecialScheduleInput) (*SpecialSchedule, error) {
	var problems []string
	sp := &SpecialSchedule{DoctorID: doctorID}

	if strings.TrimSpace(in.Date) == "" {
		problems = append(problems, "date is required")
	} else if d, err := ParseDate(in.Date); err != nil {
		problems = append(problems, err.Error())
	} else {
		sp.Date = d
	}

	if typ, ok := ParseSpecialType(in.Type); ok {
		sp.Type = typ
	} else {
		problems = append(problems, fmt.Sprintf("invalid type %q", in.Type))
	}

	parseOpt := func(field, raw string) *TimeOfDay {
		if strings.TrimSpace(raw) == "" {
			return nil
		}
		t, err := ParseTimeOfDay(raw)
		if err != nil {
			problems = append(problems, field+": "+err.Error())
			return nil
		}
		return &t
	}
	sp.StartTime = parseOpt("start_time", in.StartTime)
	sp.EndTime = parseOpt("end_time", in.EndTime)
	sp.BreakStartTime = parseOpt("break_start_time", in.BreakStartTime)
	sp.BreakEndTime = parseOpt("break_end_time", in.BreakEndTime)

	sp.SlotDurationMinutes = in.SlotDurationMinutes
	if sp.SlotDurationMinutes == 0 {
		sp.SlotDurationMinutes = DefaultSlotDuration
	}
	if note := strings.TrimSpace(in.Note); note != "" {
		sp.Note = &note
	}

	if len(problems) > 0 {
		return nil, invalidf("%s", strings.Join(problems, "; "))
	}

	hasStart, hasEnd := strings.TrimSpace(in.StartTime) != "", strings.TrimSpace(in.EndTime) != ""
	switch {
	case hasStart != hasEnd:
		return nil, invalidf("start_time and end_time must be given together")
	case sp.Type == SpecialCustomHours && !hasStart:
		return nil, invalidf("custom_hours requires start_time and end_time")
	}
	if sp.HasHours() {
		rule, _ := sp.Rule()
		if err := rule.Validate(); err != nil {
			return nil, err
		}
	} else {
		if sp.BreakStartTime != nil || sp.BreakEndTime != nil {
			return nil, invalidf("break times need working hours")
		}
		if sp.SlotDurationMinutes < MinSlotDuration || sp.SlotDurationMinutes > MaxSlotDuration {
			return nil, invalidf("slot duration must be between %d and %d minutes", MinSlotDuration, MaxSlotDuration)
		}
	}
	return sp, nil
}

func (s *Service) ListSpecialSchedules(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*SpecialSchedule, error) {
	if err := requireDoctor(doctorID); err != nil {
		return nil, err
	}
	from, to = civilDate(from), civilDate(to)
	if to.Before(from) {
		return nil, invalidf("range end %s is before start %s", dateKey(to), dateKey(from))
	}
	items, err := s.special.ListByDoctor(ctx, doctorID, from, to)
	if err != nil {
		return nil, storageErr("list special schedules", err)
	}
	return items, nil
}

func (s *Service) CreateSpecialSchedule(ctx context.Context, doctorID uuid.UUID, in SpecialScheduleInput) (*SpecialSchedule, error) {
	if err := requireDoctor(doctorID); err != nil {
		return nil, err
	}
	sp, err := parseSpecialInput(doctorID, in)
	if err != nil {
		return nil, err
	}

	existing, err := s.special.GetByDate(ctx, doctorID, sp.Date)
	switch {
	case err == nil && existing != nil:
		return nil, conflictf("a special schedule already exists for %s", sp.DateString())
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, storageErr("check special schedule", err)
	}

	if err := s.special.Create(ctx, sp); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, conflictf("a special schedule already exists for %s", sp.DateString())
		}
		return nil, storageErr("create special schedule", err)
	}
	s.invalidate(ctx, doctorID)
	s.logger.Info().Str("doctor_id", doctorID.String()).Str("date", sp.DateString()).
		Str("type", string(sp.Type)).Msg("special schedule created")
	return sp, nil
}

func (s *Service) UpdateSpecialSchedule(ctx context.Context, doctorID, id uuid.UUID, in SpecialScheduleInput) (*SpecialSchedule, error) {
	if err := requireDoctor(doctorID); err != nil {
		return nil, err
	}
	sp, err := parseSpecialInput(doctorID, in)
	if err != nil {
		return nil, err
	}

	current, err := s.special.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFoundf("special schedule not found")
		}
		return nil, storageErr("read special schedule", err)
	}
	if current.DoctorID != doctorID {
		return nil, notFoundf("special schedule not found")
	}

	if !sp.Date.Equal(current.Date) {
		other, err := s.special.GetByDate(ctx, doctorID, sp.Date)
		switch {
		case err == nil && other != nil && other.ID != id:
			return nil, conflictf("a special schedule already exists for %s", sp.DateString())
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, storageErr("check special schedule", err)
		}
	}

	sp.ID = current.ID
	sp.CreatedAt = current.CreatedAt
	if err := s.special.Update(ctx, sp); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, conflictf("a special schedule already exists for %s", sp.DateString())
		}
		if errors.Is(err, ErrNotFound) {
			return nil, notFoundf("special schedule not found")
		}
		return nil, storageErr("update special schedule", err)
	}
	s.invalidate(ctx, doctorID)
	s.logger.Info().Str("doctor_id", doctorID.String()).Str("special_id", id.String()).Msg("special schedule updated")
	return sp, nil
}

func (s *Service) DeleteSpecialSchedule(ctx context.Context, doctorID, id uuid.UUID) error {
	if err := requireDoctor(doctorID); err != nil {
		return err
	}
	deleted, err := s.special.Delete(ctx, doctorID, id)
	if err != nil {
		return storageErr("delete special schedule", err)
	}
	if !deleted {
		return notFoundf("special schedule not found")
	}
	s.invalidate(ctx, doctorID)
	s.logger.Info().Str("doctor_id", doctorID.String()).Str("special_id", id.String()).Msg("special schedule deleted")
	return nil
}

// -- Templates --

// SaveTemplate snapshots the doctor's current weekly rows under a name. When
// isDefault is set any previous default is cleared in the same transaction.
func (s *Service) SaveTemplate(ctx context.Context, doctorID uuid.UUID, name, description string, isDefault bool) (*Template, error) {
	if err := requireDoctor(doctorID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidf("template name is required")
	}
	if len([]rune(name)) > maxTemplateName {
		return nil, invalidf("template name must be at most %d characters", maxTemplateName)
	}

	rows, err := s.weekly.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, storageErr("read weekly schedule", err)
	}
	if len(rows) == 0 {
		return nil, invalidf("no weekly schedules to save as a template")
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].DayOfWeek < rows[j].DayOfWeek })

	t := &Template{
		DoctorID:    doctorID,
		Name:        name,
		Description: cleanDescription(description),
		IsDefault:   isDefault,
		Entries:     make([]TemplateEntry, 0, len(rows)),
	}
	for _, w := range rows {
		t.Entries = append(t.Entries, TemplateEntry{DayOfWeek: w.DayOfWeek, Rule: w.Rule})
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if isDefault {
			if err := s.templates.ClearDefault(ctx, doctorID); err != nil {
				return storageErr("clear default template", err)
			}
		}
		if err := s.templates.Create(ctx, t); err != nil {
			return storageErr("create template", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", doctorID.String()).Str("template_id", t.ID.String()).
		Int("days", len(t.Entries)).Msg("schedule template saved")
	return t, nil
}

// ApplyTemplate replaces the doctor's weekly rows with the template's
// snapshot. The delete and the re-inserts commit together or not at all.
func (s *Service) ApplyTemplate(ctx context.Context, doctorID, templateID uuid.UUID) (int, error) {
	if err := requireDoctor(doctorID); err != nil {
		return 0, err
	}
	t, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, ErrCorruptTemplate) {
			return 0, ErrCorruptTemplate
		}
		if errors.Is(err, ErrNotFound) {
			return 0, notFoundf("template not found")
		}
		return 0, storageErr("read template", err)
	}
	if t.DoctorID != doctorID {
		return 0, notFoundf("template not found")
	}
	if len(t.Entries) == 0 {
		return 0, ErrCorruptTemplate
	}
	seen := make(map[int]bool, len(t.Entries))
	for _, e := range t.Entries {
		if !validDay(e.DayOfWeek) || seen[e.DayOfWeek] || e.Rule.Validate() != nil {
			return 0, ErrCorruptTemplate
		}
		seen[e.DayOfWeek] = true
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.weekly.DeleteByDoctor(ctx, doctorID); err != nil {
			return storageErr("clear weekly schedule", err)
		}
		for _, e := range t.Entries {
			tid := t.ID
			ws := &WeeklySchedule{DoctorID: doctorID, DayOfWeek: e.DayOfWeek, TemplateID: &tid, Rule: e.Rule}
			if err := s.weekly.Upsert(ctx, ws); err != nil {
				return storageErr("apply template", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, doctorID)
	s.logger.Info().Str("doctor_id", doctorID.String()).Str("template_id", t.ID.String()).
		Int("days", len(t.Entries)).Msg("schedule template applied")
	return len(t.Entries), nil
}

func (s *Service) ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]TemplateSummary, error) {
	if err := requireDoctor(doctorID); err != nil {
		return nil, err
	}
	items, err := s.templates.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, storageErr("list templates", err)
	}
	out := make([]TemplateSummary, 0, len(items))
	for _, t := range items {
		out = append(out, TemplateSummary{
			ID:          t.ID,
			Name:        t.Name,
			Description: cleanDescription(t.Description),
			IsDefault:   t.IsDefault,
			DayCount:    len(t.Entries),
			CreatedAt:   t.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// cleanDescription removes a legacy snapshot blob and surrounding space.
func cleanDescription(desc string) string {
	if i := strings.Index(desc, legacyTemplateMarker); i >= 0 {
		desc = desc[:i]
	}
	return strings.TrimSpace(desc)
}

// ClearAll removes every weekly row, special schedule and template of the
// doctor in one transaction.
func (s *Service) ClearAll(ctx context.Context, doctorID uuid.UUID) (ClearResult, error) {
	var res ClearResult
	if err := requireDoctor(doctorID); err != nil {
		return res, err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if res.WeeklySchedules, err = s.weekly.DeleteByDoctor(ctx, doctorID); err != nil {
			return storageErr("clear weekly schedule", err)
		}
		if res.SpecialSchedules, err = s.special.DeleteByDoctor(ctx, doctorID); err != nil {
			return storageErr("clear special schedules", err)
		}
		if res.Templates, err = s.templates.DeleteByDoctor(ctx, doctorID); err != nil {
			return storageErr("clear templates", err)
		}
		return nil
	})
	if err != nil {
		return ClearResult{}, err
	}
	s.invalidate(ctx, doctorID)
	s.logger.Info().Str("doctor_id", doctorID.String()).Int("weekly", res.WeeklySchedules).
		Int("special", res.SpecialSchedules).Int("templates", res.Templates).Msg("schedules cleared")
	return res, nil
}

// -- Views --

// GetDailyView resolves the rule for date and generates its slots.
func (s *Service) GetDailyView(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DailyView, error) {
	if err := requireDoctor(doctorID); err != nil {
		return nil, err
	}
	day := civilDate(date)

	weekly, err := s.GetWeeklySchedule(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	var specials []*SpecialSchedule
	sp, err := s.special.GetByDate(ctx, doctorID, day)
	switch {
	case err == nil:
		specials = append(specials, sp)
	case !errors.Is(err, ErrNotFound):
		return nil, storageErr("read special schedule", err)
	}
	appts, err := s.appointments.ListByDoctor(ctx, doctorID, day, day)
	if err != nil {
		return nil, storageErr("read appointments", err)
	}

	res := newScheduleIndex(weekly, specials).resolve(day)
	view := &DailyView{
		DoctorID:        doctorID,
		Date:            dateKey(day),
		DayOfWeek:       int(day.Weekday()),
		DayName:         DayName(int(day.Weekday())),
		Source:          res.Source,
		IsOpen:          res.Open,
		SpecialSchedule: res.Special,
		WeeklySchedules: weekly,
		TimeSlots:       []TimeSlot{},
	}
	if view.WeeklySchedules == nil {
		view.WeeklySchedules = []*WeeklySchedule{}
	}
	if res.Source == SourceWeekly || res.Open {
		rule := res.Rule
		view.Rule = &rule
	}
	if res.Open {
		view.TimeSlots = GenerateSlots(day, res.Rule, s.loc, appts, s.now())
	}
	view.TotalSlots = len(view.TimeSlots)
	view.BookedSlots, view.AvailableSlots = countSlots(view.TimeSlots)
	return view, nil
}

// GetMonthlyView builds the calendar grid and stats for month. Results are
// cached per doctor until the doctor's next write or the cache TTL.
func (s *Service) GetMonthlyView(ctx context.Context, doctorID uuid.UUID, month time.Time) (*MonthlyView, error) {
	if err := requireDoctor(doctorID); err != nil {
		return nil, err
	}
	first, last := monthBounds(month)
	today := s.Today()
	scope := cacheScope(doctorID)
	key := fmt.Sprintf("monthly:%s:%s", first.Format("2006-01"), dateKey(today))

	var cached MonthlyView
	if hit, err := s.cache.Get(ctx, scope, key, &cached); err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("view cache read failed")
	} else if hit {
		return &cached, nil
	}

	gridStart, gridEnd := gridBounds(first)
	weekly, err := s.GetWeeklySchedule(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	specials, err := s.special.ListByDoctor(ctx, doctorID, gridStart, gridEnd)
	if err != nil {
		return nil, storageErr("list special schedules", err)
	}
	appts, err := s.appointments.ListByDoctor(ctx, doctorID, gridStart, gridEnd)
	if err != nil {
		return nil, storageErr("read appointments", err)
	}

	ix := newScheduleIndex(weekly, specials)
	counts := countByDate(appts)

	inMonth := make([]*SpecialSchedule, 0, len(specials))
	for _, sp := range specials {
		if !sp.Date.Before(first) && !sp.Date.After(last) {
			inMonth = append(inMonth, sp)
		}
	}
	if weekly == nil {
		weekly = []*WeeklySchedule{}
	}

	view := &MonthlyView{
		DoctorID:         doctorID,
		Month:            first.Format("2006-01"),
		CalendarDays:     buildCalendar(first, today, ix, counts),
		WeeklySchedules:  weekly,
		SpecialSchedules: inMonth,
		Stats:            monthlyStats(first, ix, counts),
	}
	if err := s.cache.Set(ctx, scope, key, view); err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("view cache write failed")
	}
	return view, nil
}
