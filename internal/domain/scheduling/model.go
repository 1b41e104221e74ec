package scheduling

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MinSlotDuration     = 15
	MaxSlotDuration     = 120
	DefaultSlotDuration = 30
)

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// DayName returns the English weekday name for a 0=Sunday day index.
func DayName(day int) string {
	if day < 0 || day > 6 {
		return "unknown day"
	}
	return dayNames[day]
}

func validDay(day int) bool { return day >= 0 && day <= 6 }

// Rule describes working hours for one day.
type Rule struct {
	StartTime           TimeOfDay  `json:"start_time"`
	EndTime             TimeOfDay  `json:"end_time"`
	BreakStartTime      *TimeOfDay `json:"break_start_time,omitempty"`
	BreakEndTime        *TimeOfDay `json:"break_end_time,omitempty"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	IsAvailable         bool       `json:"is_available"`
}

func (r Rule) HasBreak() bool {
	return r.BreakStartTime != nil && r.BreakEndTime != nil
}

// Validate checks the rule's internal consistency.
func (r Rule) Validate() error {
	if !r.StartTime.Valid() || !r.EndTime.Valid() {
		return invalidf("start and end time must be within a single day")
	}
	if r.StartTime >= r.EndTime {
		return invalidf("start time %s must be before end time %s", r.StartTime, r.EndTime)
	}
	if (r.BreakStartTime == nil) != (r.BreakEndTime == nil) {
		return invalidf("break start and break end must be given together")
	}
	if r.HasBreak() {
		bs, be := *r.BreakStartTime, *r.BreakEndTime
		if bs >= be {
			return invalidf("break start %s must be before break end %s", bs, be)
		}
		if bs < r.StartTime || be > r.EndTime {
			return invalidf("break %s-%s must fall within working hours %s-%s", bs, be, r.StartTime, r.EndTime)
		}
	}
	if r.SlotDurationMinutes < MinSlotDuration || r.SlotDurationMinutes > MaxSlotDuration {
		return invalidf("slot duration must be between %d and %d minutes", MinSlotDuration, MaxSlotDuration)
	}
	return nil
}

// WorkingMinutes is the span from start to end less the break.
func (r Rule) WorkingMinutes() int {
	total := int(r.EndTime - r.StartTime)
	if r.HasBreak() {
		total -= int(*r.BreakEndTime - *r.BreakStartTime)
	}
	if total < 0 {
		return 0
	}
	return total
}

// SlotCapacity is the number of whole slots the working minutes can hold.
func (r Rule) SlotCapacity() int {
	if !r.IsAvailable || r.SlotDurationMinutes <= 0 {
		return 0
	}
	return r.WorkingMinutes() / r.SlotDurationMinutes
}

type WeeklySchedule struct {
	ID         uuid.UUID  `json:"id"`
	DoctorID   uuid.UUID  `json:"doctor_id"`
	DayOfWeek  int        `json:"day_of_week"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
	Rule
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w WeeklySchedule) DayName() string { return DayName(w.DayOfWeek) }

type SpecialType string

const (
	SpecialHoliday     SpecialType = "holiday"
	SpecialVacation    SpecialType = "vacation"
	SpecialConference  SpecialType = "conference"
	SpecialEmergency   SpecialType = "emergency"
	SpecialCustomHours SpecialType = "custom_hours"
)

// ParseSpecialType accepts the canonical names plus the camel-case spelling
// of custom hours.
func ParseSpecialType(s string) (SpecialType, bool) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	switch norm {
	case "holiday":
		return SpecialHoliday, true
	case "vacation":
		return SpecialVacation, true
	case "conference":
		return SpecialConference, true
	case "emergency":
		return SpecialEmergency, true
	case "customhours":
		return SpecialCustomHours, true
	}
	return "", false
}

type SpecialSchedule struct {
	ID                  uuid.UUID   `json:"id"`
	DoctorID            uuid.UUID   `json:"doctor_id"`
	Date                time.Time   `json:"-"`
	Type                SpecialType `json:"type"`
	StartTime           *TimeOfDay  `json:"start_time,omitempty"`
	EndTime             *TimeOfDay  `json:"end_time,omitempty"`
	BreakStartTime      *TimeOfDay  `json:"break_start_time,omitempty"`
	BreakEndTime        *TimeOfDay  `json:"break_end_time,omitempty"`
	SlotDurationMinutes int         `json:"slot_duration_minutes"`
	Note                *string     `json:"note,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// DateString is the calendar date in YYYY-MM-DD form.
func (s SpecialSchedule) DateString() string { return dateKey(s.Date) }

// HasHours reports whether the override opens the day.
func (s SpecialSchedule) HasHours() bool {
	return s.StartTime != nil && s.EndTime != nil
}

// Rule returns the working hours the override imposes. The second value is
// false when the day is closed.
func (s SpecialSchedule) Rule() (Rule, bool) {
	if !s.HasHours() {
		return Rule{}, false
	}
	return Rule{
		StartTime:           *s.StartTime,
		EndTime:             *s.EndTime,
		BreakStartTime:      s.BreakStartTime,
		BreakEndTime:        s.BreakEndTime,
		SlotDurationMinutes: s.SlotDurationMinutes,
		IsAvailable:         true,
	}, true
}

func (s SpecialSchedule) MarshalJSON() ([]byte, error) {
	type alias SpecialSchedule
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias(s), s.DateString()})
}

func (s *SpecialSchedule) UnmarshalJSON(b []byte) error {
	type alias SpecialSchedule
	aux := struct {
		*alias
		Date string `json:"date"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.Date != "" {
		d, err := ParseDate(aux.Date)
		if err != nil {
			return err
		}
		s.Date = d
	}
	return nil
}

// SpecialScheduleInput carries an override as submitted by a client.
type SpecialScheduleInput struct {
	Date                string `json:"date"`
	Type                string `json:"type"`
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	BreakStartTime      string `json:"break_start_time"`
	BreakEndTime        string `json:"break_end_time"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	Note                string `json:"note"`
}

// TemplateEntry is one day of a template snapshot.
type TemplateEntry struct {
	DayOfWeek int `json:"day_of_week"`
	Rule
}

type Template struct {
	ID          uuid.UUID       `json:"id"`
	DoctorID    uuid.UUID       `json:"doctor_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	IsDefault   bool            `json:"is_default"`
	Entries     []TemplateEntry `json:"entries"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TemplateSummary is the listing form of a template.
type TemplateSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsDefault   bool      `json:"is_default"`
	DayCount    int       `json:"day_count"`
	CreatedAt   time.Time `json:"created_at"`
}

const AppointmentCancelled = "cancelled"

// Appointment is read from the booking tables; the engine never writes it.
type Appointment struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Date      time.Time `json:"-"`
	Time      TimeOfDay `json:"time"`
	Status    string    `json:"status"`
}

type TimeSlot struct {
	DateTime      time.Time  `json:"date_time"`
	Time          string     `json:"time"`
	IsAvailable   bool       `json:"is_available"`
	IsBooked      bool       `json:"is_booked"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

// RuleSource names where a day's effective rule came from.
type RuleSource string

const (
	SourceNone    RuleSource = "none"
	SourceWeekly  RuleSource = "weekly"
	SourceSpecial RuleSource = "special"
)

type DailyView struct {
	DoctorID        uuid.UUID         `json:"doctor_id"`
	Date            string            `json:"date"`
	DayOfWeek       int               `json:"day_of_week"`
	DayName         string            `json:"day_name"`
	Source          RuleSource        `json:"source"`
	IsOpen          bool              `json:"is_open"`
	Rule            *Rule             `json:"rule,omitempty"`
	SpecialSchedule *SpecialSchedule  `json:"special_schedule,omitempty"`
	WeeklySchedules []*WeeklySchedule `json:"weekly_schedules"`
	TimeSlots       []TimeSlot        `json:"time_slots"`
	TotalSlots      int               `json:"total_slots"`
	BookedSlots     int               `json:"booked_slots"`
	AvailableSlots  int               `json:"available_slots"`
}

type CalendarDay struct {
	Date               string `json:"date"`
	Day                int    `json:"day"`
	DayOfWeek          int    `json:"day_of_week"`
	InMonth            bool   `json:"in_month"`
	IsToday            bool   `json:"is_today"`
	HasSchedule        bool   `json:"has_schedule"`
	HasSpecialSchedule bool   `json:"has_special_schedule"`
	AppointmentCount   int    `json:"appointment_count"`
}

type MonthlyStats struct {
	TotalWorkingDays    int     `json:"total_working_days"`
	TotalAppointments   int     `json:"total_appointments"`
	TotalAvailableSlots int     `json:"total_available_slots"`
	BookingRate         float64 `json:"booking_rate"`
}

type MonthlyView struct {
	DoctorID         uuid.UUID          `json:"doctor_id"`
	Month            string             `json:"month"`
	CalendarDays     []CalendarDay      `json:"calendar_days"`
	WeeklySchedules  []*WeeklySchedule  `json:"weekly_schedules"`
	SpecialSchedules []*SpecialSchedule `json:"special_schedules"`
	Stats            MonthlyStats       `json:"stats"`
}

// ClearResult reports how many records a clear-all removed.
type ClearResult struct {
	WeeklySchedules  int `json:"weekly_schedules"`
	SpecialSchedules int `json:"special_schedules"`
	Templates        int `json:"templates"`
}
