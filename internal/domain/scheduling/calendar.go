package scheduling

import (
	"math"
	"time"
)

// resolution is the effective rule for one date.
type resolution struct {
	Source  RuleSource
	Rule    Rule
	Open    bool
	Weekly  *WeeklySchedule
	Special *SpecialSchedule
}

// scheduleIndex answers "what rule applies on this date" for one doctor.
type scheduleIndex struct {
	weekly  map[int]*WeeklySchedule
	special map[string]*SpecialSchedule
}

func newScheduleIndex(weekly []*WeeklySchedule, special []*SpecialSchedule) scheduleIndex {
	ix := scheduleIndex{
		weekly:  make(map[int]*WeeklySchedule, len(weekly)),
		special: make(map[string]*SpecialSchedule, len(special)),
	}
	for _, w := range weekly {
		ix.weekly[w.DayOfWeek] = w
	}
	for _, s := range special {
		ix.special[s.DateString()] = s
	}
	return ix
}

// resolve applies the override order: a special schedule for the date wins
// over the weekly row for its weekday.
func (ix scheduleIndex) resolve(date time.Time) resolution {
	if sp, ok := ix.special[dateKey(date)]; ok {
		rule, open := sp.Rule()
		return resolution{Source: SourceSpecial, Rule: rule, Open: open, Special: sp}
	}
	if w, ok := ix.weekly[int(date.Weekday())]; ok {
		return resolution{Source: SourceWeekly, Rule: w.Rule, Open: w.IsAvailable, Weekly: w}
	}
	return resolution{Source: SourceNone}
}

// monthBounds returns the first and last calendar day of month's month.
func monthBounds(month time.Time) (first, last time.Time) {
	first = time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first, first.AddDate(0, 1, -1)
}

// gridBounds widens a month to whole Sunday-to-Saturday weeks.
func gridBounds(month time.Time) (start, end time.Time) {
	first, last := monthBounds(month)
	start = first.AddDate(0, 0, -int(first.Weekday()))
	end = last.AddDate(0, 0, int(time.Saturday-last.Weekday()))
	return start, end
}

func countByDate(appts []*Appointment) map[string]int {
	counts := make(map[string]int)
	for _, a := range appts {
		if a.Status == AppointmentCancelled {
			continue
		}
		counts[dateKey(a.Date)]++
	}
	return counts
}

func buildCalendar(month, today time.Time, ix scheduleIndex, apptCounts map[string]int) []CalendarDay {
	start, end := gridBounds(month)
	todayKey := dateKey(today)
	var days []CalendarDay
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := dateKey(d)
		w, hasWeekly := ix.weekly[int(d.Weekday())]
		_, hasSpecial := ix.special[key]
		days = append(days, CalendarDay{
			Date:               key,
			Day:                d.Day(),
			DayOfWeek:          int(d.Weekday()),
			InMonth:            d.Month() == month.Month() && d.Year() == month.Year(),
			IsToday:            key == todayKey,
			HasSchedule:        hasWeekly && w.IsAvailable,
			HasSpecialSchedule: hasSpecial,
			AppointmentCount:   apptCounts[key],
		})
	}
	return days
}

func monthlyStats(month time.Time, ix scheduleIndex, apptCounts map[string]int) MonthlyStats {
	first, last := monthBounds(month)
	var stats MonthlyStats
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		stats.TotalAppointments += apptCounts[dateKey(d)]
		res := ix.resolve(d)
		// Any special schedule makes the date a working day; one without
		// hours contributes no slots.
		if res.Source != SourceSpecial && !res.Open {
			continue
		}
		stats.TotalWorkingDays++
		if res.Open {
			stats.TotalAvailableSlots += res.Rule.SlotCapacity()
		}
	}
	stats.BookingRate = bookingRate(stats.TotalAppointments, stats.TotalAvailableSlots)
	return stats
}

// bookingRate is booked/available as a percentage rounded to one decimal,
// zero when nothing was available.
func bookingRate(booked, available int) float64 {
	if available <= 0 {
		return 0
	}
	return math.Round(float64(booked)/float64(available)*1000) / 10
}
