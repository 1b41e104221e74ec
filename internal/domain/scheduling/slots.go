package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// GenerateSlots walks a rule from start to end in slot-sized steps, skipping
// steps inside the break window. A slot is booked when an appointment starts
// at exactly that time, and available when it lies after now. The result is
// never nil.
func GenerateSlots(date time.Time, rule Rule, loc *time.Location, appts []*Appointment, now time.Time) []TimeSlot {
	slots := []TimeSlot{}
	if !rule.IsAvailable || rule.SlotDurationMinutes <= 0 {
		return slots
	}
	if loc == nil {
		loc = time.UTC
	}

	booked := make(map[TimeOfDay]uuid.UUID, len(appts))
	day := dateKey(date)
	for _, a := range appts {
		if a.Status == AppointmentCancelled || dateKey(a.Date) != day {
			continue
		}
		if _, seen := booked[a.Time]; !seen {
			booked[a.Time] = a.ID
		}
	}

	step := TimeOfDay(rule.SlotDurationMinutes)
	for cur := rule.StartTime; cur < rule.EndTime; cur += step {
		if rule.HasBreak() && cur >= *rule.BreakStartTime && cur < *rule.BreakEndTime {
			continue
		}
		at := cur.On(date, loc)
		slot := TimeSlot{
			DateTime:    at,
			Time:        cur.String(),
			IsAvailable: at.After(now),
		}
		if id, ok := booked[cur]; ok {
			slot.IsBooked = true
			slot.AppointmentID = &id
		}
		slots = append(slots, slot)
	}
	return slots
}

// countSlots returns booked and bookable (available and not booked) totals.
func countSlots(slots []TimeSlot) (booked, open int) {
	for _, s := range slots {
		if s.IsBooked {
			booked++
		} else if s.IsAvailable {
			open++
		}
	}
	return booked, open
}
