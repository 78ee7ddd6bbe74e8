package availability

import (
	"time"

	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses half-open intervals: [a,b) overlaps [c,d) iff a < d && c < b.
func (i Interval) Overlaps(start, end time.Time) bool {
	return start.Before(i.End) && i.Start.Before(end)
}

type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// Clock renders the slot start as "HH:MM" in its own location.
func (s Slot) Clock() string {
	return model.ClockOf(s.Start).String()
}

// Generate lists candidate slots for cfg on the calendar day of date, in date's location.
//
// Slots start at the day's opening time and advance by duration+buffer until a slot would end
// after closing. A cursor landing inside the lunch window jumps straight to its end. Slots that
// intersect a block or a busy interval are kept but marked unavailable. A non-positive duration
// falls back to the schedule's slot duration. The result depends only on the arguments.
func Generate(cfg model.ScheduleConfig, date time.Time, duration time.Duration, busy []Interval) []Slot {
	if duration <= 0 {
		duration = cfg.SlotDuration
	}
	if duration <= 0 {
		return nil
	}
	hours, open := cfg.Hours(date.Weekday())
	if !open || hours.Start >= hours.End {
		return nil
	}

	dayEnd := hours.End.On(date)
	var lunchStart, lunchEnd time.Time
	if cfg.Lunch != nil {
		lunchStart, lunchEnd = cfg.Lunch.Start.On(date), cfg.Lunch.End.On(date)
	}

	var slots []Slot
	for cursor := hours.Start.On(date); ; {
		if cfg.Lunch != nil && !cursor.Before(lunchStart) && cursor.Before(lunchEnd) {
			cursor = lunchEnd
			continue
		}
		end := cursor.Add(duration)
		if end.After(dayEnd) {
			break
		}
		slots = append(slots, Slot{
			Start:     cursor,
			End:       end,
			Available: !blocked(cfg.Blocks, cursor, end) && !overlapsAny(cursor, end, busy),
		})
		cursor = end.Add(cfg.BufferTime)
	}
	return slots
}

// Find returns the slot starting at start.
func Find(slots []Slot, start time.Time) (Slot, bool) {
	for _, s := range slots {
		if s.Start.Equal(start) {
			return s, true
		}
	}
	return Slot{}, false
}

// MarkPast flags slots that start before now as unavailable.
func MarkPast(slots []Slot, now time.Time) []Slot {
	out := make([]Slot, len(slots))
	for i, s := range slots {
		if s.Start.Before(now) {
			s.Available = false
		}
		out[i] = s
	}
	return out
}

// BusyFrom turns occupying appointments into busy intervals. With a professional, only that
// professional's bookings and unassigned bookings count.
func BusyFrom(appts []model.Appointment, professionalID string) []Interval {
	var busy []Interval
	for _, a := range appts {
		if !a.Occupies() {
			continue
		}
		if professionalID != "" && a.ProfessionalID != "" && a.ProfessionalID != professionalID {
			continue
		}
		busy = append(busy, Interval{Start: a.Start, End: a.End()})
	}
	return busy
}

func blocked(blocks []model.Block, start, end time.Time) bool {
	for _, b := range blocks {
		if (Interval{Start: b.Start, End: b.End}).Overlaps(start, end) {
			return true
		}
	}
	return false
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}
