package model

import (
	"errors"
	"fmt"
	"time"
)

// Window is a half-open [Start, End) range of wall-clock time.
type Window struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

func (w Window) Contains(c Clock) bool {
	return c >= w.Start && c < w.End
}

// DayOverride replaces the regular hours for one weekday.
type DayOverride struct {
	Closed bool  `json:"closed"`
	Start  Clock `json:"start"`
	End    Clock `json:"end"`
}

// Block marks a date range unavailable regardless of working hours.
type Block struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason string    `json:"reason,omitempty"`
}

type ScheduleConfig struct {
	ID             string                       `json:"id"`
	TenantID       string                       `json:"tenant_id"`
	Name           string                       `json:"name"`
	ProfessionalID string                       `json:"professional_id,omitempty"`
	WorkingDays    []time.Weekday               `json:"working_days"`
	Start          Clock                        `json:"start"`
	End            Clock                        `json:"end"`
	SlotDuration   time.Duration                `json:"slot_duration"`
	BufferTime     time.Duration                `json:"buffer_time"`
	Lunch          *Window                      `json:"lunch,omitempty"`
	Overrides      map[time.Weekday]DayOverride `json:"overrides,omitempty"`
	Blocks         []Block                      `json:"blocks,omitempty"`
}

var ErrInvalidSchedule = errors.New("invalid schedule")

func (s ScheduleConfig) Validate() error {
	if s.Start >= s.End {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidSchedule, s.Start, s.End)
	}
	if s.SlotDuration <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidSchedule)
	}
	if s.BufferTime < 0 {
		return fmt.Errorf("%w: buffer time must not be negative", ErrInvalidSchedule)
	}
	for _, d := range s.WorkingDays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidSchedule, d)
		}
	}
	if s.Lunch != nil {
		if s.Lunch.Start >= s.Lunch.End || s.Lunch.Start < s.Start || s.Lunch.End > s.End {
			return fmt.Errorf("%w: lunch %s-%s must lie within %s-%s", ErrInvalidSchedule, s.Lunch.Start, s.Lunch.End, s.Start, s.End)
		}
	}
	for day, o := range s.Overrides {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("%w: override weekday %d out of range", ErrInvalidSchedule, day)
		}
		if !o.Closed && o.Start >= o.End {
			return fmt.Errorf("%w: override for %s must have start before end", ErrInvalidSchedule, day)
		}
	}
	for _, b := range s.Blocks {
		if !b.End.After(b.Start) {
			return fmt.Errorf("%w: block %q must end after it starts", ErrInvalidSchedule, b.Reason)
		}
	}
	return nil
}

// Hours resolves the working window for weekday. An override wins over WorkingDays.
func (s ScheduleConfig) Hours(day time.Weekday) (Window, bool) {
	if o, ok := s.Overrides[day]; ok {
		if o.Closed {
			return Window{}, false
		}
		return Window{Start: o.Start, End: o.End}, true
	}
	for _, d := range s.WorkingDays {
		if d == day {
			return Window{Start: s.Start, End: s.End}, true
		}
	}
	return Window{}, false
}
