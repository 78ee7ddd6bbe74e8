package model

import (
	"fmt"
	"strings"
)

// Status is the closed set of appointment states. Any status may be set by an operator.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// occupancy maps each status to whether it holds its time range against other bookings
// and counts toward the monthly plan quota.
var occupancy = map[Status]bool{
	StatusScheduled:  true,
	StatusConfirmed:  true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusCancelled:  false,
	StatusNoShow:     false,
}

func (s Status) Valid() bool {
	_, ok := occupancy[s]
	return ok
}

func (s Status) OccupiesTime() bool {
	return occupancy[s]
}

func (s Status) String() string { return string(s) }

// ParseStatus accepts the canonical names plus the upper-case and hyphenated spellings
// used by older clients ("IN-PROGRESS", "NO_SHOW").
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	if !s.Valid() {
		return "", fmt.Errorf("unknown appointment status %q", raw)
	}
	return s, nil
}

// NonOccupying lists the statuses excluded from conflict and quota accounting.
func NonOccupying() []Status {
	var out []Status
	for _, s := range []Status{StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow} {
		if !s.OccupiesTime() {
			out = append(out, s)
		}
	}
	return out
}
