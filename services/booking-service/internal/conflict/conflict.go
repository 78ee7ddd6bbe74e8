// Package conflict decides whether a candidate booking overlaps an existing one.
//
// The detector is a pure function. Callers must run it and the insert inside one transaction
// that serializes bookings for the schedule, otherwise two requests can both pass the check.
package conflict

import (
	"time"

	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/model"
)

type Candidate struct {
	ScheduleID     string
	ProfessionalID string
	Start          time.Time
	Duration       time.Duration
	// ExcludeID skips the appointment being rescheduled.
	ExcludeID string
}

func (c Candidate) End() time.Time {
	return c.Start.Add(c.Duration)
}

func HasConflict(c Candidate, existing []model.Appointment) bool {
	_, ok := FindConflict(c, existing)
	return ok
}

// FindConflict returns the earliest-listed appointment that overlaps the candidate.
func FindConflict(c Candidate, existing []model.Appointment) (model.Appointment, bool) {
	for _, a := range existing {
		if !inScope(c, a) {
			continue
		}
		if c.Start.Before(a.End()) && c.End().After(a.Start) {
			return a, true
		}
	}
	return model.Appointment{}, false
}

func inScope(c Candidate, a model.Appointment) bool {
	if a.ID != "" && a.ID == c.ExcludeID {
		return false
	}
	if a.ScheduleID != c.ScheduleID || !a.Occupies() {
		return false
	}
	if c.ProfessionalID == "" || a.ProfessionalID == "" {
		return true
	}
	return a.ProfessionalID == c.ProfessionalID
}

// Pair is two accepted appointments that overlap.
type Pair struct {
	First  model.Appointment
	Second model.Appointment
}

// Verify re-checks an accepted set against itself. An empty result means every booking would
// still pass the detector given all the others.
func Verify(accepted []model.Appointment) []Pair {
	var pairs []Pair
	for i := range accepted {
		a := accepted[i]
		if !a.Occupies() {
			continue
		}
		c := Candidate{ScheduleID: a.ScheduleID, ProfessionalID: a.ProfessionalID, Start: a.Start, Duration: a.Duration}
		for _, b := range accepted[i+1:] {
			if inScope(c, b) && c.Start.Before(b.End()) && c.End().After(b.Start) {
				pairs = append(pairs, Pair{First: a, Second: b})
			}
		}
	}
	return pairs
}
