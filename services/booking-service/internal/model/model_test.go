package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestStatusOccupancy(t *testing.T) {
	occupying := []Status{StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted}
	for _, s := range occupying {
		if !s.OccupiesTime() {
			t.Fatalf("%s should occupy time", s)
		}
	}
	for _, s := range []Status{StatusCancelled, StatusNoShow, Status("bogus")} {
		if s.OccupiesTime() {
			t.Fatalf("%s should not occupy time", s)
		}
	}
	if got := NonOccupying(); len(got) != 2 {
		t.Fatalf("expected 2 non-occupying statuses, got %v", got)
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"scheduled":   StatusScheduled,
		"IN-PROGRESS": StatusInProgress,
		"NO_SHOW":     StatusNoShow,
		" cancelled ": StatusCancelled,
	}
	for raw, want := range cases {
		got, err := ParseStatus(raw)
		if err != nil || got != want {
			t.Fatalf("ParseStatus(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := ParseStatus("booked"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestClockParseAndJSON(t *testing.T) {
	c, err := ParseClock("08:30")
	if err != nil || c != NewClock(8, 30) || c.String() != "08:30" {
		t.Fatalf("unexpected clock %v err=%v", c, err)
	}
	for _, bad := range []string{"8h", "25:00", "12:60", "24:01"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}

	var w Window
	if err := json.Unmarshal([]byte(`{"start":"12:00","end":"13:00"}`), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.Start != NewClock(12, 0) || !w.Contains(NewClock(12, 59)) || w.Contains(NewClock(13, 0)) {
		t.Fatalf("unexpected window %+v", w)
	}

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := NewClock(9, 15).On(day); !got.Equal(day.Add(9*time.Hour + 15*time.Minute)) {
		t.Fatalf("unexpected instant %s", got)
	}
}

func TestScheduleValidate(t *testing.T) {
	base := ScheduleConfig{
		WorkingDays:  []time.Weekday{time.Monday},
		Start:        NewClock(8, 0),
		End:          NewClock(18, 0),
		SlotDuration: 30 * time.Minute,
		Lunch:        &Window{Start: NewClock(12, 0), End: NewClock(13, 0)},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid schedule, got %v", err)
	}

	bad := base
	bad.Start = NewClock(18, 0)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}

	bad = base
	bad.SlotDuration = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero slot duration")
	}

	bad = base
	bad.Lunch = &Window{Start: NewClock(17, 30), End: NewClock(19, 0)}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for lunch outside hours")
	}
}

func TestScheduleHoursOverrideWins(t *testing.T) {
	s := ScheduleConfig{
		WorkingDays: []time.Weekday{time.Monday, time.Tuesday},
		Start:       NewClock(8, 0),
		End:         NewClock(18, 0),
		Overrides: map[time.Weekday]DayOverride{
			time.Tuesday:  {Closed: true},
			time.Saturday: {Start: NewClock(9, 0), End: NewClock(12, 0)},
		},
	}
	if _, ok := s.Hours(time.Tuesday); ok {
		t.Fatalf("tuesday override should close the day")
	}
	if w, ok := s.Hours(time.Saturday); !ok || w.End != NewClock(12, 0) {
		t.Fatalf("saturday override should open 09:00-12:00, got %+v ok=%v", w, ok)
	}
	if w, ok := s.Hours(time.Monday); !ok || w.Start != NewClock(8, 0) {
		t.Fatalf("monday should use regular hours, got %+v", w)
	}
	if _, ok := s.Hours(time.Sunday); ok {
		t.Fatalf("sunday should be closed")
	}
}

func TestServiceOffersOn(t *testing.T) {
	if !(ServiceOffering{}).OffersOn("any") {
		t.Fatalf("service without schedules should be bookable everywhere")
	}
	s := ServiceOffering{ScheduleIDs: []string{"a"}}
	if !s.OffersOn("a") || s.OffersOn("b") {
		t.Fatalf("unexpected schedule association")
	}
}
