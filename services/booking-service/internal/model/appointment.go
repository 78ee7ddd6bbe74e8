package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Appointment struct {
	ID             string
	TenantID       string
	ScheduleID     string
	ProfessionalID string
	ClientID       string
	ServiceID      string
	Start          time.Time
	Duration       time.Duration
	Status         Status
	Modality       string
	Price          decimal.Decimal
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a Appointment) End() time.Time {
	return a.Start.Add(a.Duration)
}

func (a Appointment) Occupies() bool {
	return a.Status.OccupiesTime()
}

type ServiceOffering struct {
	ID          string
	TenantID    string
	Name        string
	Duration    time.Duration
	Price       decimal.Decimal
	ScheduleIDs []string
}

// OffersOn reports whether the service may be booked on scheduleID. A service with no
// associated schedules is bookable everywhere.
func (s ServiceOffering) OffersOn(scheduleID string) bool {
	if len(s.ScheduleIDs) == 0 {
		return true
	}
	for _, id := range s.ScheduleIDs {
		if id == scheduleID {
			return true
		}
	}
	return false
}

type Client struct {
	ID       string
	TenantID string
	Name     string
	Phone    string
	Email    string
}

type Professional struct {
	ID       string
	TenantID string
	Name     string
}

type Tenant struct {
	ID       string
	Name     string
	Tier     string
	Timezone string
}
