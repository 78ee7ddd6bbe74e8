package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/quota"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("schedule conflict")
	ErrQuotaExceeded = errors.New("monthly appointment limit reached")
	ErrNotFound      = errors.New("not found")
)

// ValidationError carries per-field messages keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError names the booking or block that occupies the requested time.
type ConflictError struct {
	AppointmentID string
	Start         time.Time
	End           time.Time
	Reason        string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("schedule conflict: %s (%s - %s)", e.Reason, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	return fmt.Sprintf("schedule conflict with %s - %s", e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type QuotaError struct {
	Tier      quota.Tier
	Count     int
	Limit     int
	Remaining int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("monthly appointment limit reached: %d of %d on %s plan", e.Count, e.Limit, e.Tier)
}

func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }
