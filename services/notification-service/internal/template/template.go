// Package template renders tenant message templates. Placeholders are double-curly-brace tokens
// such as {{client_name}}; tokens the renderer does not know are left as written.
package template

import (
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
)

const (
	TokenClientName   = "{{client_name}}"
	TokenDate         = "{{date}}"
	TokenTime         = "{{time}}"
	TokenService      = "{{service}}"
	TokenProfessional = "{{professional}}"
	TokenBusinessName = "{{business_name}}"
)

// Data is what a rendered message can mention.
type Data struct {
	ClientName   string
	Start        time.Time
	Service      string
	Professional string
	BusinessName string
}

// Fallbacks replace optional values that are missing.
type Fallbacks struct {
	ClientName   string
	Date         string
	Time         string
	Service      string
	Professional string
	BusinessName string
}

var DefaultFallbacks = Fallbacks{
	ClientName:   "there",
	Date:         "the scheduled day",
	Time:         "the scheduled time",
	Service:      "your appointment",
	Professional: "our team",
	BusinessName: "us",
}

type Renderer struct {
	Location   *time.Location
	DateLayout string
	TimeLayout string
	Fallbacks  Fallbacks
}

func NewRenderer(loc *time.Location, dateLayout, timeLayout string) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	if dateLayout == "" {
		dateLayout = "02/01/2006"
	}
	if timeLayout == "" {
		timeLayout = "15:04"
	}
	return &Renderer{
		Location:   loc,
		DateLayout: dateLayout,
		TimeLayout: timeLayout,
		Fallbacks:  DefaultFallbacks,
	}
}

// Render substitutes every recognized token in one left-to-right pass, so a value that happens
// to contain token syntax is never expanded again.
func (r *Renderer) Render(tpl string, d Data) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}
	date, clock := r.Fallbacks.Date, r.Fallbacks.Time
	if !d.Start.IsZero() {
		start := d.Start.In(r.location())
		date = start.Format(r.DateLayout)
		clock = start.Format(r.TimeLayout)
	}
	return strings.NewReplacer(
		TokenClientName, or(d.ClientName, r.Fallbacks.ClientName),
		TokenDate, date,
		TokenTime, clock,
		TokenService, or(d.Service, r.Fallbacks.Service),
		TokenProfessional, or(d.Professional, r.Fallbacks.Professional),
		TokenBusinessName, or(d.BusinessName, r.Fallbacks.BusinessName),
	).Replace(tpl)
}

func (r *Renderer) location() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

var defaults = map[settings.Event]string{
	settings.EventCreated:   "Hi {{client_name}}! Your {{service}} with {{professional}} is booked for {{date}} at {{time}}. See you at {{business_name}}.",
	settings.EventCancelled: "Hi {{client_name}}, your {{service}} on {{date}} at {{time}} has been cancelled. {{business_name}}",
	settings.EventConfirmed: "Hi {{client_name}}, please confirm your {{service}} with {{professional}} on {{date}} at {{time}}. {{business_name}}",
	settings.EventReminder:  "Reminder: {{client_name}}, your {{service}} with {{professional}} is today at {{time}}. {{business_name}}",
}

// Default is used when a tenant left an event's template blank.
func Default(e settings.Event) string {
	return defaults[e]
}

// Pick returns tpl unless it is blank.
func Pick(e settings.Event, tpl string) string {
	if strings.TrimSpace(tpl) == "" {
		return Default(e)
	}
	return tpl
}
