package quota

import (
	"math"
	"strings"
	"time"
)

// Tier is a tenant's subscription plan.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// Unlimited is returned by Remaining and Limit for tiers without a monthly cap.
const Unlimited = -1

// ParseTier maps stored tier names onto the plan set. Unknown or empty tiers are treated as free.
func ParseTier(raw string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierStandard:
		return TierStandard
	case TierPremium:
		return TierPremium
	default:
		return TierFree
	}
}

// Limits holds the monthly appointment caps. Premium is always unbounded.
type Limits struct {
	Free         int
	Standard     int
	WarnFraction float64
}

func DefaultLimits() Limits {
	return Limits{Free: 50, Standard: 180, WarnFraction: 0.8}
}

// Gate decides whether a tenant may book another appointment this month. It holds no state
// and must be consulted before the appointment is written.
type Gate struct {
	limits Limits
}

func NewGate(l Limits) *Gate {
	d := DefaultLimits()
	if l.Free <= 0 {
		l.Free = d.Free
	}
	if l.Standard <= 0 {
		l.Standard = d.Standard
	}
	if l.WarnFraction <= 0 || l.WarnFraction > 1 {
		l.WarnFraction = d.WarnFraction
	}
	return &Gate{limits: l}
}

func (g *Gate) Limit(t Tier) int {
	switch t {
	case TierPremium:
		return Unlimited
	case TierStandard:
		return g.limits.Standard
	default:
		return g.limits.Free
	}
}

func (g *Gate) CanCreate(t Tier, count int) bool {
	limit := g.Limit(t)
	return limit == Unlimited || count < limit
}

func (g *Gate) Remaining(t Tier, count int) int {
	limit := g.Limit(t)
	if limit == Unlimited {
		return Unlimited
	}
	if count >= limit {
		return 0
	}
	return limit - count
}

// WarnAt is the count from which the near-limit notice applies, or Unlimited.
func (g *Gate) WarnAt(t Tier) int {
	limit := g.Limit(t)
	if limit == Unlimited {
		return Unlimited
	}
	return int(math.Ceil(float64(limit) * g.limits.WarnFraction))
}

// ShouldWarn reports whether count has crossed the warning threshold. It stays true above the
// threshold; firing once per crossing is the WarnLatch's job.
func (g *Gate) ShouldWarn(t Tier, count int) bool {
	at := g.WarnAt(t)
	return at != Unlimited && count >= at
}

// Usage summarizes a tenant's monthly consumption for API responses.
type Usage struct {
	Tier      Tier `json:"tier"`
	Count     int  `json:"current_count"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	Warning   bool `json:"warning"`
}

func (g *Gate) Usage(t Tier, count int) Usage {
	return Usage{
		Tier:      t,
		Count:     count,
		Limit:     g.Limit(t),
		Remaining: g.Remaining(t, count),
		Warning:   g.ShouldWarn(t, count),
	}
}

// MonthWindow returns the [start, end) calendar month containing now, in loc.
func MonthWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
