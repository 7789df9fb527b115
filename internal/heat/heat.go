// Package heat owns the heat score of a memory: the decay and boost math
// and the Ledger, the only component that writes heat fields.
//
// Heat lives in [Floor, Ceiling]. New memories start at Neutral. Decay is
// multiplicative per elapsed day (DecayRate^days), so catching a record up
// over N days in one step equals N one-day steps. Boosts are additive and
// clamp at Ceiling. Pinned memories sit at Ceiling and never decay.
package heat

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lazypower/ember/internal/store"
)

// Kind identifies a boost trigger.
type Kind string

const (
	Access  Kind = "access"
	Mention Kind = "mention"
)

// ParseKind validates a boost kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Access, Mention:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown boost kind %q", s)
}

const dayMs = float64(24 * time.Hour / time.Millisecond)

// Policy holds the heat constants.
type Policy struct {
	Floor        float64
	Ceiling      float64
	Neutral      float64
	DecayRate    float64 // multiplier per elapsed day
	AccessBoost  float64
	MentionBoost float64
}

// DefaultPolicy returns the standard heat constants.
func DefaultPolicy() Policy {
	return Policy{
		Floor:        0.05,
		Ceiling:      2.0,
		Neutral:      1.0,
		DecayRate:    0.97,
		AccessBoost:  0.15,
		MentionBoost: 0.10,
	}
}

// Validate reports every inconsistency in the policy.
func (p Policy) Validate() error {
	var errs []string
	if p.Floor < 0 {
		errs = append(errs, fmt.Sprintf("floor must be >= 0, got %g", p.Floor))
	}
	if p.Ceiling <= p.Floor {
		errs = append(errs, fmt.Sprintf("ceiling (%g) must be greater than floor (%g)", p.Ceiling, p.Floor))
	}
	if p.Neutral < p.Floor || p.Neutral > p.Ceiling {
		errs = append(errs, fmt.Sprintf("neutral (%g) must be within [%g, %g]", p.Neutral, p.Floor, p.Ceiling))
	}
	if p.DecayRate <= 0 || p.DecayRate > 1 {
		errs = append(errs, fmt.Sprintf("decay rate must be in (0, 1], got %g", p.DecayRate))
	}
	if p.AccessBoost < 0 || p.MentionBoost < 0 {
		errs = append(errs, "boosts must be >= 0")
	}
	if len(errs) > 0 {
		return errors.New("invalid heat policy: " + strings.Join(errs, "; "))
	}
	return nil
}

// Clamp pins h into [Floor, Ceiling].
func (p Policy) Clamp(h float64) float64 {
	if math.IsNaN(h) {
		return p.Floor
	}
	return math.Min(p.Ceiling, math.Max(p.Floor, h))
}

// Decay returns h after elapsedDays of decay. Negative elapsed time is
// treated as zero.
func (p Policy) Decay(h, elapsedDays float64) float64 {
	h = p.Clamp(h)
	if elapsedDays <= 0 {
		return h
	}
	return math.Max(p.Floor, h*math.Pow(p.DecayRate, elapsedDays))
}

// Delta returns the additive boost for a kind.
func (p Policy) Delta(kind Kind) float64 {
	if kind == Mention {
		return p.MentionBoost
	}
	return p.AccessBoost
}

// Boost returns h raised by the kind's delta, clamped at Ceiling.
func (p Policy) Boost(h float64, kind Kind) float64 {
	return math.Min(p.Ceiling, p.Clamp(h)+p.Delta(kind))
}

// Normalize maps h onto [0, 1].
func (p Policy) Normalize(h float64) float64 {
	return (p.Clamp(h) - p.Floor) / (p.Ceiling - p.Floor)
}

// Backfill estimates heat for a record that existed ageDays without heat
// bookkeeping: the value it would have reached from Neutral by decay alone.
func (p Policy) Backfill(ageDays float64) float64 {
	return p.Decay(p.Neutral, ageDays)
}

// Project returns the heat m would have at asOf without persisting anything.
// Legacy records have no heat to project until they are backfilled; their
// stored value is returned clamped.
func (p Policy) Project(m *store.Memory, asOf time.Time) float64 {
	if m.Pinned {
		return p.Ceiling
	}
	if !m.HasHeat() {
		return p.Clamp(m.Heat)
	}
	return p.Decay(m.Heat, ElapsedDays(*m.LastDecayedAt, asOf.UnixMilli()))
}

// ElapsedDays returns the days between two unix-ms timestamps, never negative.
func ElapsedDays(fromMs, toMs int64) float64 {
	if toMs <= fromMs {
		return 0
	}
	return float64(toMs-fromMs) / dayMs
}

// Band is a coarse heat classification used by stats.
type Band string

const (
	Hot  Band = "hot"
	Warm Band = "warm"
	Cold Band = "cold"
)

// Bands holds the lower bounds of the hot and warm bands.
type Bands struct {
	Hot  float64
	Warm float64
}

// DefaultBands returns the standard band thresholds.
func DefaultBands() Bands {
	return Bands{Hot: 1.0, Warm: 0.5}
}

// Classify returns the band for h.
func (b Bands) Classify(h float64) Band {
	switch {
	case h >= b.Hot:
		return Hot
	case h >= b.Warm:
		return Warm
	default:
		return Cold
	}
}
