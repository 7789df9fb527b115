package heat

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/ember/internal/store"
)

func TestDefaultPolicyValid(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
}

func TestPolicyValidate(t *testing.T) {
	p := DefaultPolicy()
	p.Ceiling = 0.01
	p.DecayRate = 1.5
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ceiling")
	assert.Contains(t, err.Error(), "decay rate")
}

func TestDecayTenDays(t *testing.T) {
	p := DefaultPolicy()
	assert.InDelta(t, 0.737, p.Decay(1.0, 10), 0.001)
}

func TestDecayNeverBelowFloor(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, p.Floor, p.Decay(0.06, 365))
	assert.Equal(t, p.Floor, p.Decay(p.Floor, 1))
}

func TestDecayZeroElapsed(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 1.3, p.Decay(1.3, 0))
	assert.Equal(t, 1.3, p.Decay(1.3, -4))
}

func TestDecayNonIncreasing(t *testing.T) {
	p := DefaultPolicy()
	prev := p.Ceiling
	for d := 0.0; d <= 120; d += 0.5 {
		h := p.Decay(p.Ceiling, d)
		assert.LessOrEqual(t, h, prev, "day %v", d)
		prev = h
	}
}

func TestDecayCompositional(t *testing.T) {
	p := DefaultPolicy()
	stepped := 1.4
	for i := 0; i < 5; i++ {
		stepped = p.Decay(stepped, 1)
	}
	assert.InDelta(t, p.Decay(1.4, 5), stepped, 1e-12)
}

func TestBoost(t *testing.T) {
	p := DefaultPolicy()
	assert.InDelta(t, 0.65, p.Boost(0.5, Access), 1e-9)
	assert.InDelta(t, 0.60, p.Boost(0.5, Mention), 1e-9)
	assert.Equal(t, p.Ceiling, p.Boost(1.95, Access))
	assert.Equal(t, p.Ceiling, p.Boost(p.Ceiling, Mention))
}

func TestNormalize(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 0.0, p.Normalize(p.Floor))
	assert.Equal(t, 1.0, p.Normalize(p.Ceiling))
	assert.InDelta(t, 0.5, p.Normalize((p.Floor+p.Ceiling)/2), 1e-12)
}

func TestClampNaN(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, p.Floor, p.Clamp(math.NaN()))
	assert.Equal(t, p.Ceiling, p.Clamp(9))
}

func TestBackfill(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, p.Neutral, p.Backfill(0))
	assert.InDelta(t, math.Pow(0.97, 30), p.Backfill(30), 1e-12)
	assert.Equal(t, p.Floor, p.Backfill(200))
}

func TestProject(t *testing.T) {
	p := DefaultPolicy()
	base := time.UnixMilli(1_700_000_000_000)
	last := base.UnixMilli()

	m := &store.Memory{Heat: 1.0, LastDecayedAt: &last}
	assert.InDelta(t, 0.737, p.Project(m, base.Add(10*24*time.Hour)), 0.001)

	pinned := &store.Memory{Heat: p.Ceiling, Pinned: true, LastDecayedAt: &last}
	assert.Equal(t, p.Ceiling, p.Project(pinned, base.Add(90*24*time.Hour)))

	legacy := &store.Memory{CreatedAt: last}
	assert.Equal(t, p.Floor, p.Project(legacy, base.Add(3*24*time.Hour)))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("mention")
	require.NoError(t, err)
	assert.Equal(t, Mention, k)

	_, err = ParseKind("poke")
	assert.Error(t, err)
}

func TestBandsClassify(t *testing.T) {
	b := DefaultBands()
	assert.Equal(t, Hot, b.Classify(2.0))
	assert.Equal(t, Hot, b.Classify(1.0))
	assert.Equal(t, Warm, b.Classify(0.5))
	assert.Equal(t, Cold, b.Classify(0.49))
}
