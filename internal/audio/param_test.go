package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParam_LinearRamp(t *testing.T) {
	p := NewParam(0)
	p.SetValueAtTime(0, 1)
	p.LinearRampToValueAtTime(1, 3)

	assert.Equal(t, 0.0, p.ValueAt(0.5))
	assert.InDelta(t, 0.5, p.ValueAt(2), 1e-9)
	assert.Equal(t, 1.0, p.ValueAt(3))
	assert.Equal(t, 1.0, p.ValueAt(10))
}

func TestParam_ExponentialRamp(t *testing.T) {
	p := NewParam(0)
	p.SetValueAtTime(1, 0)
	p.ExponentialRampToValueAtTime(0.01, 2)

	assert.InDelta(t, 0.1, p.ValueAt(1), 1e-9)
	assert.InDelta(t, 0.01, p.ValueAt(2), 1e-12)
}

func TestParam_ExponentialFromZeroHolds(t *testing.T) {
	p := NewParam(0)
	p.ExponentialRampToValueAtTime(1, 1)
	assert.Equal(t, 0.0, p.ValueAt(0.5))
	assert.Equal(t, 1.0, p.ValueAt(1))
}

func TestParam_CancelAndRampToHoldsCurrentValue(t *testing.T) {
	p := NewParam(0)
	p.SetValueAtTime(0, 0)
	p.LinearRampToValueAtTime(1, 2)

	p.RampTo(0, 1, 500*time.Millisecond)
	assert.InDelta(t, 0.5, p.ValueAt(1), 1e-9)
	assert.InDelta(t, 0.25, p.ValueAt(1.25), 1e-9)
	assert.Equal(t, 0.0, p.ValueAt(1.5))
	assert.Equal(t, 0.0, p.ValueAt(2))
}

func TestParam_FillPrunesPastEvents(t *testing.T) {
	p := NewParam(0)
	p.SetValueAtTime(0, 0)
	p.LinearRampToValueAtTime(1, 0.01)
	p.LinearRampToValueAtTime(0, 10)

	out := make([]float64, 100)
	p.Fill(0, 0.001, out)
	assert.InDelta(t, 0.5, out[5], 1e-9)
	assert.Equal(t, 1, p.Pending())
	// folding keeps the curve intact
	assert.InDelta(t, 0.5, p.ValueAt(5.005), 1e-9)
}

func TestParam_ZeroDurationRampJumps(t *testing.T) {
	p := NewParam(0.3)
	p.RampTo(0.8, 2, 0)
	assert.Equal(t, 0.3, p.ValueAt(1.9))
	assert.Equal(t, 0.8, p.ValueAt(2))
}
