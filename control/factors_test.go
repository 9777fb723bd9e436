package control

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimShrinksSteeringScale(t *testing.T) {
	f := NewFactors(1)
	require.Equal(t, 1.0, f.SteeringScale)

	f.AdjustTrim(-0.25)
	assert.Equal(t, 0.75, f.MaxSteeringScale())
	assert.Equal(t, 0.75, f.SteeringScale)

	// Moving the trim back does not grow the scale on its own.
	f.AdjustTrim(0.25)
	assert.Equal(t, 1.0, f.MaxSteeringScale())
	assert.Equal(t, 0.75, f.SteeringScale)

	f.AdjustSteeringScale(1)
	assert.Equal(t, 1.0, f.SteeringScale)
}

func TestTrimIsBounded(t *testing.T) {
	f := NewFactors(1)

	f.AdjustTrim(5)
	assert.Equal(t, 1.0, f.SteeringTrim)
	assert.Equal(t, 0.0, f.SteeringScale)

	f.AdjustTrim(-5)
	assert.Equal(t, -1.0, f.SteeringTrim)
}

func TestThrottleScaleIsBounded(t *testing.T) {
	f := NewFactors(0.8)
	assert.Equal(t, 0.8, f.ThrottleScale)

	f.AdjustThrottleScale(1)
	assert.Equal(t, 0.8, f.ThrottleScale)

	f.AdjustThrottleScale(-2)
	assert.Equal(t, 0.0, f.ThrottleScale)

	f.AdjustThrottleScale(math.NaN())
	assert.Equal(t, 0.0, f.ThrottleScale)
}

func TestSteeringInvariantHoldsForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	f := NewFactors(1)

	for i := 0; i < 5000; i++ {
		delta := rng.Float64() - 0.5
		switch rng.Intn(3) {
		case 0:
			f.AdjustTrim(delta)
		case 1:
			f.AdjustSteeringScale(delta)
		case 2:
			f.AdjustThrottleScale(delta)
		}

		require.LessOrEqual(t, f.SteeringScale, 1-math.Abs(f.SteeringTrim))
		require.GreaterOrEqual(t, f.SteeringScale, 0.0)
		require.GreaterOrEqual(t, f.SteeringTrim, -1.0)
		require.LessOrEqual(t, f.SteeringTrim, 1.0)
	}
}
