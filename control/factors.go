package control

import "math"

// Factors holds the operator adjustable scaling state applied to raw input.
//
// SteeringScale never exceeds MaxSteeringScale, which shrinks as the trim
// moves away from zero so that trim plus full deflection stays in range.
type Factors struct {
	ThrottleScale    float64 `json:"throttleScale"`
	MaxThrottleScale float64 `json:"maxThrottleScale"`
	SteeringScale    float64 `json:"steeringScale"`
	SteeringTrim     float64 `json:"steeringTrim"`
}

func NewFactors(maxThrottleScale float64) Factors {
	if maxThrottleScale < 0 {
		maxThrottleScale = 0
	}

	return Factors{
		ThrottleScale:    maxThrottleScale,
		MaxThrottleScale: maxThrottleScale,
		SteeringScale:    1,
	}
}

func (f Factors) MaxSteeringScale() float64 {
	return 1 - math.Abs(f.SteeringTrim)
}

func (f *Factors) AdjustThrottleScale(delta float64) {
	f.ThrottleScale = clamp(f.ThrottleScale+delta, 0, f.MaxThrottleScale)
}

func (f *Factors) AdjustSteeringScale(delta float64) {
	f.SteeringScale = clamp(f.SteeringScale+delta, 0, f.MaxSteeringScale())
}

func (f *Factors) AdjustTrim(delta float64) {
	f.SteeringTrim = clamp(f.SteeringTrim+delta, -1, 1)
	f.SteeringScale = clamp(f.SteeringScale, 0, f.MaxSteeringScale())
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
