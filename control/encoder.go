package control

import (
	"math"
	"time"

	"github.com/stv0g/robot-teleop/common"
)

const (
	DefaultCenter            = 500
	DefaultSpan              = 500
	DefaultRate              = 30 // Hz
	DefaultThrottleScaleRate = 0.5
	DefaultSteeringScaleRate = 0.5
	DefaultTrimRate          = 0.1
	DefaultMaxThrottleScale  = 1.0
)

type Config struct {
	Center float64
	Span   float64

	// Interval is the tick period the encoder is driven at.
	Interval time.Duration

	// Adjustment rates applied per second while the matching button is held.
	ThrottleScaleRate float64
	SteeringScaleRate float64
	TrimRate          float64

	MaxThrottleScale float64
}

func DefaultConfig() Config {
	return Config{
		Center:            DefaultCenter,
		Span:              DefaultSpan,
		Interval:          time.Second / DefaultRate,
		ThrottleScaleRate: DefaultThrottleScaleRate,
		SteeringScaleRate: DefaultSteeringScaleRate,
		TrimRate:          DefaultTrimRate,
		MaxThrottleScale:  DefaultMaxThrottleScale,
	}
}

// Frame is one throttle/steering command. Both values are centered at
// Config.Center.
type Frame struct {
	Throttle int `json:"throttle"`
	Steering int `json:"steering"`
}

func (f Frame) Message() common.ControlMessage {
	return common.ControlMessage{
		Type:     common.DataTypeControl,
		Throttle: f.Throttle,
		Steering: f.Steering,
	}
}

// Output is the result of a single tick.
type Output struct {
	Frame Frame

	// Light is set only on the tick the light button went down.
	Light bool
}

// Encoder turns input samples into control frames. It is not safe for
// concurrent use; the supervisor drives it from its event loop.
type Encoder struct {
	cfg     Config
	factors Factors

	lightHeld bool
	last      Frame
}

func NewEncoder(cfg Config) *Encoder {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second / DefaultRate
	}

	return &Encoder{
		cfg:     cfg,
		factors: NewFactors(cfg.MaxThrottleScale),
		last:    neutral(cfg),
	}
}

func (e *Encoder) Interval() time.Duration {
	return e.cfg.Interval
}

func (e *Encoder) Factors() Factors {
	return e.factors
}

// Last returns the most recently encoded frame.
func (e *Encoder) Last() Frame {
	return e.last
}

func (e *Encoder) Tick(s InputSample) Output {
	e.adjust(s)

	signed := clamp(s.Forward, 0, 1)
	if reverse := clamp(s.Reverse, 0, 1); reverse != 0 {
		signed = -reverse
	}

	f := e.factors
	frame := Frame{
		Throttle: e.quantize(e.cfg.Center + signed*f.ThrottleScale*e.cfg.Span),
		Steering: e.quantize(e.cfg.Center + (f.SteeringTrim+clamp(s.Steering, -1, 1)*f.SteeringScale)*e.cfg.Span),
	}

	light := s.Light && !e.lightHeld
	e.lightHeld = s.Light
	e.last = frame

	return Output{
		Frame: frame,
		Light: light,
	}
}

func (e *Encoder) adjust(s InputSample) {
	step := e.cfg.Interval.Seconds()

	if s.ThrottleUp {
		e.factors.AdjustThrottleScale(step * e.cfg.ThrottleScaleRate)
	}
	if s.ThrottleDown {
		e.factors.AdjustThrottleScale(-step * e.cfg.ThrottleScaleRate)
	}
	if s.SteeringUp {
		e.factors.AdjustSteeringScale(step * e.cfg.SteeringScaleRate)
	}
	if s.SteeringDown {
		e.factors.AdjustSteeringScale(-step * e.cfg.SteeringScaleRate)
	}
	if s.TrimLeft {
		e.factors.AdjustTrim(-step * e.cfg.TrimRate)
	}
	if s.TrimRight {
		e.factors.AdjustTrim(step * e.cfg.TrimRate)
	}
}

func (e *Encoder) quantize(v float64) int {
	return int(clamp(math.Round(v), 0, 2*e.cfg.Center))
}

func neutral(cfg Config) Frame {
	c := int(math.Round(cfg.Center))
	return Frame{Throttle: c, Steering: c}
}
