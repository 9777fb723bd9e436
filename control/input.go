package control

// InputSample is one reading of the operator's input device.
type InputSample struct {
	// Reverse and Forward are analog trigger values in [0, 1].
	Reverse float64
	Forward float64

	// Steering is the analog stick deflection in [-1, 1].
	Steering float64

	ThrottleUp   bool
	ThrottleDown bool
	SteeringUp   bool
	SteeringDown bool
	TrimLeft     bool
	TrimRight    bool
	Light        bool
}

// InputSource is polled once per control tick. The second return value is
// false when no device is attached.
type InputSource interface {
	Sample() (InputSample, bool)
}

// NoInput is an InputSource without a device.
type NoInput struct{}

func (NoInput) Sample() (InputSample, bool) {
	return InputSample{}, false
}

// Mapping translates raw device axes and buttons into an InputSample.
// Axis values are expected in [-1, 1]. A negative index disables the input.
type Mapping struct {
	SteeringAxis int
	ReverseAxis  int
	ForwardAxis  int

	// SignedTriggers is set for devices reporting a released trigger as -1
	// and a fully pressed one as +1.
	SignedTriggers bool

	ThrottleUpButton   int
	ThrottleDownButton int
	SteeringUpButton   int
	SteeringDownButton int
	TrimLeftButton     int
	TrimRightButton    int
	LightButton        int
}

// DefaultMapping matches an Xbox style controller on the Linux xpad driver.
func DefaultMapping() Mapping {
	return Mapping{
		SteeringAxis:   0,
		ReverseAxis:    2,
		ForwardAxis:    5,
		SignedTriggers: true,

		ThrottleUpButton:   3, // Y
		ThrottleDownButton: 0, // A
		SteeringUpButton:   5, // RB
		SteeringDownButton: 4, // LB
		TrimLeftButton:     6, // Back
		TrimRightButton:    7, // Start
		LightButton:        2, // X
	}
}

func (m Mapping) Sample(axes []float64, buttons []bool) InputSample {
	axis := func(i int) float64 {
		if i < 0 || i >= len(axes) {
			return 0
		}
		return clamp(axes[i], -1, 1)
	}

	trigger := func(i int) float64 {
		if i < 0 || i >= len(axes) {
			return 0
		}
		v := axis(i)
		if m.SignedTriggers {
			v = (v + 1) / 2
		}
		return clamp(v, 0, 1)
	}

	button := func(i int) bool {
		return i >= 0 && i < len(buttons) && buttons[i]
	}

	return InputSample{
		Reverse:  trigger(m.ReverseAxis),
		Forward:  trigger(m.ForwardAxis),
		Steering: axis(m.SteeringAxis),

		ThrottleUp:   button(m.ThrottleUpButton),
		ThrottleDown: button(m.ThrottleDownButton),
		SteeringUp:   button(m.SteeringUpButton),
		SteeringDown: button(m.SteeringDownButton),
		TrimLeft:     button(m.TrimLeftButton),
		TrimRight:    button(m.TrimRightButton),
		Light:        button(m.LightButton),
	}
}
