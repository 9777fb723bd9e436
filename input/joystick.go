// Package input reads game controllers through the Linux joystick API.
package input

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/stv0g/robot-teleop/control"
)

// Event types of struct js_event, see linux/joystick.h.
const (
	eventButton = 0x01
	eventAxis   = 0x02
	eventInit   = 0x80

	eventSize = 8
	axisMax   = 32767
)

type event struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

// Joystick keeps the latest state of all axes and buttons of a device and
// implements control.InputSource.
type Joystick struct {
	mapping control.Mapping

	mu        sync.Mutex
	axes      []float64
	buttons   []bool
	connected bool

	done chan struct{}
}

// OpenJoystick starts reading events from a joystick device node such as
// /dev/input/js0.
func OpenJoystick(path string, mapping control.Mapping) (*Joystick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open joystick %s: %w", path, err)
	}

	j := NewJoystick(mapping)
	go func() {
		defer f.Close()

		if err := j.Read(f); err != nil {
			logrus.WithError(err).WithField("device", path).Error("Joystick read failed")
		}
	}()

	return j, nil
}

func NewJoystick(mapping control.Mapping) *Joystick {
	return &Joystick{
		mapping: mapping,
		done:    make(chan struct{}),
	}
}

// Read consumes joystick events from r until it fails or reaches EOF.
func (j *Joystick) Read(r io.Reader) error {
	defer close(j.done)
	defer j.setConnected(false)

	j.setConnected(true)

	buf := make([]byte, eventSize)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		j.handle(event{
			Time:   binary.LittleEndian.Uint32(buf[0:4]),
			Value:  int16(binary.LittleEndian.Uint16(buf[4:6])),
			Type:   buf[6],
			Number: buf[7],
		})
	}
}

// Done is closed once the device stops delivering events.
func (j *Joystick) Done() <-chan struct{} {
	return j.done
}

func (j *Joystick) Sample() (control.InputSample, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.connected {
		return control.InputSample{}, false
	}

	return j.mapping.Sample(j.axes, j.buttons), true
}

func (j *Joystick) handle(e event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := int(e.Number)

	switch e.Type &^ eventInit {
	case eventButton:
		for len(j.buttons) <= n {
			j.buttons = append(j.buttons, false)
		}
		j.buttons[n] = e.Value != 0

	case eventAxis:
		for len(j.axes) <= n {
			j.axes = append(j.axes, 0)
		}
		v := float64(e.Value) / axisMax
		if v < -1 {
			v = -1
		}
		j.axes[n] = v
	}
}

func (j *Joystick) setConnected(c bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.connected = c
}
