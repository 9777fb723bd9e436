// Package telemetry decodes robot telemetry received over the data channel
// and keeps the latest value of each kind.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stv0g/robot-teleop/common"
)

var (
	ErrMalformed   = errors.New("malformed telemetry")
	ErrUnknownType = errors.New("unknown telemetry type")
)

type Battery struct {
	CellA float64 `json:"cellA" msgpack:"cellA"`
	CellB float64 `json:"cellB" msgpack:"cellB"`
}

type Location struct {
	Latitude  float64 `json:"latitude" msgpack:"latitude"`
	Longitude float64 `json:"longitude" msgpack:"longitude"`

	// Speed is in meters per second.
	Speed float64 `json:"speed" msgpack:"speed"`
}

type PhoneState struct {
	BatteryPct        float64   `json:"batteryPct" msgpack:"batteryPct"`
	SignalStrength    float64   `json:"signalStrength" msgpack:"signalStrength"`
	BandwidthUpKbps   float64   `json:"bandwidthUpKbps" msgpack:"bandwidthUpKbps"`
	BandwidthDownKbps float64   `json:"bandwidthDownKbps" msgpack:"bandwidthDownKbps"`
	Location          *Location `json:"location,omitempty" msgpack:"location,omitempty"`
}

// Snapshot holds the latest value of every telemetry kind received so far.
// Kinds not yet received are nil.
type Snapshot struct {
	Battery    *Battery    `json:"battery,omitempty" msgpack:"battery,omitempty"`
	Location   *Location   `json:"location,omitempty" msgpack:"location,omitempty"`
	PhoneState *PhoneState `json:"phoneState,omitempty" msgpack:"phoneState,omitempty"`
	Updated    time.Time   `json:"updated" msgpack:"updated"`
}

func (s Snapshot) clone() Snapshot {
	c := Snapshot{Updated: s.Updated}
	if s.Battery != nil {
		b := *s.Battery
		c.Battery = &b
	}
	if s.Location != nil {
		l := *s.Location
		c.Location = &l
	}
	if s.PhoneState != nil {
		p := *s.PhoneState
		if p.Location != nil {
			l := *p.Location
			p.Location = &l
		}
		c.PhoneState = &p
	}
	return c
}

// Decoder is written by a single goroutine and may be read concurrently.
type Decoder struct {
	mu       sync.RWMutex
	snapshot Snapshot

	now func() time.Time
}

func NewDecoder() *Decoder {
	return &Decoder{
		now: time.Now,
	}
}

// Decode parses a data channel payload and overwrites the matching kind.
// It returns the message type. Malformed payloads leave the snapshot as is.
func (d *Decoder) Decode(data []byte) (string, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &hdr); err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	switch hdr.Type {
	case common.DataTypeBattery:
		var msg common.BatteryMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return hdr.Type, fmt.Errorf("%w: %s", ErrMalformed, err)
		}

		d.update(func(s *Snapshot) {
			s.Battery = &Battery{
				CellA: float64(msg.VoltageA) / 100,
				CellB: float64(msg.VoltageB) / 100,
			}
		})

	case common.DataTypeLocation:
		var msg common.LocationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return hdr.Type, fmt.Errorf("%w: %s", ErrMalformed, err)
		}

		d.update(func(s *Snapshot) {
			s.Location = locationFromMessage(&msg)
		})

	case common.DataTypePhoneState:
		var msg common.PhoneStateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return hdr.Type, fmt.Errorf("%w: %s", ErrMalformed, err)
		}

		d.update(func(s *Snapshot) {
			s.PhoneState = &PhoneState{
				BatteryPct:        msg.Battery,
				SignalStrength:    msg.Signal,
				BandwidthUpKbps:   msg.BandwidthUp,
				BandwidthDownKbps: msg.BandwidthDown,
				Location:          locationFromMessage(msg.Location),
			}
		})

	default:
		return hdr.Type, fmt.Errorf("%w: %q", ErrUnknownType, hdr.Type)
	}

	return hdr.Type, nil
}

// Snapshot returns a copy of the current values.
func (d *Decoder) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.snapshot.clone()
}

func (d *Decoder) update(fn func(s *Snapshot)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fn(&d.snapshot)
	d.snapshot.Updated = d.now()
}

func locationFromMessage(msg *common.LocationMessage) *Location {
	if msg == nil {
		return nil
	}

	return &Location{
		Latitude:  msg.Latitude,
		Longitude: msg.Longitude,
		Speed:     msg.Speed,
	}
}
