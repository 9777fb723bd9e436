package common

// Message types carried over the data channel.
const (
	DataTypeControl    = "control"
	DataTypeLight      = "light"
	DataTypeBattery    = "battery"
	DataTypeLocation   = "location"
	DataTypePhoneState = "phoneState"
)

// DataChannelLabel is the label of the channel created by the operator.
const DataChannelLabel = "datachannel"

type ControlMessage struct {
	Type     string `json:"type"`
	Throttle int    `json:"throttle"`
	Steering int    `json:"steering"`
}

type LightMessage struct {
	Type string `json:"type"`
}

// BatteryMessage reports both cell voltages in centivolts.
type BatteryMessage struct {
	Type     string `json:"type"`
	VoltageA int    `json:"voltageA"`
	VoltageB int    `json:"voltageB"`
}

type LocationMessage struct {
	Type      string  `json:"type,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
}

type PhoneStateMessage struct {
	Type          string           `json:"type"`
	Battery       float64          `json:"battery"`
	Signal        float64          `json:"signal"`
	BandwidthUp   float64          `json:"bandwidthUp"`
	BandwidthDown float64          `json:"bandwidthDown"`
	Location      *LocationMessage `json:"location,omitempty"`
}
