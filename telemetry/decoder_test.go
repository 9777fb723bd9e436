package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatteryIsConvertedToVolts(t *testing.T) {
	d := NewDecoder()

	typ, err := d.Decode([]byte(`{"type":"battery","voltageA":1250,"voltageB":1180}`))
	require.NoError(t, err)
	assert.Equal(t, "battery", typ)

	s := d.Snapshot()
	require.NotNil(t, s.Battery)
	assert.InDelta(t, 12.5, s.Battery.CellA, 1e-9)
	assert.InDelta(t, 11.8, s.Battery.CellB, 1e-9)
	assert.Nil(t, s.Location)
}

func TestLocationLeavesBatteryUnchanged(t *testing.T) {
	d := NewDecoder()

	_, err := d.Decode([]byte(`{"type":"battery","voltageA":1250,"voltageB":1180}`))
	require.NoError(t, err)

	_, err = d.Decode([]byte(`{"type":"location","latitude":52.52,"longitude":13.405,"speed":1.5}`))
	require.NoError(t, err)

	s := d.Snapshot()
	assert.Equal(t, &Battery{CellA: 12.5, CellB: 11.8}, s.Battery)
	assert.Equal(t, &Location{Latitude: 52.52, Longitude: 13.405, Speed: 1.5}, s.Location)
}

func TestPhoneStateWithLocation(t *testing.T) {
	d := NewDecoder()

	_, err := d.Decode([]byte(`{"type":"phoneState","battery":87,"signal":3,"bandwidthUp":512,"bandwidthDown":2048,
		"location":{"latitude":1,"longitude":2,"speed":0.5}}`))
	require.NoError(t, err)

	s := d.Snapshot()
	require.NotNil(t, s.PhoneState)
	assert.Equal(t, 87.0, s.PhoneState.BatteryPct)
	assert.Equal(t, 3.0, s.PhoneState.SignalStrength)
	assert.Equal(t, 512.0, s.PhoneState.BandwidthUpKbps)
	assert.Equal(t, 2048.0, s.PhoneState.BandwidthDownKbps)
	assert.Equal(t, &Location{Latitude: 1, Longitude: 2, Speed: 0.5}, s.PhoneState.Location)

	// The nested location belongs to the phone state only.
	assert.Nil(t, s.Location)
}

func TestLatestValueWins(t *testing.T) {
	d := NewDecoder()

	_, err := d.Decode([]byte(`{"type":"battery","voltageA":1250,"voltageB":1180}`))
	require.NoError(t, err)
	_, err = d.Decode([]byte(`{"type":"battery","voltageA":1100,"voltageB":1000}`))
	require.NoError(t, err)

	assert.Equal(t, &Battery{CellA: 11, CellB: 10}, d.Snapshot().Battery)
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	d := NewDecoder()

	_, err := d.Decode([]byte(`{"type":"battery","voltageA":1250,"voltageB":1180}`))
	require.NoError(t, err)
	before := d.Snapshot()

	for _, raw := range []string{
		`{"type":"battery",`,
		`{"type":"battery","voltageA":"high"}`,
		`[]`,
	} {
		_, err := d.Decode([]byte(raw))
		assert.True(t, errors.Is(err, ErrMalformed), raw)
	}

	assert.Equal(t, before, d.Snapshot())
}

func TestUnknownTypeIsIgnored(t *testing.T) {
	d := NewDecoder()

	typ, err := d.Decode([]byte(`{"type":"temperature","celsius":21}`))
	assert.True(t, errors.Is(err, ErrUnknownType))
	assert.Equal(t, "temperature", typ)
	assert.Equal(t, Snapshot{}, d.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	d := NewDecoder()
	d.now = func() time.Time { return time.Unix(100, 0) }

	_, err := d.Decode([]byte(`{"type":"location","latitude":1,"longitude":2,"speed":3}`))
	require.NoError(t, err)

	s := d.Snapshot()
	s.Location.Latitude = 99

	assert.Equal(t, 1.0, d.Snapshot().Location.Latitude)
	assert.Equal(t, time.Unix(100, 0), d.Snapshot().Updated)
}
