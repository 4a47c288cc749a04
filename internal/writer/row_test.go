package writer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-sec/siem-pipeline/internal/event"
)

func TestBuildRow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ev := event.Event{
		event.FieldProvider:   "http_json",
		event.FieldCategory:   "auth",
		event.FieldType:       "login",
		event.FieldSourceIP:   "10.0.0.1",
		event.FieldDestIP:     "192.168.1.1",
		event.FieldSourcePort: "443",
		event.FieldDestPort:   "8080",
		event.FieldSeverity:   "high",
		event.FieldLogSource:  "fw01",
		event.FieldOriginal:   "raw text",
		event.FieldTags:       "a,b",
	}

	row, err := BuildRow(ev, now)
	require.NoError(t, err)

	assert.Equal(t, now, row.TS)
	assert.NotEqual(t, [16]byte{}, [16]byte(row.EventID))
	assert.Equal(t, "http_json", row.Provider)
	assert.Equal(t, "auth", row.Category)
	assert.Equal(t, "login", row.Type)
	assert.Equal(t, uint32(167772161), row.SrcIP)
	assert.Equal(t, uint32(3232235777), row.DstIP)
	assert.Equal(t, uint16(443), row.SrcPort)
	assert.Equal(t, uint16(8080), row.DstPort)
	assert.Equal(t, "fw01", row.LogSource)
	assert.Equal(t, "high", row.Severity)
	assert.Equal(t, "raw text", row.Original)
	assert.Equal(t, "a,b", row.Tags)
}

func TestBuildRowEmptyRecord(t *testing.T) {
	_, err := BuildRow(event.Event{}, time.Now())
	assert.ErrorIs(t, err, errEmptyRecord)
}

// Unparseable addresses and ports store as 0 instead of failing the row.
func TestBuildRowBadAddressAndPort(t *testing.T) {
	ev := event.Event{
		event.FieldSourceIP:   "not-an-ip",
		event.FieldSourcePort: "99999",
	}

	row, err := BuildRow(ev, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), row.SrcIP)
	assert.Equal(t, uint16(0), row.SrcPort)
}

func TestBuildRowDeviceFallsBackToProvider(t *testing.T) {
	ev := event.Event{event.FieldProvider: "syslog"}

	row, err := BuildRow(ev, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "syslog", row.DeviceVendor)
	assert.Equal(t, "syslog", row.DeviceProduct)
}

func TestBuildRowLogSourceChain(t *testing.T) {
	row, err := BuildRow(event.Event{
		event.FieldHostName: "web01",
		event.FieldSourceIP: "10.0.0.1",
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "web01", row.LogSource)

	row, err = BuildRow(event.Event{event.FieldSourceIP: "10.0.0.1"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", row.LogSource)
}

func TestBuildRowSeverityChain(t *testing.T) {
	row, err := BuildRow(event.Event{"severity": "low"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "low", row.Severity)

	row, err = BuildRow(event.Event{event.FieldLogLevel: "warn"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "warn", row.Severity)

	row, err = BuildRow(event.Event{"x": "y"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "info", row.Severity)
}

func TestIPv4ToUint32(t *testing.T) {
	cases := map[string]uint32{
		"10.0.0.1":        167772161,
		"0.0.0.0":         0,
		"255.255.255.255": 4294967295,
		"":                0,
		"bad":             0,
		"2001:db8::1":     0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ipv4ToUint32(in), in)
	}
}

func TestParsePort(t *testing.T) {
	cases := map[string]uint16{
		"443":   443,
		"0":     0,
		"":      0,
		"-1":    0,
		"65536": 0,
		"abc":   0,
	}
	for in, want := range cases {
		assert.Equal(t, want, parsePort(in), in)
	}
}
