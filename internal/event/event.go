// Package event defines the flat record types flowing between pipeline
// stages. Both raw and normalized events are mappings from string field name
// to string value; broker records carry no nesting, and null values
// serialize as the empty string.
package event

// Reserved raw-event fields produced by ingress.
const (
	RawSource     = "source"
	RawSourceType = "source_type"
	RawMessage    = "message"
)

// Unified Event Model field names written by the normalizer.
const (
	FieldProvider      = "event.provider"
	FieldOriginal      = "event.original"
	FieldCategory      = "event.category"
	FieldType          = "event.type"
	FieldSeverity      = "event.severity"
	FieldSourceIP      = "source.ip"
	FieldDestIP        = "destination.ip"
	FieldSourcePort    = "source.port"
	FieldDestPort      = "destination.port"
	FieldDeviceVendor  = "device.vendor"
	FieldDeviceProduct = "device.product"
	FieldLogLevel      = "log.level"
	FieldHostName      = "host.name"
	FieldLogSource     = "log_source"
	FieldTags          = "tags"
)

// Raw is an unnormalized event as appended to the RAW stream.
type Raw map[string]string

// Event is a UEM event: dotted field names, string values.
type Event map[string]string

// Get returns the value for field, or "" when absent.
func (e Event) Get(field string) string {
	return e[field]
}

// Clone returns a shallow copy. Stages that modify an event (the filter's
// tag action) operate on a copy so the input stays untouched.
func (e Event) Clone() Event {
	out := make(Event, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// FromValues converts broker record values (XREAD returns
// map[string]interface{} with string values) into an Event.
func FromValues(values map[string]interface{}) Event {
	ev := make(Event, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			ev[k] = s
		}
	}
	return ev
}

// RawFromValues converts broker record values into a Raw event.
func RawFromValues(values map[string]interface{}) Raw {
	return Raw(FromValues(values))
}

// Values converts an Event into the map shape XADD expects.
// Nil-safe: missing values are published as empty strings by construction.
func (e Event) Values() map[string]interface{} {
	values := make(map[string]interface{}, len(e))
	for k, v := range e {
		values[k] = v
	}
	return values
}
