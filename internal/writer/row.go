// Package writer persists filtered events into the column store in bulk.
package writer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/arc-sec/siem-pipeline/internal/event"
	"github.com/arc-sec/siem-pipeline/internal/storage"
)

// errEmptyRecord marks a record with no fields at all; such records are
// skipped (and acknowledged in group mode) so they cannot block the stream.
var errEmptyRecord = errors.New("empty record")

// Row is one events-table row.
type Row struct {
	TS            time.Time
	EventID       uuid.UUID
	Provider      string
	Category      string
	Type          string
	SrcIP         uint32
	DstIP         uint32
	SrcPort       uint16
	DstPort       uint16
	DeviceVendor  string
	DeviceProduct string
	LogSource     string
	Severity      string
	Original      string
	Tags          string
}

// BuildRow maps a UEM event onto the events schema: direct copies for the
// string columns, dotted-quad to 32-bit integer for addresses (invalid or
// empty parses to 0), integer port parses defaulting to 0, and the fallback
// chains for device, log_source and severity.
func BuildRow(ev event.Event, now time.Time) (Row, error) {
	if len(ev) == 0 {
		return Row{}, errEmptyRecord
	}

	provider := ev.Get(event.FieldProvider)

	vendor := ev.Get(event.FieldDeviceVendor)
	if vendor == "" {
		vendor = provider
	}
	product := ev.Get(event.FieldDeviceProduct)
	if product == "" {
		product = provider
	}

	logSource := ev.Get(event.FieldLogSource)
	if logSource == "" {
		logSource = ev.Get(event.FieldHostName)
	}
	if logSource == "" {
		logSource = ev.Get(event.FieldSourceIP)
	}

	severity := ev.Get(event.FieldSeverity)
	if severity == "" {
		severity = ev.Get("severity")
	}
	if severity == "" {
		severity = ev.Get(event.FieldLogLevel)
	}
	if severity == "" {
		severity = "info"
	}

	return Row{
		TS:            now.UTC(),
		EventID:       uuid.New(),
		Provider:      provider,
		Category:      ev.Get(event.FieldCategory),
		Type:          ev.Get(event.FieldType),
		SrcIP:         ipv4ToUint32(ev.Get(event.FieldSourceIP)),
		DstIP:         ipv4ToUint32(ev.Get(event.FieldDestIP)),
		SrcPort:       parsePort(ev.Get(event.FieldSourcePort)),
		DstPort:       parsePort(ev.Get(event.FieldDestPort)),
		DeviceVendor:  vendor,
		DeviceProduct: product,
		LogSource:     logSource,
		Severity:      severity,
		Original:      ev.Get(event.FieldOriginal),
		Tags:          ev.Get(event.FieldTags),
	}, nil
}

// ipv4ToUint32 converts a dotted-quad address to its 32-bit integer form.
// Empty, invalid and non-IPv4 values convert to 0.
func ipv4ToUint32(s string) uint32 {
	if s == "" {
		return 0
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return 0
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip4)
}

func parsePort(s string) uint16 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}

const insertEventsQuery = `
INSERT INTO events
(ts, event_id, provider, category, type,
 src_ip, dst_ip, src_port, dst_port,
 device_vendor, device_product, log_source,
 severity, original, tags)`

// insertRows bulk-inserts a batch of event rows.
func insertRows(ctx context.Context, conn storage.Conn, rows []Row) error {
	batch, err := conn.PrepareBatch(ctx, insertEventsQuery)
	if err != nil {
		return fmt.Errorf("prepare events batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.TS, r.EventID, r.Provider, r.Category, r.Type,
			r.SrcIP, r.DstIP, r.SrcPort, r.DstPort,
			r.DeviceVendor, r.DeviceProduct, r.LogSource,
			r.Severity, r.Original, r.Tags,
		); err != nil {
			return fmt.Errorf("append event row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send events batch: %w", err)
	}
	return nil
}
