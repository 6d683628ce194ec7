package application

import (
	"errors"
	"fmt"
	"strings"
	"time"

	telemetry "aquasense-cloud/internal/telemetry/domain"
)

// Mode selects how inbound timestamps are interpreted.
type Mode string

const (
	// ModeLocalOffset shifts server receipt time by a fixed UTC offset and
	// reads payload timestamps in that same offset. The device population is
	// assumed to live in a single timezone.
	ModeLocalOffset Mode = "local-offset"
	// ModeUTC reads payload timestamps as UTC.
	ModeUTC Mode = "utc"
)

// Accepted payload timestamp layouts, tried in order.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Normalizer shapes a raw inbound payload into a canonical record. It is a
// pure function over the payload and the clock; it never touches shared
// state.
type Normalizer struct {
	mode   Mode
	zone   *time.Location
	offset time.Duration
	now    func() time.Time
}

// NewNormalizer constructs a normalizer for the given mode. offset is only
// used in local-offset mode.
func NewNormalizer(mode Mode, offset time.Duration) (*Normalizer, error) {
	switch mode {
	case ModeLocalOffset, ModeUTC:
	default:
		return nil, fmt.Errorf("normalizer: unknown mode %q", mode)
	}
	zone := time.UTC
	if mode == ModeLocalOffset {
		zone = time.FixedZone("device-local", int(offset/time.Second))
	}
	return &Normalizer{mode: mode, zone: zone, offset: offset, now: time.Now}, nil
}

// WithClock overrides the receipt clock, for tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	if now != nil {
		n.now = now
	}
	return n
}

// Normalize validates and shapes one inbound reading. The payload must carry
// a non-empty "uid"; a missing or unparseable "timestamp" degrades to the
// receipt time and never rejects the reading.
func (n *Normalizer) Normalize(payload map[string]any) (telemetry.Record, error) {
	if n == nil {
		return telemetry.Record{}, errors.New("normalizer: nil")
	}
	if payload == nil {
		return telemetry.Record{}, telemetry.ErrInvalidPayload
	}

	uid, _ := payload["uid"].(string)
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return telemetry.Record{}, telemetry.ErrInvalidPayload
	}

	receivedAt := n.now().UTC()
	if n.mode == ModeLocalOffset {
		receivedAt = receivedAt.Add(n.offset)
	}

	capturedAt := receivedAt
	if raw, ok := payload["timestamp"].(string); ok && raw != "" {
		if parsed, ok := n.parseTimestamp(raw); ok {
			capturedAt = parsed
		}
	}

	body := make(map[string]any, len(payload))
	for key, value := range payload {
		if key == "uid" || key == "timestamp" {
			continue
		}
		body[key] = value
	}

	return telemetry.Record{
		DeviceUID:  uid,
		CapturedAt: capturedAt,
		ReceivedAt: receivedAt,
		Payload:    body,
	}, nil
}

func (n *Normalizer) parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, n.zone); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
