package application

import (
	"errors"
	"testing"
	"time"

	telemetry "aquasense-cloud/internal/telemetry/domain"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestNormalizer_RejectsMissingUID(t *testing.T) {
	n, err := NewNormalizer(ModeUTC, 0)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}

	for _, payload := range []map[string]any{
		nil,
		{},
		{"uid": ""},
		{"uid": "   "},
		{"uid": 42},
	} {
		if _, err := n.Normalize(payload); !errors.Is(err, telemetry.ErrInvalidPayload) {
			t.Fatalf("payload %v: expected ErrInvalidPayload, got %v", payload, err)
		}
	}
}

func TestNormalizer_UTCMode(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	n, err := NewNormalizer(ModeUTC, 0)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	n.WithClock(fixedClock(now))

	record, err := n.Normalize(map[string]any{
		"uid":       "buoy-1",
		"timestamp": "2026-03-01T14:30:00Z",
		"environment": map[string]any{
			"temperature": 18.0,
		},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if record.DeviceUID != "buoy-1" {
		t.Fatalf("uid: got %s", record.DeviceUID)
	}
	if !record.ReceivedAt.Equal(now) {
		t.Fatalf("receivedAt: got %s, want %s", record.ReceivedAt, now)
	}
	want := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	if !record.CapturedAt.Equal(want) {
		t.Fatalf("capturedAt: got %s, want %s", record.CapturedAt, want)
	}
}

func TestNormalizer_LocalOffsetShiftsReceipt(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	offset := -3 * time.Hour
	n, err := NewNormalizer(ModeLocalOffset, offset)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	n.WithClock(fixedClock(now))

	record, err := n.Normalize(map[string]any{"uid": "buoy-1"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !record.ReceivedAt.Equal(now.Add(offset)) {
		t.Fatalf("receivedAt: got %s, want %s", record.ReceivedAt, now.Add(offset))
	}
	if !record.CapturedAt.Equal(record.ReceivedAt) {
		t.Fatal("capturedAt should fall back to receipt time")
	}
}

func TestNormalizer_LocalOffsetParsesNaiveTimestampInOffsetZone(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	n, err := NewNormalizer(ModeLocalOffset, -3*time.Hour)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	n.WithClock(fixedClock(now))

	record, err := n.Normalize(map[string]any{
		"uid":       "buoy-1",
		"timestamp": "2026-03-01 11:45:00",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	// 11:45 at UTC-3 is 14:45 UTC.
	want := time.Date(2026, 3, 1, 14, 45, 0, 0, time.UTC)
	if !record.CapturedAt.UTC().Equal(want) {
		t.Fatalf("capturedAt: got %s, want %s", record.CapturedAt.UTC(), want)
	}
}

func TestNormalizer_UnparseableTimestampFallsBack(t *testing.T) {
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	n, err := NewNormalizer(ModeUTC, 0)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	n.WithClock(fixedClock(now))

	record, err := n.Normalize(map[string]any{
		"uid":       "buoy-1",
		"timestamp": "not-a-time",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !record.CapturedAt.Equal(now) {
		t.Fatalf("expected fallback to receipt, got %s", record.CapturedAt)
	}
}

func TestNormalizer_StripsEnvelopeKeys(t *testing.T) {
	n, err := NewNormalizer(ModeUTC, 0)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}

	record, err := n.Normalize(map[string]any{
		"uid":       "buoy-1",
		"timestamp": "2026-03-01T14:30:00Z",
		"depth":     3.1,
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if _, ok := record.Payload["uid"]; ok {
		t.Fatal("uid should be stripped from payload")
	}
	if _, ok := record.Payload["timestamp"]; ok {
		t.Fatal("timestamp should be stripped from payload")
	}
	if record.Payload["depth"] != 3.1 {
		t.Fatalf("payload field lost: %v", record.Payload)
	}
}

func TestNormalizer_UnknownMode(t *testing.T) {
	if _, err := NewNormalizer(Mode("sidereal"), 0); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
