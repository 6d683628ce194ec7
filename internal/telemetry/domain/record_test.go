package telemetry

import (
	"testing"
	"time"
)

func TestBuildSnapshot_MirrorsStructuredFields(t *testing.T) {
	payload := map[string]any{
		"position":      map[string]any{"depth": 4.2},
		"environment":   map[string]any{"temperature": 18.5, "humidity": 61.0},
		"precipitation": map[string]any{"rainfall": 0.4},
		"battery":       88,
	}

	snapshot := BuildSnapshot(payload)

	if snapshot["depth"] != 4.2 {
		t.Fatalf("expected depth mirror 4.2, got %v", snapshot["depth"])
	}
	if snapshot["temperature"] != 18.5 {
		t.Fatalf("expected temperature mirror 18.5, got %v", snapshot["temperature"])
	}
	if snapshot["humidity"] != 61.0 {
		t.Fatalf("expected humidity mirror 61.0, got %v", snapshot["humidity"])
	}
	if snapshot["rainfall"] != 0.4 {
		t.Fatalf("expected rainfall mirror 0.4, got %v", snapshot["rainfall"])
	}
	if snapshot["battery"] != 88 {
		t.Fatalf("expected passthrough battery, got %v", snapshot["battery"])
	}
}

func TestBuildSnapshot_StructuredOverridesFlat(t *testing.T) {
	payload := map[string]any{
		"environment": map[string]any{"temperature": 20.0},
		"temperature": 7.0,
	}

	snapshot := BuildSnapshot(payload)
	if snapshot["temperature"] != 20.0 {
		t.Fatalf("expected structured value to win, got %v", snapshot["temperature"])
	}
}

func TestBuildSnapshot_FlatKeptWhenGroupAbsent(t *testing.T) {
	payload := map[string]any{"rainfall": 1.5}

	snapshot := BuildSnapshot(payload)
	if snapshot["rainfall"] != 1.5 {
		t.Fatalf("expected flat value kept, got %v", snapshot["rainfall"])
	}
}

func TestBuildSnapshot_DoesNotMutateInput(t *testing.T) {
	payload := map[string]any{
		"position": map[string]any{"depth": 2.0},
	}

	_ = BuildSnapshot(payload)
	if _, ok := payload["depth"]; ok {
		t.Fatal("input payload was mutated")
	}
}

func TestLatestByUID_PicksGreatestCapturedAt(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []Record{
		{DeviceUID: "buoy-1", CapturedAt: base.Add(2 * time.Minute)},
		{DeviceUID: "buoy-2", CapturedAt: base},
		{DeviceUID: "buoy-1", CapturedAt: base.Add(time.Minute)},
	}

	uids, winners := LatestByUID(batch)

	if len(uids) != 2 || uids[0] != "buoy-1" || uids[1] != "buoy-2" {
		t.Fatalf("unexpected uid order: %v", uids)
	}
	if got := winners["buoy-1"].CapturedAt; !got.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("expected latest record for buoy-1, got %s", got)
	}
}

func TestLatestByUID_TieGoesToLaterBatchPosition(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []Record{
		{DeviceUID: "buoy-1", CapturedAt: at, Payload: map[string]any{"seq": 1}},
		{DeviceUID: "buoy-1", CapturedAt: at, Payload: map[string]any{"seq": 2}},
	}

	_, winners := LatestByUID(batch)
	if winners["buoy-1"].Payload["seq"] != 2 {
		t.Fatalf("expected later record to win tie, got %v", winners["buoy-1"].Payload["seq"])
	}
}
