package http

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	telemetry "aquasense-cloud/internal/telemetry/domain"
)

func exportRecords() []telemetry.Record {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []telemetry.Record{
		{
			DeviceUID:  "buoy-1",
			CapturedAt: base,
			ReceivedAt: base.Add(time.Second),
			Payload: map[string]any{
				"environment":   map[string]any{"temperature": 18.5, "humidity": 60.0},
				"position":      map[string]any{"depth": 4.1},
				"precipitation": map[string]any{"rainfall": 0.2},
			},
		},
	}
}

func TestExportHandler_XLSX(t *testing.T) {
	handler, err := NewExportHandler(&stubQuery{records: exportRecords()}, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/telemetry.xlsx?uid=buoy-1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %q", ct)
	}
	// XLSX files are zip containers.
	if !bytes.HasPrefix(resp.Body.Bytes(), []byte("PK")) {
		t.Fatal("expected zip container bytes")
	}
}

func TestExportHandler_PDF(t *testing.T) {
	handler, err := NewExportHandler(&stubQuery{records: exportRecords()}, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/telemetry.pdf", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")) {
		t.Fatal("expected PDF magic bytes")
	}
}

func TestExportHandler_UnknownFormat(t *testing.T) {
	handler, err := NewExportHandler(&stubQuery{}, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/telemetry.csv", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestExportHandler_BadRange(t *testing.T) {
	handler, err := NewExportHandler(&stubQuery{}, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports/telemetry.xlsx?start=lastweek", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
