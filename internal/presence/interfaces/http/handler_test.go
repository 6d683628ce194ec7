package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	presence "aquasense-cloud/internal/presence/domain"
)

type stubRepo struct {
	devices []presence.Device
	err     error
}

func (s *stubRepo) UpsertOnline(context.Context, []presence.SnapshotUpdate) error { return nil }
func (s *stubRepo) EnsureKnown(context.Context, []string) error                   { return nil }
func (s *stubRepo) MarkOffline(context.Context, time.Time) ([]string, error)      { return nil, nil }

func (s *stubRepo) List(context.Context) ([]presence.Device, error) {
	return s.devices, s.err
}

func TestListHandler_ReturnsDevices(t *testing.T) {
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler, err := NewListHandler(&stubRepo{devices: []presence.Device{
		{UID: "buoy-1", Status: presence.StatusOnline, LastSeen: &seen},
		{UID: "buoy-2", Status: presence.StatusOffline},
	}})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var out []presence.Device
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].UID != "buoy-1" || out[1].Status != presence.StatusOffline {
		t.Fatalf("unexpected body: %v", out)
	}
}

func TestListHandler_RepositoryError(t *testing.T) {
	handler, err := NewListHandler(&stubRepo{err: errors.New("db down")})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

func TestListHandler_RejectsPOST(t *testing.T) {
	handler, err := NewListHandler(&stubRepo{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}
