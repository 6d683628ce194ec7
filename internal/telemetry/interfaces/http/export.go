package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"aquasense-cloud/internal/audit"
	"aquasense-cloud/internal/auth"
	"aquasense-cloud/internal/observability/metrics"
	telemetry "aquasense-cloud/internal/telemetry/domain"
)

const exportLimit = 10000

// exportColumns are the snapshot fields rendered in tabular exports.
var exportColumns = []string{"temperature", "depth", "rainfall", "humidity"}

// ExportHandler renders a bounded range of readings as XLSX or PDF.
type ExportHandler struct {
	query  telemetry.RecordQuery
	audit  audit.Logger
	logger *log.Logger
}

// NewExportHandler constructs an export handler.
func NewExportHandler(query telemetry.RecordQuery, auditLogger audit.Logger, logger *log.Logger) (*ExportHandler, error) {
	if query == nil {
		return nil, errors.New("export handler: nil query")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ExportHandler{query: query, audit: auditLogger, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/exports/telemetry.{xlsx,pdf}.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	format := strings.TrimPrefix(r.URL.Path, "/api/v1/exports/telemetry.")
	if format != "xlsx" && format != "pdf" {
		http.Error(w, "unknown export format", http.StatusNotFound)
		return
	}

	params := r.URL.Query()
	uid := params.Get("uid")
	var start, end time.Time
	var err error
	if raw := params.Get("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "invalid start", http.StatusBadRequest)
			return
		}
	}
	if raw := params.Get("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "invalid end", http.StatusBadRequest)
			return
		}
	}

	records, err := h.query.QueryRange(r.Context(), uid, start, end, exportLimit)
	if err != nil {
		metrics.IncExport(format, "error")
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}

	var data []byte
	switch format {
	case "xlsx":
		data, err = buildTelemetryXLSX(records)
	case "pdf":
		data, err = buildTelemetryPDF(records)
	}
	if err != nil {
		h.logger.Printf("telemetry export: build %s error: %v", format, err)
		metrics.IncExport(format, "error")
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}

	if h.audit != nil {
		meta, _ := json.Marshal(map[string]any{"uid": uid, "format": format, "rows": len(records)})
		_ = h.audit.Log(r.Context(), audit.Entry{
			Actor:        auth.SubjectFromContext(r.Context()),
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       "telemetry.export",
			ResourceType: "telemetry",
			Metadata:     meta,
			IP:           audit.ClientIP(r),
			UserAgent:    r.UserAgent(),
		})
	}

	metrics.IncExport(format, "success")
	switch format {
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	case "pdf":
		w.Header().Set("Content-Type", "application/pdf")
	}
	w.Header().Set("Content-Disposition", "attachment; filename=telemetry."+format)
	_, _ = w.Write(data)
}

func columnTitle(column string) string {
	if column == "" {
		return column
	}
	return strings.ToUpper(column[:1]) + column[1:]
}

func buildTelemetryXLSX(records []telemetry.Record) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "readings"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "UID")
	_ = f.SetCellValue(sheet, "B1", "Captured At")
	_ = f.SetCellValue(sheet, "C1", "Received At")
	for i, column := range exportColumns {
		cell := fmt.Sprintf("%c1", 'D'+i)
		_ = f.SetCellValue(sheet, cell, columnTitle(column))
	}

	for i, record := range records {
		row := i + 2
		snapshot := telemetry.BuildSnapshot(record.Payload)
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), record.DeviceUID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), record.CapturedAt.Format(time.RFC3339))
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), record.ReceivedAt.Format(time.RFC3339))
		for j, column := range exportColumns {
			if value, ok := snapshot[column]; ok {
				_ = f.SetCellValue(sheet, fmt.Sprintf("%c%d", 'D'+j, row), value)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildTelemetryPDF(records []telemetry.Record) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Telemetry Readings")
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(40, 6, "UID", "1", 0, "C", false, 0, "")
	pdf.CellFormat(48, 6, "Captured At", "1", 0, "C", false, 0, "")
	for _, column := range exportColumns {
		pdf.CellFormat(30, 6, columnTitle(column), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, record := range records {
		snapshot := telemetry.BuildSnapshot(record.Payload)
		pdf.CellFormat(40, 6, record.DeviceUID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(48, 6, record.CapturedAt.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		for _, column := range exportColumns {
			text := ""
			if value, ok := snapshot[column]; ok {
				text = fmt.Sprintf("%v", value)
			}
			pdf.CellFormat(30, 6, text, "1", 0, "R", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
