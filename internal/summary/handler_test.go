package summary_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"conciliation-cloud/internal/auth"
	conciliation "conciliation-cloud/internal/conciliation/domain"
	"conciliation-cloud/internal/conciliation/infrastructure/memory"
	"conciliation-cloud/internal/summary"
)

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.SetAggregate(conciliation.DailyAggregate{
		TenantID: "T1", BankCode: "001", AccTail: "1234", Date: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		APIMatchedAbs: 60, ERPMatchedAbs: 60, APIUnrecAbs: 40, ERPUnrecAbs: 40, UnrecTotalAbs: 80,
	})
	store.SetAggregate(conciliation.DailyAggregate{
		TenantID: "T1", BankCode: "001", AccTail: "1234", Date: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
		APIMatchedAbs: 40, ERPMatchedAbs: 40,
	})
	store.SetAggregate(conciliation.DailyAggregate{
		TenantID: "T1", BankCode: "001", AccTail: "1234", Date: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		APIUnrecAbs: 5, ERPUnrecAbs: 5, UnrecTotalAbs: 10,
	})
	return store
}

func TestMonthlyHandler(t *testing.T) {
	handler := summary.NewMonthlyHandler(seededStore())
	req := httptest.NewRequest("GET", "/api/v1/summary/monthly?tenant=T1&bank=001&acc_tail=1234&year=2025", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "T1", auth.RoleViewer, "user-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var rollups []summary.MonthlyRollup
	if err := json.Unmarshal(rec.Body.Bytes(), &rollups); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(rollups) != 2 {
		t.Fatalf("rollups = %d, want 2 (march, april)", len(rollups))
	}
	if rollups[0].Month != "2025-03" || rollups[0].APIMatchedAbs != 100 || rollups[0].UnrecTotalAbs != 80 {
		t.Fatalf("unexpected march rollup: %+v", rollups[0])
	}
	if rollups[1].Month != "2025-04" || rollups[1].UnrecTotalAbs != 10 {
		t.Fatalf("unexpected april rollup: %+v", rollups[1])
	}
}

func TestMonthlyHandlerRejectsForeignTenant(t *testing.T) {
	handler := summary.NewMonthlyHandler(seededStore())
	req := httptest.NewRequest("GET", "/api/v1/summary/monthly?tenant=T2&bank=001&acc_tail=1234&year=2025", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "T1", auth.RoleViewer, "user-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 403 {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestDailyHandler(t *testing.T) {
	handler := summary.NewDailyHandler(seededStore())
	req := httptest.NewRequest("GET", "/api/v1/summary/daily?tenant=T1&bank=001&acc_tail=1234&month=2025-03", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var daily []conciliation.DailyAggregate
	if err := json.Unmarshal(rec.Body.Bytes(), &daily); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(daily) != 2 {
		t.Fatalf("daily rows = %d, want 2 (april excluded)", len(daily))
	}
	if !daily[0].Date.Equal(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("first row date = %v", daily[0].Date)
	}
}

func TestDailyHandlerBadMonth(t *testing.T) {
	handler := summary.NewDailyHandler(seededStore())
	req := httptest.NewRequest("GET", "/api/v1/summary/daily?tenant=T1&bank=001&acc_tail=1234&month=march", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestExportDailyCSVHandler(t *testing.T) {
	handler := summary.NewExportDailyCSVHandler(seededStore())
	req := httptest.NewRequest("GET", "/api/v1/exports/daily.csv?tenant=T1&bank=001&acc_tail=1234&from=2025-03-01&to=2025-03-31", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Fatalf("content type = %s", got)
	}
	rows, err := csv.NewReader(bytes.NewReader(rec.Body.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("csv rows = %d, want header + 2", len(rows))
	}
	if rows[0][3] != "date" || rows[0][8] != "unrec_total_abs" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][3] != "2025-03-03" || rows[1][4] != "60" {
		t.Fatalf("unexpected first row: %v", rows[1])
	}
}

func TestReportHandlerXLSX(t *testing.T) {
	handler, err := summary.NewReportHandler(seededStore(), "xlsx")
	if err != nil {
		t.Fatalf("NewReportHandler: %v", err)
	}
	req := httptest.NewRequest("GET", "/api/v1/summary/report.xlsx?tenant=T1&bank=001&acc_tail=1234&month=2025-03", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "conciliation-2025-03.xlsx") {
		t.Fatalf("content disposition = %s", got)
	}
	// XLSX files are zip archives.
	if body := rec.Body.Bytes(); len(body) < 4 || body[0] != 'P' || body[1] != 'K' {
		t.Fatal("expected zip payload")
	}
}

func TestReportHandlerPDF(t *testing.T) {
	handler, err := summary.NewReportHandler(seededStore(), "pdf")
	if err != nil {
		t.Fatalf("NewReportHandler: %v", err)
	}
	req := httptest.NewRequest("GET", "/api/v1/summary/report.pdf?tenant=T1&bank=001&acc_tail=1234&month=2025-03", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatal("expected pdf payload")
	}
}

func TestReportHandlerRejectsUnknownFormat(t *testing.T) {
	if _, err := summary.NewReportHandler(seededStore(), "docx"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
