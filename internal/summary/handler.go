package summary

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"conciliation-cloud/internal/auth"
	conciliation "conciliation-cloud/internal/conciliation/domain"
	"conciliation-cloud/internal/observability/metrics"
)

const dateLayout = "2006-01-02"

// MonthlyHandler serves monthly rollups computed from the daily table.
type MonthlyHandler struct {
	reader conciliation.AggregateReader
}

// NewMonthlyHandler constructs a MonthlyHandler.
func NewMonthlyHandler(reader conciliation.AggregateReader) *MonthlyHandler {
	return &MonthlyHandler{reader: reader}
}

// ServeHTTP handles GET /api/v1/summary/monthly.
func (h *MonthlyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.reader == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()
	defer func() { metrics.ObserveQuery("summary-monthly", time.Since(start)) }()

	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 1970 || year > 9999 {
		http.Error(w, "year is required", http.StatusBadRequest)
		return
	}

	from, to := YearBounds(year)
	daily, err := h.reader.ListDailyAggregates(r.Context(), scope, from, to)
	if err != nil {
		http.Error(w, "query aggregates error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RollupMonthly(daily))
}

// DailyHandler serves the daily aggregate rows for one month.
type DailyHandler struct {
	reader conciliation.AggregateReader
}

// NewDailyHandler constructs a DailyHandler.
func NewDailyHandler(reader conciliation.AggregateReader) *DailyHandler {
	return &DailyHandler{reader: reader}
}

// ServeHTTP handles GET /api/v1/summary/daily.
func (h *DailyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.reader == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()
	defer func() { metrics.ObserveQuery("summary-daily", time.Since(start)) }()

	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	from, to, err := MonthBounds(r.URL.Query().Get("month"))
	if err != nil {
		http.Error(w, "month must be YYYY-MM", http.StatusBadRequest)
		return
	}

	daily, err := h.reader.ListDailyAggregates(r.Context(), scope, from, to)
	if err != nil {
		http.Error(w, "query aggregates error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(daily)
}

// ExportDailyCSVHandler serves daily aggregate CSV exports.
type ExportDailyCSVHandler struct {
	reader conciliation.AggregateReader
}

// NewExportDailyCSVHandler constructs a ExportDailyCSVHandler.
func NewExportDailyCSVHandler(reader conciliation.AggregateReader) *ExportDailyCSVHandler {
	return &ExportDailyCSVHandler{reader: reader}
}

// ServeHTTP handles GET /api/v1/exports/daily.csv.
func (h *ExportDailyCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.reader == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	from, err := parseDateQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseDateQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if to.Before(from) {
		http.Error(w, "to must not be before from", http.StatusBadRequest)
		return
	}

	daily, err := h.reader.ListDailyAggregates(r.Context(), scope, from, to)
	if err != nil {
		metrics.ObserveExport("csv", "error", time.Since(start))
		http.Error(w, "query aggregates error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"tenant_id",
		"bank_code",
		"acc_tail",
		"date",
		"api_matched_abs",
		"erp_matched_abs",
		"api_unrec_abs",
		"erp_unrec_abs",
		"unrec_total_abs",
		"unrec_diff",
	})
	for _, agg := range daily {
		_ = writer.Write([]string{
			agg.TenantID,
			agg.BankCode,
			agg.AccTail,
			agg.Date.Format(dateLayout),
			formatFloat(agg.APIMatchedAbs),
			formatFloat(agg.ERPMatchedAbs),
			formatFloat(agg.APIUnrecAbs),
			formatFloat(agg.ERPUnrecAbs),
			formatFloat(agg.UnrecTotalAbs),
			formatFloat(agg.UnrecDiff),
		})
	}
	writer.Flush()
	metrics.ObserveExport("csv", "ok", time.Since(start))
}

// ReportHandler serves the monthly report in XLSX or PDF form.
type ReportHandler struct {
	reader conciliation.AggregateReader
	format string
}

// NewReportHandler constructs a ReportHandler. Format is "xlsx" or "pdf".
func NewReportHandler(reader conciliation.AggregateReader, format string) (*ReportHandler, error) {
	if format != "xlsx" && format != "pdf" {
		return nil, errors.New("report handler: format must be xlsx or pdf")
	}
	return &ReportHandler{reader: reader, format: format}, nil
}

// ServeHTTP handles GET /api/v1/summary/report.xlsx and report.pdf.
func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.reader == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	start := time.Now()

	scope, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	month := r.URL.Query().Get("month")
	from, to, err := MonthBounds(month)
	if err != nil {
		http.Error(w, "month must be YYYY-MM", http.StatusBadRequest)
		return
	}

	daily, err := h.reader.ListDailyAggregates(r.Context(), scope, from, to)
	if err != nil {
		metrics.ObserveExport(h.format, "error", time.Since(start))
		http.Error(w, "query aggregates error", http.StatusInternalServerError)
		return
	}

	rollup := MonthlyRollup{TenantID: scope.TenantID, BankCode: scope.BankCode, AccTail: scope.AccTail, Month: month}
	if rollups := RollupMonthly(daily); len(rollups) > 0 {
		rollup = rollups[0]
	}

	var payload []byte
	switch h.format {
	case "xlsx":
		payload, err = BuildReportXLSX(rollup, daily)
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	case "pdf":
		payload, err = BuildReportPDF(rollup, daily)
		w.Header().Set("Content-Type", "application/pdf")
	}
	if err != nil {
		metrics.ObserveExport(h.format, "error", time.Since(start))
		http.Error(w, "render report error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=conciliation-"+month+"."+h.format)
	_, _ = w.Write(payload)
	metrics.ObserveExport(h.format, "ok", time.Since(start))
}

func scopeFromQuery(w http.ResponseWriter, r *http.Request) (conciliation.Scope, bool) {
	query := r.URL.Query()
	scope := conciliation.Scope{
		TenantID: query.Get("tenant"),
		BankCode: query.Get("bank"),
		AccTail:  query.Get("acc_tail"),
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" {
		if scope.TenantID != "" && scope.TenantID != tenantID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return conciliation.Scope{}, false
		}
		scope.TenantID = tenantID
	}
	if !scope.IsComplete() {
		http.Error(w, "tenant/bank/acc_tail required", http.StatusBadRequest)
		return conciliation.Scope{}, false
	}
	return scope, true
}

func parseDateQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be YYYY-MM-DD")
	}
	return parsed.UTC(), nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
