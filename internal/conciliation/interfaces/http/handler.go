package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"conciliation-cloud/internal/audit"
	"conciliation-cloud/internal/auth"
	"conciliation-cloud/internal/conciliation/application"
	conciliation "conciliation-cloud/internal/conciliation/domain"
	"conciliation-cloud/internal/observability/metrics"
	"conciliation-cloud/internal/requestid"
)

const dateLayout = "2006-01-02"

// Handler provides the conciliation dashboard endpoints.
type Handler struct {
	service        *application.Service
	accountChecker auth.AccountTenantChecker
	auditLogger    audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *application.Service, accountChecker auth.AccountTenantChecker, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("conciliation handler: nil service")
	}
	return &Handler{service: service, accountChecker: accountChecker, auditLogger: auditLogger}, nil
}

// ServeHTTP routes the conciliation endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/conciliation/manual":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleManual(w, r)
	case "/api/v1/conciliation/day-details":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDayDetails(w, r)
	case "/api/v1/conciliation/manual-candidates":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleManualCandidates(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleManual(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req struct {
		TenantID string   `json:"tenantId"`
		BankCode string   `json:"bankCode"`
		AccTail  string   `json:"accTail"`
		APIIDs   []string `json:"apiIds"`
		ERPIDs   []string `json:"erpIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" && req.TenantID != "" && req.TenantID != tenantID {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	if tenantID != "" {
		req.TenantID = tenantID
		if err := h.ensureAccountTenant(r, tenantID, req.BankCode, req.AccTail); err != nil {
			respondTenantError(w, err)
			return
		}
	}

	err := h.service.ManualReconcile(r.Context(), application.ManualReconcileRequest{
		TenantID: req.TenantID,
		BankCode: req.BankCode,
		AccTail:  req.AccTail,
		APIIDs:   req.APIIDs,
		ERPIDs:   req.ERPIDs,
	})
	metrics.ObserveManual(metrics.ManualResult(err), time.Since(start))
	if err != nil {
		respondReconcileError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true})

	h.logAudit(r, req.TenantID, req.BankCode, req.AccTail, len(req.APIIDs), len(req.ERPIDs))
}

func (h *Handler) handleDayDetails(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.ObserveQuery("day-details", time.Since(start)) }()

	scope, ok := h.scopeFromQuery(w, r)
	if !ok {
		return
	}
	date, err := time.Parse(dateLayout, r.URL.Query().Get("date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	widen := r.URL.Query().Get("window") == "1"

	details, err := h.service.DayDetails(r.Context(), scope, date, widen)
	if err != nil {
		respondReconcileError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(details)
}

func (h *Handler) handleManualCandidates(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metrics.ObserveQuery("manual-candidates", time.Since(start)) }()

	scope, ok := h.scopeFromQuery(w, r)
	if !ok {
		return
	}
	baseDate, err := time.Parse(dateLayout, r.URL.Query().Get("base_date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "base_date must be YYYY-MM-DD")
		return
	}

	candidates, err := h.service.ManualCandidates(r.Context(), scope, baseDate)
	if err != nil {
		respondReconcileError(w, err)
		return
	}

	dates := make([]string, len(candidates.Dates))
	for i, d := range candidates.Dates {
		dates[i] = d.Format(dateLayout)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"dates":           dates,
		"unreconciledApi": candidates.UnreconciledAPI,
		"unreconciledErp": candidates.UnreconciledERP,
	})
}

func (h *Handler) scopeFromQuery(w http.ResponseWriter, r *http.Request) (conciliation.Scope, bool) {
	query := r.URL.Query()
	scope := conciliation.Scope{
		TenantID: query.Get("tenant"),
		BankCode: query.Get("bank"),
		AccTail:  query.Get("acc_tail"),
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" && scope.TenantID != "" && scope.TenantID != tenantID {
		respondError(w, http.StatusForbidden, "forbidden")
		return conciliation.Scope{}, false
	}
	if tenantID != "" {
		scope.TenantID = tenantID
		if err := h.ensureAccountTenant(r, tenantID, scope.BankCode, scope.AccTail); err != nil {
			respondTenantError(w, err)
			return conciliation.Scope{}, false
		}
	}
	if !scope.IsComplete() {
		respondError(w, http.StatusBadRequest, "tenant/bank/acc_tail required")
		return conciliation.Scope{}, false
	}
	return scope, true
}

func (h *Handler) ensureAccountTenant(r *http.Request, tenantID, bankCode, accTail string) error {
	if h.accountChecker == nil {
		return nil
	}
	return h.accountChecker.EnsureAccountTenant(r.Context(), tenantID, bankCode, accTail)
}

func (h *Handler) logAudit(r *http.Request, tenantID, bankCode, accTail string, apiCount, erpCount int) {
	if h.auditLogger == nil {
		return
	}
	metadata, _ := json.Marshal(map[string]any{
		"api_ids": apiCount,
		"erp_ids": erpCount,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:      tenantID,
		Actor:         auth.SubjectFromContext(r.Context()),
		Role:          string(auth.RoleFromContext(r.Context())),
		Action:        "conciliation.manual",
		ResourceType:  "bank_account",
		ResourceID:    bankCode + ":" + accTail,
		BankCode:      bankCode,
		AccTail:       accTail,
		CorrelationID: requestid.FromContext(r.Context()),
		Metadata:      metadata,
		IP:            r.RemoteAddr,
		UserAgent:     r.UserAgent(),
	})
}

func respondReconcileError(w http.ResponseWriter, err error) {
	var invalidIDs *conciliation.InvalidIdentifierError
	var mismatch *conciliation.AmountMismatchError
	switch {
	case errors.Is(err, conciliation.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &invalidIDs):
		respondError(w, http.StatusBadRequest, invalidIDs.Error())
	case errors.As(err, &mismatch):
		respondError(w, http.StatusBadRequest, mismatch.Error())
	case errors.Is(err, conciliation.ErrRecordsUnavailable):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondTenantError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrTenantMismatch):
		respondError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		respondError(w, http.StatusNotFound, "account not found")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
