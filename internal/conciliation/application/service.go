package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"conciliation-cloud/internal/busday"
	conciliation "conciliation-cloud/internal/conciliation/domain"
	"conciliation-cloud/internal/money"
	"conciliation-cloud/internal/requestid"

	"github.com/shopspring/decimal"
)

// ManualReconcileRequest is a user's proposed manual match: a selection of
// unreconciled ids on each side of one account.
type ManualReconcileRequest struct {
	TenantID string
	BankCode string
	AccTail  string
	APIIDs   []string
	ERPIDs   []string
}

// DayDetails is the read model for one calendar day of an account.
type DayDetails struct {
	UnreconciledAPI []conciliation.UnreconciledRecord `json:"unreconciledApi"`
	UnreconciledERP []conciliation.UnreconciledRecord `json:"unreconciledErp"`
	Matches         []conciliation.Match              `json:"matches"`
}

// ManualCandidates is the read model feeding the manual selection panel:
// the business-day window around an anchor and the unreconciled records on it.
type ManualCandidates struct {
	Dates           []time.Time                       `json:"dates"`
	UnreconciledAPI []conciliation.UnreconciledRecord `json:"unreconciledApi"`
	UnreconciledERP []conciliation.UnreconciledRecord `json:"unreconciledErp"`
}

// Service orchestrates manual conciliation and the day/window read surface.
type Service struct {
	store  conciliation.Store
	logger *log.Logger
}

// NewService constructs the conciliation service.
func NewService(store conciliation.Store, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, conciliation.ErrNilStore
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: store, logger: logger}, nil
}

// ManualReconcile validates a proposed manual match, verifies monetary
// balance, and commits the match rows, the record deletions and the daily
// aggregate updates as one atomic unit. Validation failures leave no side
// effects.
func (s *Service) ManualReconcile(ctx context.Context, req ManualReconcileRequest) error {
	scope := conciliation.Scope{TenantID: req.TenantID, BankCode: req.BankCode, AccTail: req.AccTail}
	if !scope.IsComplete() || len(req.APIIDs) == 0 || len(req.ERPIDs) == 0 {
		return conciliation.ErrInvalidRequest
	}

	apiIDs, erpIDs, err := normalizeSelections(req.APIIDs, req.ERPIDs)
	if err != nil {
		return err
	}

	apiRecords, err := s.store.FetchSelected(ctx, scope, conciliation.SourceAPI, apiIDs)
	if err != nil {
		return err
	}
	erpRecords, err := s.store.FetchSelected(ctx, scope, conciliation.SourceERP, erpIDs)
	if err != nil {
		return err
	}
	if len(apiRecords) != len(apiIDs) || len(erpRecords) != len(erpIDs) {
		s.logger.Printf("manual conciliation lost race: corr=%s tenant=%s bank=%s acc=%s api=%d/%d erp=%d/%d",
			requestid.FromContext(ctx), scope.TenantID, scope.BankCode, scope.AccTail,
			len(apiRecords), len(apiIDs), len(erpRecords), len(erpIDs))
		return conciliation.ErrRecordsUnavailable
	}

	apiTotal := sumAbs(apiRecords)
	erpTotal := sumAbs(erpRecords)
	if !money.EqualCents(apiTotal, erpTotal) {
		apiF, _ := apiTotal.Float64()
		erpF, _ := erpTotal.Float64()
		return &conciliation.AmountMismatchError{APITotal: apiF, ERPTotal: erpF}
	}

	plan := buildCommitPlan(scope, apiRecords, erpRecords)
	if err := s.store.CommitManual(ctx, plan); err != nil {
		s.logger.Printf("manual conciliation commit failed: corr=%s tenant=%s bank=%s acc=%s api=%d erp=%d err=%v",
			requestid.FromContext(ctx), scope.TenantID, scope.BankCode, scope.AccTail,
			len(apiRecords), len(erpRecords), err)
		return err
	}
	s.logger.Printf("manual conciliation committed: corr=%s tenant=%s bank=%s acc=%s matches=%d dates=%d",
		requestid.FromContext(ctx), scope.TenantID, scope.BankCode, scope.AccTail,
		len(plan.Matches), len(plan.DateDeltas))
	return nil
}

// DayDetails returns the unreconciled records for one exact date plus the
// matches for that date or, when widen is set, for the full business-day
// window around it.
func (s *Service) DayDetails(ctx context.Context, scope conciliation.Scope, date time.Time, widen bool) (DayDetails, error) {
	if !scope.IsComplete() || date.IsZero() {
		return DayDetails{}, conciliation.ErrInvalidRequest
	}
	day := busday.Truncate(date)

	api, err := s.store.ListUnreconciledByDates(ctx, scope, conciliation.SourceAPI, []time.Time{day})
	if err != nil {
		return DayDetails{}, err
	}
	erp, err := s.store.ListUnreconciledByDates(ctx, scope, conciliation.SourceERP, []time.Time{day})
	if err != nil {
		return DayDetails{}, err
	}

	matchDates := []time.Time{day}
	if widen {
		matchDates = busday.CandidateDates(day)
	}
	matches, err := s.store.ListMatchesByDates(ctx, scope, matchDates)
	if err != nil {
		return DayDetails{}, err
	}
	return DayDetails{UnreconciledAPI: api, UnreconciledERP: erp, Matches: matches}, nil
}

// ManualCandidates expands the anchor into its business-day window and
// returns the unreconciled records across it.
func (s *Service) ManualCandidates(ctx context.Context, scope conciliation.Scope, baseDate time.Time) (ManualCandidates, error) {
	if !scope.IsComplete() {
		return ManualCandidates{}, conciliation.ErrInvalidRequest
	}
	dates := busday.CandidateDates(baseDate)
	if len(dates) == 0 {
		return ManualCandidates{}, conciliation.ErrInvalidRequest
	}

	api, err := s.store.ListUnreconciledByDates(ctx, scope, conciliation.SourceAPI, dates)
	if err != nil {
		return ManualCandidates{}, err
	}
	erp, err := s.store.ListUnreconciledByDates(ctx, scope, conciliation.SourceERP, dates)
	if err != nil {
		return ManualCandidates{}, err
	}
	return ManualCandidates{Dates: dates, UnreconciledAPI: api, UnreconciledERP: erp}, nil
}

func normalizeSelections(apiRaw, erpRaw []string) ([]string, []string, error) {
	apiIDs, apiErr := conciliation.NormalizeIdentifiers(apiRaw)
	erpIDs, erpErr := conciliation.NormalizeIdentifiers(erpRaw)
	if apiErr == nil && erpErr == nil {
		return apiIDs, erpIDs, nil
	}
	// One error naming every offending value across both sides.
	merged := &conciliation.InvalidIdentifierError{}
	var invalid *conciliation.InvalidIdentifierError
	if errors.As(apiErr, &invalid) {
		merged.Values = append(merged.Values, invalid.Values...)
	}
	if errors.As(erpErr, &invalid) {
		merged.Values = append(merged.Values, invalid.Values...)
	}
	return nil, nil, merged
}

func sumAbs(records []conciliation.UnreconciledRecord) decimal.Decimal {
	amounts := make([]float64, len(records))
	for i, r := range records {
		amounts[i] = r.Amount
	}
	return money.SumAbs(amounts)
}

// buildCommitPlan produces the N×M match rows and the per-date aggregate
// deltas. Matched totals are bucketed by the ERP side date, with each API
// amount distributed across its matched ERP rows proportionally to their
// absolute amounts; the last ERP row absorbs the rounding remainder so the
// buckets always add up to the API amount to the cent. Removed unreconciled
// amounts are bucketed by each record's own date.
func buildCommitPlan(scope conciliation.Scope, apiRecords, erpRecords []conciliation.UnreconciledRecord) conciliation.CommitPlan {
	plan := conciliation.CommitPlan{
		Scope:      scope,
		APIDates:   recordDates(apiRecords),
		ERPDates:   recordDates(erpRecords),
		DeleteAPI:  uids(apiRecords),
		DeleteERP:  uids(erpRecords),
		DateDeltas: map[time.Time]conciliation.AggregateDelta{},
	}

	sumERPAbs := 0.0
	for _, erp := range erpRecords {
		sumERPAbs += abs(erp.Amount)
	}

	for _, api := range apiRecords {
		remaining := money.RoundCents(abs(api.Amount))
		for i, erp := range erpRecords {
			plan.Matches = append(plan.Matches, conciliation.NewManualMatch(api, erp))
			if sumERPAbs <= 0 {
				continue
			}
			contrib := remaining
			if i < len(erpRecords)-1 {
				contrib = money.RoundCents(abs(erp.Amount) / sumERPAbs * abs(api.Amount))
				if contrib > remaining {
					contrib = remaining
				}
				remaining = money.RoundCents(remaining - contrib)
			}
			addDelta(plan.DateDeltas, erp.Date, conciliation.AggregateDelta{APIMatchedInc: contrib})
		}
	}
	for _, erp := range erpRecords {
		addDelta(plan.DateDeltas, erp.Date, conciliation.AggregateDelta{
			ERPMatchedInc:  abs(erp.Amount),
			ERPUnrecRemove: abs(erp.Amount),
		})
	}
	for _, api := range apiRecords {
		addDelta(plan.DateDeltas, api.Date, conciliation.AggregateDelta{APIUnrecRemove: abs(api.Amount)})
	}
	return plan
}

func addDelta(deltas map[time.Time]conciliation.AggregateDelta, date time.Time, delta conciliation.AggregateDelta) {
	day := busday.Truncate(date)
	deltas[day] = deltas[day].Merge(delta)
}

func recordDates(records []conciliation.UnreconciledRecord) map[string]time.Time {
	dates := make(map[string]time.Time, len(records))
	for _, r := range records {
		dates[r.UID] = busday.Truncate(r.Date)
	}
	return dates
}

func uids(records []conciliation.UnreconciledRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.UID
	}
	sort.Strings(ids)
	return ids
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
