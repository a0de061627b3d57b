package application_test

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"conciliation-cloud/internal/conciliation/application"
	conciliation "conciliation-cloud/internal/conciliation/domain"
	"conciliation-cloud/internal/conciliation/infrastructure/memory"
)

var testScope = conciliation.Scope{TenantID: "T1", BankCode: "001", AccTail: "1234"}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func record(uid string, source conciliation.Source, amount float64, date time.Time) conciliation.UnreconciledRecord {
	return conciliation.UnreconciledRecord{
		UID:      uid,
		TenantID: testScope.TenantID,
		BankCode: testScope.BankCode,
		AccTail:  testScope.AccTail,
		Date:     date,
		Amount:   amount,
		Source:   source,
	}
}

func newService(t *testing.T, store *memory.Store) *application.Service {
	t.Helper()
	service, err := application.NewService(store, log.New(&strings.Builder{}, "", 0))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func seedScenario(store *memory.Store) {
	store.AddUnreconciled(
		record("a1", conciliation.SourceAPI, 100.00, day(2025, time.March, 3)),
		record("b1", conciliation.SourceERP, 60.00, day(2025, time.March, 3)),
		record("b2", conciliation.SourceERP, 40.00, day(2025, time.March, 4)),
	)
	store.SetAggregate(conciliation.DailyAggregate{
		TenantID: testScope.TenantID, BankCode: testScope.BankCode, AccTail: testScope.AccTail,
		Date: day(2025, time.March, 3), APIUnrecAbs: 100.00, ERPUnrecAbs: 60.00,
		UnrecTotalAbs: 160.00, UnrecDiff: -40.00,
	})
	store.SetAggregate(conciliation.DailyAggregate{
		TenantID: testScope.TenantID, BankCode: testScope.BankCode, AccTail: testScope.AccTail,
		Date: day(2025, time.March, 4), ERPUnrecAbs: 40.00,
		UnrecTotalAbs: 40.00, UnrecDiff: 40.00,
	})
}

func manualRequest(apiIDs, erpIDs []string) application.ManualReconcileRequest {
	return application.ManualReconcileRequest{
		TenantID: testScope.TenantID,
		BankCode: testScope.BankCode,
		AccTail:  testScope.AccTail,
		APIIDs:   apiIDs,
		ERPIDs:   erpIDs,
	}
}

func TestManualReconcileEndToEnd(t *testing.T) {
	store := memory.NewStore()
	seedScenario(store)
	service := newService(t, store)

	err := service.ManualReconcile(context.Background(), manualRequest([]string{"a1"}, []string{"b1", "b2"}))
	if err != nil {
		t.Fatalf("manual reconcile: %v", err)
	}

	matches := store.Matches()
	if len(matches) != 2 {
		t.Fatalf("expected 2 match rows, got %d", len(matches))
	}
	for _, m := range matches {
		if m.Stage != conciliation.StageManual || m.Priority != conciliation.PriorityManual {
			t.Fatalf("unexpected stage/priority: %+v", m)
		}
		if m.APIUID != "a1" {
			t.Fatalf("unexpected api uid: %+v", m)
		}
	}
	byERP := map[string]conciliation.Match{matches[0].ERPUID: matches[0], matches[1].ERPUID: matches[1]}
	if byERP["b1"].DateDiff != 0 || byERP["b2"].DateDiff != 1 {
		t.Fatalf("unexpected date diffs: %+v", byERP)
	}

	if n := store.UnreconciledCount(conciliation.SourceAPI); n != 0 {
		t.Fatalf("api records remaining: %d", n)
	}
	if n := store.UnreconciledCount(conciliation.SourceERP); n != 0 {
		t.Fatalf("erp records remaining: %d", n)
	}

	agg3, ok := store.Aggregate(testScope, day(2025, time.March, 3))
	if !ok {
		t.Fatalf("missing aggregate for 2025-03-03")
	}
	if agg3.APIMatchedAbs != 60.00 || agg3.ERPMatchedAbs != 60.00 {
		t.Fatalf("2025-03-03 matched: %+v", agg3)
	}
	if agg3.APIUnrecAbs != 0 || agg3.ERPUnrecAbs != 0 || agg3.UnrecTotalAbs != 0 || agg3.UnrecDiff != 0 {
		t.Fatalf("2025-03-03 unreconciled should be zero: %+v", agg3)
	}

	agg4, ok := store.Aggregate(testScope, day(2025, time.March, 4))
	if !ok {
		t.Fatalf("missing aggregate for 2025-03-04")
	}
	if agg4.APIMatchedAbs != 40.00 || agg4.ERPMatchedAbs != 40.00 {
		t.Fatalf("2025-03-04 matched: %+v", agg4)
	}
	if agg4.UnrecTotalAbs != 0 {
		t.Fatalf("2025-03-04 unreconciled should be zero: %+v", agg4)
	}
}

func TestManualReconcileAmountMismatchLeavesStateUntouched(t *testing.T) {
	store := memory.NewStore()
	seedScenario(store)
	service := newService(t, store)

	err := service.ManualReconcile(context.Background(), manualRequest([]string{"a1"}, []string{"b1"}))
	var mismatch *conciliation.AmountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected AmountMismatchError, got %v", err)
	}
	if mismatch.APITotal != 100.00 || mismatch.ERPTotal != 60.00 {
		t.Fatalf("unexpected totals: %+v", mismatch)
	}

	if len(store.Matches()) != 0 {
		t.Fatalf("no matches should have been inserted")
	}
	if store.UnreconciledCount(conciliation.SourceAPI) != 1 || store.UnreconciledCount(conciliation.SourceERP) != 2 {
		t.Fatalf("records must remain")
	}
	agg3, _ := store.Aggregate(testScope, day(2025, time.March, 3))
	if agg3.UnrecTotalAbs != 160.00 {
		t.Fatalf("2025-03-03 aggregate must be unchanged: %+v", agg3)
	}
}

func TestManualReconcileBalanceInvariant(t *testing.T) {
	cases := []struct {
		name    string
		api     []float64
		erp     []float64
		balance bool
	}{
		{"exact", []float64{100}, []float64{60, 40}, true},
		{"signs ignored", []float64{-100}, []float64{60, 40}, true},
		{"sub cent noise", []float64{10.004}, []float64{10.001}, true},
		{"one cent off", []float64{100.01}, []float64{100.00}, false},
		{"many to many", []float64{30, 70}, []float64{25, 25, 50}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewStore()
			base := day(2025, time.March, 3)
			var apiIDs, erpIDs []string
			for i, amount := range tc.api {
				uid := "a" + string(rune('1'+i))
				apiIDs = append(apiIDs, uid)
				store.AddUnreconciled(record(uid, conciliation.SourceAPI, amount, base))
			}
			for i, amount := range tc.erp {
				uid := "b" + string(rune('1'+i))
				erpIDs = append(erpIDs, uid)
				store.AddUnreconciled(record(uid, conciliation.SourceERP, amount, base))
			}
			service := newService(t, store)

			err := service.ManualReconcile(context.Background(), manualRequest(apiIDs, erpIDs))
			if tc.balance && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tc.balance {
				var mismatch *conciliation.AmountMismatchError
				if !errors.As(err, &mismatch) {
					t.Fatalf("expected AmountMismatchError, got %v", err)
				}
			}
			if tc.balance {
				want := len(tc.api) * len(tc.erp)
				if got := len(store.Matches()); got != want {
					t.Fatalf("expected %d match rows, got %d", want, got)
				}
			}
		})
	}
}

func TestManualReconcileAtomicRollback(t *testing.T) {
	store := memory.NewStore()
	seedScenario(store)
	boom := errors.New("forced delete failure")
	store.FailDeletes(conciliation.SourceERP, boom)
	service := newService(t, store)

	err := service.ManualReconcile(context.Background(), manualRequest([]string{"a1"}, []string{"b1", "b2"}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected forced failure, got %v", err)
	}

	if len(store.Matches()) != 0 {
		t.Fatalf("match insert must not be visible after rollback")
	}
	if store.UnreconciledCount(conciliation.SourceAPI) != 1 || store.UnreconciledCount(conciliation.SourceERP) != 2 {
		t.Fatalf("deletes must not be visible after rollback")
	}
	agg3, _ := store.Aggregate(testScope, day(2025, time.March, 3))
	if agg3.APIMatchedAbs != 0 || agg3.UnrecTotalAbs != 160.00 {
		t.Fatalf("aggregate updates must not be visible after rollback: %+v", agg3)
	}
}

func TestManualReconcileValidation(t *testing.T) {
	store := memory.NewStore()
	seedScenario(store)
	service := newService(t, store)
	ctx := context.Background()

	req := manualRequest([]string{"a1"}, []string{"b1", "b2"})
	req.AccTail = ""
	if err := service.ManualReconcile(ctx, req); !errors.Is(err, conciliation.ErrInvalidRequest) {
		t.Fatalf("empty acc tail: got %v", err)
	}
	if err := service.ManualReconcile(ctx, manualRequest(nil, []string{"b1"})); !errors.Is(err, conciliation.ErrInvalidRequest) {
		t.Fatalf("empty api set: got %v", err)
	}
	if err := service.ManualReconcile(ctx, manualRequest([]string{"a1"}, nil)); !errors.Is(err, conciliation.ErrInvalidRequest) {
		t.Fatalf("empty erp set: got %v", err)
	}

	err := service.ManualReconcile(ctx, manualRequest([]string{"a1;drop"}, []string{"1.2.3"}))
	var invalid *conciliation.InvalidIdentifierError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidIdentifierError, got %v", err)
	}
	if len(invalid.Values) != 2 || invalid.Values[0] != "a1;drop" || invalid.Values[1] != "1.2.3" {
		t.Fatalf("error must name every offending raw value: %+v", invalid.Values)
	}

	if err := service.ManualReconcile(ctx, manualRequest([]string{"missing"}, []string{"b1", "b2"})); !errors.Is(err, conciliation.ErrRecordsUnavailable) {
		t.Fatalf("missing record: got %v", err)
	}
}

func TestManualReconcileNormalizesCommaIdentifiers(t *testing.T) {
	store := memory.NewStore()
	base := day(2025, time.March, 3)
	store.AddUnreconciled(
		record("12.5", conciliation.SourceAPI, 10.00, base),
		record("b1", conciliation.SourceERP, 10.00, base),
	)
	service := newService(t, store)

	// "12,5" must resolve to the record stored under "12.5".
	if err := service.ManualReconcile(context.Background(), manualRequest([]string{" 12,5 "}, []string{"b1"})); err != nil {
		t.Fatalf("comma identifier: %v", err)
	}
	if len(store.Matches()) != 1 {
		t.Fatalf("expected 1 match")
	}
}

func TestAggregateConservation(t *testing.T) {
	store := memory.NewStore()
	dates := []time.Time{day(2025, time.March, 3), day(2025, time.March, 4), day(2025, time.March, 5)}
	records := []conciliation.UnreconciledRecord{
		record("a1", conciliation.SourceAPI, 100.00, dates[0]),
		record("a2", conciliation.SourceAPI, 25.50, dates[1]),
		record("a3", conciliation.SourceAPI, -74.50, dates[2]),
		record("b1", conciliation.SourceERP, 60.00, dates[0]),
		record("b2", conciliation.SourceERP, 40.00, dates[1]),
		record("b3", conciliation.SourceERP, 100.00, dates[2]),
	}
	store.AddUnreconciled(records...)
	for _, d := range dates {
		agg := conciliation.DailyAggregate{
			TenantID: testScope.TenantID, BankCode: testScope.BankCode, AccTail: testScope.AccTail, Date: d,
		}
		for _, r := range records {
			if !r.Date.Equal(d) {
				continue
			}
			amount := r.Amount
			if amount < 0 {
				amount = -amount
			}
			if r.Source == conciliation.SourceAPI {
				agg.APIUnrecAbs += amount
			} else {
				agg.ERPUnrecAbs += amount
			}
		}
		agg.UnrecTotalAbs = agg.APIUnrecAbs + agg.ERPUnrecAbs
		agg.UnrecDiff = agg.ERPUnrecAbs - agg.APIUnrecAbs
		store.SetAggregate(agg)
	}
	service := newService(t, store)
	ctx := context.Background()

	operations := [][2][]string{
		{{"a1"}, {"b1", "b2"}},
		{{"a2", "a3"}, {"b3"}},
	}
	for i, op := range operations {
		if err := service.ManualReconcile(ctx, manualRequest(op[0], op[1])); err != nil {
			t.Fatalf("operation %d: %v", i, err)
		}
		assertConservation(t, store, dates)
	}
}

// assertConservation checks that unrec_total_abs on every date equals the
// absolute sum of the unreconciled records still stored for that date.
func assertConservation(t *testing.T, store *memory.Store, dates []time.Time) {
	t.Helper()
	ctx := context.Background()
	for _, d := range dates {
		api, err := store.ListUnreconciledByDates(ctx, testScope, conciliation.SourceAPI, []time.Time{d})
		if err != nil {
			t.Fatalf("list api: %v", err)
		}
		erp, err := store.ListUnreconciledByDates(ctx, testScope, conciliation.SourceERP, []time.Time{d})
		if err != nil {
			t.Fatalf("list erp: %v", err)
		}
		var live float64
		for _, r := range append(api, erp...) {
			if r.Amount < 0 {
				live -= r.Amount
			} else {
				live += r.Amount
			}
		}
		agg, ok := store.Aggregate(testScope, d)
		if !ok {
			if live != 0 {
				t.Fatalf("%s: live %v without aggregate row", d.Format("2006-01-02"), live)
			}
			continue
		}
		if agg.UnrecTotalAbs != live {
			t.Fatalf("%s: unrec_total_abs %v, live unreconciled %v", d.Format("2006-01-02"), agg.UnrecTotalAbs, live)
		}
	}
}

func TestManualCandidatesWindow(t *testing.T) {
	store := memory.NewStore()
	// Monday anchor: window spans Thursday 02-27 through Wednesday 03-05.
	store.AddUnreconciled(
		record("a1", conciliation.SourceAPI, 10, day(2025, time.February, 27)),
		record("a2", conciliation.SourceAPI, 20, day(2025, time.March, 5)),
		record("a3", conciliation.SourceAPI, 30, day(2025, time.March, 10)),
		record("b1", conciliation.SourceERP, 10, day(2025, time.March, 3)),
	)
	service := newService(t, store)

	candidates, err := service.ManualCandidates(context.Background(), testScope, day(2025, time.March, 3))
	if err != nil {
		t.Fatalf("manual candidates: %v", err)
	}
	if len(candidates.Dates) != 5 {
		t.Fatalf("expected 5 window dates, got %d", len(candidates.Dates))
	}
	if len(candidates.UnreconciledAPI) != 2 {
		t.Fatalf("expected 2 api candidates inside window, got %d", len(candidates.UnreconciledAPI))
	}
	if len(candidates.UnreconciledERP) != 1 {
		t.Fatalf("expected 1 erp candidate, got %d", len(candidates.UnreconciledERP))
	}

	if _, err := service.ManualCandidates(context.Background(), testScope, time.Time{}); !errors.Is(err, conciliation.ErrInvalidRequest) {
		t.Fatalf("zero anchor must be rejected, got %v", err)
	}
}

func TestDayDetailsExactDate(t *testing.T) {
	store := memory.NewStore()
	store.AddUnreconciled(
		record("a1", conciliation.SourceAPI, 10, day(2025, time.March, 3)),
		record("a2", conciliation.SourceAPI, 20, day(2025, time.March, 4)),
		record("b1", conciliation.SourceERP, 10, day(2025, time.March, 3)),
	)
	service := newService(t, store)

	details, err := service.DayDetails(context.Background(), testScope, day(2025, time.March, 3), false)
	if err != nil {
		t.Fatalf("day details: %v", err)
	}
	if len(details.UnreconciledAPI) != 1 || details.UnreconciledAPI[0].UID != "a1" {
		t.Fatalf("window expansion must not apply to unreconciled records: %+v", details.UnreconciledAPI)
	}
	if len(details.UnreconciledERP) != 1 {
		t.Fatalf("expected 1 erp record, got %d", len(details.UnreconciledERP))
	}
}

func TestDayDetailsWidenExpandsMatchWindow(t *testing.T) {
	store := memory.NewStore()
	store.AddUnreconciled(
		record("a1", conciliation.SourceAPI, 50.00, day(2025, time.March, 3)),
		record("b1", conciliation.SourceERP, 50.00, day(2025, time.March, 4)),
	)
	service := newService(t, store)
	ctx := context.Background()

	if err := service.ManualReconcile(ctx, manualRequest([]string{"a1"}, []string{"b1"})); err != nil {
		t.Fatalf("manual reconcile: %v", err)
	}

	// Thursday 03-06: neither side of the match lands on the exact date.
	exact, err := service.DayDetails(ctx, testScope, day(2025, time.March, 6), false)
	if err != nil {
		t.Fatalf("day details: %v", err)
	}
	if len(exact.Matches) != 0 {
		t.Fatalf("exact-date query must not see the match: %+v", exact.Matches)
	}

	// The widened window around 03-06 reaches back to 03-04, the ERP side.
	widened, err := service.DayDetails(ctx, testScope, day(2025, time.March, 6), true)
	if err != nil {
		t.Fatalf("day details widened: %v", err)
	}
	if len(widened.Matches) != 1 || widened.Matches[0].APIUID != "a1" || widened.Matches[0].ERPUID != "b1" {
		t.Fatalf("widened query must return the window match: %+v", widened.Matches)
	}

	otherScope := conciliation.Scope{TenantID: testScope.TenantID, BankCode: testScope.BankCode, AccTail: "9999"}
	foreign, err := service.DayDetails(ctx, otherScope, day(2025, time.March, 4), false)
	if err != nil {
		t.Fatalf("day details foreign scope: %v", err)
	}
	if len(foreign.Matches) != 0 {
		t.Fatalf("another account must not see the match: %+v", foreign.Matches)
	}
}

func TestManualReconcileProportionalSplitStaysExact(t *testing.T) {
	store := memory.NewStore()
	d1 := day(2025, time.March, 3)
	d2 := day(2025, time.March, 4)
	store.AddUnreconciled(
		record("a1", conciliation.SourceAPI, 0.05, d1),
		record("a2", conciliation.SourceAPI, 0.05, d1),
		record("b1", conciliation.SourceERP, -0.03, d1),
		record("b2", conciliation.SourceERP, -0.07, d2),
	)
	service := newService(t, store)

	if err := service.ManualReconcile(context.Background(), manualRequest([]string{"a1", "a2"}, []string{"b1", "b2"})); err != nil {
		t.Fatalf("manual reconcile: %v", err)
	}
	if got := len(store.Matches()); got != 4 {
		t.Fatalf("expected 4 match rows, got %d", got)
	}

	// Each 0.05 splits 0.02/0.03 across the ERP dates; per-row rounding
	// alone would book 0.02+0.04 per API record and inflate the total.
	agg1, ok := store.Aggregate(testScope, d1)
	if !ok {
		t.Fatalf("missing aggregate for %s", d1.Format("2006-01-02"))
	}
	agg2, ok := store.Aggregate(testScope, d2)
	if !ok {
		t.Fatalf("missing aggregate for %s", d2.Format("2006-01-02"))
	}
	if agg1.APIMatchedAbs != 0.04 || agg2.APIMatchedAbs != 0.06 {
		t.Fatalf("api matched buckets: %v / %v", agg1.APIMatchedAbs, agg2.APIMatchedAbs)
	}
	if total := agg1.APIMatchedAbs + agg2.APIMatchedAbs; total != 0.10 {
		t.Fatalf("api matched total %v, want 0.10", total)
	}
	if agg1.ERPMatchedAbs != 0.03 || agg2.ERPMatchedAbs != 0.07 {
		t.Fatalf("erp matched buckets: %v / %v", agg1.ERPMatchedAbs, agg2.ERPMatchedAbs)
	}
}
