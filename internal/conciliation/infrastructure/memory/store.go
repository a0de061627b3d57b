// Package memory provides an in-memory conciliation store for unit tests
// and demos. CommitManual applies the plan to a copy of the state and swaps
// it in only on success, so a forced failure leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"conciliation-cloud/internal/busday"
	conciliation "conciliation-cloud/internal/conciliation/domain"
)

type recordKey struct {
	scope conciliation.Scope
	uid   string
}

type aggregateKey struct {
	scope conciliation.Scope
	date  time.Time
}

// storedMatch keeps the matched records' side dates alongside the match, the
// same way the persistent store resolves them at write time.
type storedMatch struct {
	scope   conciliation.Scope
	match   conciliation.Match
	apiDate time.Time
	erpDate time.Time
}

// Store is a mutex-guarded in-memory conciliation.Store.
type Store struct {
	mu         sync.RWMutex
	api        map[recordKey]conciliation.UnreconciledRecord
	erp        map[recordKey]conciliation.UnreconciledRecord
	matches    []storedMatch
	aggregates map[aggregateKey]conciliation.DailyAggregate

	failDeleteSource conciliation.Source
	failDeleteErr    error
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		api:        map[recordKey]conciliation.UnreconciledRecord{},
		erp:        map[recordKey]conciliation.UnreconciledRecord{},
		aggregates: map[aggregateKey]conciliation.DailyAggregate{},
	}
}

// AddUnreconciled seeds unreconciled records.
func (s *Store) AddUnreconciled(records ...conciliation.UnreconciledRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r.Date = busday.Truncate(r.Date)
		key := recordKey{scope: scopeOf(r), uid: r.UID}
		if r.Source == conciliation.SourceERP {
			s.erp[key] = r
		} else {
			s.api[key] = r
		}
	}
}

// SetAggregate seeds a daily aggregate row.
func (s *Store) SetAggregate(agg conciliation.DailyAggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg.Date = busday.Truncate(agg.Date)
	key := aggregateKey{
		scope: conciliation.Scope{TenantID: agg.TenantID, BankCode: agg.BankCode, AccTail: agg.AccTail},
		date:  agg.Date,
	}
	s.aggregates[key] = agg
}

// FailDeletes forces CommitManual to fail when it reaches the delete step
// for the given source.
func (s *Store) FailDeletes(source conciliation.Source, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDeleteSource = source
	s.failDeleteErr = err
}

// FetchSelected implements conciliation.Store.
func (s *Store) FetchSelected(ctx context.Context, scope conciliation.Scope, source conciliation.Source, ids []string) ([]conciliation.UnreconciledRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	table := s.table(source)
	var result []conciliation.UnreconciledRecord
	for _, id := range ids {
		if r, ok := table[recordKey{scope: scope, uid: id}]; ok {
			result = append(result, r)
		}
	}
	sortRecords(result)
	return result, nil
}

// ListUnreconciledByDates implements conciliation.Store.
func (s *Store) ListUnreconciledByDates(ctx context.Context, scope conciliation.Scope, source conciliation.Source, dates []time.Time) ([]conciliation.UnreconciledRecord, error) {
	_ = ctx
	wanted := dateSet(dates)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []conciliation.UnreconciledRecord
	for key, r := range s.table(source) {
		if key.scope != scope {
			continue
		}
		if _, ok := wanted[r.Date]; ok {
			result = append(result, r)
		}
	}
	sortRecords(result)
	return result, nil
}

// ListMatchesByDates implements conciliation.Store. A match is in range when
// either of its sides' dates is, mirroring the persistent query.
func (s *Store) ListMatchesByDates(ctx context.Context, scope conciliation.Scope, dates []time.Time) ([]conciliation.Match, error) {
	_ = ctx
	wanted := dateSet(dates)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []conciliation.Match
	for _, sm := range s.matches {
		if sm.scope != scope {
			continue
		}
		_, apiOK := wanted[sm.apiDate]
		_, erpOK := wanted[sm.erpDate]
		if apiOK || erpOK {
			result = append(result, sm.match)
		}
	}
	return result, nil
}

// CommitManual implements conciliation.Store atomically: the plan is applied
// to copies and the state swaps only when every step succeeded.
func (s *Store) CommitManual(ctx context.Context, plan conciliation.CommitPlan) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	api := cloneRecords(s.api)
	erp := cloneRecords(s.erp)
	aggregates := cloneAggregates(s.aggregates)
	matches := append([]storedMatch{}, s.matches...)
	for _, m := range plan.Matches {
		matches = append(matches, storedMatch{
			scope:   plan.Scope,
			match:   m,
			apiDate: plan.APIDates[m.APIUID],
			erpDate: plan.ERPDates[m.ERPUID],
		})
	}

	if err := s.deleteAll(api, plan.Scope, conciliation.SourceAPI, plan.DeleteAPI); err != nil {
		return err
	}
	if err := s.deleteAll(erp, plan.Scope, conciliation.SourceERP, plan.DeleteERP); err != nil {
		return err
	}

	for _, date := range sortedDates(plan.DateDeltas) {
		key := aggregateKey{scope: plan.Scope, date: date}
		agg, ok := aggregates[key]
		if !ok {
			agg = conciliation.DailyAggregate{
				TenantID: plan.Scope.TenantID,
				BankCode: plan.Scope.BankCode,
				AccTail:  plan.Scope.AccTail,
				Date:     date,
			}
		}
		agg.Apply(plan.DateDeltas[date])
		aggregates[key] = agg
	}

	s.api = api
	s.erp = erp
	s.matches = matches
	s.aggregates = aggregates
	return nil
}

// ListDailyAggregates implements conciliation.AggregateReader.
func (s *Store) ListDailyAggregates(ctx context.Context, scope conciliation.Scope, from, to time.Time) ([]conciliation.DailyAggregate, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []conciliation.DailyAggregate
	for key, agg := range s.aggregates {
		if key.scope != scope {
			continue
		}
		if key.date.Before(busday.Truncate(from)) || key.date.After(busday.Truncate(to)) {
			continue
		}
		result = append(result, agg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

// Aggregate returns the aggregate row for one date, if present.
func (s *Store) Aggregate(scope conciliation.Scope, date time.Time) (conciliation.DailyAggregate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggregates[aggregateKey{scope: scope, date: busday.Truncate(date)}]
	return agg, ok
}

// Matches returns a snapshot of the match ledger.
func (s *Store) Matches() []conciliation.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]conciliation.Match, 0, len(s.matches))
	for _, sm := range s.matches {
		result = append(result, sm.match)
	}
	return result
}

// UnreconciledCount returns how many unreconciled records a source holds.
func (s *Store) UnreconciledCount(source conciliation.Source) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table(source))
}

func (s *Store) table(source conciliation.Source) map[recordKey]conciliation.UnreconciledRecord {
	if source == conciliation.SourceERP {
		return s.erp
	}
	return s.api
}

func (s *Store) deleteAll(table map[recordKey]conciliation.UnreconciledRecord, scope conciliation.Scope, source conciliation.Source, ids []string) error {
	if s.failDeleteSource == source && s.failDeleteErr != nil {
		return s.failDeleteErr
	}
	for _, id := range ids {
		key := recordKey{scope: scope, uid: id}
		if _, ok := table[key]; !ok {
			return conciliation.ErrRecordsUnavailable
		}
		delete(table, key)
	}
	return nil
}

func scopeOf(r conciliation.UnreconciledRecord) conciliation.Scope {
	return conciliation.Scope{TenantID: r.TenantID, BankCode: r.BankCode, AccTail: r.AccTail}
}

func cloneRecords(src map[recordKey]conciliation.UnreconciledRecord) map[recordKey]conciliation.UnreconciledRecord {
	dst := make(map[recordKey]conciliation.UnreconciledRecord, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneAggregates(src map[aggregateKey]conciliation.DailyAggregate) map[aggregateKey]conciliation.DailyAggregate {
	dst := make(map[aggregateKey]conciliation.DailyAggregate, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sortRecords(records []conciliation.UnreconciledRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].UID < records[j].UID
	})
}

func dateSet(dates []time.Time) map[time.Time]struct{} {
	set := make(map[time.Time]struct{}, len(dates))
	for _, d := range dates {
		set[busday.Truncate(d)] = struct{}{}
	}
	return set
}

func sortedDates(deltas map[time.Time]conciliation.AggregateDelta) []time.Time {
	dates := make([]time.Time, 0, len(deltas))
	for d := range deltas {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
