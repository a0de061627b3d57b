// Package postgres persists the conciliation state in the gold tables and
// applies manual conciliations inside one database transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"conciliation-cloud/internal/busday"
	conciliation "conciliation-cloud/internal/conciliation/domain"
	"conciliation-cloud/internal/money"
)

const (
	unreconciledAPITable = "gold_unreconciled_api"
	unreconciledERPTable = "gold_unreconciled_erp"
	matchesTable         = "gold_conciliation_matches"
	dailyTable           = "gold_conciliation_daily"
)

// Store implements conciliation.Store over postgres.
type Store struct {
	db *sql.DB
}

// NewStore constructs a store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FetchSelected loads unreconciled records for an id selection, scoped to
// one account. Amounts are normalized on read.
func (s *Store) FetchSelected(ctx context.Context, scope conciliation.Scope, source conciliation.Source, ids []string) ([]conciliation.UnreconciledRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("conciliation store: nil db")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	table, uidColumn := sourceTable(source)
	args := []any{scope.TenantID, scope.BankCode, scope.AccTail}
	placeholders, args := appendPlaceholders(args, ids)
	query := fmt.Sprintf(`
SELECT %s, tenant_id, bank_code, acc_tail, date, amount, desc_norm
FROM %s
WHERE tenant_id = $1 AND bank_code = $2 AND acc_tail = $3 AND %s IN (%s)
ORDER BY date ASC, %s ASC`, uidColumn, table, uidColumn, placeholders, uidColumn)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows, source)
}

// ListUnreconciledByDates loads unreconciled records on a set of dates.
func (s *Store) ListUnreconciledByDates(ctx context.Context, scope conciliation.Scope, source conciliation.Source, dates []time.Time) ([]conciliation.UnreconciledRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("conciliation store: nil db")
	}
	if len(dates) == 0 {
		return nil, nil
	}
	table, uidColumn := sourceTable(source)
	args := []any{scope.TenantID, scope.BankCode, scope.AccTail}
	placeholders, args := appendDatePlaceholders(args, dates)
	query := fmt.Sprintf(`
SELECT %s, tenant_id, bank_code, acc_tail, date, amount, desc_norm
FROM %s
WHERE tenant_id = $1 AND bank_code = $2 AND acc_tail = $3 AND date IN (%s)
ORDER BY date ASC, %s ASC`, uidColumn, table, placeholders, uidColumn)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows, source)
}

// ListMatchesByDates loads matches whose API or ERP side date falls in the
// given set. Side dates are resolved at write time, so matches stay
// queryable after the underlying records were deleted.
func (s *Store) ListMatchesByDates(ctx context.Context, scope conciliation.Scope, dates []time.Time) ([]conciliation.Match, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("conciliation store: nil db")
	}
	if len(dates) == 0 {
		return nil, nil
	}
	args := []any{scope.TenantID, scope.BankCode, scope.AccTail}
	placeholders, args := appendDatePlaceholders(args, dates)
	query := fmt.Sprintf(`
SELECT api_uid, erp_uid, stage, prio, ddiff
FROM %s
WHERE tenant_id = $1 AND bank_code = $2 AND acc_tail = $3
	AND (api_date IN (%s) OR erp_date IN (%s))
ORDER BY prio ASC, api_uid ASC, erp_uid ASC`, matchesTable, placeholders, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []conciliation.Match
	for rows.Next() {
		var m conciliation.Match
		if err := rows.Scan(&m.APIUID, &m.ERPUID, &m.Stage, &m.Priority, &m.DateDiff); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// CommitManual applies a manual conciliation as one transaction: match
// inserts, record deletes with affected-row verification, then a row-locked
// read-modify-write of every implicated daily aggregate. Any failure rolls
// the whole unit back.
func (s *Store) CommitManual(ctx context.Context, plan conciliation.CommitPlan) error {
	if s == nil || s.db == nil {
		return errors.New("conciliation store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := s.insertMatches(ctx, tx, plan); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.deleteRecords(ctx, tx, plan.Scope, conciliation.SourceAPI, plan.DeleteAPI); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.deleteRecords(ctx, tx, plan.Scope, conciliation.SourceERP, plan.DeleteERP); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := s.applyAggregateDeltas(ctx, tx, plan); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) insertMatches(ctx context.Context, tx *sql.Tx, plan conciliation.CommitPlan) error {
	for _, m := range plan.Matches {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (tenant_id, bank_code, acc_tail, api_uid, erp_uid, stage, prio, ddiff, api_date, erp_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, matchesTable),
			plan.Scope.TenantID, plan.Scope.BankCode, plan.Scope.AccTail,
			m.APIUID, m.ERPUID, m.Stage, m.Priority, m.DateDiff,
			plan.APIDates[m.APIUID], plan.ERPDates[m.ERPUID])
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteRecords(ctx context.Context, tx *sql.Tx, scope conciliation.Scope, source conciliation.Source, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	table, uidColumn := sourceTable(source)
	args := []any{scope.TenantID, scope.BankCode, scope.AccTail}
	placeholders, args := appendPlaceholders(args, ids)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE tenant_id = $1 AND bank_code = $2 AND acc_tail = $3 AND %s IN (%s)`, table, uidColumn, placeholders), args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != int64(len(ids)) {
		// A concurrent conciliation already consumed part of the selection.
		return conciliation.ErrRecordsUnavailable
	}
	return nil
}

// applyAggregateDeltas batch-fetches every implicated aggregate row under
// FOR UPDATE, mutates in memory, then upserts date by date.
func (s *Store) applyAggregateDeltas(ctx context.Context, tx *sql.Tx, plan conciliation.CommitPlan) error {
	dates := sortedDeltaDates(plan.DateDeltas)
	if len(dates) == 0 {
		return nil
	}
	args := []any{plan.Scope.TenantID, plan.Scope.BankCode, plan.Scope.AccTail}
	placeholders, args := appendDatePlaceholders(args, dates)
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
SELECT date, api_matched_abs, erp_matched_abs, api_unrec_abs, erp_unrec_abs
FROM %s
WHERE tenant_id = $1 AND bank_code = $2 AND acc_tail = $3 AND date IN (%s)
FOR UPDATE`, dailyTable, placeholders), args...)
	if err != nil {
		return err
	}
	existing := map[time.Time]conciliation.DailyAggregate{}
	for rows.Next() {
		agg := conciliation.DailyAggregate{
			TenantID: plan.Scope.TenantID,
			BankCode: plan.Scope.BankCode,
			AccTail:  plan.Scope.AccTail,
		}
		var date time.Time
		var apiMatched, erpMatched, apiUnrec, erpUnrec sql.NullFloat64
		if err := rows.Scan(&date, &apiMatched, &erpMatched, &apiUnrec, &erpUnrec); err != nil {
			rows.Close()
			return err
		}
		agg.Date = busday.Truncate(date)
		agg.APIMatchedAbs = apiMatched.Float64
		agg.ERPMatchedAbs = erpMatched.Float64
		agg.APIUnrecAbs = apiUnrec.Float64
		agg.ERPUnrecAbs = erpUnrec.Float64
		existing[agg.Date] = agg
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, date := range dates {
		agg, ok := existing[date]
		if !ok {
			agg = conciliation.DailyAggregate{
				TenantID: plan.Scope.TenantID,
				BankCode: plan.Scope.BankCode,
				AccTail:  plan.Scope.AccTail,
				Date:     date,
			}
		}
		agg.Apply(plan.DateDeltas[date])
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	tenant_id, bank_code, acc_tail, date,
	api_matched_abs, erp_matched_abs, api_unrec_abs, erp_unrec_abs, unrec_total_abs, unrec_diff
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (tenant_id, bank_code, acc_tail, date)
DO UPDATE SET
	api_matched_abs = EXCLUDED.api_matched_abs,
	erp_matched_abs = EXCLUDED.erp_matched_abs,
	api_unrec_abs = EXCLUDED.api_unrec_abs,
	erp_unrec_abs = EXCLUDED.erp_unrec_abs,
	unrec_total_abs = EXCLUDED.unrec_total_abs,
	unrec_diff = EXCLUDED.unrec_diff`, dailyTable),
			agg.TenantID, agg.BankCode, agg.AccTail, agg.Date,
			agg.APIMatchedAbs, agg.ERPMatchedAbs, agg.APIUnrecAbs, agg.ERPUnrecAbs,
			agg.UnrecTotalAbs, agg.UnrecDiff)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListDailyAggregates returns daily rollup rows inside [from, to].
func (s *Store) ListDailyAggregates(ctx context.Context, scope conciliation.Scope, from, to time.Time) ([]conciliation.DailyAggregate, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("conciliation store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT date, api_matched_abs, erp_matched_abs, api_unrec_abs, erp_unrec_abs, unrec_total_abs, unrec_diff
FROM %s
WHERE tenant_id = $1 AND bank_code = $2 AND acc_tail = $3 AND date >= $4 AND date <= $5
ORDER BY date ASC`, dailyTable),
		scope.TenantID, scope.BankCode, scope.AccTail, busday.Truncate(from), busday.Truncate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []conciliation.DailyAggregate
	for rows.Next() {
		agg := conciliation.DailyAggregate{
			TenantID: scope.TenantID,
			BankCode: scope.BankCode,
			AccTail:  scope.AccTail,
		}
		var date time.Time
		var fields [6]sql.NullFloat64
		if err := rows.Scan(&date, &fields[0], &fields[1], &fields[2], &fields[3], &fields[4], &fields[5]); err != nil {
			return nil, err
		}
		agg.Date = busday.Truncate(date)
		agg.APIMatchedAbs = fields[0].Float64
		agg.ERPMatchedAbs = fields[1].Float64
		agg.APIUnrecAbs = fields[2].Float64
		agg.ERPUnrecAbs = fields[3].Float64
		agg.UnrecTotalAbs = fields[4].Float64
		agg.UnrecDiff = fields[5].Float64
		result = append(result, agg)
	}
	return result, rows.Err()
}

func sourceTable(source conciliation.Source) (table, uidColumn string) {
	if source == conciliation.SourceERP {
		return unreconciledERPTable, "cd_lancamento"
	}
	return unreconciledAPITable, "api_id"
}

func scanRecords(rows *sql.Rows, source conciliation.Source) ([]conciliation.UnreconciledRecord, error) {
	var result []conciliation.UnreconciledRecord
	for rows.Next() {
		var r conciliation.UnreconciledRecord
		var date time.Time
		var amount sql.NullString
		var desc sql.NullString
		if err := rows.Scan(&r.UID, &r.TenantID, &r.BankCode, &r.AccTail, &date, &amount, &desc); err != nil {
			return nil, err
		}
		r.Date = busday.Truncate(date)
		r.Amount = money.Normalize(nullable(amount))
		r.DescNorm = desc.String
		r.Source = source
		result = append(result, r)
	}
	return result, rows.Err()
}

func nullable(v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	return v.String
}

func appendPlaceholders(args []any, values []string) (string, []any) {
	parts := make([]string, len(values))
	for i, v := range values {
		args = append(args, v)
		parts[i] = fmt.Sprintf("$%d", len(args))
	}
	return strings.Join(parts, ","), args
}

func appendDatePlaceholders(args []any, dates []time.Time) (string, []any) {
	parts := make([]string, len(dates))
	for i, d := range dates {
		args = append(args, busday.Truncate(d))
		parts[i] = fmt.Sprintf("$%d", len(args))
	}
	return strings.Join(parts, ","), args
}

func sortedDeltaDates(deltas map[time.Time]conciliation.AggregateDelta) []time.Time {
	dates := make([]time.Time, 0, len(deltas))
	for d := range deltas {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
