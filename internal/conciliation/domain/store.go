package conciliation

import (
	"context"
	"time"
)

// CommitPlan is the full mutation of one manual conciliation: the match rows
// to insert, the unreconciled rows to delete on both sides, and the aggregate
// delta per implicated date. Side dates are resolved at plan-build time so a
// match stays queryable by date after its records are deleted. A store must
// apply the plan all-or-nothing.
type CommitPlan struct {
	Scope      Scope
	Matches    []Match
	APIDates   map[string]time.Time
	ERPDates   map[string]time.Time
	DeleteAPI  []string
	DeleteERP  []string
	DateDeltas map[time.Time]AggregateDelta
}

// Store is the durable collection backing the conciliation dashboard.
type Store interface {
	// FetchSelected loads unreconciled records for an explicit id selection,
	// scoped to one account. Amounts are normalized on read.
	FetchSelected(ctx context.Context, scope Scope, source Source, ids []string) ([]UnreconciledRecord, error)
	// ListUnreconciledByDates loads unreconciled records whose date falls in
	// the given set.
	ListUnreconciledByDates(ctx context.Context, scope Scope, source Source, dates []time.Time) ([]UnreconciledRecord, error)
	// ListMatchesByDates loads confirmed matches whose API or ERP side date
	// falls in the given set.
	ListMatchesByDates(ctx context.Context, scope Scope, dates []time.Time) ([]Match, error)
	// CommitManual applies a manual conciliation atomically.
	CommitManual(ctx context.Context, plan CommitPlan) error
}

// AggregateReader exposes the daily aggregate read path.
type AggregateReader interface {
	ListDailyAggregates(ctx context.Context, scope Scope, from, to time.Time) ([]DailyAggregate, error)
}
