package conciliation

import (
	"time"

	"conciliation-cloud/internal/money"
)

// DailyAggregate is the per-account, per-date rollup of matched and
// unmatched absolute totals. Rows are created lazily on first mutation and
// never deleted.
type DailyAggregate struct {
	TenantID      string    `json:"tenantId"`
	BankCode      string    `json:"bankCode"`
	AccTail       string    `json:"accTail"`
	Date          time.Time `json:"date"`
	APIMatchedAbs float64   `json:"apiMatchedAbs"`
	ERPMatchedAbs float64   `json:"erpMatchedAbs"`
	APIUnrecAbs   float64   `json:"apiUnrecAbs"`
	ERPUnrecAbs   float64   `json:"erpUnrecAbs"`
	UnrecTotalAbs float64   `json:"unrecTotalAbs"`
	UnrecDiff     float64   `json:"unrecDiff"`
}

// AggregateDelta is the mutation a manual conciliation applies to one date:
// matched totals grow by the matched increments, unreconciled totals shrink
// by the removed amounts.
type AggregateDelta struct {
	APIMatchedInc  float64
	ERPMatchedInc  float64
	APIUnrecRemove float64
	ERPUnrecRemove float64
}

// IsZero reports whether the delta carries no mutation.
func (d AggregateDelta) IsZero() bool {
	return d.APIMatchedInc == 0 && d.ERPMatchedInc == 0 && d.APIUnrecRemove == 0 && d.ERPUnrecRemove == 0
}

// Merge accumulates another delta into this one.
func (d AggregateDelta) Merge(other AggregateDelta) AggregateDelta {
	d.APIMatchedInc += other.APIMatchedInc
	d.ERPMatchedInc += other.ERPMatchedInc
	d.APIUnrecRemove += other.APIUnrecRemove
	d.ERPUnrecRemove += other.ERPUnrecRemove
	return d
}

// Apply mutates the aggregate with the delta. Unreconciled totals floor at
// zero to tolerate drift; derived fields are recomputed from the result.
func (a *DailyAggregate) Apply(delta AggregateDelta) {
	a.APIMatchedAbs = money.RoundCents(a.APIMatchedAbs + delta.APIMatchedInc)
	a.ERPMatchedAbs = money.RoundCents(a.ERPMatchedAbs + delta.ERPMatchedInc)
	a.APIUnrecAbs = floorZero(money.RoundCents(a.APIUnrecAbs - delta.APIUnrecRemove))
	a.ERPUnrecAbs = floorZero(money.RoundCents(a.ERPUnrecAbs - delta.ERPUnrecRemove))
	a.UnrecTotalAbs = money.RoundCents(a.APIUnrecAbs + a.ERPUnrecAbs)
	a.UnrecDiff = money.RoundCents(a.ERPUnrecAbs - a.APIUnrecAbs)
}

func floorZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
