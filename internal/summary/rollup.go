package summary

import (
	"sort"
	"time"

	conciliation "conciliation-cloud/internal/conciliation/domain"
	"conciliation-cloud/internal/money"
)

// MonthlyRollup is one month of daily aggregates summed. It is computed on
// read from gold_conciliation_daily rather than maintained as a second table,
// so the two granularities cannot drift apart.
type MonthlyRollup struct {
	TenantID      string  `json:"tenantId"`
	BankCode      string  `json:"bankCode"`
	AccTail       string  `json:"accTail"`
	Month         string  `json:"month"`
	APIMatchedAbs float64 `json:"apiMatchedAbs"`
	ERPMatchedAbs float64 `json:"erpMatchedAbs"`
	APIUnrecAbs   float64 `json:"apiUnrecAbs"`
	ERPUnrecAbs   float64 `json:"erpUnrecAbs"`
	UnrecTotalAbs float64 `json:"unrecTotalAbs"`
	UnrecDiff     float64 `json:"unrecDiff"`
	Days          int     `json:"days"`
}

// RollupMonthly groups daily aggregates by calendar month and sums each
// column. Output is ordered by month ascending.
func RollupMonthly(daily []conciliation.DailyAggregate) []MonthlyRollup {
	byMonth := make(map[string]*MonthlyRollup)
	for _, agg := range daily {
		month := agg.Date.UTC().Format("2006-01")
		rollup, ok := byMonth[month]
		if !ok {
			rollup = &MonthlyRollup{
				TenantID: agg.TenantID,
				BankCode: agg.BankCode,
				AccTail:  agg.AccTail,
				Month:    month,
			}
			byMonth[month] = rollup
		}
		rollup.APIMatchedAbs = money.RoundCents(rollup.APIMatchedAbs + agg.APIMatchedAbs)
		rollup.ERPMatchedAbs = money.RoundCents(rollup.ERPMatchedAbs + agg.ERPMatchedAbs)
		rollup.APIUnrecAbs = money.RoundCents(rollup.APIUnrecAbs + agg.APIUnrecAbs)
		rollup.ERPUnrecAbs = money.RoundCents(rollup.ERPUnrecAbs + agg.ERPUnrecAbs)
		rollup.UnrecTotalAbs = money.RoundCents(rollup.UnrecTotalAbs + agg.UnrecTotalAbs)
		rollup.UnrecDiff = money.RoundCents(rollup.UnrecDiff + agg.UnrecDiff)
		rollup.Days++
	}

	result := make([]MonthlyRollup, 0, len(byMonth))
	for _, rollup := range byMonth {
		result = append(result, *rollup)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Month < result[j].Month })
	return result
}

// MonthBounds returns the inclusive [first, last] day range for a
// "2006-01" month key.
func MonthBounds(month string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 1, -1), nil
}

// YearBounds returns the inclusive [Jan 1, Dec 31] range for a year.
func YearBounds(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, -1)
}
