package summary_test

import (
	"testing"
	"time"

	conciliation "conciliation-cloud/internal/conciliation/domain"
	"conciliation-cloud/internal/summary"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRollupMonthlyGroupsAndSums(t *testing.T) {
	daily := []conciliation.DailyAggregate{
		{TenantID: "T1", BankCode: "001", AccTail: "1234", Date: day(2025, 3, 3), APIMatchedAbs: 10.10, ERPMatchedAbs: 10.10, APIUnrecAbs: 5, ERPUnrecAbs: 7, UnrecTotalAbs: 12, UnrecDiff: 2},
		{TenantID: "T1", BankCode: "001", AccTail: "1234", Date: day(2025, 3, 4), APIMatchedAbs: 0.20, ERPMatchedAbs: 0.20, APIUnrecAbs: 1, ERPUnrecAbs: 0, UnrecTotalAbs: 1, UnrecDiff: -1},
		{TenantID: "T1", BankCode: "001", AccTail: "1234", Date: day(2025, 4, 1), APIMatchedAbs: 3, ERPMatchedAbs: 3},
	}

	rollups := summary.RollupMonthly(daily)
	if len(rollups) != 2 {
		t.Fatalf("rollups = %d, want 2", len(rollups))
	}
	march := rollups[0]
	if march.Month != "2025-03" {
		t.Fatalf("first month = %s, want 2025-03", march.Month)
	}
	if march.Days != 2 {
		t.Fatalf("march days = %d, want 2", march.Days)
	}
	if march.APIMatchedAbs != 10.30 {
		t.Fatalf("march api matched = %v, want 10.30", march.APIMatchedAbs)
	}
	if march.UnrecTotalAbs != 13 || march.UnrecDiff != 1 {
		t.Fatalf("march unrec total/diff = %v/%v, want 13/1", march.UnrecTotalAbs, march.UnrecDiff)
	}
	if rollups[1].Month != "2025-04" || rollups[1].ERPMatchedAbs != 3 {
		t.Fatalf("unexpected april rollup: %+v", rollups[1])
	}
}

func TestRollupMonthlyRoundsCents(t *testing.T) {
	daily := []conciliation.DailyAggregate{
		{TenantID: "T1", BankCode: "001", AccTail: "1234", Date: day(2025, 3, 3), APIMatchedAbs: 0.1},
		{TenantID: "T1", BankCode: "001", AccTail: "1234", Date: day(2025, 3, 4), APIMatchedAbs: 0.2},
	}
	rollups := summary.RollupMonthly(daily)
	if got := rollups[0].APIMatchedAbs; got != 0.3 {
		t.Fatalf("sum = %v, want exactly 0.3", got)
	}
}

func TestMonthBounds(t *testing.T) {
	from, to, err := summary.MonthBounds("2025-02")
	if err != nil {
		t.Fatalf("MonthBounds: %v", err)
	}
	if !from.Equal(day(2025, 2, 1)) || !to.Equal(day(2025, 2, 28)) {
		t.Fatalf("bounds = %v..%v", from, to)
	}
	if _, _, err := summary.MonthBounds("2025/02"); err == nil {
		t.Fatal("expected error for malformed month")
	}
}

func TestYearBounds(t *testing.T) {
	from, to := summary.YearBounds(2024)
	if !from.Equal(day(2024, 1, 1)) || !to.Equal(day(2024, 12, 31)) {
		t.Fatalf("bounds = %v..%v", from, to)
	}
}
