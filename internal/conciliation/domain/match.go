package conciliation

import "time"

const (
	// StageManual tags matches created by a user through the dashboard.
	StageManual = "MANUAL"
	// PriorityManual is greater than every automated stage priority (5..30),
	// marking manual matches as the lowest-confidence provenance.
	PriorityManual = 99
)

// Match is a confirmed pairing between an API record and an ERP record.
// Matches are immutable; they are inserted once and never updated.
type Match struct {
	APIUID   string `json:"apiId"`
	ERPUID   string `json:"erpId"`
	Stage    string `json:"stage"`
	Priority int    `json:"priority"`
	DateDiff int    `json:"dateDiff"`
}

// NewManualMatch builds one manual match row for a pair of records.
// DateDiff is the signed day count from the API date to the ERP date.
func NewManualMatch(api, erp UnreconciledRecord) Match {
	return Match{
		APIUID:   api.UID,
		ERPUID:   erp.UID,
		Stage:    StageManual,
		Priority: PriorityManual,
		DateDiff: DaysBetween(api.Date, erp.Date),
	}
}

// DaysBetween returns whole calendar days from a to b, signed.
func DaysBetween(a, b time.Time) int {
	au := a.UTC().Truncate(24 * time.Hour)
	bu := b.UTC().Truncate(24 * time.Hour)
	return int(bu.Sub(au).Hours() / 24)
}
