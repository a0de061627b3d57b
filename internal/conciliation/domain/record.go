package conciliation

import "time"

// Source identifies which side of the conciliation a record came from.
type Source string

const (
	// SourceAPI is the bank statement feed.
	SourceAPI Source = "api"
	// SourceERP is the client accounting ledger.
	SourceERP Source = "erp"
)

// Scope identifies one bank account within one tenant.
type Scope struct {
	TenantID string
	BankCode string
	AccTail  string
}

// IsComplete reports whether every scope field is set.
func (s Scope) IsComplete() bool {
	return s.TenantID != "" && s.BankCode != "" && s.AccTail != ""
}

// UnreconciledRecord is a transaction that has not been matched yet.
// UID is the source-specific identity: the statement transaction id on the
// API side, the ledger entry code on the ERP side.
type UnreconciledRecord struct {
	UID      string    `json:"id"`
	TenantID string    `json:"tenantId"`
	BankCode string    `json:"bankCode"`
	AccTail  string    `json:"accTail"`
	Date     time.Time `json:"date"`
	Amount   float64   `json:"amount"`
	DescNorm string    `json:"descNorm"`
	Source   Source    `json:"source"`
}
