package auth

import (
	"context"
	"database/sql"
	"errors"
)

var (
	// ErrTenantMismatch indicates the account belongs to a different tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrNotFound indicates the account is not registered.
	ErrNotFound = errors.New("resource not found")
)

// AccountTenantChecker validates bank account tenant ownership.
type AccountTenantChecker interface {
	EnsureAccountTenant(ctx context.Context, tenantID, bankCode, accTail string) error
}

// AccountChecker checks account ownership against the bank_accounts table.
type AccountChecker struct {
	db *sql.DB
}

// NewAccountChecker constructs an AccountChecker.
func NewAccountChecker(db *sql.DB) *AccountChecker {
	if db == nil {
		return nil
	}
	return &AccountChecker{db: db}
}

// EnsureAccountTenant verifies the account belongs to the tenant.
func (c *AccountChecker) EnsureAccountTenant(ctx context.Context, tenantID, bankCode, accTail string) error {
	if c == nil || c.db == nil {
		return nil
	}
	if tenantID == "" || bankCode == "" || accTail == "" {
		return nil
	}
	var owner string
	err := c.db.QueryRowContext(ctx, `
SELECT tenant_id
FROM bank_accounts
WHERE bank_code = $1 AND acc_tail = $2
LIMIT 1`, bankCode, accTail).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if owner != tenantID {
		return ErrTenantMismatch
	}
	return nil
}
