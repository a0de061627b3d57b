package conciliation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when required fields or id sets are missing.
	ErrInvalidRequest = errors.New("conciliation: invalid request")
	// ErrRecordsUnavailable is returned when a selected record was consumed
	// by another process between selection and commit.
	ErrRecordsUnavailable = errors.New("conciliation: records no longer available")
	// ErrNilStore is returned when a service is built without a store.
	ErrNilStore = errors.New("conciliation: nil store")
)

// AmountMismatchError reports selections whose absolute totals do not
// balance at cent precision.
type AmountMismatchError struct {
	APITotal float64
	ERPTotal float64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("conciliation: amount mismatch: api %.2f vs erp %.2f", e.APITotal, e.ERPTotal)
}
