package oms

import "fmt"

// OrderRejectedError is returned by Place when the PreTradeValidator
// refused the request. The order row still exists, persisted as REJECTED.
type OrderRejectedError struct {
	Reason      string
	FailedCheck string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected (%s): %s", e.FailedCheck, e.Reason)
}

// SubmissionFailedError is returned by Place when the broker refused the
// order or the transport failed. The order row exists as FAILED.
type SubmissionFailedError struct {
	Cause error
}

func (e *SubmissionFailedError) Error() string {
	return fmt.Sprintf("order submission failed: %v", e.Cause)
}

func (e *SubmissionFailedError) Unwrap() error { return e.Cause }

// NotFoundError indicates no order exists with the given id.
type NotFoundError struct {
	OrderID OrderID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %d not found", e.OrderID)
}

// NotCancellableError indicates the order is not in a cancellable state.
type NotCancellableError struct {
	OrderID OrderID
	Status  OrderStatus
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("order %d is not cancellable (status=%s)", e.OrderID, e.Status)
}

// NotModifiableError indicates the order is not in a modifiable state.
type NotModifiableError struct {
	OrderID OrderID
	Status  OrderStatus
}

func (e *NotModifiableError) Error() string {
	return fmt.Sprintf("order %d is not modifiable (status=%s)", e.OrderID, e.Status)
}

// ReconciliationError indicates the broker's position list could not be
// retrieved during a reconciliation pass; the reconciler reports
// all_clear=false and retries on its normal schedule.
type ReconciliationError struct {
	Cause error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed: %v", e.Cause)
}

func (e *ReconciliationError) Unwrap() error { return e.Cause }

// StoreError wraps an underlying persistence failure.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }
