// Package broker defines BrokerPort (SPEC_FULL §4.2), the polymorphic
// boundary OrderManager drives every order through. Concrete
// implementations live in subpackages (paperbroker for development/tests).
package broker

import (
	"context"
	"fmt"

	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
)

// PlaceParams is what OrderManager hands to Place.
type PlaceParams struct {
	Symbol       string
	Exchange     string
	Side         oms.OrderSide
	Quantity     int64
	OrderType    oms.OrderType
	Product      oms.Product
	Validity     oms.Validity
	Price        *money.Money
	TriggerPrice *money.Money
}

// ModifyParams carries the optional fields Modify may change.
type ModifyParams struct {
	Quantity     *int64
	Price        *money.Money
	TriggerPrice *money.Money
}

// OrderView is the broker's current view of one order, as returned by
// ListOrders.
type OrderView struct {
	BrokerOrderID  string
	Status         string // broker-native status string, mapped by the poller
	FilledQuantity int64
	AveragePrice   *money.Money
	StatusMessage  *string
	Charges        *oms.Charges
	BrokerTradeID  *string

	// Quantity/Price/TriggerPrice are the order's current quoted terms at
	// the broker, reflecting any Modify acknowledged since placement.
	Quantity     int64
	Price        *money.Money
	TriggerPrice *money.Money
}

// PositionView is the broker's current view of one open position, as
// returned by ListPositions.
type PositionView struct {
	Quantity     int64
	AveragePrice money.Money
}

// SubmissionError indicates the broker rejected an order at submission
// time (business error, not transport failure).
type SubmissionError struct {
	Cause error
}

func (e *SubmissionError) Error() string  { return fmt.Sprintf("broker: submission failed: %v", e.Cause) }
func (e *SubmissionError) Unwrap() error  { return e.Cause }

// Port is the boundary OrderManager drives every order through.
// Implementations must be safe under concurrent calls from the poller and
// reconciler.
type Port interface {
	Place(ctx context.Context, params PlaceParams) (brokerOrderID string, err error)
	Cancel(ctx context.Context, brokerOrderID string) error
	Modify(ctx context.Context, brokerOrderID string, patch ModifyParams) error
	ListOrders(ctx context.Context) ([]OrderView, error)
	ListPositions(ctx context.Context) (map[string]PositionView, error)
}
