// Package oms holds the domain types shared by every OMS component: order,
// position, trade and reconciliation records, and the closed enums that
// describe their state.
package oms

import (
	"time"

	"github.com/mittubose/coolAlgobot-sub001/internal/money"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType selects the broker order variant.
type OrderType string

const (
	Market  OrderType = "MARKET"
	Limit   OrderType = "LIMIT"
	SL      OrderType = "SL"   // stop-loss limit
	SLM     OrderType = "SL-M" // stop-loss market
)

// Product is the margin product the order trades under.
type Product string

const (
	MIS Product = "MIS" // margin intraday square-off
	CNC Product = "CNC" // cash and carry (delivery)
)

// Validity is how long the order remains live at the broker.
type Validity string

const (
	Day Validity = "DAY"
	IOC Validity = "IOC"
)

// OrderStatus is the order's position in the state machine (SPEC_FULL §3).
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusFailed    OrderStatus = "FAILED"
)

// IsTerminal reports whether status is absorbing.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// legalTransitions enumerates the order state machine from SPEC_FULL §3.
// Any pair not listed here is rejected by CanTransition.
var legalTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {
		StatusSubmitted: true,
		StatusRejected:  true,
		StatusFailed:    true,
	},
	StatusSubmitted: {
		StatusOpen:      true,
		StatusFilled:    true,
		StatusCancelled: true,
		StatusRejected:  true,
	},
	StatusOpen: {
		StatusFilled:    true,
		StatusCancelled: true,
		StatusRejected:  true,
	},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// state-machine edge. Terminal states never transition anywhere, including
// to themselves (idempotent re-application of the same terminal status is
// handled by callers as a no-op, not as a transition).
func CanTransition(from, to OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// OrderRequest is what a caller submits to OrderManager.Place.
type OrderRequest struct {
	Symbol       string
	Exchange     string
	Side         OrderSide
	Quantity     int64
	OrderType    OrderType
	Product      Product
	Validity     Validity
	StrategyID   int64
	Price        *money.Money
	TriggerPrice *money.Money
	StopLoss     *money.Money
	TakeProfit   *money.Money
	Metadata     map[string]string
}

// OrderID is the dense internal identifier assigned by the Store.
type OrderID int64

// Order is an order row at any point in its lifecycle.
type Order struct {
	ID            OrderID
	BrokerOrderID *string
	StrategyID    int64

	Symbol       string
	Exchange     string
	Side         OrderSide
	Quantity     int64
	OrderType    OrderType
	Price        *money.Money
	TriggerPrice *money.Money
	Product      Product
	Validity     Validity

	StopLoss         *money.Money
	TakeProfit       *money.Money
	RiskAmount       *money.Money
	RiskRewardRatio  *money.Money

	Status          OrderStatus
	StatusMessage   *string
	FilledQuantity  int64
	AveragePrice    *money.Money

	CreatedAt   time.Time
	SubmittedAt *time.Time
	UpdatedAt   *time.Time
	FilledAt    *time.Time
	CancelledAt *time.Time

	ValidationReport *ValidationResult
	ErrorMessage     *string
	Metadata         map[string]string
}

// IsActive reports whether the order can still receive fills/cancellation.
func (o *Order) IsActive() bool {
	switch o.Status {
	case StatusPending, StatusSubmitted, StatusOpen:
		return true
	default:
		return false
	}
}

// OrderPatch is a partial update applied to an existing order row. Nil
// fields are left untouched.
type OrderPatch struct {
	BrokerOrderID  *string
	Status         *OrderStatus
	StatusMessage  *string
	FilledQuantity *int64
	AveragePrice   *money.Money
	Quantity       *int64
	Price          *money.Money
	TriggerPrice   *money.Money
	SubmittedAt    *time.Time
	UpdatedAt      *time.Time
	FilledAt       *time.Time
	CancelledAt    *time.Time
	ErrorMessage   *string
}

// OrderResult is returned by OrderManager.Place.
type OrderResult struct {
	OrderID       OrderID
	BrokerOrderID *string
	Status        OrderStatus
	Message       string
}

// IsSuccess reports whether the order reached the broker successfully.
func (r OrderResult) IsSuccess() bool {
	return r.Status == StatusSubmitted || r.Status == StatusOpen
}

// PositionID is the dense internal identifier assigned by the Store.
type PositionID int64

// Position is an open or closed trading position, keyed by
// (symbol, exchange, strategy_id) while open.
type Position struct {
	ID         PositionID
	Symbol     string
	Exchange   string
	StrategyID int64

	Quantity     int64 // signed: >0 long, <0 short, 0 closed
	AveragePrice money.Money
	Product      Product

	RealizedPnL   money.Money
	UnrealizedPnL money.Money

	StopLoss     *money.Money
	TakeProfit   *money.Money
	MaxDrawdown  *money.Money

	EntryOrderIDs []OrderID
	ExitOrderIDs  []OrderID
	HighestPrice  *money.Money
	LowestPrice   *money.Money

	OpenedAt  time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	Metadata map[string]string
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	return p.ClosedAt == nil && p.Quantity != 0
}

// IsLong reports whether the position is net long.
func (p *Position) IsLong() bool { return p.Quantity > 0 }

// IsShort reports whether the position is net short.
func (p *Position) IsShort() bool { return p.Quantity < 0 }

// TotalPnL is realized plus unrealized.
func (p *Position) TotalPnL() money.Money {
	return p.RealizedPnL.Add(p.UnrealizedPnL)
}

// AbsQuantity is the unsigned share count.
func (p *Position) AbsQuantity() int64 {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// TradeID is the dense internal identifier assigned by the Store.
type TradeID int64

// Charges is the per-component transaction cost breakdown of a fill.
type Charges struct {
	Brokerage         money.Money
	STT               money.Money
	ExchangeTxnCharge money.Money
	GST               money.Money
	StampDuty         money.Money
	SEBICharges       money.Money
}

// Total sums every charge component.
func (c Charges) Total() money.Money {
	return c.Brokerage.Add(c.STT).Add(c.ExchangeTxnCharge).Add(c.GST).Add(c.StampDuty).Add(c.SEBICharges)
}

// Trade is an immutable fill record.
type Trade struct {
	ID            TradeID
	OrderID       OrderID
	PositionID    *PositionID
	BrokerTradeID *string

	Symbol   string
	Exchange string
	Side     OrderSide
	Quantity int64
	Price    money.Money

	Charges Charges

	GrossValue money.Money
	NetValue   money.Money

	ExecutedAt time.Time
	Metadata   map[string]string
}

// NewTrade constructs a Trade, deriving GrossValue/NetValue from the
// quantity, price and charge breakdown the way
// original_source/backend/models/trade.py's __post_init__ does.
func NewTrade(orderID OrderID, symbol, exchange string, side OrderSide, qty int64, price money.Money, charges Charges) Trade {
	gross := price.MulInt(qty)
	total := charges.Total()
	net := gross.Add(total)
	if side == Sell {
		net = gross.Sub(total)
	}
	return Trade{
		OrderID:    orderID,
		Symbol:     symbol,
		Exchange:   exchange,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Charges:    charges,
		GrossValue: gross,
		NetValue:   net,
	}
}

// ReconciliationIssueType classifies the kind of broker/internal drift.
type ReconciliationIssueType string

const (
	UnknownPosition  ReconciliationIssueType = "UNKNOWN_POSITION"
	QuantityMismatch ReconciliationIssueType = "QUANTITY_MISMATCH"
	PhantomPosition  ReconciliationIssueType = "PHANTOM_POSITION"
	PriceMismatch    ReconciliationIssueType = "PRICE_MISMATCH"
)

// Severity is the urgency of a reconciliation issue or risk alert.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// ReconciliationIssue records a detected mismatch between the Store's view
// of a position and the broker's.
type ReconciliationIssue struct {
	ID       int64
	Symbol   string
	Exchange string

	IssueType ReconciliationIssueType
	Severity  Severity

	InternalQuantity *int64
	BrokerQuantity   *int64
	Difference       *int64

	InternalAvgPrice *money.Money
	BrokerAvgPrice   *money.Money

	Resolved   bool
	Resolution *string
	AutoFixed  bool

	DetectedAt time.Time
	ResolvedAt *time.Time
	Metadata   map[string]string
}

// ReconciliationSummary is returned by a single reconciliation pass.
type ReconciliationSummary struct {
	AllClear         bool
	Mismatches       []ReconciliationIssue
	UnknownPositions []ReconciliationIssue
	Timestamp        time.Time
}

// KillSwitchEvent records one activation/deactivation cycle of the global
// trading halt. At most one active (DeactivatedAt == nil) event exists per
// calendar day.
type KillSwitchEvent struct {
	ID            int64
	TriggeredAt   time.Time
	Reason        string
	TriggeredBy   string
	DeactivatedAt *time.Time
	DeactivatedBy *string
}

// RiskAlert is an ephemeral, non-persisted notification emitted by the
// RiskMonitor.
type RiskAlert struct {
	Severity  Severity
	Kind      string
	Message   string
	Details   map[string]string
	Timestamp time.Time
}

// ValidationResult is the outcome of running the PreTradeValidator's
// ordered checks against an OrderRequest.
type ValidationResult struct {
	IsValid     bool
	Reason      string
	FailedCheck string
	Warnings    []string
}
