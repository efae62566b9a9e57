// Package store defines the Store contract (SPEC_FULL §4.1): the
// persistent, transactional record of every order, trade, position,
// reconciliation issue and kill-switch event. Concrete implementations
// live in subpackages (postgres for production, memstore for tests).
package store

import (
	"context"
	"time"

	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
)

// Store is the durable record every OMS component reads from and writes
// through. All writes must be durable before the call returns; reads are
// consistent with completed writes. Aggregate "today" queries are
// evaluated against the calendar day of the store's wall clock (UTC).
type Store interface {
	// Orders
	CreateOrder(ctx context.Context, req oms.OrderRequest, status oms.OrderStatus, report *oms.ValidationResult) (oms.OrderID, error)
	UpdateOrder(ctx context.Context, id oms.OrderID, patch oms.OrderPatch) (bool, error)
	GetOrder(ctx context.Context, id oms.OrderID) (*oms.Order, error)
	GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (*oms.Order, error)
	ActiveOrders(ctx context.Context) ([]*oms.Order, error)
	TodayOrders(ctx context.Context) ([]*oms.Order, error)

	// Positions
	CreatePosition(ctx context.Context, p *oms.Position) (oms.PositionID, error)
	UpdatePosition(ctx context.Context, id oms.PositionID, patch PositionPatch) (bool, error)
	ClosePosition(ctx context.Context, id oms.PositionID, realizedPnL money.Money, exitOrderIDs []oms.OrderID) error
	GetPosition(ctx context.Context, symbol, exchange string, strategyID int64) (*oms.Position, error)
	AllOpenPositions(ctx context.Context) ([]*oms.Position, error)
	OpenPositionCount(ctx context.Context) (int, error)

	// Trades
	CreateTrade(ctx context.Context, t oms.Trade) (oms.TradeID, error)
	TradesForOrder(ctx context.Context, orderID oms.OrderID) ([]*oms.Trade, error)
	TodayTrades(ctx context.Context) ([]*oms.Trade, error)

	// Reconciliation
	LogReconciliationIssue(ctx context.Context, issue oms.ReconciliationIssue) (int64, error)
	ResolveReconciliationIssue(ctx context.Context, id int64, resolution string, autoFixed bool) error
	UnresolvedReconciliationIssues(ctx context.Context) ([]*oms.ReconciliationIssue, error)

	// Aggregates
	TodayRealizedPnL(ctx context.Context) (money.Money, error)
	TodayOrderCount(ctx context.Context) (int, error)
	TodayTradeCount(ctx context.Context) (int, error)
	OrderToTradeRatio(ctx context.Context) (float64, error)

	// Kill switch
	IsKillSwitchActive(ctx context.Context) (bool, error)
	TriggerKillSwitch(ctx context.Context, reason, triggeredBy string) error
	DeactivateKillSwitch(ctx context.Context, deactivatedBy string) error

	// Transaction runs scope within a single transactional connection,
	// committing on a nil return and rolling back otherwise, with
	// guaranteed release back to the pool on every exit path.
	Transaction(ctx context.Context, scope func(ctx context.Context) error) error

	Close()
}

// PositionPatch is a partial update applied to an existing position row.
// Nil fields are left untouched.
type PositionPatch struct {
	Quantity      *int64
	AveragePrice  *money.Money
	RealizedPnL   *money.Money
	UnrealizedPnL *money.Money
	StopLoss      *money.Money
	TakeProfit    *money.Money
	MaxDrawdown   *money.Money
	HighestPrice  *money.Money
	LowestPrice   *money.Money
	EntryOrderIDs []oms.OrderID
	ExitOrderIDs  []oms.OrderID
	UpdatedAt     *time.Time
	Metadata      map[string]string
}
