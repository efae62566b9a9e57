// Package memstore is an in-process store.Store used by component tests
// (SPEC_FULL §10.6): no network, no schema, same lookup semantics as the
// Postgres-backed store. Transaction provides no rollback.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
	"github.com/mittubose/coolAlgobot-sub001/internal/store"
)

// Store is a mutex-guarded map-backed store.Store implementation.
type Store struct {
	mu sync.Mutex

	orders   map[oms.OrderID]*oms.Order
	nextOrderID oms.OrderID

	positions   map[oms.PositionID]*oms.Position
	nextPositionID oms.PositionID

	trades   map[oms.TradeID]*oms.Trade
	nextTradeID oms.TradeID

	issues   map[int64]*oms.ReconciliationIssue
	nextIssueID int64

	killSwitch *oms.KillSwitchEvent
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		orders:    make(map[oms.OrderID]*oms.Order),
		positions: make(map[oms.PositionID]*oms.Position),
		trades:    make(map[oms.TradeID]*oms.Trade),
		issues:    make(map[int64]*oms.ReconciliationIssue),
	}
}

func (s *Store) Close() {}

// Transaction has no real atomicity boundary in memory: scope runs directly,
// without holding the store's mutex, so it may call back into the Store,
// and writes it made are not undone when it returns an error. This is
// sufficient for unit tests that only need the shape of the call, not true
// isolation.
func (s *Store) Transaction(ctx context.Context, scope func(ctx context.Context) error) error {
	return scope(ctx)
}

func cloneOrder(o *oms.Order) *oms.Order {
	c := *o
	return &c
}

func clonePosition(p *oms.Position) *oms.Position {
	c := *p
	c.EntryOrderIDs = append([]oms.OrderID(nil), p.EntryOrderIDs...)
	c.ExitOrderIDs = append([]oms.OrderID(nil), p.ExitOrderIDs...)
	c.Metadata = cloneMeta(p.Metadata)
	return &c
}

func cloneTrade(t *oms.Trade) *oms.Trade {
	c := *t
	c.Metadata = cloneMeta(t.Metadata)
	return &c
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- Orders -----------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, req oms.OrderRequest, status oms.OrderStatus, report *oms.ValidationResult) (oms.OrderID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrderID++
	id := s.nextOrderID
	now := time.Now().UTC()

	o := &oms.Order{
		ID:               id,
		StrategyID:       req.StrategyID,
		Symbol:           req.Symbol,
		Exchange:         req.Exchange,
		Side:             req.Side,
		Quantity:         req.Quantity,
		OrderType:        req.OrderType,
		Price:            req.Price,
		TriggerPrice:     req.TriggerPrice,
		Product:          req.Product,
		Validity:         req.Validity,
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
		Status:           status,
		CreatedAt:        now,
		ValidationReport: report,
		Metadata:         cloneMeta(req.Metadata),
	}
	s.orders[id] = o
	return id, nil
}

func (s *Store) UpdateOrder(ctx context.Context, id oms.OrderID, patch oms.OrderPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	if patch.BrokerOrderID != nil {
		o.BrokerOrderID = patch.BrokerOrderID
	}
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.StatusMessage != nil {
		o.StatusMessage = patch.StatusMessage
	}
	if patch.FilledQuantity != nil {
		o.FilledQuantity = *patch.FilledQuantity
	}
	if patch.AveragePrice != nil {
		o.AveragePrice = patch.AveragePrice
	}
	if patch.Quantity != nil {
		o.Quantity = *patch.Quantity
	}
	if patch.Price != nil {
		o.Price = patch.Price
	}
	if patch.TriggerPrice != nil {
		o.TriggerPrice = patch.TriggerPrice
	}
	if patch.SubmittedAt != nil {
		o.SubmittedAt = patch.SubmittedAt
	}
	if patch.UpdatedAt != nil {
		o.UpdatedAt = patch.UpdatedAt
	}
	if patch.FilledAt != nil {
		o.FilledAt = patch.FilledAt
	}
	if patch.CancelledAt != nil {
		o.CancelledAt = patch.CancelledAt
	}
	if patch.ErrorMessage != nil {
		o.ErrorMessage = patch.ErrorMessage
	}
	return true, nil
}

func (s *Store) GetOrder(ctx context.Context, id oms.OrderID) (*oms.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (s *Store) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (*oms.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.BrokerOrderID != nil && *o.BrokerOrderID == brokerOrderID {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (s *Store) sortedOrderIDs() []oms.OrderID {
	ids := make([]oms.OrderID, 0, len(s.orders))
	for id := range s.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) ActiveOrders(ctx context.Context) ([]*oms.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*oms.Order
	for _, id := range s.sortedOrderIDs() {
		o := s.orders[id]
		if o.IsActive() {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (s *Store) TodayOrders(ctx context.Context) ([]*oms.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := time.Now().UTC().Truncate(24 * time.Hour)
	var out []*oms.Order
	for _, id := range s.sortedOrderIDs() {
		o := s.orders[id]
		if !o.CreatedAt.Before(today) {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

// --- Positions ---------------------------------------------------------------

func (s *Store) CreatePosition(ctx context.Context, p *oms.Position) (oms.PositionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPositionID++
	id := s.nextPositionID
	stored := clonePosition(p)
	stored.ID = id
	s.positions[id] = stored
	return id, nil
}

func (s *Store) UpdatePosition(ctx context.Context, id oms.PositionID, patch store.PositionPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return false, nil
	}
	if patch.Quantity != nil {
		p.Quantity = *patch.Quantity
	}
	if patch.AveragePrice != nil {
		p.AveragePrice = *patch.AveragePrice
	}
	if patch.RealizedPnL != nil {
		p.RealizedPnL = *patch.RealizedPnL
	}
	if patch.UnrealizedPnL != nil {
		p.UnrealizedPnL = *patch.UnrealizedPnL
	}
	if patch.StopLoss != nil {
		p.StopLoss = patch.StopLoss
	}
	if patch.TakeProfit != nil {
		p.TakeProfit = patch.TakeProfit
	}
	if patch.MaxDrawdown != nil {
		p.MaxDrawdown = patch.MaxDrawdown
	}
	if patch.HighestPrice != nil {
		p.HighestPrice = patch.HighestPrice
	}
	if patch.LowestPrice != nil {
		p.LowestPrice = patch.LowestPrice
	}
	if patch.EntryOrderIDs != nil {
		p.EntryOrderIDs = append([]oms.OrderID(nil), patch.EntryOrderIDs...)
	}
	if patch.ExitOrderIDs != nil {
		p.ExitOrderIDs = append([]oms.OrderID(nil), patch.ExitOrderIDs...)
	}
	if patch.UpdatedAt != nil {
		p.UpdatedAt = *patch.UpdatedAt
	}
	if patch.Metadata != nil {
		p.Metadata = cloneMeta(patch.Metadata)
	}
	return true, nil
}

func (s *Store) ClosePosition(ctx context.Context, id oms.PositionID, realizedPnL money.Money, exitOrderIDs []oms.OrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("memstore: close position: no such position %d", id)
	}
	now := time.Now().UTC()
	p.Quantity = 0
	p.RealizedPnL = realizedPnL
	p.ExitOrderIDs = append([]oms.OrderID(nil), exitOrderIDs...)
	p.UpdatedAt = now
	p.ClosedAt = &now
	return nil
}

func (s *Store) GetPosition(ctx context.Context, symbol, exchange string, strategyID int64) (*oms.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.Symbol == symbol && p.Exchange == exchange && p.StrategyID == strategyID && p.ClosedAt == nil {
			return clonePosition(p), nil
		}
	}
	return nil, nil
}

func (s *Store) AllOpenPositions(ctx context.Context) ([]*oms.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]oms.PositionID, 0, len(s.positions))
	for id := range s.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*oms.Position
	for _, id := range ids {
		p := s.positions[id]
		if p.ClosedAt == nil {
			out = append(out, clonePosition(p))
		}
	}
	return out, nil
}

func (s *Store) OpenPositionCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.positions {
		if p.ClosedAt == nil {
			count++
		}
	}
	return count, nil
}

// --- Trades ------------------------------------------------------------------

func (s *Store) CreateTrade(ctx context.Context, t oms.Trade) (oms.TradeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTradeID++
	id := s.nextTradeID
	stored := cloneTrade(&t)
	stored.ID = id
	if stored.ExecutedAt.IsZero() {
		stored.ExecutedAt = time.Now().UTC()
	}
	s.trades[id] = stored
	return id, nil
}

func (s *Store) TradesForOrder(ctx context.Context, orderID oms.OrderID) ([]*oms.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]oms.TradeID, 0, len(s.trades))
	for id := range s.trades {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*oms.Trade
	for _, id := range ids {
		t := s.trades[id]
		if t.OrderID == orderID {
			out = append(out, cloneTrade(t))
		}
	}
	return out, nil
}

func (s *Store) TodayTrades(ctx context.Context) ([]*oms.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	ids := make([]oms.TradeID, 0, len(s.trades))
	for id := range s.trades {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*oms.Trade
	for _, id := range ids {
		t := s.trades[id]
		if !t.ExecutedAt.Before(today) {
			out = append(out, cloneTrade(t))
		}
	}
	return out, nil
}

// --- Reconciliation ------------------------------------------------------------

func (s *Store) LogReconciliationIssue(ctx context.Context, issue oms.ReconciliationIssue) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextIssueID++
	id := s.nextIssueID
	stored := issue
	stored.ID = id
	if stored.DetectedAt.IsZero() {
		stored.DetectedAt = time.Now().UTC()
	}
	s.issues[id] = &stored
	return id, nil
}

func (s *Store) ResolveReconciliationIssue(ctx context.Context, id int64, resolution string, autoFixed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.issues[id]
	if !ok {
		return fmt.Errorf("memstore: resolve reconciliation issue: no such issue %d", id)
	}
	now := time.Now().UTC()
	issue.Resolved = true
	issue.Resolution = &resolution
	issue.AutoFixed = autoFixed
	issue.ResolvedAt = &now
	return nil
}

func (s *Store) UnresolvedReconciliationIssues(ctx context.Context) ([]*oms.ReconciliationIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.issues))
	for id := range s.issues {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*oms.ReconciliationIssue
	for _, id := range ids {
		issue := s.issues[id]
		if !issue.Resolved {
			c := *issue
			out = append(out, &c)
		}
	}
	return out, nil
}

// --- Aggregates ----------------------------------------------------------------

func (s *Store) TodayRealizedPnL(ctx context.Context) (money.Money, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	total := money.Zero
	for _, p := range s.positions {
		if !p.UpdatedAt.Before(today) {
			total = total.Add(p.RealizedPnL)
		}
	}
	return total, nil
}

func (s *Store) TodayOrderCount(ctx context.Context) (int, error) {
	orders, err := s.TodayOrders(ctx)
	if err != nil {
		return 0, err
	}
	return len(orders), nil
}

func (s *Store) TodayTradeCount(ctx context.Context) (int, error) {
	trades, err := s.TodayTrades(ctx)
	if err != nil {
		return 0, err
	}
	return len(trades), nil
}

func (s *Store) OrderToTradeRatio(ctx context.Context) (float64, error) {
	orders, err := s.TodayOrderCount(ctx)
	if err != nil {
		return 0, err
	}
	trades, err := s.TodayTradeCount(ctx)
	if err != nil {
		return 0, err
	}
	if trades == 0 {
		return float64(orders), nil
	}
	return float64(orders) / float64(trades), nil
}

// --- Kill switch -----------------------------------------------------------------

// startOfUTCDay matches the postgres backend's `date_trunc('day', NOW() AT
// TIME ZONE 'UTC')`, scoping "active" to today's calendar day (SPEC_FULL
// §3: at most one active kill-switch event per calendar day).
func startOfUTCDay() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Store) IsKillSwitchActive(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killSwitch != nil &&
		s.killSwitch.DeactivatedAt == nil &&
		!s.killSwitch.TriggeredAt.Before(startOfUTCDay()), nil
}

func (s *Store) TriggerKillSwitch(ctx context.Context, reason, triggeredBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killSwitch != nil && s.killSwitch.DeactivatedAt == nil && !s.killSwitch.TriggeredAt.Before(startOfUTCDay()) {
		return nil
	}
	s.killSwitch = &oms.KillSwitchEvent{
		TriggeredAt: time.Now().UTC(),
		Reason:      reason,
		TriggeredBy: triggeredBy,
	}
	return nil
}

func (s *Store) DeactivateKillSwitch(ctx context.Context, deactivatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killSwitch == nil || s.killSwitch.DeactivatedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	s.killSwitch.DeactivatedAt = &now
	s.killSwitch.DeactivatedBy = &deactivatedBy
	return nil
}
