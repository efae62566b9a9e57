// Package position implements the PositionManager (SPEC_FULL §4.4): applies
// fills to open positions using cost-weighted average-cost closure (not
// true per-lot FIFO), tracks unrealized PnL and price extremes, and exposes
// the forced mutators reconciliation uses. Arithmetic is ported from
// original_source/backend/oms/position_manager.py.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
	"github.com/mittubose/coolAlgobot-sub001/internal/store"
)

// key identifies the position a fill applies to.
type key struct {
	symbol     string
	exchange   string
	strategyID int64
}

// Manager serializes fills per (symbol, exchange, strategyID) so concurrent
// order fills for the same position never interleave their read-modify-write
// cycle, while fills against different positions proceed in parallel.
type Manager struct {
	st     store.Store
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[key]*sync.Mutex
}

// New builds a PositionManager over the given Store.
func New(st store.Store, logger zerolog.Logger) *Manager {
	return &Manager{st: st, logger: logger, locks: make(map[key]*sync.Mutex)}
}

func (m *Manager) lockFor(k key) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[k]
	if !ok {
		l = &sync.Mutex{}
		m.locks[k] = l
	}
	return l
}

// ApplyFill updates (or creates) the position for order.Symbol/Exchange and
// order.StrategyID to reflect a fill of qty shares at price, dispatching on
// the sign relationship between the existing position and the fill side.
func (m *Manager) ApplyFill(ctx context.Context, order *oms.Order, qty int64, price money.Money) error {
	k := key{symbol: order.Symbol, exchange: order.Exchange, strategyID: order.StrategyID}
	l := m.lockFor(k)
	l.Lock()
	defer l.Unlock()

	pos, err := m.st.GetPosition(ctx, order.Symbol, order.Exchange, order.StrategyID)
	if err != nil {
		return &oms.StoreError{Op: "GetPosition", Cause: err}
	}

	if pos == nil {
		return m.createPosition(ctx, order, qty, price)
	}
	return m.updateExisting(ctx, pos, order, qty, price)
}

func (m *Manager) createPosition(ctx context.Context, order *oms.Order, qty int64, price money.Money) error {
	quantity := qty
	if order.Side == oms.Sell {
		quantity = -qty
	}

	now := time.Now().UTC()
	pos := &oms.Position{
		Symbol:        order.Symbol,
		Exchange:      order.Exchange,
		StrategyID:    order.StrategyID,
		Quantity:      quantity,
		AveragePrice:  price,
		Product:       order.Product,
		RealizedPnL:   money.Zero,
		UnrealizedPnL: money.Zero,
		StopLoss:      order.StopLoss,
		TakeProfit:    order.TakeProfit,
		EntryOrderIDs: []oms.OrderID{order.ID},
		HighestPrice:  &price,
		LowestPrice:   &price,
		OpenedAt:      now,
		UpdatedAt:     now,
		Metadata:      map[string]string{},
	}

	_, err := m.st.CreatePosition(ctx, pos)
	if err != nil {
		return &oms.StoreError{Op: "CreatePosition", Cause: err}
	}
	m.logger.Info().
		Str("symbol", order.Symbol).
		Int64("quantity", quantity).
		Str("price", price.String()).
		Msg("position opened")
	return nil
}

func (m *Manager) updateExisting(ctx context.Context, pos *oms.Position, order *oms.Order, qty int64, price money.Money) error {
	switch {
	case pos.IsLong() && order.Side == oms.Buy:
		return m.addToPosition(ctx, pos, qty, price, order.ID, true)
	case pos.IsShort() && order.Side == oms.Sell:
		return m.addToPosition(ctx, pos, qty, price, order.ID, false)
	case pos.IsLong() && order.Side == oms.Sell:
		return m.closeLongSide(ctx, pos, order, qty, price)
	case pos.IsShort() && order.Side == oms.Buy:
		return m.closeShortSide(ctx, pos, order, qty, price)
	default:
		return fmt.Errorf("position %d: unreachable fill combination (qty=%d side=%s)", pos.ID, pos.Quantity, order.Side)
	}
}

// addToPosition averages up (long) or down (short) using cost-weighted
// average price: total_cost = abs(old_qty)*old_avg + fill_qty*fill_price,
// new_avg = total_cost / abs(new_qty).
func (m *Manager) addToPosition(ctx context.Context, pos *oms.Position, qty int64, price money.Money, orderID oms.OrderID, long bool) error {
	totalCost := price.MulInt(qty).Add(pos.AveragePrice.MulInt(pos.AbsQuantity()))
	var newQty int64
	if long {
		newQty = pos.Quantity + qty
	} else {
		newQty = pos.Quantity - qty
	}
	absQty := newQty
	if absQty < 0 {
		absQty = -absQty
	}
	newAvg := totalCost.DivInt(absQty)

	entryOrderIDs := append(append([]oms.OrderID{}, pos.EntryOrderIDs...), orderID)
	now := time.Now().UTC()

	_, err := m.st.UpdatePosition(ctx, pos.ID, store.PositionPatch{
		Quantity:      &newQty,
		AveragePrice:  &newAvg,
		EntryOrderIDs: entryOrderIDs,
		UpdatedAt:     &now,
	})
	if err != nil {
		return &oms.StoreError{Op: "UpdatePosition", Cause: err}
	}
	m.logger.Info().
		Str("symbol", pos.Symbol).
		Str("old_avg", pos.AveragePrice.String()).
		Str("new_avg", newAvg.String()).
		Msg("added to position")
	return nil
}

// closeLongSide reduces or closes a long position against a SELL fill,
// reversing into a new short when the fill overshoots the open quantity.
func (m *Manager) closeLongSide(ctx context.Context, pos *oms.Position, order *oms.Order, qty int64, price money.Money) error {
	if qty >= pos.Quantity {
		if err := m.closePosition(ctx, pos, pos.Quantity, price, order.ID); err != nil {
			return err
		}
		if remaining := qty - pos.Quantity; remaining > 0 {
			return m.createPosition(ctx, order, remaining, price)
		}
		return nil
	}
	realized := price.Sub(pos.AveragePrice).MulInt(qty)
	return m.reducePosition(ctx, pos, pos.Quantity-qty, realized, order.ID)
}

// closeShortSide reduces or closes a short position against a BUY fill,
// reversing into a new long when the fill overshoots the open quantity.
func (m *Manager) closeShortSide(ctx context.Context, pos *oms.Position, order *oms.Order, qty int64, price money.Money) error {
	absQty := pos.AbsQuantity()
	if qty >= absQty {
		if err := m.closePosition(ctx, pos, absQty, price, order.ID); err != nil {
			return err
		}
		if remaining := qty - absQty; remaining > 0 {
			return m.createPosition(ctx, order, remaining, price)
		}
		return nil
	}
	realized := pos.AveragePrice.Sub(price).MulInt(qty)
	return m.reducePosition(ctx, pos, pos.Quantity+qty, realized, order.ID)
}

// reducePosition partially closes, accumulating realized PnL, setting the
// remaining quantity to newQty and leaving the average price untouched.
func (m *Manager) reducePosition(ctx context.Context, pos *oms.Position, newQty int64, realizedDelta money.Money, orderID oms.OrderID) error {
	newRealized := pos.RealizedPnL.Add(realizedDelta)
	exitOrderIDs := append(append([]oms.OrderID{}, pos.ExitOrderIDs...), orderID)
	now := time.Now().UTC()

	_, err := m.st.UpdatePosition(ctx, pos.ID, store.PositionPatch{
		Quantity:     &newQty,
		RealizedPnL:  &newRealized,
		ExitOrderIDs: exitOrderIDs,
		UpdatedAt:    &now,
	})
	if err != nil {
		return &oms.StoreError{Op: "UpdatePosition", Cause: err}
	}
	m.logger.Info().
		Str("symbol", pos.Symbol).
		Int64("close_qty", pos.Quantity-newQty).
		Str("realized_pnl_delta", realizedDelta.String()).
		Msg("position reduced")
	return nil
}

// closePosition fully closes, computing the final realized PnL leg for the
// closeQty shares at the exit price and handing off to Store.ClosePosition.
func (m *Manager) closePosition(ctx context.Context, pos *oms.Position, closeQty int64, price money.Money, orderID oms.OrderID) error {
	var realizedDelta money.Money
	if pos.IsLong() {
		realizedDelta = price.Sub(pos.AveragePrice).MulInt(closeQty)
	} else {
		realizedDelta = pos.AveragePrice.Sub(price).MulInt(closeQty)
	}
	totalRealized := pos.RealizedPnL.Add(realizedDelta)
	exitOrderIDs := append(append([]oms.OrderID{}, pos.ExitOrderIDs...), orderID)

	if err := m.st.ClosePosition(ctx, pos.ID, totalRealized, exitOrderIDs); err != nil {
		return &oms.StoreError{Op: "ClosePosition", Cause: err}
	}
	m.logger.Info().
		Str("symbol", pos.Symbol).
		Str("final_pnl", totalRealized.String()).
		Msg("position closed")
	return nil
}

// Mark updates a single open position's unrealized PnL and price extremes
// against a fresh market price. Unrealized PnL is signed: positive for a
// long trading above average cost, positive for a short trading below it.
func (m *Manager) Mark(ctx context.Context, symbol, exchange string, strategyID int64, currentPrice money.Money) error {
	k := key{symbol: symbol, exchange: exchange, strategyID: strategyID}
	l := m.lockFor(k)
	l.Lock()
	defer l.Unlock()

	pos, err := m.st.GetPosition(ctx, symbol, exchange, strategyID)
	if err != nil {
		return &oms.StoreError{Op: "GetPosition", Cause: err}
	}
	if pos == nil || !pos.IsOpen() {
		return nil
	}

	var unrealized money.Money
	if pos.IsLong() {
		unrealized = currentPrice.Sub(pos.AveragePrice).MulInt(pos.Quantity)
	} else {
		unrealized = pos.AveragePrice.Sub(currentPrice).MulInt(pos.AbsQuantity())
	}

	highest := pos.HighestPrice
	if highest == nil || currentPrice.GreaterThan(*highest) {
		highest = &currentPrice
	}
	lowest := pos.LowestPrice
	if lowest == nil || currentPrice.LessThan(*lowest) {
		lowest = &currentPrice
	}

	var drawdown money.Money
	if pos.IsLong() {
		drawdown = highest.Sub(currentPrice)
	} else {
		drawdown = currentPrice.Sub(*lowest)
	}
	maxDrawdown := pos.MaxDrawdown
	if maxDrawdown == nil || drawdown.GreaterThan(*maxDrawdown) {
		maxDrawdown = &drawdown
	}

	now := time.Now().UTC()
	_, err = m.st.UpdatePosition(ctx, pos.ID, store.PositionPatch{
		UnrealizedPnL: &unrealized,
		HighestPrice:  highest,
		LowestPrice:   lowest,
		MaxDrawdown:   maxDrawdown,
		UpdatedAt:     &now,
	})
	if err != nil {
		return &oms.StoreError{Op: "UpdatePosition", Cause: err}
	}
	return nil
}

// ForceQuantity overwrites a position's quantity to match the broker's
// authoritative count during reconciliation.
func (m *Manager) ForceQuantity(ctx context.Context, symbol, exchange string, strategyID int64, quantity int64, reason string) error {
	k := key{symbol: symbol, exchange: exchange, strategyID: strategyID}
	l := m.lockFor(k)
	l.Lock()
	defer l.Unlock()

	pos, err := m.st.GetPosition(ctx, symbol, exchange, strategyID)
	if err != nil {
		return &oms.StoreError{Op: "GetPosition", Cause: err}
	}
	if pos == nil {
		m.logger.Error().Str("symbol", symbol).Msg("cannot force-update quantity of non-existent position")
		return nil
	}

	now := time.Now().UTC()
	_, err = m.st.UpdatePosition(ctx, pos.ID, store.PositionPatch{
		Quantity:  &quantity,
		UpdatedAt: &now,
		Metadata: map[string]string{
			"force_updated":       "true",
			"force_update_reason": reason,
			"force_updated_at":    now.Format(time.RFC3339),
		},
	})
	if err != nil {
		return &oms.StoreError{Op: "UpdatePosition", Cause: err}
	}
	m.logger.Warn().
		Str("symbol", symbol).
		Int64("quantity", quantity).
		Str("reason", reason).
		Msg("force updated position quantity")
	return nil
}

// ForceClose closes a position with no additional realized PnL and no exit
// order, used when the broker reports no position the Store still has open
// (a phantom position). The reason and time are written to the position's
// metadata before it is closed.
func (m *Manager) ForceClose(ctx context.Context, symbol, exchange string, strategyID int64, reason string) error {
	k := key{symbol: symbol, exchange: exchange, strategyID: strategyID}
	l := m.lockFor(k)
	l.Lock()
	defer l.Unlock()

	pos, err := m.st.GetPosition(ctx, symbol, exchange, strategyID)
	if err != nil {
		return &oms.StoreError{Op: "GetPosition", Cause: err}
	}
	if pos == nil {
		m.logger.Error().Str("symbol", symbol).Msg("cannot force-close non-existent position")
		return nil
	}

	now := time.Now().UTC()
	_, err = m.st.UpdatePosition(ctx, pos.ID, store.PositionPatch{
		UpdatedAt: &now,
		Metadata: map[string]string{
			"force_closed":       "true",
			"force_close_reason": reason,
			"force_closed_at":    now.Format(time.RFC3339),
		},
	})
	if err != nil {
		return &oms.StoreError{Op: "UpdatePosition", Cause: err}
	}
	if err := m.st.ClosePosition(ctx, pos.ID, pos.RealizedPnL, nil); err != nil {
		return &oms.StoreError{Op: "ClosePosition", Cause: err}
	}
	m.logger.Warn().Str("symbol", symbol).Str("reason", reason).Msg("force closed position")
	return nil
}
