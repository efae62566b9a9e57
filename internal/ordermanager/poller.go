package ordermanager

import (
	"context"
	"fmt"
	"time"

	"github.com/mittubose/coolAlgobot-sub001/internal/broker"
	"github.com/mittubose/coolAlgobot-sub001/internal/circuitbreaker"
	"github.com/mittubose/coolAlgobot-sub001/internal/events"
	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
)

// brokerStatusMapping maps broker-native status strings to internal
// statuses; any unrecognized string defaults to OPEN with logging, per
// SPEC_FULL §4.3.
var brokerStatusMapping = map[string]oms.OrderStatus{
	"OPEN":      oms.StatusOpen,
	"COMPLETE":  oms.StatusFilled,
	"CANCELLED": oms.StatusCancelled,
	"REJECTED":  oms.StatusRejected,
}

// pollLoop is the OrderPoller: back off to an idle interval when there is
// nothing active, to an error interval on a broker/store failure,
// otherwise poll at the base cadence. Shape grounded on the teacher's
// ExecutionEngine.matchOrders ticker loop.
func (m *Manager) pollLoop(ctx context.Context) {
	interval := m.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			next := m.pollOnce(ctx)
			timer.Reset(next)
		case <-ctx.Done():
			m.logger.Info().Msg("order poller stopped")
			return
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context) time.Duration {
	m.activeMu.RLock()
	n := len(m.active)
	m.activeMu.RUnlock()

	if n == 0 {
		return idleOr(m.cfg.PollIdleInterval, 5*time.Second)
	}

	views, err := m.listBrokerOrders(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("order poller: failed to fetch broker orders")
		return idleOr(m.cfg.PollErrorInterval, 5*time.Second)
	}

	byBrokerID := make(map[string]broker.OrderView, len(views))
	for _, v := range views {
		byBrokerID[v.BrokerOrderID] = v
	}

	m.activeMu.RLock()
	active := make([]*oms.Order, 0, len(m.active))
	for _, o := range m.active {
		active = append(active, o)
	}
	m.activeMu.RUnlock()

	for _, order := range active {
		if order.BrokerOrderID == nil {
			continue
		}
		view, ok := byBrokerID[*order.BrokerOrderID]
		if !ok {
			continue
		}
		m.applyBrokerUpdate(ctx, order, view)
	}

	return idleOr(m.cfg.PollInterval, time.Second)
}

func idleOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func (m *Manager) listBrokerOrders(ctx context.Context) ([]broker.OrderView, error) {
	var views []broker.OrderView
	cb := m.cb.GetOrCreate("broker", circuitbreaker.DefaultBrokerConfig())
	err := cb.Execute(func() error {
		v, err := m.brokerPort.ListOrders(ctx)
		if err != nil {
			return err
		}
		views = v
		return nil
	})
	return views, err
}

// applyBrokerUpdate applies one broker order view to the internal order,
// idempotently: re-applying the same view is a no-op beyond the UpdatedAt
// timestamp, and at most one Trade is synthesized per distinct broker
// trade id (or per distinct cumulative fill when the broker supplies none).
func (m *Manager) applyBrokerUpdate(ctx context.Context, order *oms.Order, view broker.OrderView) {
	newStatus, ok := brokerStatusMapping[view.Status]
	if !ok {
		m.logger.Warn().Str("broker_status", view.Status).Msg("order poller: unrecognized broker status, defaulting to OPEN")
		newStatus = oms.StatusOpen
	}

	now := time.Now().UTC()
	patch := oms.OrderPatch{
		FilledQuantity: &view.FilledQuantity,
		Status:         &newStatus,
		StatusMessage:  view.StatusMessage,
		UpdatedAt:      &now,
	}
	if view.AveragePrice != nil {
		patch.AveragePrice = view.AveragePrice
	}
	if newStatus == oms.StatusFilled {
		patch.FilledAt = &now
	}

	if _, err := m.st.UpdateOrder(ctx, order.ID, patch); err != nil {
		m.logger.Error().Err(err).Int64("order_id", int64(order.ID)).Msg("order poller: failed to patch order")
		return
	}

	order.Status = newStatus
	order.FilledQuantity = view.FilledQuantity
	if view.AveragePrice != nil {
		order.AveragePrice = view.AveragePrice
	}

	if newStatus == oms.StatusFilled && m.shouldSynthesizeTrade(order, view) {
		m.onFilled(ctx, order, view)
	}

	if newStatus.IsTerminal() {
		m.activeMu.Lock()
		delete(m.active, order.ID)
		m.activeMu.Unlock()

		if m.bus != nil {
			switch newStatus {
			case oms.StatusCancelled:
				m.bus.Publish(ctx, events.NewOrderEvent(events.EventTypeOrderCancelled, order, "order cancelled at broker"))
			case oms.StatusRejected:
				m.bus.Publish(ctx, events.NewOrderEvent(events.EventTypeOrderRejected, order, "order rejected at broker"))
			}
		}
	}
}

// shouldSynthesizeTrade de-duplicates fill processing: a broker trade id is
// preferred; absent one, the cumulative (filled_quantity, average_price)
// tuple stands in for it.
func (m *Manager) shouldSynthesizeTrade(order *oms.Order, view broker.OrderView) bool {
	key := fmt.Sprintf("%d:%v", view.FilledQuantity, view.AveragePrice)
	if view.BrokerTradeID != nil {
		key = *view.BrokerTradeID
	}

	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	if m.seen[order.ID] == key {
		return false
	}
	m.seen[order.ID] = key
	return true
}

// onFilled synthesizes the Trade record, applies the fill to the position
// book, and publishes the lifecycle events, ported from
// original_source/backend/oms/order_manager.py::_on_order_filled.
func (m *Manager) onFilled(ctx context.Context, order *oms.Order, view broker.OrderView) {
	price := money.Zero
	if view.AveragePrice != nil {
		price = *view.AveragePrice
	}
	charges := oms.Charges{}
	if view.Charges != nil {
		charges = *view.Charges
	}

	trade := oms.NewTrade(order.ID, order.Symbol, order.Exchange, order.Side, view.FilledQuantity, price, charges)
	trade.BrokerTradeID = view.BrokerTradeID
	trade.ExecutedAt = time.Now().UTC()

	if _, err := m.st.CreateTrade(ctx, trade); err != nil {
		m.logger.Error().Err(err).Int64("order_id", int64(order.ID)).Msg("order poller: failed to record trade")
	}

	if err := m.positions.ApplyFill(ctx, order, view.FilledQuantity, price); err != nil {
		m.logger.Error().Err(err).Str("symbol", order.Symbol).Msg("order poller: failed to apply fill to position")
	}

	if m.bus != nil {
		m.bus.Publish(ctx, events.NewOrderEvent(events.EventTypeOrderFilled, order, "order filled"))
		if pos, err := m.st.GetPosition(ctx, order.Symbol, order.Exchange, order.StrategyID); err == nil && pos != nil {
			if pos.IsOpen() {
				m.bus.Publish(ctx, events.NewPositionEvent(events.EventTypePositionUpdated, pos))
			} else {
				m.bus.Publish(ctx, events.NewPositionEvent(events.EventTypePositionClosed, pos))
			}
		}
	}

	if m.audit != nil {
		m.audit.LogOrderFilled(ctx, order.ID, order.Symbol, view.FilledQuantity, price)
		m.audit.LogTradeExecuted(ctx, order.ID, order.Symbol, view.FilledQuantity, price)
	}
}
