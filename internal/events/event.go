// Package events is the OMS's non-blocking pub/sub bus (SPEC_FULL §10.3):
// per-subscriber buffered channels, drop-on-full with logging, adapted from
// the teacher's internal/core/events package with its generic market-data
// kinds replaced by the OMS order/position/risk lifecycle.
package events

import (
	"time"

	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventTypeOrderPlaced     EventType = "order:placed"
	EventTypeOrderFilled     EventType = "order:filled"
	EventTypeOrderCancelled  EventType = "order:cancelled"
	EventTypeOrderRejected   EventType = "order:rejected"
	EventTypePositionUpdated EventType = "position:updated"
	EventTypePositionClosed  EventType = "position:closed"
	EventTypeRiskAlert       EventType = "risk:alert"
)

// Event is the interface every published value implements.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent carries the fields every event shares.
type BaseEvent struct {
	EventType EventType
	OccurredAt time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.OccurredAt }

// OrderEvent fires on every order lifecycle transition the OrderManager
// drives: placed, filled, cancelled, rejected.
type OrderEvent struct {
	BaseEvent
	OrderID       oms.OrderID
	BrokerOrderID *string
	Symbol        string
	Side          oms.OrderSide
	Status        oms.OrderStatus
	Message       string
}

// NewOrderEvent builds an OrderEvent of the given type.
func NewOrderEvent(t EventType, order *oms.Order, message string) *OrderEvent {
	return &OrderEvent{
		BaseEvent:     BaseEvent{EventType: t, OccurredAt: time.Now().UTC()},
		OrderID:       order.ID,
		BrokerOrderID: order.BrokerOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Status:        order.Status,
		Message:       message,
	}
}

// PositionEvent fires when a position is updated (fill applied or marked)
// or closed.
type PositionEvent struct {
	BaseEvent
	PositionID oms.PositionID
	Symbol     string
	Exchange   string
	Quantity   int64
	RealizedPnL *string
}

// NewPositionEvent builds a PositionEvent of the given type.
func NewPositionEvent(t EventType, pos *oms.Position) *PositionEvent {
	pnl := pos.RealizedPnL.String()
	return &PositionEvent{
		BaseEvent:   BaseEvent{EventType: t, OccurredAt: time.Now().UTC()},
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Exchange:    pos.Exchange,
		Quantity:    pos.Quantity,
		RealizedPnL: &pnl,
	}
}

// RiskAlertEvent carries a non-persisted risk notification emitted by the
// RiskMonitor.
type RiskAlertEvent struct {
	BaseEvent
	Alert oms.RiskAlert
}

// NewRiskAlertEvent wraps an oms.RiskAlert for publication.
func NewRiskAlertEvent(alert oms.RiskAlert) *RiskAlertEvent {
	return &RiskAlertEvent{
		BaseEvent: BaseEvent{EventType: EventTypeRiskAlert, OccurredAt: alert.Timestamp},
		Alert:     alert,
	}
}
