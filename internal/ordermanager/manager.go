// Package ordermanager implements the OrderManager (SPEC_FULL §4.3): the
// sole path through which orders reach the broker, plus the OrderPoller and
// Reconciler background loops. Ported from
// original_source/backend/oms/order_manager.py, with the goroutine/ticker
// shape grounded on the teacher's ExecutionEngine.Start/processEvents/
// matchOrders in internal/core/execution/engine.go.
package ordermanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/audit"
	"github.com/mittubose/coolAlgobot-sub001/internal/broker"
	"github.com/mittubose/coolAlgobot-sub001/internal/circuitbreaker"
	"github.com/mittubose/coolAlgobot-sub001/internal/config"
	"github.com/mittubose/coolAlgobot-sub001/internal/events"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
	"github.com/mittubose/coolAlgobot-sub001/internal/position"
	"github.com/mittubose/coolAlgobot-sub001/internal/store"
	"github.com/mittubose/coolAlgobot-sub001/internal/validator"
)

// Validator is the subset of validator.Validator the OrderManager depends
// on, narrowed so tests can supply a stub.
type Validator interface {
	ValidateOrder(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error)
}

var _ Validator = (*validator.Validator)(nil)

// Manager is the OMS's sole order-placement path. Direct broker calls from
// elsewhere are forbidden by convention: cmd/omsd only constructs a
// broker.Port and hands it to New, and no other OMS component calls one.
type Manager struct {
	st        store.Store
	brokerPort broker.Port
	positions *position.Manager
	validate  Validator
	audit     *audit.Logger
	bus       *events.Bus
	cb        *circuitbreaker.Manager
	cfg       config.OrderManagerConfig
	logger    zerolog.Logger

	activeMu sync.RWMutex
	active   map[oms.OrderID]*oms.Order

	// seenTrades de-duplicates broker-reported fills that carry no broker
	// trade id, keyed on the cumulative (order_id, filled_quantity,
	// average_price) tuple the poller last applied.
	seenMu sync.Mutex
	seen   map[oms.OrderID]string
}

// New builds an OrderManager. validate may be nil to run with no pre-trade
// checks (used by some tests).
func New(
	st store.Store,
	brokerPort broker.Port,
	positions *position.Manager,
	validate Validator,
	auditLogger *audit.Logger,
	bus *events.Bus,
	cb *circuitbreaker.Manager,
	cfg config.OrderManagerConfig,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		st:         st,
		brokerPort: brokerPort,
		positions:  positions,
		validate:   validate,
		audit:      auditLogger,
		bus:        bus,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
		active:     make(map[oms.OrderID]*oms.Order),
		seen:       make(map[oms.OrderID]string),
	}
}

// Start launches the OrderPoller and Reconciler loops; both exit when ctx
// is cancelled.
func (m *Manager) Start(ctx context.Context) {
	if err := m.loadActiveOrders(ctx); err != nil {
		m.logger.Error().Err(err).Msg("order manager: failed to preload active orders")
	}
	go m.pollLoop(ctx)
	go m.reconcileLoop(ctx)
}

func (m *Manager) loadActiveOrders(ctx context.Context) error {
	orders, err := m.st.ActiveOrders(ctx)
	if err != nil {
		return &oms.StoreError{Op: "ActiveOrders", Cause: err}
	}
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	for _, o := range orders {
		m.active[o.ID] = o
	}
	return nil
}

// Place runs the order through validation (if configured), persists it,
// submits to the broker, and tracks it for polling.
func (m *Manager) Place(ctx context.Context, req oms.OrderRequest) (oms.OrderResult, error) {
	m.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Int64("quantity", req.Quantity).
		Msg("placing order")

	var report *oms.ValidationResult
	if m.validate != nil {
		result, err := m.validate.ValidateOrder(ctx, req)
		if err != nil {
			return oms.OrderResult{}, err
		}
		report = &result
		if !result.IsValid {
			id, cerr := m.st.CreateOrder(ctx, req, oms.StatusRejected, report)
			if cerr != nil {
				return oms.OrderResult{}, &oms.StoreError{Op: "CreateOrder", Cause: cerr}
			}
			if m.audit != nil {
				m.audit.LogOrderRejected(ctx, id, req.Symbol, result.Reason)
			}
			return oms.OrderResult{OrderID: id, Status: oms.StatusRejected, Message: result.Reason},
				&oms.OrderRejectedError{Reason: result.Reason, FailedCheck: result.FailedCheck}
		}
	}

	id, err := m.st.CreateOrder(ctx, req, oms.StatusPending, report)
	if err != nil {
		return oms.OrderResult{}, &oms.StoreError{Op: "CreateOrder", Cause: err}
	}

	brokerOrderID, err := m.submitToBroker(ctx, req)
	if err != nil {
		msg := err.Error()
		now := time.Now().UTC()
		status := oms.StatusFailed
		m.st.UpdateOrder(ctx, id, oms.OrderPatch{Status: &status, ErrorMessage: &msg, UpdatedAt: &now})
		return oms.OrderResult{OrderID: id, Status: oms.StatusFailed, Message: msg}, &oms.SubmissionFailedError{Cause: err}
	}

	now := time.Now().UTC()
	submitted := oms.StatusSubmitted
	if _, err := m.st.UpdateOrder(ctx, id, oms.OrderPatch{
		BrokerOrderID: &brokerOrderID,
		Status:        &submitted,
		SubmittedAt:   &now,
		UpdatedAt:     &now,
	}); err != nil {
		return oms.OrderResult{}, &oms.StoreError{Op: "UpdateOrder", Cause: err}
	}

	order, err := m.st.GetOrder(ctx, id)
	if err != nil {
		return oms.OrderResult{}, &oms.StoreError{Op: "GetOrder", Cause: err}
	}

	m.activeMu.Lock()
	m.active[id] = order
	m.activeMu.Unlock()

	if m.bus != nil {
		m.bus.Publish(ctx, events.NewOrderEvent(events.EventTypeOrderPlaced, order, "order submitted"))
	}
	if m.audit != nil {
		m.audit.LogOrderCreated(ctx, id, req.Symbol, string(req.Side), req.Quantity)
	}

	return oms.OrderResult{OrderID: id, BrokerOrderID: &brokerOrderID, Status: oms.StatusSubmitted, Message: "order submitted successfully"}, nil
}

func (m *Manager) submitToBroker(ctx context.Context, req oms.OrderRequest) (string, error) {
	params := broker.PlaceParams{
		Symbol: req.Symbol, Exchange: req.Exchange, Side: req.Side, Quantity: req.Quantity,
		OrderType: req.OrderType, Product: req.Product, Validity: req.Validity,
		Price: req.Price, TriggerPrice: req.TriggerPrice,
	}

	var id string
	cb := m.cb.GetOrCreate("broker", circuitbreaker.DefaultBrokerConfig())
	err := cb.Execute(func() error {
		brokerID, err := m.brokerPort.Place(ctx, params)
		if err != nil {
			return err
		}
		if brokerID == "" {
			return fmt.Errorf("broker did not return an order id")
		}
		id = brokerID
		return nil
	})
	return id, err
}

// Cancel cancels a SUBMITTED or OPEN order at the broker, then evicts it
// from the active set.
func (m *Manager) Cancel(ctx context.Context, id oms.OrderID) error {
	order, err := m.st.GetOrder(ctx, id)
	if err != nil {
		return &oms.StoreError{Op: "GetOrder", Cause: err}
	}
	if order == nil {
		return &oms.NotFoundError{OrderID: id}
	}
	if order.Status != oms.StatusSubmitted && order.Status != oms.StatusOpen {
		return &oms.NotCancellableError{OrderID: id, Status: order.Status}
	}
	if order.BrokerOrderID == nil {
		return &oms.NotCancellableError{OrderID: id, Status: order.Status}
	}

	if err := m.brokerPort.Cancel(ctx, *order.BrokerOrderID); err != nil {
		return err
	}

	now := time.Now().UTC()
	cancelled := oms.StatusCancelled
	if _, err := m.st.UpdateOrder(ctx, id, oms.OrderPatch{Status: &cancelled, CancelledAt: &now, UpdatedAt: &now}); err != nil {
		return &oms.StoreError{Op: "UpdateOrder", Cause: err}
	}

	m.activeMu.Lock()
	delete(m.active, id)
	m.activeMu.Unlock()

	if m.bus != nil {
		order.Status = oms.StatusCancelled
		m.bus.Publish(ctx, events.NewOrderEvent(events.EventTypeOrderCancelled, order, "order cancelled"))
	}
	return nil
}

// Modify changes price/quantity/trigger price on a still-cancellable order.
func (m *Manager) Modify(ctx context.Context, id oms.OrderID, patch broker.ModifyParams) error {
	order, err := m.st.GetOrder(ctx, id)
	if err != nil {
		return &oms.StoreError{Op: "GetOrder", Cause: err}
	}
	if order == nil {
		return &oms.NotFoundError{OrderID: id}
	}
	if order.Status != oms.StatusSubmitted && order.Status != oms.StatusOpen {
		return &oms.NotModifiableError{OrderID: id, Status: order.Status}
	}
	if order.BrokerOrderID == nil {
		return &oms.NotModifiableError{OrderID: id, Status: order.Status}
	}

	if err := m.brokerPort.Modify(ctx, *order.BrokerOrderID, patch); err != nil {
		return err
	}

	// Persist exactly the fields the broker acknowledged; fill state is
	// left to the poller's next pass.
	now := time.Now().UTC()
	storePatch := oms.OrderPatch{UpdatedAt: &now}
	if patch.Quantity != nil {
		storePatch.Quantity = patch.Quantity
	}
	if patch.Price != nil {
		storePatch.Price = patch.Price
	}
	if patch.TriggerPrice != nil {
		storePatch.TriggerPrice = patch.TriggerPrice
	}
	if _, err := m.st.UpdateOrder(ctx, id, storePatch); err != nil {
		return &oms.StoreError{Op: "UpdateOrder", Cause: err}
	}

	m.activeMu.Lock()
	if active, ok := m.active[id]; ok {
		if patch.Quantity != nil {
			active.Quantity = *patch.Quantity
		}
		if patch.Price != nil {
			active.Price = patch.Price
		}
		if patch.TriggerPrice != nil {
			active.TriggerPrice = patch.TriggerPrice
		}
	}
	m.activeMu.Unlock()

	return nil
}
