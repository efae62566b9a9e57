// Package paperbroker is a deterministic in-process BrokerPort
// implementation for development and tests. It simulates fill delay, fill
// probability and price slippage, and computes realistic Zerodha-style
// transaction charges, grounded on
// original_source/tests/mocks/mock_broker.py and the teacher's
// ExecutionEngine order-matching shape (internal/core/execution/engine.go).
package paperbroker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/broker"
	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
)

// defaultMarketPrice is the fallback last-traded-price estimate for market
// orders carrying no trigger price, matching the original mock's literal.
var defaultMarketPrice = money.MustFromString("2450.00")

// Config parameterizes the simulator's fill behavior.
type Config struct {
	FillDelay        time.Duration
	FillProbability  float64
	SimulateSlippage bool
}

type order struct {
	brokerOrderID string
	symbol        string
	exchange      string
	side          oms.OrderSide
	quantity      int64
	orderType     oms.OrderType
	product       oms.Product
	price         *money.Money
	triggerPrice  *money.Money

	status         string // OPEN, COMPLETE, CANCELLED, REJECTED
	filledQuantity int64
	averagePrice   *money.Money
	charges        *oms.Charges
	statusMessage  *string
	brokerTradeID  *string

	timer *time.Timer
}

type position struct {
	quantity     int64
	averagePrice money.Money
}

// Broker is a concurrency-safe, in-memory BrokerPort.
type Broker struct {
	cfg    Config
	logger zerolog.Logger
	rng    *rand.Rand

	mu        sync.Mutex
	orders    map[string]*order
	positions map[string]*position
	counter   int
	closed    bool
}

var _ broker.Port = (*Broker)(nil)

// New builds a paper broker with the given simulation knobs.
func New(cfg Config, logger zerolog.Logger) *Broker {
	if cfg.FillDelay <= 0 {
		cfg.FillDelay = 500 * time.Millisecond
	}
	if cfg.FillProbability <= 0 {
		cfg.FillProbability = 0.95
	}
	return &Broker{
		cfg:       cfg,
		logger:    logger,
		rng:       rand.New(rand.NewSource(1)),
		orders:    make(map[string]*order),
		positions: make(map[string]*position),
	}
}

// Close stops scheduled fills; pending orders remain in whatever state they
// were in at the time of the call.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, o := range b.orders {
		if o.timer != nil {
			o.timer.Stop()
		}
	}
}

func (b *Broker) nextOrderID() string {
	b.counter++
	return fmt.Sprintf("MOCK%06d", 1000+b.counter)
}

// Place records the order OPEN and schedules an asynchronous auto-fill
// after the configured delay.
func (b *Broker) Place(ctx context.Context, params broker.PlaceParams) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextOrderID()
	o := &order{
		brokerOrderID: id,
		symbol:        params.Symbol,
		exchange:      params.Exchange,
		side:          params.Side,
		quantity:      params.Quantity,
		orderType:     params.OrderType,
		product:       params.Product,
		price:         params.Price,
		triggerPrice:  params.TriggerPrice,
		status:        "OPEN",
	}
	b.orders[id] = o
	o.timer = time.AfterFunc(b.cfg.FillDelay, func() { b.autoFill(id) })

	b.logger.Info().
		Str("broker_order_id", id).
		Str("symbol", params.Symbol).
		Str("side", string(params.Side)).
		Int64("quantity", params.Quantity).
		Msg("paper broker: order placed")

	return id, nil
}

func (b *Broker) autoFill(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	o, ok := b.orders[id]
	if !ok || o.status != "OPEN" {
		return
	}

	if b.rng.Float64() > b.cfg.FillProbability {
		msg := "simulated rejection"
		o.status = "REJECTED"
		o.statusMessage = &msg
		b.logger.Info().Str("broker_order_id", id).Msg("paper broker: order rejected (simulated)")
		return
	}

	fillPrice := b.calculateFillPrice(o)
	charges := b.calculateCharges(o.side, o.quantity, fillPrice, o.product)

	o.status = "COMPLETE"
	o.filledQuantity = o.quantity
	o.averagePrice = &fillPrice
	o.charges = &charges
	tradeID := fmt.Sprintf("%s-T1", id)
	o.brokerTradeID = &tradeID

	b.logger.Info().
		Str("broker_order_id", id).
		Int64("quantity", o.quantity).
		Str("fill_price", fillPrice.String()).
		Msg("paper broker: order filled")

	b.updatePosition(o)
}

// calculateFillPrice ports _calculate_fill_price: market orders fill at the
// trigger price (or the fallback estimate) with small symmetric slippage;
// limit/SL orders fill at the limit price with a one-sided improvement.
func (b *Broker) calculateFillPrice(o *order) money.Money {
	var base money.Money
	if o.orderType == oms.Market {
		if o.triggerPrice != nil {
			base = *o.triggerPrice
		} else {
			base = defaultMarketPrice
		}
		if b.cfg.SimulateSlippage {
			slippage := b.rng.Float64()*0.002 - 0.001 // uniform(-0.001, 0.001)
			base = base.MulFloat(1 + slippage)
		}
		return base.RoundBank()
	}

	base = *o.price
	if b.cfg.SimulateSlippage {
		if o.side == oms.Buy {
			base = base.MulFloat(0.999 + b.rng.Float64()*0.001) // uniform(0.999, 1.0)
		} else {
			base = base.MulFloat(1.0 + b.rng.Float64()*0.001) // uniform(1.0, 1.001)
		}
	}
	return base.RoundBank()
}

// calculateCharges ports _calculate_transaction_costs, the Zerodha-realistic
// breakdown: brokerage, STT, exchange transaction charge, GST, stamp duty,
// SEBI charges.
func (b *Broker) calculateCharges(side oms.OrderSide, qty int64, price money.Money, product oms.Product) oms.Charges {
	gross := price.MulInt(qty)

	var brokerage money.Money
	if product == oms.MIS {
		pct := gross.MulFloat(0.0003)
		ceiling := money.FromInt(20)
		if pct.LessThan(ceiling) {
			brokerage = pct
		} else {
			brokerage = ceiling
		}
	} else {
		brokerage = money.Zero
	}

	var stt money.Money
	if side == oms.Sell {
		if product == oms.MIS {
			stt = gross.MulFloat(0.00025)
		} else {
			stt = gross.MulFloat(0.001)
		}
	} else {
		stt = money.Zero
	}

	exchangeTxnCharge := gross.MulFloat(0.0000325)
	gst := brokerage.Add(exchangeTxnCharge).MulFloat(0.18)

	var stampDuty money.Money
	if side == oms.Buy {
		stampDuty = gross.MulFloat(0.00003)
	} else {
		stampDuty = money.Zero
	}

	sebi := gross.DivInt(10000000).MulFloat(10)

	return oms.Charges{
		Brokerage:         brokerage.RoundBank(),
		STT:               stt.RoundBank(),
		ExchangeTxnCharge: exchangeTxnCharge.RoundBank(),
		GST:               gst.RoundBank(),
		StampDuty:         stampDuty.RoundBank(),
		SEBICharges:       sebi.RoundBank(),
	}
}

// updatePosition ports _update_position's cost-weighted average tracking
// for the broker's own internal book (used only to answer ListPositions).
func (b *Broker) updatePosition(o *order) {
	pos, ok := b.positions[o.symbol]
	if !ok {
		pos = &position{}
		b.positions[o.symbol] = pos
	}

	if o.side == oms.Buy {
		newQty := pos.quantity + o.quantity
		if pos.quantity >= 0 {
			totalCost := pos.averagePrice.MulInt(pos.quantity).Add(o.averagePrice.MulInt(o.quantity))
			if newQty > 0 {
				pos.averagePrice = totalCost.DivInt(newQty)
			}
		}
		pos.quantity = newQty
	} else {
		newQty := pos.quantity - o.quantity
		if pos.quantity <= 0 {
			totalCost := pos.averagePrice.MulInt(-pos.quantity).Add(o.averagePrice.MulInt(o.quantity))
			absNew := newQty
			if absNew < 0 {
				absNew = -absNew
			}
			if absNew != 0 {
				pos.averagePrice = totalCost.DivInt(absNew)
			}
		}
		pos.quantity = newQty
	}
}

// Cancel stops the scheduled fill and marks the order cancelled.
func (b *Broker) Cancel(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("paper broker: order %s not found", brokerOrderID)
	}
	if o.status != "OPEN" {
		return fmt.Errorf("paper broker: order %s cannot be cancelled (status: %s)", brokerOrderID, o.status)
	}
	if o.timer != nil {
		o.timer.Stop()
	}
	o.status = "CANCELLED"
	return nil
}

// Modify updates quantity/price/trigger price on a still-open order.
func (b *Broker) Modify(ctx context.Context, brokerOrderID string, patch broker.ModifyParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("paper broker: order %s not found", brokerOrderID)
	}
	if o.status != "OPEN" {
		return fmt.Errorf("paper broker: order %s cannot be modified (status: %s)", brokerOrderID, o.status)
	}
	if patch.Quantity != nil {
		o.quantity = *patch.Quantity
	}
	if patch.Price != nil {
		o.price = patch.Price
	}
	if patch.TriggerPrice != nil {
		o.triggerPrice = patch.TriggerPrice
	}
	return nil
}

// ListOrders returns every order's current broker-native view.
func (b *Broker) ListOrders(ctx context.Context) ([]broker.OrderView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	views := make([]broker.OrderView, 0, len(b.orders))
	for _, o := range b.orders {
		views = append(views, broker.OrderView{
			BrokerOrderID:  o.brokerOrderID,
			Status:         o.status,
			FilledQuantity: o.filledQuantity,
			AveragePrice:   o.averagePrice,
			StatusMessage:  o.statusMessage,
			Charges:        o.charges,
			BrokerTradeID:  o.brokerTradeID,
			Quantity:       o.quantity,
			Price:          o.price,
			TriggerPrice:   o.triggerPrice,
		})
	}
	return views, nil
}

// ListPositions returns the broker's own open-position book, filtering out
// flat symbols exactly as the original's `positions()` does.
func (b *Broker) ListPositions(ctx context.Context) (map[string]broker.PositionView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]broker.PositionView)
	for symbol, pos := range b.positions {
		if pos.quantity == 0 {
			continue
		}
		out[symbol] = broker.PositionView{Quantity: pos.quantity, AveragePrice: pos.averagePrice}
	}
	return out, nil
}
