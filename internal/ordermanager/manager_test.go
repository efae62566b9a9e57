package ordermanager

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/broker"
	"github.com/mittubose/coolAlgobot-sub001/internal/circuitbreaker"
	"github.com/mittubose/coolAlgobot-sub001/internal/config"
	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
	"github.com/mittubose/coolAlgobot-sub001/internal/position"
	"github.com/mittubose/coolAlgobot-sub001/internal/store/memstore"
)

// fakeBroker is a deterministic broker.Port double: every placed order
// immediately fills in full at the order's own price, with no transport
// failures, so tests can drive the poller synchronously.
type fakeBroker struct {
	mu      sync.Mutex
	nextID  int
	orders  map[string]broker.OrderView
	placeFn func(params broker.PlaceParams) (string, error)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{orders: make(map[string]broker.OrderView)}
}

func (b *fakeBroker) Place(ctx context.Context, params broker.PlaceParams) (string, error) {
	if b.placeFn != nil {
		return b.placeFn(params)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := "BRK" + itoa(b.nextID)
	b.orders[id] = broker.OrderView{
		BrokerOrderID:  id,
		Status:         "COMPLETE",
		FilledQuantity: params.Quantity,
		AveragePrice:   params.Price,
	}
	return id, nil
}

func (b *fakeBroker) Cancel(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.orders[brokerOrderID]
	v.Status = "CANCELLED"
	b.orders[brokerOrderID] = v
	return nil
}

func (b *fakeBroker) Modify(ctx context.Context, brokerOrderID string, patch broker.ModifyParams) error {
	return nil
}

func (b *fakeBroker) ListOrders(ctx context.Context) ([]broker.OrderView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	views := make([]broker.OrderView, 0, len(b.orders))
	for _, v := range b.orders {
		views = append(views, v)
	}
	return views, nil
}

func (b *fakeBroker) ListPositions(ctx context.Context) (map[string]broker.PositionView, error) {
	return map[string]broker.PositionView{}, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

var _ broker.Port = (*fakeBroker)(nil)

func testOrderManagerConfig() config.OrderManagerConfig {
	return config.OrderManagerConfig{}
}

func newTestManager(t *testing.T, br broker.Port) (*Manager, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	pos := position.New(st, zerolog.Nop())
	cb := circuitbreaker.NewManager(zerolog.Nop())
	mgr := New(st, br, pos, nil, nil, nil, cb, testOrderManagerConfig(), zerolog.Nop())
	return mgr, st
}

func sampleRequest() oms.OrderRequest {
	price := money.MustFromString("1500.00")
	stopLoss := money.MustFromString("1485.00")
	return oms.OrderRequest{
		Symbol:    "INFY",
		Exchange:  "NSE",
		Side:      oms.Buy,
		Quantity:  10,
		OrderType: oms.Limit,
		Product:   oms.MIS,
		Validity:  oms.Day,
		Price:     &price,
		StopLoss:  &stopLoss,
	}
}

func TestPlaceSubmitsOrderToBroker(t *testing.T) {
	br := newFakeBroker()
	mgr, st := newTestManager(t, br)
	ctx := context.Background()

	result, err := mgr.Place(ctx, sampleRequest())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}
	if result.Status != oms.StatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED", result.Status)
	}
	if result.BrokerOrderID == nil || *result.BrokerOrderID == "" {
		t.Error("expected a broker order id")
	}

	order, err := st.GetOrder(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Status != oms.StatusSubmitted {
		t.Errorf("stored status = %s, want SUBMITTED", order.Status)
	}
}

func TestPollOnceAppliesFillAndCreatesPosition(t *testing.T) {
	br := newFakeBroker()
	mgr, st := newTestManager(t, br)
	ctx := context.Background()

	result, err := mgr.Place(ctx, sampleRequest())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	mgr.pollOnce(ctx)

	order, err := st.GetOrder(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Status != oms.StatusFilled {
		t.Fatalf("status = %s, want FILLED", order.Status)
	}

	pos, err := st.GetPosition(ctx, "INFY", "NSE", 0)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos == nil {
		t.Fatal("expected a position to be opened from the fill")
	}
	if pos.Quantity != 10 {
		t.Errorf("quantity = %d, want 10", pos.Quantity)
	}

	trades, err := st.TradesForOrder(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("TradesForOrder: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected exactly one synthesized trade, got %d", len(trades))
	}
}

// TestRoundTripBuyThenSellRealizesProfit drives a full BUY-then-SELL cycle
// through the poller and checks the closed position's realized PnL, the
// end-to-end happy path scenario.
func TestRoundTripBuyThenSellRealizesProfit(t *testing.T) {
	br := newFakeBroker()
	mgr, st := newTestManager(t, br)
	ctx := context.Background()

	buyReq := sampleRequest()
	buyResult, err := mgr.Place(ctx, buyReq)
	if err != nil {
		t.Fatalf("buy Place: %v", err)
	}
	mgr.pollOnce(ctx)
	if _, err := st.GetOrder(ctx, buyResult.OrderID); err != nil {
		t.Fatalf("GetOrder after buy: %v", err)
	}

	sellPrice := money.MustFromString("1514.50")
	sellReq := buyReq
	sellReq.Side = oms.Sell
	sellReq.Price = &sellPrice
	sellReq.StopLoss = nil

	sellResult, err := mgr.Place(ctx, sellReq)
	if err != nil {
		t.Fatalf("sell Place: %v", err)
	}
	mgr.pollOnce(ctx)

	sellOrder, err := st.GetOrder(ctx, sellResult.OrderID)
	if err != nil {
		t.Fatalf("GetOrder after sell: %v", err)
	}
	if sellOrder.Status != oms.StatusFilled {
		t.Fatalf("sell status = %s, want FILLED", sellOrder.Status)
	}

	pos, err := st.GetPosition(ctx, "INFY", "NSE", 0)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != nil {
		t.Fatalf("expected position fully closed, got %+v", pos)
	}

	realized, err := st.TodayRealizedPnL(ctx)
	if err != nil {
		t.Fatalf("TodayRealizedPnL: %v", err)
	}
	want := money.MustFromString("145.00") // (1514.50 - 1500.00) * 10
	if !realized.Equal(want) {
		t.Errorf("realized pnl = %s, want %s", realized.String(), want.String())
	}
}

func TestModifyPersistsBrokerAcknowledgedFields(t *testing.T) {
	br := newFakeBroker()
	mgr, st := newTestManager(t, br)
	ctx := context.Background()

	result, err := mgr.Place(ctx, sampleRequest())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	newPrice := money.MustFromString("1510.00")
	newQty := int64(15)
	if err := mgr.Modify(ctx, result.OrderID, broker.ModifyParams{Price: &newPrice, Quantity: &newQty}); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	order, err := st.GetOrder(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Price == nil || !order.Price.Equal(newPrice) {
		t.Errorf("price = %v, want %s", order.Price, newPrice.String())
	}
	if order.Quantity != newQty {
		t.Errorf("quantity = %d, want %d", order.Quantity, newQty)
	}

	mgr.activeMu.RLock()
	active, ok := mgr.active[result.OrderID]
	mgr.activeMu.RUnlock()
	if !ok {
		t.Fatal("expected order to remain in the active set")
	}
	if active.Quantity != newQty || active.Price == nil || !active.Price.Equal(newPrice) {
		t.Errorf("active order not updated in place: quantity=%d price=%v", active.Quantity, active.Price)
	}
}

func TestCancelEvictsActiveOrder(t *testing.T) {
	br := newFakeBroker()
	mgr, st := newTestManager(t, br)
	ctx := context.Background()

	result, err := mgr.Place(ctx, sampleRequest())
	if err != nil {
		t.Fatalf("Place: %v", err)
	}

	if err := mgr.Cancel(ctx, result.OrderID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	order, err := st.GetOrder(ctx, result.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Status != oms.StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", order.Status)
	}

	mgr.activeMu.RLock()
	_, stillActive := mgr.active[result.OrderID]
	mgr.activeMu.RUnlock()
	if stillActive {
		t.Error("expected cancelled order to be evicted from the active set")
	}
}

func TestReconcilePositionsLogsUnknownPosition(t *testing.T) {
	br := newFakeBroker()
	br.orders["BRK-PHANTOM"] = broker.OrderView{} // unused, just to exercise map shape

	st := memstore.New()
	pos := position.New(st, zerolog.Nop())
	cb := circuitbreaker.NewManager(zerolog.Nop())

	brokerWithPosition := &brokerPositionStub{
		fakeBroker: br,
		positions: map[string]broker.PositionView{
			"RELIANCE": {Quantity: 5, AveragePrice: money.MustFromString("2500.00")},
		},
	}
	mgr := New(st, brokerWithPosition, pos, nil, nil, nil, cb, testOrderManagerConfig(), zerolog.Nop())

	summary, err := mgr.ReconcilePositions(context.Background())
	if err != nil {
		t.Fatalf("ReconcilePositions: %v", err)
	}
	if summary.AllClear {
		t.Fatal("expected reconciliation to flag the unknown broker position")
	}
	if len(summary.UnknownPositions) != 1 {
		t.Fatalf("unknown positions = %d, want 1", len(summary.UnknownPositions))
	}
	if summary.UnknownPositions[0].IssueType != oms.UnknownPosition {
		t.Errorf("issue type = %s, want UNKNOWN_POSITION", summary.UnknownPositions[0].IssueType)
	}

	issues, err := st.UnresolvedReconciliationIssues(context.Background())
	if err != nil {
		t.Fatalf("UnresolvedReconciliationIssues: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("stored issues = %d, want 1", len(issues))
	}
}

func TestReconcilePositionsFixesQuantityMismatch(t *testing.T) {
	st := memstore.New()
	pos := position.New(st, zerolog.Nop())
	cb := circuitbreaker.NewManager(zerolog.Nop())
	ctx := context.Background()

	order := &oms.Order{ID: 1, Symbol: "TCS", Exchange: "NSE", Side: oms.Buy, Quantity: 10}
	if err := pos.ApplyFill(ctx, order, 10, money.MustFromString("3500.00")); err != nil {
		t.Fatalf("seed ApplyFill: %v", err)
	}

	br := newFakeBroker()
	brokerWithPosition := &brokerPositionStub{
		fakeBroker: br,
		positions: map[string]broker.PositionView{
			"TCS": {Quantity: 6, AveragePrice: money.MustFromString("3500.00")},
		},
	}
	mgr := New(st, brokerWithPosition, pos, nil, nil, nil, cb, testOrderManagerConfig(), zerolog.Nop())

	summary, err := mgr.ReconcilePositions(ctx)
	if err != nil {
		t.Fatalf("ReconcilePositions: %v", err)
	}
	if summary.AllClear {
		t.Fatal("expected a quantity mismatch to be flagged")
	}
	if len(summary.Mismatches) != 1 {
		t.Fatalf("mismatches = %d, want 1", len(summary.Mismatches))
	}

	fixed, err := st.GetPosition(ctx, "TCS", "NSE", 0)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if fixed == nil || fixed.Quantity != 6 {
		t.Fatalf("expected quantity force-fixed to 6, got %+v", fixed)
	}
}

// brokerPositionStub wraps fakeBroker to stub ListPositions with a fixed
// broker-side position book for reconciler tests.
type brokerPositionStub struct {
	*fakeBroker
	positions map[string]broker.PositionView
}

func (b *brokerPositionStub) ListPositions(ctx context.Context) (map[string]broker.PositionView, error) {
	return b.positions, nil
}
