package position

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
	"github.com/mittubose/coolAlgobot-sub001/internal/store/memstore"
)

func newTestManager() (*Manager, *memstore.Store) {
	st := memstore.New()
	return New(st, zerolog.Nop()), st
}

func buyOrder(symbol string, qty int64) *oms.Order {
	return &oms.Order{
		ID:       1,
		Symbol:   symbol,
		Exchange: "NSE",
		Side:     oms.Buy,
		Quantity: qty,
		Product:  oms.MIS,
	}
}

func sellOrder(symbol string, qty int64) *oms.Order {
	o := buyOrder(symbol, qty)
	o.Side = oms.Sell
	return o
}

func TestApplyFillOpensLongPosition(t *testing.T) {
	mgr, st := newTestManager()
	ctx := context.Background()

	order := buyOrder("INFY", 10)
	if err := mgr.ApplyFill(ctx, order, 10, money.FromInt(1500)); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	pos, err := st.GetPosition(ctx, "INFY", "NSE", 0)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos == nil {
		t.Fatal("expected position to be created")
	}
	if pos.Quantity != 10 {
		t.Errorf("quantity = %d, want 10", pos.Quantity)
	}
	if !pos.AveragePrice.Equal(money.FromInt(1500)) {
		t.Errorf("average price = %s, want 1500", pos.AveragePrice.String())
	}
	if !pos.IsLong() {
		t.Error("expected position to be long")
	}
}

func TestApplyFillAveragesUpOnAdd(t *testing.T) {
	mgr, st := newTestManager()
	ctx := context.Background()

	order := buyOrder("INFY", 10)
	if err := mgr.ApplyFill(ctx, order, 10, money.FromInt(1500)); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	order2 := buyOrder("INFY", 10)
	order2.ID = 2
	if err := mgr.ApplyFill(ctx, order2, 10, money.FromInt(1600)); err != nil {
		t.Fatalf("second fill: %v", err)
	}

	pos, _ := st.GetPosition(ctx, "INFY", "NSE", 0)
	if pos.Quantity != 20 {
		t.Errorf("quantity = %d, want 20", pos.Quantity)
	}
	want := money.FromInt(1550)
	if !pos.AveragePrice.Equal(want) {
		t.Errorf("average price = %s, want %s", pos.AveragePrice.String(), want.String())
	}
}

func TestApplyFillClosesLongWithRealizedPnL(t *testing.T) {
	mgr, st := newTestManager()
	ctx := context.Background()

	buy := buyOrder("INFY", 10)
	if err := mgr.ApplyFill(ctx, buy, 10, money.FromInt(1500)); err != nil {
		t.Fatalf("buy fill: %v", err)
	}

	sell := sellOrder("INFY", 10)
	sell.ID = 2
	if err := mgr.ApplyFill(ctx, sell, 10, money.MustFromString("1514.50")); err != nil {
		t.Fatalf("sell fill: %v", err)
	}

	pos, err := st.GetPosition(ctx, "INFY", "NSE", 0)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != nil {
		t.Fatalf("expected position fully closed, got %+v", pos)
	}

	// (1514.50 - 1500.00) * 10 = 145.00
	realized, err := st.TodayRealizedPnL(ctx)
	if err != nil {
		t.Fatalf("TodayRealizedPnL: %v", err)
	}
	if !realized.Equal(money.MustFromString("145.00")) {
		t.Errorf("realized PnL = %s, want 145.00", realized.String())
	}
}

func TestApplyFillPartialCloseReducesQuantity(t *testing.T) {
	mgr, st := newTestManager()
	ctx := context.Background()

	buy := buyOrder("INFY", 10)
	if err := mgr.ApplyFill(ctx, buy, 10, money.FromInt(1500)); err != nil {
		t.Fatalf("buy fill: %v", err)
	}

	sell := sellOrder("INFY", 4)
	sell.ID = 2
	if err := mgr.ApplyFill(ctx, sell, 4, money.FromInt(1600)); err != nil {
		t.Fatalf("sell fill: %v", err)
	}

	pos, err := st.GetPosition(ctx, "INFY", "NSE", 0)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos == nil {
		t.Fatal("expected position to remain open")
	}
	if pos.Quantity != 6 {
		t.Errorf("quantity = %d, want 6", pos.Quantity)
	}
	wantRealized := money.FromInt(400) // (1600-1500)*4
	if !pos.RealizedPnL.Equal(wantRealized) {
		t.Errorf("realized pnl = %s, want %s", pos.RealizedPnL.String(), wantRealized.String())
	}
	if !pos.AveragePrice.Equal(money.FromInt(1500)) {
		t.Errorf("average price should be unchanged by a reduce: got %s", pos.AveragePrice.String())
	}
}

func TestApplyFillOvershootClosesAndReverses(t *testing.T) {
	mgr, st := newTestManager()
	ctx := context.Background()

	buy := buyOrder("INFY", 10)
	if err := mgr.ApplyFill(ctx, buy, 10, money.FromInt(1500)); err != nil {
		t.Fatalf("buy fill: %v", err)
	}

	sell := sellOrder("INFY", 15)
	sell.ID = 2
	if err := mgr.ApplyFill(ctx, sell, 15, money.FromInt(1600)); err != nil {
		t.Fatalf("sell fill: %v", err)
	}

	pos, err := st.GetPosition(ctx, "INFY", "NSE", 0)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos == nil {
		t.Fatal("expected a new short position after overshoot")
	}
	if pos.Quantity != -5 {
		t.Errorf("quantity = %d, want -5", pos.Quantity)
	}
	if !pos.IsShort() {
		t.Error("expected reversed position to be short")
	}
}

func TestMarkUpdatesUnrealizedPnLAndExtremes(t *testing.T) {
	mgr, st := newTestManager()
	ctx := context.Background()

	buy := buyOrder("INFY", 10)
	if err := mgr.ApplyFill(ctx, buy, 10, money.FromInt(1500)); err != nil {
		t.Fatalf("buy fill: %v", err)
	}

	if err := mgr.Mark(ctx, "INFY", "NSE", 0, money.FromInt(1550)); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	pos, _ := st.GetPosition(ctx, "INFY", "NSE", 0)
	wantUnrealized := money.FromInt(500)
	if !pos.UnrealizedPnL.Equal(wantUnrealized) {
		t.Errorf("unrealized pnl = %s, want %s", pos.UnrealizedPnL.String(), wantUnrealized.String())
	}
	if pos.HighestPrice == nil || !pos.HighestPrice.Equal(money.FromInt(1550)) {
		t.Errorf("highest price not updated: %+v", pos.HighestPrice)
	}
}

func TestForceQuantityOverwritesPosition(t *testing.T) {
	mgr, st := newTestManager()
	ctx := context.Background()

	buy := buyOrder("INFY", 10)
	if err := mgr.ApplyFill(ctx, buy, 10, money.FromInt(1500)); err != nil {
		t.Fatalf("buy fill: %v", err)
	}

	if err := mgr.ForceQuantity(ctx, "INFY", "NSE", 0, 7, "reconciliation"); err != nil {
		t.Fatalf("ForceQuantity: %v", err)
	}

	pos, _ := st.GetPosition(ctx, "INFY", "NSE", 0)
	if pos.Quantity != 7 {
		t.Errorf("quantity = %d, want 7", pos.Quantity)
	}
}

func TestForceCloseClosesPositionWithoutExitOrder(t *testing.T) {
	mgr, st := newTestManager()
	ctx := context.Background()

	buy := buyOrder("INFY", 10)
	if err := mgr.ApplyFill(ctx, buy, 10, money.FromInt(1500)); err != nil {
		t.Fatalf("buy fill: %v", err)
	}

	if err := mgr.ForceClose(ctx, "INFY", "NSE", 0, "phantom position"); err != nil {
		t.Fatalf("ForceClose: %v", err)
	}

	pos, err := st.GetPosition(ctx, "INFY", "NSE", 0)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos != nil {
		t.Fatalf("expected position closed, got %+v", pos)
	}
}
