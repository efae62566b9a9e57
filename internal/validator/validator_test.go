package validator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/config"
	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
	"github.com/mittubose/coolAlgobot-sub001/internal/store/memstore"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxRiskPerTrade:         0.02,
		MaxDailyLoss:            0.06,
		MaxDrawdown:             0.15,
		MaxPositions:            5,
		MinRiskReward:           2.0,
		MaxPositionSize:         1000,
		MaxQuantityPerOrder:     10000,
		MaxPriceDeviationPct:    0.10,
		MaxOrderToPositionRatio: 3,
		MISLeverage:             5,
		MaxPositionLossPct:      0.05,
	}
}

func newTestValidator() *Validator {
	st := memstore.New()
	balance := money.MustFromString("100000.00")
	return New(st, testRiskConfig(), balance, zerolog.Nop())
}

func baseRequest() oms.OrderRequest {
	price := money.MustFromString("1500.00")
	stopLoss := money.MustFromString("1485.00")   // 15 risk/share
	takeProfit := money.MustFromString("1530.00") // 30 reward/share -> 2:1
	return oms.OrderRequest{
		Symbol:     "INFY",
		Exchange:   "NSE",
		Side:       oms.Buy,
		Quantity:   10,
		OrderType:  oms.Limit,
		Product:    oms.MIS,
		Validity:   oms.Day,
		Price:      &price,
		StopLoss:   &stopLoss,
		TakeProfit: &takeProfit,
	}
}

func TestValidateOrderPassesWithValidRequest(t *testing.T) {
	v := newTestValidator()
	result, err := v.ValidateOrder(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("ValidateOrder: %v", err)
	}
	if !result.IsValid {
		t.Fatalf("expected valid, got failed check %q: %s", result.FailedCheck, result.Reason)
	}
}

func TestValidateOrderRejectsMissingStopLoss(t *testing.T) {
	v := newTestValidator()
	req := baseRequest()
	req.StopLoss = nil

	result, err := v.ValidateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("ValidateOrder: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected rejection for missing stop-loss")
	}
	if result.FailedCheck != "stop_loss_required" {
		t.Errorf("failed check = %q, want stop_loss_required", result.FailedCheck)
	}
}

func TestValidateOrderRejectsExcessiveRiskPerTrade(t *testing.T) {
	v := newTestValidator()
	req := baseRequest()
	// Risk of 300/share * 10 qty = 3000, over the 2000 limit (2% of 100000 balance).
	stopLoss := money.MustFromString("1200.00")
	req.StopLoss = &stopLoss

	result, err := v.ValidateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("ValidateOrder: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected rejection for excessive risk per trade")
	}
	if result.FailedCheck != "risk_per_trade" {
		t.Errorf("failed check = %q, want risk_per_trade", result.FailedCheck)
	}
}

func TestValidateOrderRejectsInsufficientBalance(t *testing.T) {
	st := memstore.New()
	balance := money.MustFromString("1000.00")
	v := New(st, testRiskConfig(), balance, zerolog.Nop())

	result, err := v.ValidateOrder(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("ValidateOrder: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected rejection for insufficient balance")
	}
	if result.FailedCheck != "balance_check" {
		t.Errorf("failed check = %q, want balance_check", result.FailedCheck)
	}
}

func TestValidateOrderRejectsMarketOrderBalanceCheck(t *testing.T) {
	v := newTestValidator()
	req := baseRequest()
	req.OrderType = oms.Market
	req.Price = nil

	result, err := v.ValidateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("ValidateOrder: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected rejection: market orders carry no price to validate balance against")
	}
	if result.FailedCheck != "balance_check" {
		t.Errorf("failed check = %q, want balance_check", result.FailedCheck)
	}
}

func TestValidateOrderRejectsBadRiskRewardRatio(t *testing.T) {
	v := newTestValidator()
	req := baseRequest()
	takeProfit := money.MustFromString("1505.00") // only 5 reward/share vs 15 risk
	req.TakeProfit = &takeProfit

	result, err := v.ValidateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("ValidateOrder: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected rejection for poor risk-reward ratio")
	}
	if result.FailedCheck != "risk_reward_ratio" {
		t.Errorf("failed check = %q, want risk_reward_ratio", result.FailedCheck)
	}
}

func TestValidateOrderRejectsWhenKillSwitchActive(t *testing.T) {
	st := memstore.New()
	balance := money.MustFromString("100000.00")
	v := New(st, testRiskConfig(), balance, zerolog.Nop())

	if err := st.TriggerKillSwitch(context.Background(), "test", "unit_test"); err != nil {
		t.Fatalf("TriggerKillSwitch: %v", err)
	}

	result, err := v.ValidateOrder(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("ValidateOrder: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected rejection while kill switch active")
	}
	if result.FailedCheck != "circuit_breaker" {
		t.Errorf("failed check = %q, want circuit_breaker", result.FailedCheck)
	}
}

func TestValidateOrderRejectsQuantityBelowOne(t *testing.T) {
	v := newTestValidator()
	req := baseRequest()
	req.Quantity = 0

	result, err := v.ValidateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("ValidateOrder: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected rejection for zero quantity")
	}
	if result.FailedCheck != "quantity_limits" {
		t.Errorf("failed check = %q, want quantity_limits", result.FailedCheck)
	}
}
