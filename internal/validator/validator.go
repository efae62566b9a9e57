// Package validator implements the PreTradeValidator (SPEC_FULL §4.5): ten
// ordered, short-circuiting risk checks run against every OrderRequest
// before it reaches the broker. The check order and thresholds are ported
// from original_source/backend/oms/pre_trade_validator.py.
package validator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/config"
	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
	"github.com/mittubose/coolAlgobot-sub001/internal/store"
)

// Validator runs the ten pre-trade checks against a Store snapshot.
type Validator struct {
	st     store.Store
	cfg    config.RiskConfig
	logger zerolog.Logger

	// accountBalance changes only through UpdateAccountBalance; it is read
	// under no lock since every Place call runs serially per caller and
	// tolerates a momentarily stale balance the way the teacher's risk
	// manager does.
	accountBalance money.Money
}

// New builds a Validator with the starting account balance.
func New(st store.Store, cfg config.RiskConfig, accountBalance money.Money, logger zerolog.Logger) *Validator {
	v := &Validator{st: st, cfg: cfg, logger: logger, accountBalance: accountBalance}
	logger.Info().
		Str("balance", accountBalance.String()).
		Float64("max_risk_per_trade", cfg.MaxRiskPerTrade).
		Float64("max_daily_loss", cfg.MaxDailyLoss).
		Int("max_positions", cfg.MaxPositions).
		Msg("pre-trade validator initialized")
	return v
}

// UpdateAccountBalance replaces the balance subsequent checks run against.
// Nothing in this repository calls it; fills do not change the balance.
func (v *Validator) UpdateAccountBalance(balance money.Money) {
	v.accountBalance = balance
}

// AccountBalance returns the balance the validator is currently using.
func (v *Validator) AccountBalance() money.Money { return v.accountBalance }

type check func(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error)

// ValidateOrder runs every check in order, returning on the first failure.
func (v *Validator) ValidateOrder(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	v.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Int64("quantity", req.Quantity).
		Str("order_type", string(req.OrderType)).
		Msg("validating order")

	checks := []check{
		v.checkBalance,
		v.checkPositionLimit,
		v.checkRiskPerTrade,
		v.checkDailyLossLimit,
		v.checkStopLossRequired,
		v.checkRiskRewardRatio,
		v.checkPriceSanity,
		v.checkQuantityLimits,
		v.checkOrderToPositionRatio,
		v.checkKillSwitch,
	}

	for _, c := range checks {
		result, err := c(ctx, req)
		if err != nil {
			return oms.ValidationResult{}, err
		}
		if !result.IsValid {
			v.logger.Warn().
				Str("symbol", req.Symbol).
				Str("failed_check", result.FailedCheck).
				Str("reason", result.Reason).
				Msg("order validation failed")
			return result, nil
		}
	}

	v.logger.Info().Str("symbol", req.Symbol).Msg("order validation passed")
	return oms.ValidationResult{IsValid: true}, nil
}

func pass() oms.ValidationResult { return oms.ValidationResult{IsValid: true} }

func fail(check, reason string) oms.ValidationResult {
	return oms.ValidationResult{IsValid: false, FailedCheck: check, Reason: reason}
}

// checkBalance is CHECK 1: required margin must not exceed account balance.
// Market orders carry no price so this check fails them outright, matching
// the original's "estimate using LTP" TODO being left unimplemented.
func (v *Validator) checkBalance(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	if req.Price == nil {
		return fail("balance_check", "cannot validate balance for market orders without a price"), nil
	}

	required := req.Price.MulInt(req.Quantity)
	if req.Product == oms.MIS {
		required = required.DivInt(mustPositive(v.cfg.MISLeverage))
	}

	if v.accountBalance.LessThan(required) {
		return fail("balance_check", fmt.Sprintf(
			"insufficient balance: required %s, available %s",
			required.RoundBank(), v.accountBalance.RoundBank(),
		)), nil
	}
	return pass(), nil
}

func mustPositive(n int64) int64 {
	if n <= 0 {
		return 1
	}
	return n
}

// checkPositionLimit is CHECK 2: at most MaxPositions concurrently open
// positions, unless this order adds to an already-open one.
func (v *Validator) checkPositionLimit(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	count, err := v.st.OpenPositionCount(ctx)
	if err != nil {
		return oms.ValidationResult{}, &oms.StoreError{Op: "OpenPositionCount", Cause: err}
	}

	existing, err := v.st.GetPosition(ctx, req.Symbol, req.Exchange, req.StrategyID)
	if err != nil {
		return oms.ValidationResult{}, &oms.StoreError{Op: "GetPosition", Cause: err}
	}

	if existing == nil && count >= v.cfg.MaxPositions {
		return fail("position_limit", fmt.Sprintf(
			"position limit reached: %d/%d open positions", count, v.cfg.MaxPositions,
		)), nil
	}
	return pass(), nil
}

// checkRiskPerTrade is CHECK 3: (entry - stop_loss) * qty must not exceed
// MaxRiskPerTrade of account balance.
func (v *Validator) checkRiskPerTrade(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	if req.StopLoss == nil || req.Price == nil {
		return pass(), nil
	}

	riskPerShare := req.Price.Sub(*req.StopLoss).Abs()
	totalRisk := riskPerShare.MulInt(req.Quantity)
	maxRisk := v.accountBalance.MulFloat(v.cfg.MaxRiskPerTrade)

	if totalRisk.GreaterThan(maxRisk) {
		return fail("risk_per_trade", fmt.Sprintf(
			"risk per trade exceeds limit: %s > %s (%.1f%% of balance)",
			totalRisk.RoundBank(), maxRisk.RoundBank(), v.cfg.MaxRiskPerTrade*100,
		)), nil
	}
	return pass(), nil
}

// checkDailyLossLimit is CHECK 4: today's realized PnL must not already be
// below -MaxDailyLoss of balance.
func (v *Validator) checkDailyLossLimit(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	todayPnL, err := v.st.TodayRealizedPnL(ctx)
	if err != nil {
		return oms.ValidationResult{}, &oms.StoreError{Op: "TodayRealizedPnL", Cause: err}
	}

	maxDailyLoss := v.accountBalance.MulFloat(v.cfg.MaxDailyLoss)
	if todayPnL.LessThan(maxDailyLoss.Neg()) {
		return fail("daily_loss_limit", fmt.Sprintf(
			"daily loss limit exceeded: %s > %s (%.1f%% of balance)",
			todayPnL.Abs().RoundBank(), maxDailyLoss.RoundBank(), v.cfg.MaxDailyLoss*100,
		)), nil
	}
	return pass(), nil
}

// checkStopLossRequired is CHECK 5: every order must carry a stop-loss on
// the correct side of the entry price.
func (v *Validator) checkStopLossRequired(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	if req.StopLoss == nil {
		return fail("stop_loss_required", "Stop-loss is required"), nil
	}

	if req.Price == nil {
		return pass(), nil
	}

	if req.Side == oms.Buy {
		if req.StopLoss.GreaterThanOrEqual(*req.Price) {
			return fail("stop_loss_required", fmt.Sprintf(
				"invalid stop-loss: buy order stop-loss (%s) must be < entry (%s)",
				req.StopLoss, req.Price,
			)), nil
		}
	} else {
		if req.StopLoss.LessThanOrEqual(*req.Price) {
			return fail("stop_loss_required", fmt.Sprintf(
				"invalid stop-loss: sell order stop-loss (%s) must be > entry (%s)",
				req.StopLoss, req.Price,
			)), nil
		}
	}
	return pass(), nil
}

// checkRiskRewardRatio is CHECK 6: reward/risk must be at least
// MinRiskReward.
func (v *Validator) checkRiskRewardRatio(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	if req.StopLoss == nil || req.TakeProfit == nil || req.Price == nil {
		return pass(), nil
	}

	risk := req.Price.Sub(*req.StopLoss).Abs()
	reward := req.TakeProfit.Sub(*req.Price).Abs()

	if risk.IsZero() {
		return fail("risk_reward_ratio", "risk cannot be zero (stop-loss equals entry price)"), nil
	}

	ratio := reward.Div(risk)
	minRR := money.MustFromString(fmt.Sprintf("%v", v.cfg.MinRiskReward))

	if ratio.LessThan(minRR) {
		return fail("risk_reward_ratio", fmt.Sprintf(
			"risk-reward ratio too low: %s:1 < %.0f:1 required", ratio.Round4(), v.cfg.MinRiskReward,
		)), nil
	}
	return pass(), nil
}

// checkPriceSanity is CHECK 7: price within MaxPriceDeviationPct of LTP.
// No market-data feed is wired into this core so, matching the original's
// own "skip if LTP not available" fallback, this check always passes.
func (v *Validator) checkPriceSanity(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	return pass(), nil
}

// checkQuantityLimits is CHECK 8: 1 <= quantity <= MaxQuantityPerOrder.
func (v *Validator) checkQuantityLimits(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	if req.Quantity < 1 {
		return fail("quantity_limits", fmt.Sprintf("quantity must be >= 1 (got %d)", req.Quantity)), nil
	}
	if req.Quantity > v.cfg.MaxQuantityPerOrder {
		return fail("quantity_limits", fmt.Sprintf(
			"quantity exceeds maximum: %d > %d allowed", req.Quantity, v.cfg.MaxQuantityPerOrder,
		)), nil
	}
	return pass(), nil
}

// checkOrderToPositionRatio is CHECK 9: active orders must not outnumber
// MaxOrderToPositionRatio * open positions (or MaxOrderToPositionRatio
// outright when no positions are open).
func (v *Validator) checkOrderToPositionRatio(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	active, err := v.st.ActiveOrders(ctx)
	if err != nil {
		return oms.ValidationResult{}, &oms.StoreError{Op: "ActiveOrders", Cause: err}
	}
	positionCount, err := v.st.OpenPositionCount(ctx)
	if err != nil {
		return oms.ValidationResult{}, &oms.StoreError{Op: "OpenPositionCount", Cause: err}
	}

	maxAllowed := v.cfg.MaxOrderToPositionRatio
	if positionCount > 0 {
		maxAllowed = positionCount * v.cfg.MaxOrderToPositionRatio
	}

	if len(active) >= maxAllowed {
		return fail("order_to_position_ratio", fmt.Sprintf(
			"too many pending orders: %d orders for %d positions (max %d:1 ratio)",
			len(active), positionCount, v.cfg.MaxOrderToPositionRatio,
		)), nil
	}
	return pass(), nil
}

// checkKillSwitch is CHECK 10: reject all orders while the kill switch is
// active.
func (v *Validator) checkKillSwitch(ctx context.Context, req oms.OrderRequest) (oms.ValidationResult, error) {
	active, err := v.st.IsKillSwitchActive(ctx)
	if err != nil {
		return oms.ValidationResult{}, &oms.StoreError{Op: "IsKillSwitchActive", Cause: err}
	}
	if active {
		return fail("circuit_breaker", "trading is blocked: kill switch is active, manual intervention required"), nil
	}
	return pass(), nil
}
