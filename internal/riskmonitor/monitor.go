// Package riskmonitor implements the RealTimeRiskMonitor (SPEC_FULL §4.6):
// a ticker-driven loop that checks daily loss and drawdown against the
// account balance, checks per-position losses, and trips the kill switch
// on a critical breach. Ported from
// original_source/backend/oms/real_time_monitor.py, restructured onto the
// teacher's ticker-driven goroutine loop (internal/ordermanager/poller.go).
package riskmonitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/audit"
	"github.com/mittubose/coolAlgobot-sub001/internal/events"
	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
	"github.com/mittubose/coolAlgobot-sub001/internal/store"
)

// Config parameterizes the monitor's thresholds and loop cadence. Every
// percentage is a plain ratio (0.06 == 6%).
type Config struct {
	Interval           time.Duration
	MaxDailyLossPct    float64
	MaxDrawdownPct     float64
	MaxPositionLossPct float64
}

// Monitor is the RealTimeRiskMonitor: periodically evaluates account and
// position risk, tripping the kill switch on a critical breach and
// publishing a risk:alert event for every check result worth surfacing.
type Monitor struct {
	st     store.Store
	bus    *events.Bus
	audit  *audit.Logger
	cfg    Config
	logger zerolog.Logger

	mu             sync.Mutex
	accountBalance money.Money
	accountPeak    money.Money
	killSwitch     bool
}

// New builds a Monitor against the given starting account balance.
func New(st store.Store, bus *events.Bus, auditLogger *audit.Logger, cfg Config, accountBalance money.Money, logger zerolog.Logger) *Monitor {
	return &Monitor{
		st:             st,
		bus:            bus,
		audit:          auditLogger,
		cfg:            cfg,
		logger:         logger,
		accountBalance: accountBalance,
		accountPeak:    accountBalance,
	}
}

// Start launches the monitoring loop, first restoring kill-switch state
// from the Store in case it was left active by a previous run.
func (m *Monitor) Start(ctx context.Context) error {
	active, err := m.st.IsKillSwitchActive(ctx)
	if err != nil {
		return fmt.Errorf("riskmonitor: check kill switch on start: %w", err)
	}
	m.mu.Lock()
	m.killSwitch = active
	m.mu.Unlock()

	if active {
		m.logger.Error().Msg("riskmonitor: kill switch is active from a previous session, trading disabled")
	}

	go m.loop(ctx)
	return nil
}

func (m *Monitor) loop(ctx context.Context) {
	interval := m.cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.checkAll(ctx); err != nil {
				m.logger.Error().Err(err).Msg("riskmonitor: check failed")
			}
		case <-ctx.Done():
			m.logger.Info().Msg("riskmonitor stopped")
			return
		}
	}
}

// UpdateAccountBalance adjusts the balance the monitor evaluates against
// (e.g. after a deposit/withdrawal), raising the peak if the new balance
// is a new high.
func (m *Monitor) UpdateAccountBalance(balance money.Money) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountBalance = balance
	if balance.GreaterThan(m.accountPeak) {
		m.accountPeak = balance
	}
}

// IsKillSwitchActive reports the monitor's cached kill-switch state
// without a Store round trip.
func (m *Monitor) IsKillSwitchActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitch
}

// checkAll runs one pass of account- then position-level checks, skipping
// entirely once the kill switch is active (original_source's
// _check_all_risks short-circuits the same way).
func (m *Monitor) checkAll(ctx context.Context) error {
	if m.IsKillSwitchActive() {
		return nil
	}
	if err := m.checkAccountRisk(ctx); err != nil {
		return err
	}
	if m.IsKillSwitchActive() {
		return nil
	}
	return m.checkPositionRisk(ctx)
}

func (m *Monitor) checkAccountRisk(ctx context.Context) error {
	realizedPnL, err := m.st.TodayRealizedPnL(ctx)
	if err != nil {
		return &oms.StoreError{Op: "TodayRealizedPnL", Cause: err}
	}
	unrealizedPnL, err := m.totalUnrealizedPnL(ctx)
	if err != nil {
		return err
	}
	totalPnL := realizedPnL.Add(unrealizedPnL)

	m.mu.Lock()
	balance := m.accountBalance
	currentValue := balance.Add(totalPnL)
	if currentValue.GreaterThan(m.accountPeak) {
		m.accountPeak = currentValue
	}
	peak := m.accountPeak
	m.mu.Unlock()

	maxDailyLoss := balance.MulFloat(m.cfg.MaxDailyLossPct)
	if totalPnL.LessThan(maxDailyLoss.Neg()) {
		lossPct := totalPnL.Abs().Div(balance).Float64() * 100
		reason := fmt.Sprintf("daily loss limit exceeded: %s (%.2f%% of balance, limit %s)", totalPnL.Abs().String(), lossPct, maxDailyLoss.String())
		return m.triggerKillSwitch(ctx, reason, map[string]string{
			"realized_pnl":   realizedPnL.String(),
			"unrealized_pnl": unrealizedPnL.String(),
			"total_pnl":      totalPnL.String(),
		})
	}

	drawdown := peak.Sub(currentValue)
	maxDrawdown := peak.MulFloat(m.cfg.MaxDrawdownPct)
	if drawdown.GreaterThan(maxDrawdown) {
		reason := fmt.Sprintf("drawdown limit exceeded: %s (limit %s)", drawdown.String(), maxDrawdown.String())
		return m.triggerKillSwitch(ctx, reason, map[string]string{
			"drawdown":      drawdown.String(),
			"account_peak":  peak.String(),
			"current_value": currentValue.String(),
		})
	}

	warnThreshold := maxDailyLoss.MulFloat(0.8)
	if totalPnL.LessThan(warnThreshold.Neg()) {
		m.emitAlert(ctx, oms.RiskAlert{
			Severity: oms.SeverityWarning,
			Kind:     "daily_loss_warning",
			Message:  fmt.Sprintf("approaching daily loss limit: %s of %s", totalPnL.Abs().String(), maxDailyLoss.String()),
			Details: map[string]string{
				"total_pnl":      totalPnL.String(),
				"max_daily_loss": maxDailyLoss.String(),
			},
		})
	}

	drawdownWarnThreshold := maxDrawdown.MulFloat(0.8)
	if drawdown.GreaterThan(drawdownWarnThreshold) {
		m.emitAlert(ctx, oms.RiskAlert{
			Severity: oms.SeverityWarning,
			Kind:     "drawdown_warning",
			Message:  fmt.Sprintf("approaching drawdown limit: %s of %s", drawdown.String(), maxDrawdown.String()),
			Details: map[string]string{
				"drawdown":     drawdown.String(),
				"max_drawdown": maxDrawdown.String(),
			},
		})
	}

	return nil
}

func (m *Monitor) totalUnrealizedPnL(ctx context.Context) (money.Money, error) {
	positions, err := m.st.AllOpenPositions(ctx)
	if err != nil {
		return money.Zero, &oms.StoreError{Op: "AllOpenPositions", Cause: err}
	}
	total := money.Zero
	for _, p := range positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total, nil
}

func (m *Monitor) checkPositionRisk(ctx context.Context) error {
	positions, err := m.st.AllOpenPositions(ctx)
	if err != nil {
		return &oms.StoreError{Op: "AllOpenPositions", Cause: err}
	}

	m.mu.Lock()
	balance := m.accountBalance
	m.mu.Unlock()
	maxPositionLoss := balance.MulFloat(m.cfg.MaxPositionLossPct)

	for _, p := range positions {
		totalPnL := p.RealizedPnL.Add(p.UnrealizedPnL)
		if totalPnL.LessThan(maxPositionLoss.Neg()) {
			m.emitAlert(ctx, oms.RiskAlert{
				Severity: oms.SeverityCritical,
				Kind:     "position_loss_limit",
				Message:  fmt.Sprintf("position %s exceeded loss limit: %s (limit %s)", p.Symbol, totalPnL.Abs().String(), maxPositionLoss.String()),
				Details: map[string]string{
					"symbol":        p.Symbol,
					"position_pnl":  totalPnL.String(),
					"quantity":      fmt.Sprintf("%d", p.Quantity),
					"average_price": p.AveragePrice.String(),
				},
			})
		}
		if p.StopLoss == nil {
			m.emitAlert(ctx, oms.RiskAlert{
				Severity: oms.SeverityWarning,
				Kind:     "missing_stop_loss",
				Message:  fmt.Sprintf("position %s has no stop-loss", p.Symbol),
				Details: map[string]string{
					"symbol":         p.Symbol,
					"quantity":       fmt.Sprintf("%d", p.Quantity),
					"average_price":  p.AveragePrice.String(),
					"unrealized_pnl": p.UnrealizedPnL.String(),
				},
			})
		}
	}
	return nil
}

// triggerKillSwitch persists the kill switch, latches the in-memory flag,
// and emits a critical alert. Errors persisting are returned; the
// in-memory latch is set regardless so trading stops immediately even if
// the Store write fails.
func (m *Monitor) triggerKillSwitch(ctx context.Context, reason string, details map[string]string) error {
	m.mu.Lock()
	alreadyActive := m.killSwitch
	m.killSwitch = true
	m.mu.Unlock()

	m.logger.Error().Str("reason", reason).Msg("riskmonitor: TRIGGERING KILL SWITCH")

	m.emitAlert(ctx, oms.RiskAlert{
		Severity: oms.SeverityCritical,
		Kind:     "kill_switch_triggered",
		Message:  "kill switch activated: " + reason,
		Details:  details,
	})

	if alreadyActive {
		return nil
	}
	if err := m.st.TriggerKillSwitch(ctx, reason, "risk_monitor"); err != nil {
		return &oms.StoreError{Op: "TriggerKillSwitch", Cause: err}
	}
	if m.audit != nil {
		m.audit.LogKillSwitchTriggered(ctx, reason, "risk_monitor")
	}
	return nil
}

// DeactivateKillSwitch resumes trading. Callers are expected to have
// reviewed and resolved the triggering condition first; the monitor does
// not second-guess the decision.
func (m *Monitor) DeactivateKillSwitch(ctx context.Context, deactivatedBy string) error {
	if err := m.st.DeactivateKillSwitch(ctx, deactivatedBy); err != nil {
		return &oms.StoreError{Op: "DeactivateKillSwitch", Cause: err}
	}

	m.mu.Lock()
	m.killSwitch = false
	m.mu.Unlock()

	m.logger.Warn().Str("deactivated_by", deactivatedBy).Msg("riskmonitor: kill switch deactivated, trading resumed")

	if m.audit != nil {
		m.audit.LogKillSwitchDeactivated(ctx, deactivatedBy)
	}
	m.emitAlert(ctx, oms.RiskAlert{
		Severity: oms.SeverityInfo,
		Kind:     "kill_switch_deactivated",
		Message:  "kill switch deactivated by " + deactivatedBy,
		Details:  map[string]string{"deactivated_by": deactivatedBy},
	})
	return nil
}

func (m *Monitor) emitAlert(ctx context.Context, alert oms.RiskAlert) {
	alert.Timestamp = time.Now().UTC()

	logEvt := m.logger.Warn()
	if alert.Severity == oms.SeverityCritical {
		logEvt = m.logger.Error()
	} else if alert.Severity == oms.SeverityInfo {
		logEvt = m.logger.Info()
	}
	logEvt.Str("kind", alert.Kind).Str("message", alert.Message).Msg("risk alert")

	if m.bus != nil {
		m.bus.Publish(ctx, events.NewRiskAlertEvent(alert))
	}
}
