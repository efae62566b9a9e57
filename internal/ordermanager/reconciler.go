package ordermanager

import (
	"context"
	"time"

	"github.com/mittubose/coolAlgobot-sub001/internal/broker"
	"github.com/mittubose/coolAlgobot-sub001/internal/circuitbreaker"
	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
)

const defaultReconcileExchange = "NSE"

// reconcileLoop is the Reconciler: runs every ReconcileInterval, backing
// off to ReconcileErrorInterval when the broker's position list can't be
// fetched.
func (m *Manager) reconcileLoop(ctx context.Context) {
	interval := idleOr(m.cfg.ReconcileInterval, 30*time.Second)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			summary, err := m.ReconcilePositions(ctx)
			if err != nil {
				m.logger.Error().Err(err).Msg("reconciler: pass failed")
				timer.Reset(idleOr(m.cfg.ReconcileErrorInterval, 60*time.Second))
				continue
			}
			if !summary.AllClear {
				m.logger.Warn().
					Int("mismatches", len(summary.Mismatches)).
					Int("unknown_positions", len(summary.UnknownPositions)).
					Msg("reconciler: issues found")
			}
			timer.Reset(idleOr(m.cfg.ReconcileInterval, 30*time.Second))
		case <-ctx.Done():
			m.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// ReconcilePositions runs a single reconciliation pass against the broker's
// authoritative position book, ported from
// original_source/backend/oms/order_manager.py::reconcile_positions.
func (m *Manager) ReconcilePositions(ctx context.Context) (oms.ReconciliationSummary, error) {
	brokerPositions, err := m.listBrokerPositions(ctx)
	if err != nil {
		return oms.ReconciliationSummary{}, &oms.ReconciliationError{Cause: err}
	}

	internal, err := m.st.AllOpenPositions(ctx)
	if err != nil {
		return oms.ReconciliationSummary{}, &oms.StoreError{Op: "AllOpenPositions", Cause: err}
	}
	internalBySymbol := make(map[string]*oms.Position, len(internal))
	for _, p := range internal {
		internalBySymbol[p.Symbol] = p
	}

	now := time.Now().UTC()
	var mismatches, unknown []oms.ReconciliationIssue

	for symbol, bp := range brokerPositions {
		ip, exists := internalBySymbol[symbol]

		if !exists {
			issue := oms.ReconciliationIssue{
				Symbol: symbol, Exchange: defaultReconcileExchange,
				IssueType: oms.UnknownPosition, Severity: oms.SeverityCritical,
				BrokerQuantity: ptrInt64(bp.Quantity), BrokerAvgPrice: ptrMoney(bp.AveragePrice),
				DetectedAt: now,
			}
			if _, err := m.st.LogReconciliationIssue(ctx, issue); err != nil {
				m.logger.Error().Err(err).Str("symbol", symbol).Msg("reconciler: failed to log unknown position")
			}
			unknown = append(unknown, issue)
			continue
		}

		if ip.Quantity != bp.Quantity {
			diff := bp.Quantity - ip.Quantity
			issue := oms.ReconciliationIssue{
				Symbol: symbol, Exchange: ip.Exchange,
				IssueType: oms.QuantityMismatch, Severity: oms.SeverityCritical,
				InternalQuantity: ptrInt64(ip.Quantity), BrokerQuantity: ptrInt64(bp.Quantity),
				Difference: ptrInt64(diff), DetectedAt: now,
			}
			if _, err := m.st.LogReconciliationIssue(ctx, issue); err != nil {
				m.logger.Error().Err(err).Str("symbol", symbol).Msg("reconciler: failed to log quantity mismatch")
			}
			mismatches = append(mismatches, issue)

			if err := m.positions.ForceQuantity(ctx, symbol, ip.Exchange, ip.StrategyID, bp.Quantity, "RECONCILIATION_FIX"); err != nil {
				m.logger.Error().Err(err).Str("symbol", symbol).Msg("reconciler: failed to force-fix quantity")
			}
		}
	}

	for symbol, ip := range internalBySymbol {
		if _, atBroker := brokerPositions[symbol]; atBroker || ip.Quantity == 0 {
			continue
		}
		issue := oms.ReconciliationIssue{
			Symbol: symbol, Exchange: ip.Exchange,
			IssueType: oms.PhantomPosition, Severity: oms.SeverityCritical,
			InternalQuantity: ptrInt64(ip.Quantity), BrokerQuantity: ptrInt64(0),
			DetectedAt: now,
		}
		if _, err := m.st.LogReconciliationIssue(ctx, issue); err != nil {
			m.logger.Error().Err(err).Str("symbol", symbol).Msg("reconciler: failed to log phantom position")
		}
		mismatches = append(mismatches, issue)

		if err := m.positions.ForceClose(ctx, symbol, ip.Exchange, ip.StrategyID, "RECONCILIATION_FIX"); err != nil {
			m.logger.Error().Err(err).Str("symbol", symbol).Msg("reconciler: failed to force-close phantom position")
		}
	}

	return oms.ReconciliationSummary{
		AllClear:         len(mismatches) == 0 && len(unknown) == 0,
		Mismatches:       mismatches,
		UnknownPositions: unknown,
		Timestamp:        now,
	}, nil
}

func (m *Manager) listBrokerPositions(ctx context.Context) (map[string]broker.PositionView, error) {
	var out map[string]broker.PositionView
	cb := m.cb.GetOrCreate("broker", circuitbreaker.DefaultBrokerConfig())
	err := cb.Execute(func() error {
		views, err := m.brokerPort.ListPositions(ctx)
		if err != nil {
			return err
		}
		out = views
		return nil
	})
	return out, err
}

func ptrInt64(v int64) *int64   { return &v }
func ptrMoney(v money.Money) *money.Money { return &v }
