// Package audit is the OMS's durable compliance trail (SPEC_FULL §10.4):
// order creation, rejection, fill, trade and kill-switch events are
// recorded independently of the operational Store tables, so the trail
// survives even if an operational write later fails. Ported from the
// teacher's audit logger with its event catalogue replaced by the OMS's
// own lifecycle kinds and its query placeholder construction fixed.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
)

// EventType identifies the kind of audit entry.
type EventType string

const (
	EventTypeOrderCreated         EventType = "order_created"
	EventTypeOrderFilled          EventType = "order_filled"
	EventTypeOrderCancelled       EventType = "order_cancelled"
	EventTypeOrderRejected        EventType = "order_rejected"
	EventTypeTradeExecuted        EventType = "trade_executed"
	EventTypePositionClosed       EventType = "position_closed"
	EventTypeRiskViolation        EventType = "risk_violation"
	EventTypeKillSwitchTriggered  EventType = "kill_switch_triggered"
	EventTypeKillSwitchDeactivated EventType = "kill_switch_deactivated"
	EventTypeReconciliationIssue  EventType = "reconciliation_issue"
	EventTypeSystemStart          EventType = "system_start"
	EventTypeSystemStop           EventType = "system_stop"
)

// Event is one audit log entry.
type Event struct {
	ID        string                 `json:"id" db:"id"`
	EventType EventType              `json:"event_type" db:"event_type"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Resource  string                 `json:"resource,omitempty" db:"resource"` // e.g. "order:123"
	Action    string                 `json:"action,omitempty" db:"action"`
	Status    string                 `json:"status" db:"status"` // "success", "failure", "violation"
	Details   map[string]interface{} `json:"details,omitempty" db:"details"`
	ErrorMsg  string                 `json:"error_msg,omitempty" db:"error_msg"`
}

// Logger writes audit events to Postgres, independent of the Store's
// operational tables.
type Logger struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewLogger builds an audit Logger over pool.
func NewLogger(pool *pgxpool.Pool, logger zerolog.Logger) *Logger {
	return &Logger{pool: pool, logger: logger}
}

// InitSchema creates the audit_log table if absent.
func (a *Logger) InitSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resource TEXT,
			action TEXT,
			status TEXT NOT NULL,
			details JSONB,
			error_msg TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log (timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_log_event_type ON audit_log (event_type);
		CREATE INDEX IF NOT EXISTS idx_audit_log_resource ON audit_log (resource);
	`
	if _, err := a.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("audit: init schema: %w", err)
	}
	a.logger.Info().Msg("audit log schema initialized")
	return nil
}

// LogEvent persists one audit entry, best-effort: failures are logged, not
// returned, so a broken audit sink never blocks the order path.
func (a *Logger) LogEvent(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = "success"
	}

	var detailsJSON []byte
	if event.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			a.logger.Warn().Err(err).Msg("audit: failed to marshal event details")
			detailsJSON = []byte("{}")
		}
	}

	const query = `
		INSERT INTO audit_log (id, event_type, timestamp, resource, action, status, details, error_msg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := a.pool.Exec(ctx, query,
		event.ID, event.EventType, event.Timestamp, nullString(event.Resource),
		nullString(event.Action), event.Status, detailsJSON, nullString(event.ErrorMsg),
	); err != nil {
		a.logger.Error().Err(err).Str("event_type", string(event.EventType)).Msg("audit: failed to write event")
		return
	}

	a.logger.Debug().Str("event_id", event.ID).Str("event_type", string(event.EventType)).Msg("audit event recorded")
}

// LogOrderCreated records a validated, submitted order.
func (a *Logger) LogOrderCreated(ctx context.Context, orderID oms.OrderID, symbol, side string, quantity int64) {
	a.LogEvent(ctx, Event{
		EventType: EventTypeOrderCreated,
		Resource:  resourceOrder(orderID),
		Action:    "create",
		Status:    "success",
		Details:   map[string]interface{}{"symbol": symbol, "side": side, "quantity": quantity},
	})
}

// LogOrderFilled records a fill applied to an order.
func (a *Logger) LogOrderFilled(ctx context.Context, orderID oms.OrderID, symbol string, quantity int64, price money.Money) {
	a.LogEvent(ctx, Event{
		EventType: EventTypeOrderFilled,
		Resource:  resourceOrder(orderID),
		Action:    "fill",
		Status:    "success",
		Details:   map[string]interface{}{"symbol": symbol, "quantity": quantity, "price": price.String()},
	})
}

// LogOrderCancelled records a broker-acknowledged cancellation.
func (a *Logger) LogOrderCancelled(ctx context.Context, orderID oms.OrderID, symbol string) {
	a.LogEvent(ctx, Event{
		EventType: EventTypeOrderCancelled,
		Resource:  resourceOrder(orderID),
		Action:    "cancel",
		Status:    "success",
		Details:   map[string]interface{}{"symbol": symbol},
	})
}

// LogOrderRejected records a pre-trade validation failure.
func (a *Logger) LogOrderRejected(ctx context.Context, orderID oms.OrderID, symbol, reason string) {
	a.LogEvent(ctx, Event{
		EventType: EventTypeOrderRejected,
		Resource:  resourceOrder(orderID),
		Action:    "reject",
		Status:    "failure",
		ErrorMsg:  reason,
		Details:   map[string]interface{}{"symbol": symbol},
	})
}

// LogTradeExecuted records the Trade synthesized from a broker fill.
func (a *Logger) LogTradeExecuted(ctx context.Context, orderID oms.OrderID, symbol string, quantity int64, price money.Money) {
	a.LogEvent(ctx, Event{
		EventType: EventTypeTradeExecuted,
		Resource:  resourceOrder(orderID),
		Action:    "execute",
		Status:    "success",
		Details:   map[string]interface{}{"symbol": symbol, "quantity": quantity, "price": price.String()},
	})
}

// LogPositionClosed records a position's final closure.
func (a *Logger) LogPositionClosed(ctx context.Context, positionID oms.PositionID, symbol string, realizedPnL money.Money) {
	a.LogEvent(ctx, Event{
		EventType: EventTypePositionClosed,
		Resource:  fmt.Sprintf("position:%d", int64(positionID)),
		Action:    "close",
		Status:    "success",
		Details:   map[string]interface{}{"symbol": symbol, "realized_pnl": realizedPnL.String()},
	})
}

// LogRiskViolation records a pre-trade check failure or a risk-monitor
// alert.
func (a *Logger) LogRiskViolation(ctx context.Context, resource, violationType string, details map[string]interface{}) {
	a.LogEvent(ctx, Event{
		EventType: EventTypeRiskViolation,
		Resource:  resource,
		Action:    "risk_check",
		Status:    "violation",
		ErrorMsg:  violationType,
		Details:   details,
	})
}

// LogKillSwitchTriggered records the circuit breaker tripping.
func (a *Logger) LogKillSwitchTriggered(ctx context.Context, reason, triggeredBy string) {
	a.LogEvent(ctx, Event{
		EventType: EventTypeKillSwitchTriggered,
		Resource:  "kill_switch",
		Action:    "trigger",
		Status:    "success",
		Details:   map[string]interface{}{"reason": reason, "triggered_by": triggeredBy},
	})
}

// LogKillSwitchDeactivated records the circuit breaker being reset.
func (a *Logger) LogKillSwitchDeactivated(ctx context.Context, deactivatedBy string) {
	a.LogEvent(ctx, Event{
		EventType: EventTypeKillSwitchDeactivated,
		Resource:  "kill_switch",
		Action:    "deactivate",
		Status:    "success",
		Details:   map[string]interface{}{"deactivated_by": deactivatedBy},
	})
}

// LogReconciliationIssue records a broker/internal position discrepancy.
func (a *Logger) LogReconciliationIssue(ctx context.Context, symbol, issueType string, details map[string]interface{}) {
	a.LogEvent(ctx, Event{
		EventType: EventTypeReconciliationIssue,
		Resource:  "symbol:" + symbol,
		Action:    "reconcile",
		Status:    "violation",
		ErrorMsg:  issueType,
		Details:   details,
	})
}

// QueryFilters narrows a QueryEvents call.
type QueryFilters struct {
	EventType EventType
	Resource  string
	Status    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// QueryEvents retrieves audit entries matching filters, newest first.
func (a *Logger) QueryEvents(ctx context.Context, filters QueryFilters) ([]*Event, error) {
	query := `
		SELECT id, event_type, timestamp, resource, action, status, details, error_msg
		FROM audit_log
		WHERE 1=1
	`
	var args []interface{}
	argCount := 0

	addFilter := func(clause string, value interface{}) {
		argCount++
		query += fmt.Sprintf(" AND %s $%d", clause, argCount)
		args = append(args, value)
	}

	if filters.EventType != "" {
		addFilter("event_type =", filters.EventType)
	}
	if filters.Resource != "" {
		addFilter("resource =", filters.Resource)
	}
	if filters.Status != "" {
		addFilter("status =", filters.Status)
	}
	if !filters.StartTime.IsZero() {
		addFilter("timestamp >=", filters.StartTime)
	}
	if !filters.EndTime.IsZero() {
		addFilter("timestamp <=", filters.EndTime)
	}

	query += " ORDER BY timestamp DESC"
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	argCount++
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var detailsJSON []byte
		if err := rows.Scan(
			&event.ID, &event.EventType, &event.Timestamp, &event.Resource,
			&event.Action, &event.Status, &detailsJSON, &event.ErrorMsg,
		); err != nil {
			a.logger.Warn().Err(err).Msg("audit: failed to scan event")
			continue
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
				a.logger.Warn().Err(err).Msg("audit: failed to unmarshal event details")
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func resourceOrder(id oms.OrderID) string {
	return fmt.Sprintf("order:%d", int64(id))
}

// generateEventID prefixes a UUIDv4 with a sortable UTC timestamp so audit
// rows remain roughly time-ordered by id without a dedicated index scan.
func generateEventID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102150405.000000"), uuid.NewString())
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
