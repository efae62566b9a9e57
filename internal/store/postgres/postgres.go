// Package postgres is the concrete Store (SPEC_FULL §4.1) backed by
// jackc/pgx/v5, grounded on the teacher's internal/data repositories
// (connection pooling, error-wrapping idiom) generalized to the fuller OMS
// schema. Schema lives in migrations/ and is applied via golang-migrate.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/oms"
	"github.com/mittubose/coolAlgobot-sub001/internal/store"
)

// Store is the Postgres-backed implementation of store.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Config parameterizes the connection pool.
type Config struct {
	DSN         string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
}

// New connects to Postgres and returns a ready Store, pinging once to fail
// fast on a bad DSN, matching the teacher's timescale.Client.NewClient.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLife > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLife
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	logger.Info().Msg("store: connected to postgres")
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pgxpool.Pool so sibling components that
// write their own tables (the audit trail) can share the same connection
// pool instead of opening a second one.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// method run unchanged whether or not it is inside Transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (interface {
		RowsAffected() int64
	}, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type txKey struct{}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return txQuerier{tx}
	}
	return poolQuerier{s.pool}
}

// txQuerier/poolQuerier adapt pgx.Tx/*pgxpool.Pool's concrete Exec return
// type (pgconn.CommandTag) to the narrow querier interface above.
type txQuerier struct{ tx pgx.Tx }

func (t txQuerier) Exec(ctx context.Context, sql string, args ...interface{}) (interface{ RowsAffected() int64 }, error) {
	return t.tx.Exec(ctx, sql, args...)
}
func (t txQuerier) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}
func (t txQuerier) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

type poolQuerier struct{ pool *pgxpool.Pool }

func (p poolQuerier) Exec(ctx context.Context, sql string, args ...interface{}) (interface{ RowsAffected() int64 }, error) {
	return p.pool.Exec(ctx, sql, args...)
}
func (p poolQuerier) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}
func (p poolQuerier) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

// Transaction runs scope within a single transactional connection,
// committing on nil return, rolling back otherwise, guaranteeing the
// connection is released back to the pool on every exit path.
func (s *Store) Transaction(ctx context.Context, scope func(ctx context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := scope(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	committed = true
	return nil
}

// --- money/metadata marshaling helpers -------------------------------------

// nullMoney scans a possibly-NULL NUMERIC column into an optional Money.
type nullMoney struct {
	Money money.Money
	Valid bool
}

func (n *nullMoney) Scan(src interface{}) error {
	if src == nil {
		n.Valid = false
		return nil
	}
	n.Valid = true
	return n.Money.Scan(src)
}

func (n nullMoney) ptr() *money.Money {
	if !n.Valid {
		return nil
	}
	m := n.Money
	return &m
}

func moneyArg(m *money.Money) interface{} {
	if m == nil {
		return nil
	}
	v, _ := m.Value()
	return v
}

func marshalMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	return json.Marshal(meta)
}

func unmarshalMetadata(raw []byte) map[string]string {
	if len(raw) == 0 {
		return map[string]string{}
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]string{}
	}
	return out
}

func marshalValidationReport(r *oms.ValidationResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func unmarshalValidationReport(raw []byte) *oms.ValidationResult {
	if len(raw) == 0 {
		return nil
	}
	var out oms.ValidationResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}

// --- Orders -----------------------------------------------------------------

const orderColumns = `
	id, broker_order_id, strategy_id, symbol, exchange, side, quantity, order_type,
	price, trigger_price, product, validity, stop_loss, take_profit, risk_amount,
	risk_reward_ratio, status, status_message, filled_quantity, average_price,
	validation_report, error_message, created_at, submitted_at, updated_at,
	filled_at, cancelled_at, metadata`

func (s *Store) CreateOrder(ctx context.Context, req oms.OrderRequest, status oms.OrderStatus, report *oms.ValidationResult) (oms.OrderID, error) {
	riskAmount, riskReward := deriveRiskSnapshot(req)

	reportJSON, err := marshalValidationReport(report)
	if err != nil {
		return 0, fmt.Errorf("store: marshal validation report: %w", err)
	}
	metaJSON, err := marshalMetadata(req.Metadata)
	if err != nil {
		return 0, fmt.Errorf("store: marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO orders (
			strategy_id, symbol, exchange, side, quantity, order_type, price, trigger_price,
			product, validity, stop_loss, take_profit, risk_amount, risk_reward_ratio,
			status, filled_quantity, validation_report, created_at, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,0,$16,$17,$18)
		RETURNING id`

	var id int64
	row := s.q(ctx).QueryRow(ctx, query,
		req.StrategyID, req.Symbol, req.Exchange, req.Side, req.Quantity, req.OrderType,
		moneyArg(req.Price), moneyArg(req.TriggerPrice), req.Product, req.Validity,
		moneyArg(req.StopLoss), moneyArg(req.TakeProfit), moneyArg(riskAmount), moneyArg(riskReward),
		status, reportJSON, time.Now().UTC(), metaJSON,
	)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: create order: %w", err)
	}
	return oms.OrderID(id), nil
}

// deriveRiskSnapshot computes the risk_amount/risk_reward_ratio snapshot
// embedded on the order at creation time (SPEC_FULL §3), skipped when the
// inputs required to compute it are absent.
func deriveRiskSnapshot(req oms.OrderRequest) (riskAmount, riskReward *money.Money) {
	if req.Price == nil || req.StopLoss == nil {
		return nil, nil
	}
	risk := req.Price.Sub(*req.StopLoss).Abs().MulInt(req.Quantity)
	riskAmount = &risk

	if req.TakeProfit == nil {
		return riskAmount, nil
	}
	perShareRisk := req.Price.Sub(*req.StopLoss).Abs()
	if perShareRisk.IsZero() {
		return riskAmount, nil
	}
	reward := req.TakeProfit.Sub(*req.Price).Abs()
	ratio := reward.Div(perShareRisk)
	riskReward = &ratio
	return riskAmount, riskReward
}

func (s *Store) UpdateOrder(ctx context.Context, id oms.OrderID, patch oms.OrderPatch) (bool, error) {
	sets := make([]string, 0, 10)
	args := make([]interface{}, 0, 10)
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.BrokerOrderID != nil {
		add("broker_order_id", *patch.BrokerOrderID)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.StatusMessage != nil {
		add("status_message", *patch.StatusMessage)
	}
	if patch.FilledQuantity != nil {
		add("filled_quantity", *patch.FilledQuantity)
	}
	if patch.AveragePrice != nil {
		add("average_price", moneyArg(patch.AveragePrice))
	}
	if patch.Quantity != nil {
		add("quantity", *patch.Quantity)
	}
	if patch.Price != nil {
		add("price", moneyArg(patch.Price))
	}
	if patch.TriggerPrice != nil {
		add("trigger_price", moneyArg(patch.TriggerPrice))
	}
	if patch.SubmittedAt != nil {
		add("submitted_at", *patch.SubmittedAt)
	}
	if patch.UpdatedAt != nil {
		add("updated_at", *patch.UpdatedAt)
	}
	if patch.FilledAt != nil {
		add("filled_at", *patch.FilledAt)
	}
	if patch.CancelledAt != nil {
		add("cancelled_at", *patch.CancelledAt)
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}

	if len(sets) == 0 {
		return true, nil
	}

	args = append(args, int64(id))
	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d", joinSets(sets), len(args))

	tag, err := s.q(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("store: update order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func scanOrder(row interface {
	Scan(dest ...interface{}) error
}) (*oms.Order, error) {
	var o oms.Order
	var brokerOrderID, statusMessage, errorMessage *string
	var price, triggerPrice, stopLoss, takeProfit, riskAmount, riskReward, avgPrice nullMoney
	var reportJSON, metaJSON []byte
	var submittedAt, updatedAt, filledAt, cancelledAt *time.Time

	err := row.Scan(
		&o.ID, &brokerOrderID, &o.StrategyID, &o.Symbol, &o.Exchange, &o.Side, &o.Quantity, &o.OrderType,
		&price, &triggerPrice, &o.Product, &o.Validity, &stopLoss, &takeProfit, &riskAmount,
		&riskReward, &o.Status, &statusMessage, &o.FilledQuantity, &avgPrice,
		&reportJSON, &errorMessage, &o.CreatedAt, &submittedAt, &updatedAt,
		&filledAt, &cancelledAt, &metaJSON,
	)
	if err != nil {
		return nil, err
	}

	o.BrokerOrderID = brokerOrderID
	o.StatusMessage = statusMessage
	o.ErrorMessage = errorMessage
	o.Price = price.ptr()
	o.TriggerPrice = triggerPrice.ptr()
	o.StopLoss = stopLoss.ptr()
	o.TakeProfit = takeProfit.ptr()
	o.RiskAmount = riskAmount.ptr()
	o.RiskRewardRatio = riskReward.ptr()
	o.AveragePrice = avgPrice.ptr()
	o.ValidationReport = unmarshalValidationReport(reportJSON)
	o.SubmittedAt = submittedAt
	o.UpdatedAt = updatedAt
	o.FilledAt = filledAt
	o.CancelledAt = cancelledAt
	o.Metadata = unmarshalMetadata(metaJSON)
	return &o, nil
}

func (s *Store) GetOrder(ctx context.Context, id oms.OrderID) (*oms.Order, error) {
	row := s.q(ctx).QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", int64(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get order: %w", err)
	}
	return o, nil
}

func (s *Store) GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (*oms.Order, error) {
	row := s.q(ctx).QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE broker_order_id = $1", brokerOrderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get order by broker id: %w", err)
	}
	return o, nil
}

func (s *Store) queryOrders(ctx context.Context, where string, args ...interface{}) ([]*oms.Order, error) {
	rows, err := s.q(ctx).Query(ctx, "SELECT "+orderColumns+" FROM orders WHERE "+where+" ORDER BY created_at", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*oms.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) ActiveOrders(ctx context.Context) ([]*oms.Order, error) {
	orders, err := s.queryOrders(ctx, "status IN ('PENDING','SUBMITTED','OPEN')")
	if err != nil {
		return nil, fmt.Errorf("store: active orders: %w", err)
	}
	return orders, nil
}

func (s *Store) TodayOrders(ctx context.Context) ([]*oms.Order, error) {
	orders, err := s.queryOrders(ctx, "created_at >= date_trunc('day', NOW() AT TIME ZONE 'UTC')")
	if err != nil {
		return nil, fmt.Errorf("store: today orders: %w", err)
	}
	return orders, nil
}

// --- Positions ---------------------------------------------------------------

const positionColumns = `
	id, symbol, exchange, strategy_id, quantity, average_price, product, realized_pnl,
	unrealized_pnl, stop_loss, take_profit, max_drawdown, entry_order_ids, exit_order_ids,
	highest_price, lowest_price, opened_at, updated_at, closed_at, metadata`

func (s *Store) CreatePosition(ctx context.Context, p *oms.Position) (oms.PositionID, error) {
	metaJSON, err := marshalMetadata(p.Metadata)
	if err != nil {
		return 0, fmt.Errorf("store: marshal position metadata: %w", err)
	}

	const query = `
		INSERT INTO positions (
			symbol, exchange, strategy_id, quantity, average_price, product, realized_pnl,
			unrealized_pnl, stop_loss, take_profit, entry_order_ids, exit_order_ids,
			highest_price, lowest_price, opened_at, updated_at, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id`

	row := s.q(ctx).QueryRow(ctx, query,
		p.Symbol, p.Exchange, p.StrategyID, p.Quantity, moneyArg(&p.AveragePrice), p.Product,
		moneyArg(&p.RealizedPnL), moneyArg(&p.UnrealizedPnL), moneyArg(p.StopLoss), moneyArg(p.TakeProfit),
		orderIDsToInt64s(p.EntryOrderIDs), orderIDsToInt64s(p.ExitOrderIDs),
		moneyArg(p.HighestPrice), moneyArg(p.LowestPrice), p.OpenedAt, p.UpdatedAt, metaJSON,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: create position: %w", err)
	}
	return oms.PositionID(id), nil
}

func orderIDsToInt64s(ids []oms.OrderID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func int64sToOrderIDs(ids []int64) []oms.OrderID {
	out := make([]oms.OrderID, len(ids))
	for i, id := range ids {
		out[i] = oms.OrderID(id)
	}
	return out
}

func (s *Store) UpdatePosition(ctx context.Context, id oms.PositionID, patch store.PositionPatch) (bool, error) {
	sets := make([]string, 0, 10)
	args := make([]interface{}, 0, 10)
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Quantity != nil {
		add("quantity", *patch.Quantity)
	}
	if patch.AveragePrice != nil {
		add("average_price", moneyArg(patch.AveragePrice))
	}
	if patch.RealizedPnL != nil {
		add("realized_pnl", moneyArg(patch.RealizedPnL))
	}
	if patch.UnrealizedPnL != nil {
		add("unrealized_pnl", moneyArg(patch.UnrealizedPnL))
	}
	if patch.StopLoss != nil {
		add("stop_loss", moneyArg(patch.StopLoss))
	}
	if patch.TakeProfit != nil {
		add("take_profit", moneyArg(patch.TakeProfit))
	}
	if patch.MaxDrawdown != nil {
		add("max_drawdown", moneyArg(patch.MaxDrawdown))
	}
	if patch.HighestPrice != nil {
		add("highest_price", moneyArg(patch.HighestPrice))
	}
	if patch.LowestPrice != nil {
		add("lowest_price", moneyArg(patch.LowestPrice))
	}
	if patch.EntryOrderIDs != nil {
		add("entry_order_ids", orderIDsToInt64s(patch.EntryOrderIDs))
	}
	if patch.ExitOrderIDs != nil {
		add("exit_order_ids", orderIDsToInt64s(patch.ExitOrderIDs))
	}
	if patch.UpdatedAt != nil {
		add("updated_at", *patch.UpdatedAt)
	}
	if patch.Metadata != nil {
		metaJSON, err := marshalMetadata(patch.Metadata)
		if err != nil {
			return false, fmt.Errorf("store: marshal position metadata patch: %w", err)
		}
		add("metadata", metaJSON)
	}

	if len(sets) == 0 {
		return true, nil
	}

	args = append(args, int64(id))
	query := fmt.Sprintf("UPDATE positions SET %s WHERE id = $%d", joinSets(sets), len(args))

	tag, err := s.q(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("store: update position: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ClosePosition(ctx context.Context, id oms.PositionID, realizedPnL money.Money, exitOrderIDs []oms.OrderID) error {
	const query = `
		UPDATE positions SET quantity = 0, realized_pnl = $1, exit_order_ids = $2,
			updated_at = $3, closed_at = $3 WHERE id = $4`
	now := time.Now().UTC()
	_, err := s.q(ctx).Exec(ctx, query, moneyArg(&realizedPnL), orderIDsToInt64s(exitOrderIDs), now, int64(id))
	if err != nil {
		return fmt.Errorf("store: close position: %w", err)
	}
	return nil
}

func scanPosition(row interface {
	Scan(dest ...interface{}) error
}) (*oms.Position, error) {
	var p oms.Position
	var avgPrice, realizedPnL, unrealizedPnL, stopLoss, takeProfit, maxDrawdown, highest, lowest nullMoney
	var entryIDs, exitIDs []int64
	var metaJSON []byte
	var closedAt *time.Time

	err := row.Scan(
		&p.ID, &p.Symbol, &p.Exchange, &p.StrategyID, &p.Quantity, &avgPrice, &p.Product,
		&realizedPnL, &unrealizedPnL, &stopLoss, &takeProfit, &maxDrawdown, &entryIDs, &exitIDs,
		&highest, &lowest, &p.OpenedAt, &p.UpdatedAt, &closedAt, &metaJSON,
	)
	if err != nil {
		return nil, err
	}

	p.AveragePrice = avgPrice.Money
	p.RealizedPnL = realizedPnL.Money
	p.UnrealizedPnL = unrealizedPnL.Money
	p.StopLoss = stopLoss.ptr()
	p.TakeProfit = takeProfit.ptr()
	p.MaxDrawdown = maxDrawdown.ptr()
	p.HighestPrice = highest.ptr()
	p.LowestPrice = lowest.ptr()
	p.EntryOrderIDs = int64sToOrderIDs(entryIDs)
	p.ExitOrderIDs = int64sToOrderIDs(exitIDs)
	p.ClosedAt = closedAt
	p.Metadata = unmarshalMetadata(metaJSON)
	return &p, nil
}

func (s *Store) GetPosition(ctx context.Context, symbol, exchange string, strategyID int64) (*oms.Position, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions
		WHERE symbol = $1 AND exchange = $2 AND strategy_id = $3 AND closed_at IS NULL`
	row := s.q(ctx).QueryRow(ctx, query, symbol, exchange, strategyID)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get position: %w", err)
	}
	return p, nil
}

func (s *Store) AllOpenPositions(ctx context.Context) ([]*oms.Position, error) {
	rows, err := s.q(ctx).Query(ctx, "SELECT "+positionColumns+" FROM positions WHERE closed_at IS NULL ORDER BY opened_at")
	if err != nil {
		return nil, fmt.Errorf("store: all open positions: %w", err)
	}
	defer rows.Close()

	var out []*oms.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("store: all open positions: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) OpenPositionCount(ctx context.Context) (int, error) {
	var count int
	row := s.q(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM positions WHERE closed_at IS NULL")
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("store: open position count: %w", err)
	}
	return count, nil
}

// --- Trades ------------------------------------------------------------------

const tradeColumns = `
	id, order_id, position_id, broker_trade_id, symbol, exchange, side, quantity, price,
	brokerage, stt, exchange_txn, gst, stamp_duty, sebi, total_charges, gross_value,
	net_value, executed_at, metadata`

func (s *Store) CreateTrade(ctx context.Context, t oms.Trade) (oms.TradeID, error) {
	metaJSON, err := marshalMetadata(t.Metadata)
	if err != nil {
		return 0, fmt.Errorf("store: marshal trade metadata: %w", err)
	}
	executedAt := t.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO trades (
			order_id, position_id, broker_trade_id, symbol, exchange, side, quantity, price,
			brokerage, stt, exchange_txn, gst, stamp_duty, sebi, total_charges, gross_value,
			net_value, executed_at, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING id`

	var positionID interface{}
	if t.PositionID != nil {
		positionID = int64(*t.PositionID)
	}

	row := s.q(ctx).QueryRow(ctx, query,
		int64(t.OrderID), positionID, t.BrokerTradeID, t.Symbol, t.Exchange, t.Side, t.Quantity,
		moneyArg(&t.Price), moneyArg(&t.Charges.Brokerage), moneyArg(&t.Charges.STT),
		moneyArg(&t.Charges.ExchangeTxnCharge), moneyArg(&t.Charges.GST), moneyArg(&t.Charges.StampDuty),
		moneyArg(&t.Charges.SEBICharges), moneyArg(ptr(t.Charges.Total())), moneyArg(&t.GrossValue),
		moneyArg(&t.NetValue), executedAt, metaJSON,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: create trade: %w", err)
	}
	return oms.TradeID(id), nil
}

func ptr[T any](v T) *T { return &v }

func scanTrade(row interface {
	Scan(dest ...interface{}) error
}) (*oms.Trade, error) {
	var t oms.Trade
	var positionID *int64
	var price, brokerage, stt, exchTxn, gst, stampDuty, sebi, totalCharges, gross, net nullMoney
	var metaJSON []byte

	err := row.Scan(
		&t.ID, &t.OrderID, &positionID, &t.BrokerTradeID, &t.Symbol, &t.Exchange, &t.Side, &t.Quantity,
		&price, &brokerage, &stt, &exchTxn, &gst, &stampDuty, &sebi, &totalCharges, &gross, &net,
		&t.ExecutedAt, &metaJSON,
	)
	if err != nil {
		return nil, err
	}

	if positionID != nil {
		pid := oms.PositionID(*positionID)
		t.PositionID = &pid
	}
	t.Price = price.Money
	t.Charges = oms.Charges{
		Brokerage:         brokerage.Money,
		STT:               stt.Money,
		ExchangeTxnCharge: exchTxn.Money,
		GST:               gst.Money,
		StampDuty:         stampDuty.Money,
		SEBICharges:       sebi.Money,
	}
	t.GrossValue = gross.Money
	t.NetValue = net.Money
	t.Metadata = unmarshalMetadata(metaJSON)
	return &t, nil
}

func (s *Store) TradesForOrder(ctx context.Context, orderID oms.OrderID) ([]*oms.Trade, error) {
	rows, err := s.q(ctx).Query(ctx, "SELECT "+tradeColumns+" FROM trades WHERE order_id = $1 ORDER BY executed_at", int64(orderID))
	if err != nil {
		return nil, fmt.Errorf("store: trades for order: %w", err)
	}
	defer rows.Close()

	var out []*oms.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("store: trades for order: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) TodayTrades(ctx context.Context) ([]*oms.Trade, error) {
	rows, err := s.q(ctx).Query(ctx, "SELECT "+tradeColumns+" FROM trades WHERE executed_at >= date_trunc('day', NOW() AT TIME ZONE 'UTC') ORDER BY executed_at")
	if err != nil {
		return nil, fmt.Errorf("store: today trades: %w", err)
	}
	defer rows.Close()

	var out []*oms.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("store: today trades: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Reconciliation ------------------------------------------------------------

func (s *Store) LogReconciliationIssue(ctx context.Context, issue oms.ReconciliationIssue) (int64, error) {
	const query = `
		INSERT INTO reconciliation_log (
			symbol, exchange, issue_type, severity, internal_quantity, broker_quantity,
			difference, internal_avg_price, broker_avg_price, resolved, auto_fixed, detected_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,FALSE,$10)
		RETURNING id`

	detectedAt := issue.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now().UTC()
	}
	row := s.q(ctx).QueryRow(ctx, query,
		issue.Symbol, issue.Exchange, issue.IssueType, issue.Severity,
		issue.InternalQuantity, issue.BrokerQuantity, issue.Difference,
		moneyArg(issue.InternalAvgPrice), moneyArg(issue.BrokerAvgPrice), detectedAt,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("store: log reconciliation issue: %w", err)
	}
	return id, nil
}

func (s *Store) ResolveReconciliationIssue(ctx context.Context, id int64, resolution string, autoFixed bool) error {
	const query = `UPDATE reconciliation_log SET resolved = TRUE, resolution = $1, auto_fixed = $2, resolved_at = $3 WHERE id = $4`
	_, err := s.q(ctx).Exec(ctx, query, resolution, autoFixed, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: resolve reconciliation issue: %w", err)
	}
	return nil
}

func (s *Store) UnresolvedReconciliationIssues(ctx context.Context) ([]*oms.ReconciliationIssue, error) {
	const query = `
		SELECT id, symbol, exchange, issue_type, severity, internal_quantity, broker_quantity,
			difference, internal_avg_price, broker_avg_price, resolved, resolution, auto_fixed,
			detected_at, resolved_at
		FROM reconciliation_log WHERE resolved = FALSE ORDER BY detected_at`

	rows, err := s.q(ctx).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: unresolved reconciliation issues: %w", err)
	}
	defer rows.Close()

	var out []*oms.ReconciliationIssue
	for rows.Next() {
		var i oms.ReconciliationIssue
		var internalAvg, brokerAvg nullMoney
		if err := rows.Scan(
			&i.ID, &i.Symbol, &i.Exchange, &i.IssueType, &i.Severity, &i.InternalQuantity,
			&i.BrokerQuantity, &i.Difference, &internalAvg, &brokerAvg, &i.Resolved,
			&i.Resolution, &i.AutoFixed, &i.DetectedAt, &i.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("store: unresolved reconciliation issues: %w", err)
		}
		i.InternalAvgPrice = internalAvg.ptr()
		i.BrokerAvgPrice = brokerAvg.ptr()
		out = append(out, &i)
	}
	return out, rows.Err()
}

// --- Aggregates ----------------------------------------------------------------

func (s *Store) TodayRealizedPnL(ctx context.Context) (money.Money, error) {
	const query = `
		SELECT COALESCE(SUM(realized_pnl), 0) FROM positions
		WHERE updated_at >= date_trunc('day', NOW() AT TIME ZONE 'UTC')`
	var m nullMoney
	row := s.q(ctx).QueryRow(ctx, query)
	if err := row.Scan(&m); err != nil {
		return money.Zero, fmt.Errorf("store: today realized pnl: %w", err)
	}
	return m.Money, nil
}

func (s *Store) TodayOrderCount(ctx context.Context) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM orders WHERE created_at >= date_trunc('day', NOW() AT TIME ZONE 'UTC')`
	if err := s.q(ctx).QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: today order count: %w", err)
	}
	return count, nil
}

func (s *Store) TodayTradeCount(ctx context.Context) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM trades WHERE executed_at >= date_trunc('day', NOW() AT TIME ZONE 'UTC')`
	if err := s.q(ctx).QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: today trade count: %w", err)
	}
	return count, nil
}

func (s *Store) OrderToTradeRatio(ctx context.Context) (float64, error) {
	orders, err := s.TodayOrderCount(ctx)
	if err != nil {
		return 0, err
	}
	trades, err := s.TodayTradeCount(ctx)
	if err != nil {
		return 0, err
	}
	if trades == 0 {
		return float64(orders), nil
	}
	return float64(orders) / float64(trades), nil
}

// --- Kill switch -----------------------------------------------------------------

func (s *Store) IsKillSwitchActive(ctx context.Context) (bool, error) {
	const query = `SELECT EXISTS(
		SELECT 1 FROM kill_switch_events
		WHERE deactivated_at IS NULL
		  AND triggered_at >= date_trunc('day', NOW() AT TIME ZONE 'UTC')
	)`
	var active bool
	if err := s.q(ctx).QueryRow(ctx, query).Scan(&active); err != nil {
		return false, fmt.Errorf("store: is kill switch active: %w", err)
	}
	return active, nil
}

// TriggerKillSwitch is idempotent per calendar day: a second trigger while
// one is already active for today is a no-op, matching the "at most one
// active event per calendar day" invariant (SPEC_FULL §3).
func (s *Store) TriggerKillSwitch(ctx context.Context, reason, triggeredBy string) error {
	active, err := s.IsKillSwitchActive(ctx)
	if err != nil {
		return err
	}
	if active {
		return nil
	}
	const query = `INSERT INTO kill_switch_events (triggered_at, reason, triggered_by) VALUES ($1, $2, $3)`
	if _, err := s.q(ctx).Exec(ctx, query, time.Now().UTC(), reason, triggeredBy); err != nil {
		return fmt.Errorf("store: trigger kill switch: %w", err)
	}
	return nil
}

func (s *Store) DeactivateKillSwitch(ctx context.Context, deactivatedBy string) error {
	const query = `
		UPDATE kill_switch_events SET deactivated_at = $1, deactivated_by = $2
		WHERE deactivated_at IS NULL
		  AND triggered_at >= date_trunc('day', NOW() AT TIME ZONE 'UTC')`
	if _, err := s.q(ctx).Exec(ctx, query, time.Now().UTC(), deactivatedBy); err != nil {
		return fmt.Errorf("store: deactivate kill switch: %w", err)
	}
	return nil
}
