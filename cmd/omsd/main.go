// Command omsd is the OMS process entrypoint: loads configuration,
// connects to Postgres, wires the circuit breaker, event bus, audit
// trail, validator, position manager, order manager and risk monitor,
// and runs until a termination signal arrives. Grounded on the sibling
// teacher project's cmd/api/main.go wiring order and graceful-shutdown
// shape, with the HTTP server and strategy wiring removed (out of scope).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/mittubose/coolAlgobot-sub001/internal/audit"
	"github.com/mittubose/coolAlgobot-sub001/internal/broker"
	"github.com/mittubose/coolAlgobot-sub001/internal/broker/paperbroker"
	"github.com/mittubose/coolAlgobot-sub001/internal/circuitbreaker"
	"github.com/mittubose/coolAlgobot-sub001/internal/config"
	"github.com/mittubose/coolAlgobot-sub001/internal/events"
	"github.com/mittubose/coolAlgobot-sub001/internal/money"
	"github.com/mittubose/coolAlgobot-sub001/internal/ordermanager"
	"github.com/mittubose/coolAlgobot-sub001/internal/position"
	"github.com/mittubose/coolAlgobot-sub001/internal/riskmonitor"
	"github.com/mittubose/coolAlgobot-sub001/internal/store/postgres"
	"github.com/mittubose/coolAlgobot-sub001/internal/validator"
)

func main() {
	var exitCode int
	defer func() { os.Exit(exitCode) }()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitCode = 1
	}
}

func run() error {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("OMS daemon starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := runMigrations(cfg.Database, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	st, err := postgres.New(ctx, postgres.Config{
		DSN:         cfg.Database.ConnectionString(),
		MaxConns:    int32(cfg.Database.MaxConns),
		MinConns:    int32(cfg.Database.MinConns),
		MaxConnLife: cfg.Database.MaxConnLife,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	defer st.Close()

	accountBalance, err := money.FromString(cfg.Risk.AccountBalance)
	if err != nil {
		return fmt.Errorf("failed to parse risk.account_balance: %w", err)
	}

	bus := events.NewBus(256, logger)
	defer bus.Close()
	logger.Info().Msg("event bus created")

	auditLogger := audit.NewLogger(st.Pool(), logger)
	if err := auditLogger.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	logger.Info().Msg("audit logger initialized")

	cbManager := circuitbreaker.NewManager(logger)
	logger.Info().Msg("circuit breaker manager initialized")

	positions := position.New(st, logger)

	riskValidator := validator.New(st, cfg.Risk, accountBalance, logger)

	brokerPort, err := newBrokerPort(cfg.Broker, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	orderMgr := ordermanager.New(st, brokerPort, positions, riskValidator, auditLogger, bus, cbManager, cfg.OrderManager, logger)
	orderMgr.Start(ctx)
	logger.Info().Msg("order manager started")

	monitor := riskmonitor.New(st, bus, auditLogger, riskmonitor.Config{
		Interval:           cfg.Monitor.Interval,
		MaxDailyLossPct:    cfg.Risk.MaxDailyLoss,
		MaxDrawdownPct:     cfg.Risk.MaxDrawdown,
		MaxPositionLossPct: cfg.Risk.MaxPositionLossPct,
	}, accountBalance, logger)
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start risk monitor: %w", err)
	}
	logger.Info().Msg("risk monitor started")

	auditLogger.LogEvent(ctx, audit.Event{
		EventType: audit.EventTypeSystemStart,
		Status:    "success",
	})

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	auditLogger.LogEvent(shutdownCtx, audit.Event{
		EventType: audit.EventTypeSystemStop,
		Status:    "success",
	})

	for eventType, metric := range bus.GetMetrics() {
		logger.Info().
			Str("event_type", string(eventType)).
			Int64("published", metric.PublishedCount).
			Int64("dropped", metric.DroppedCount).
			Msg("event bus metrics")
	}

	cancel()
	logger.Info().Msg("OMS daemon stopped")
	return nil
}

// runMigrations applies the embedded schema using a plain database/sql
// connection, separate from the pgxpool the rest of the process uses,
// since golang-migrate's Postgres driver operates on database/sql.
func runMigrations(cfg config.DatabaseConfig, logger zerolog.Logger) error {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	if err := postgres.RunMigrations(db, cfg.Database); err != nil {
		return err
	}
	logger.Info().Msg("schema migrations applied")
	return nil
}

// newBrokerPort selects the BrokerPort implementation by config. "live"
// mode is a wiring point only: no production broker integration ships in
// this core, so it falls back to the paper simulator with a loud warning
// rather than silently trading against nothing.
func newBrokerPort(cfg config.BrokerConfig, logger zerolog.Logger) (broker.Port, error) {
	switch cfg.Mode {
	case "paper", "":
		return paperbroker.New(paperbroker.Config{
			FillDelay:        cfg.Paper.FillDelay,
			FillProbability:  cfg.Paper.FillProbability,
			SimulateSlippage: cfg.Paper.SimulateSlippage,
		}, logger), nil
	default:
		logger.Warn().Str("mode", cfg.Mode).Msg("unknown broker mode, falling back to paper broker")
		return paperbroker.New(paperbroker.Config{
			FillDelay:        cfg.Paper.FillDelay,
			FillProbability:  cfg.Paper.FillProbability,
			SimulateSlippage: cfg.Paper.SimulateSlippage,
		}, logger), nil
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: cfg.TimeFormat,
		}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
