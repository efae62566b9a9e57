// Package config loads the structured configuration every OMS component is
// constructed from: database connection, broker mode, the PreTradeValidator's
// ten risk knobs, the RiskMonitor's cadence, and the OrderManager's
// poller/reconciler intervals.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	OrderManager OrderManagerConfig `mapstructure:"order_manager"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	MaxConns    int           `mapstructure:"max_conns"`
	MinConns    int           `mapstructure:"min_conns"`
	MaxConnLife time.Duration `mapstructure:"max_conn_life"`
	MigrationsPath string     `mapstructure:"migrations_path"`
}

// BrokerConfig selects and parameterizes the BrokerPort implementation.
type BrokerConfig struct {
	// Mode is "paper" (in-process simulator) or "live" (real broker, out of
	// scope for this core — wiring point only).
	Mode string `mapstructure:"mode"`

	Paper PaperBrokerConfig `mapstructure:"paper"`
}

// PaperBrokerConfig parameterizes the deterministic in-process simulator,
// grounded on original_source/tests/mocks/mock_broker.py's tunable knobs.
type PaperBrokerConfig struct {
	FillDelay         time.Duration `mapstructure:"fill_delay"`
	FillProbability   float64       `mapstructure:"fill_probability"`
	SimulateSlippage  bool          `mapstructure:"simulate_slippage"`
}

// RiskConfig holds the PreTradeValidator's ten knobs (SPEC_FULL §4.5) plus
// the RiskMonitor's account/position loss thresholds.
type RiskConfig struct {
	MaxRiskPerTrade         float64 `mapstructure:"max_risk_per_trade"`
	MaxDailyLoss            float64 `mapstructure:"max_daily_loss"`
	MaxDrawdown             float64 `mapstructure:"max_drawdown"`
	MaxPositions            int     `mapstructure:"max_positions"`
	MinRiskReward           float64 `mapstructure:"min_risk_reward"`
	MaxPositionSize         int64   `mapstructure:"max_position_size"`
	MaxQuantityPerOrder     int64   `mapstructure:"max_quantity_per_order"`
	MaxPriceDeviationPct    float64 `mapstructure:"max_price_deviation_pct"`
	MaxOrderToPositionRatio int     `mapstructure:"max_order_to_position_ratio"`
	MISLeverage             int64   `mapstructure:"mis_leverage"`
	MaxPositionLossPct      float64 `mapstructure:"max_position_loss_pct"`

	// EstimateMarketOrderBalance is left unused by default; the balance
	// check fails market orders without a price by design
	// (original_source/backend/oms/pre_trade_validator.py::_check_balance).
	// Kept as a configuration hook per SPEC_FULL §9(b).
	EstimateMarketOrderBalance bool `mapstructure:"estimate_market_order_balance"`

	// AccountBalance is the starting balance the Validator and RiskMonitor
	// evaluate against, a decimal string (not float64) since it seeds a
	// money.Money via money.FromString rather than a ratio.
	AccountBalance string `mapstructure:"account_balance"`
}

// MonitorConfig holds the RiskMonitor's loop cadence.
type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// OrderManagerConfig holds the OrderPoller/Reconciler loop cadences and
// their error back-off intervals.
type OrderManagerConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	PollIdleInterval     time.Duration `mapstructure:"poll_idle_interval"`
	PollErrorInterval    time.Duration `mapstructure:"poll_error_interval"`
	ReconcileInterval      time.Duration `mapstructure:"reconcile_interval"`
	ReconcileErrorInterval time.Duration `mapstructure:"reconcile_error_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" or "console"
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// PI5-style env override, renamed to the OMS prefix: OMS_DATABASE_HOST, ...
	v.SetEnvPrefix("OMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if v.IsSet("DB_HOST") {
		config.Database.Host = v.GetString("DB_HOST")
	}
	if v.IsSet("DB_PORT") {
		config.Database.Port = v.GetInt("DB_PORT")
	}
	if v.IsSet("DB_USER") {
		config.Database.User = v.GetString("DB_USER")
	}
	if v.IsSet("DB_PASSWORD") {
		config.Database.Password = v.GetString("DB_PASSWORD")
	}
	if v.IsSet("DB_NAME") {
		config.Database.Database = v.GetString("DB_NAME")
	}

	return &config, nil
}

// setDefaults sets default configuration values, mirroring
// original_source/backend/config.py's literal risk defaults.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "oms")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "oms")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_life", 5*time.Minute)
	v.SetDefault("database.migrations_path", "internal/store/postgres/migrations")

	v.SetDefault("broker.mode", "paper")
	v.SetDefault("broker.paper.fill_delay", 500*time.Millisecond)
	v.SetDefault("broker.paper.fill_probability", 0.95)
	v.SetDefault("broker.paper.simulate_slippage", true)

	v.SetDefault("risk.max_risk_per_trade", 0.02)
	v.SetDefault("risk.max_daily_loss", 0.06)
	v.SetDefault("risk.max_drawdown", 0.15)
	v.SetDefault("risk.max_positions", 5)
	v.SetDefault("risk.min_risk_reward", 2.0)
	v.SetDefault("risk.max_position_size", 1000)
	v.SetDefault("risk.max_quantity_per_order", 10000)
	v.SetDefault("risk.max_price_deviation_pct", 0.10)
	v.SetDefault("risk.max_order_to_position_ratio", 3)
	v.SetDefault("risk.mis_leverage", 5)
	v.SetDefault("risk.max_position_loss_pct", 0.05)
	v.SetDefault("risk.estimate_market_order_balance", false)
	v.SetDefault("risk.account_balance", "100000.00")

	v.SetDefault("monitor.interval", 2*time.Second)

	v.SetDefault("order_manager.poll_interval", 1*time.Second)
	v.SetDefault("order_manager.poll_idle_interval", 5*time.Second)
	v.SetDefault("order_manager.poll_error_interval", 5*time.Second)
	v.SetDefault("order_manager.reconcile_interval", 30*time.Second)
	v.SetDefault("order_manager.reconcile_error_interval", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.time_format", time.RFC3339)
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}
