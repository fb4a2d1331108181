// Package config defines all configuration for the Avellaneda-Stoikov
// backtest research platform. Config is loaded from a YAML file (default:
// configs/config.yaml) with overridable fields exposed via BT_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"as-backtester/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Markets     []string          `mapstructure:"markets"`
	DataDir     string            `mapstructure:"data_directory"`
	MaxDepth    int               `mapstructure:"max_depth_levels"`
	Strategy    StrategyConfig    `mapstructure:"strategy"`
	Fees        FeesConfig        `mapstructure:"fees"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Spread      SpreadConfig      `mapstructure:"spread"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"`
}

// StrategyConfig tunes the Avellaneda-Stoikov quote model (§4.E).
//
//   - Gamma: base risk aversion. Higher = wider spread, less inventory risk.
//   - GammaMode: how effective gamma is resolved from Gamma/inventory/sigma.
//   - MaxShiftTicks: target reservation-price shift at full inventory, used
//     only in max_shift gamma mode.
//   - InventoryHorizonSeconds: T, the AS time horizon, in seconds.
type StrategyConfig struct {
	Gamma                   float64         `mapstructure:"risk_aversion_gamma"`
	GammaMode               types.GammaMode `mapstructure:"gamma_mode"`
	MaxShiftTicks           float64         `mapstructure:"max_shift_ticks"`
	InventoryHorizonSeconds float64         `mapstructure:"inventory_horizon_seconds"`
}

// FeesConfig holds maker/taker fee rates in basis points and the per-side
// fill cooldown.
type FeesConfig struct {
	MakerBps         float64 `mapstructure:"maker_fee_bps"`
	TakerBps         float64 `mapstructure:"taker_fee_bps"`
	FillCooldownSecs float64 `mapstructure:"fill_cooldown_seconds"`
}

// EngineConfig tunes the backtest engine's state machine (§4.F).
type EngineConfig struct {
	GapThresholdSeconds  float64 `mapstructure:"gap_threshold_seconds"`
	WarmupPeriodSeconds  float64 `mapstructure:"warmup_period_seconds"`
	QuoteValiditySeconds float64 `mapstructure:"quote_validity_seconds"`
}

// CalibrationConfig tunes the rolling calibrator (§4.D).
type CalibrationConfig struct {
	WindowSeconds             float64 `mapstructure:"calibration_window_seconds"`
	RecalibrationIntervalSecs float64 `mapstructure:"recalibration_interval_seconds"`
	MinVolatility             float64 `mapstructure:"min_volatility"`
	MaxVolatility             float64 `mapstructure:"max_volatility"`
}

// SpreadConfig bounds the quoted spread in basis points of mid.
type SpreadConfig struct {
	MinSpreadBps float64 `mapstructure:"min_spread_bps"`
	MaxSpreadBps float64 `mapstructure:"max_spread_bps"`
}

// RiskConfig sets hard position limits, order sizing, and the tick size.
type RiskConfig struct {
	InventoryMax float64 `mapstructure:"inventory_max"`
	UnitSize     float64 `mapstructure:"unit_size"`
	TickSize     float64 `mapstructure:"tick_size"`
	InitialCash  float64 `mapstructure:"initial_cash"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the optional live-run observability server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Scalar overrides use env vars prefixed BT_, e.g. BT_DATA_DIRECTORY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if dir := os.Getenv("BT_DATA_DIRECTORY"); dir != "" {
		cfg.DataDir = dir
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("markets is required (at least one market)")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_directory is required")
	}
	if c.Strategy.Gamma <= 0 {
		return fmt.Errorf("strategy.risk_aversion_gamma must be > 0")
	}
	switch c.Strategy.GammaMode {
	case types.GammaConstant, types.GammaInventoryScaled, types.GammaMaxShift:
	case "":
		c.Strategy.GammaMode = types.GammaConstant
	default:
		return fmt.Errorf("strategy.gamma_mode must be one of: constant, inventory_scaled, max_shift")
	}
	if c.Strategy.GammaMode == types.GammaMaxShift && c.Strategy.MaxShiftTicks <= 0 {
		return fmt.Errorf("strategy.max_shift_ticks must be > 0 when gamma_mode is max_shift")
	}
	if c.Strategy.InventoryHorizonSeconds <= 0 {
		return fmt.Errorf("strategy.inventory_horizon_seconds must be > 0")
	}
	if c.Risk.TickSize <= 0 {
		return fmt.Errorf("risk.tick_size must be > 0")
	}
	if c.Risk.InventoryMax <= 0 {
		return fmt.Errorf("risk.inventory_max must be > 0")
	}
	if c.Risk.UnitSize <= 0 {
		return fmt.Errorf("risk.unit_size must be > 0")
	}
	if c.Spread.MinSpreadBps <= 0 {
		return fmt.Errorf("spread.min_spread_bps must be > 0")
	}
	if c.Spread.MaxSpreadBps < c.Spread.MinSpreadBps {
		return fmt.Errorf("spread.max_spread_bps must be >= spread.min_spread_bps")
	}
	if c.Calibration.WindowSeconds <= 0 {
		return fmt.Errorf("calibration.calibration_window_seconds must be > 0")
	}
	if c.Calibration.RecalibrationIntervalSecs <= 0 {
		return fmt.Errorf("calibration.recalibration_interval_seconds must be > 0")
	}
	if c.Calibration.MinVolatility < 0 {
		return fmt.Errorf("calibration.min_volatility must be >= 0")
	}
	if c.Calibration.MaxVolatility <= c.Calibration.MinVolatility {
		return fmt.Errorf("calibration.max_volatility must be > calibration.min_volatility")
	}
	if c.Engine.WarmupPeriodSeconds < 0 {
		return fmt.Errorf("engine.warmup_period_seconds must be >= 0")
	}
	if c.Engine.WarmupPeriodSeconds > c.Calibration.WindowSeconds {
		return fmt.Errorf("engine.warmup_period_seconds must be <= calibration.calibration_window_seconds")
	}
	if c.Engine.GapThresholdSeconds <= 0 {
		return fmt.Errorf("engine.gap_threshold_seconds must be > 0")
	}
	if c.Engine.QuoteValiditySeconds <= 0 {
		return fmt.Errorf("engine.quote_validity_seconds must be > 0")
	}
	if c.Fees.MakerBps < 0 || c.Fees.TakerBps < 0 {
		return fmt.Errorf("fees.maker_fee_bps and fees.taker_fee_bps must be >= 0")
	}
	return nil
}
