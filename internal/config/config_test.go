package config

import (
	"testing"

	"as-backtester/pkg/types"
)

func validConfig() Config {
	return Config{
		Markets:  []string{"BTC-PERP"},
		DataDir:  "./data/fixtures.db",
		MaxDepth: 20,
		Strategy: StrategyConfig{
			Gamma:                   0.1,
			GammaMode:               types.GammaConstant,
			InventoryHorizonSeconds: 3600,
		},
		Fees: FeesConfig{MakerBps: 1, TakerBps: 4.5, FillCooldownSecs: 30},
		Engine: EngineConfig{
			GapThresholdSeconds:  1800,
			WarmupPeriodSeconds:  900,
			QuoteValiditySeconds: 5,
		},
		Calibration: CalibrationConfig{
			WindowSeconds:             3600,
			RecalibrationIntervalSecs: 60,
			MinVolatility:             0.001,
			MaxVolatility:             10,
		},
		Spread: SpreadConfig{MinSpreadBps: 2, MaxSpreadBps: 500},
		Risk: RiskConfig{
			InventoryMax: 10,
			UnitSize:     0.1,
			TickSize:     0.5,
			InitialCash:  100000,
		},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	t.Parallel()
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsEmptyMarkets(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Markets = nil
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for empty markets")
	}
}

func TestValidateDefaultsGammaMode(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Strategy.GammaMode = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if c.Strategy.GammaMode != types.GammaConstant {
		t.Errorf("GammaMode = %q, want default %q", c.Strategy.GammaMode, types.GammaConstant)
	}
}

func TestValidateRejectsMaxShiftWithoutTicks(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Strategy.GammaMode = types.GammaMaxShift
	c.Strategy.MaxShiftTicks = 0
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for max_shift mode without max_shift_ticks")
	}
}

func TestValidateRejectsMaxSpreadBelowMin(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Spread.MaxSpreadBps = 1
	c.Spread.MinSpreadBps = 2
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error when max_spread_bps < min_spread_bps")
	}
}

func TestValidateRejectsWarmupLongerThanWindow(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Engine.WarmupPeriodSeconds = c.Calibration.WindowSeconds + 1
	if err := c.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error when warmup exceeds calibration window")
	}
}
