// Avellaneda-Stoikov backtest research platform.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires the pipeline, runs to completion
//	internal/store             — historical store interface + in-memory/SQLite fixtures
//	internal/stream            — merges snapshots and trades into one chronological event sequence
//	internal/calibrate         — rolling volatility + exposure-aware fill-intensity calibrator
//	internal/quote             — Avellaneda-Stoikov quote model
//	internal/backtest          — event-driven engine + metrics sink
//	internal/observability     — Prometheus metrics
//	internal/api               — live dashboard (REST + websocket), purely observational
//
// Exit codes: 0 success, 2 configuration error, 3 input store error,
// 4 insufficient data (no snapshot ever passed warmup).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"as-backtester/internal/api"
	"as-backtester/internal/backtest"
	"as-backtester/internal/calibrate"
	"as-backtester/internal/config"
	"as-backtester/internal/observability"
	"as-backtester/internal/quote"
	"as-backtester/internal/store"
	"as-backtester/internal/stream"
	"as-backtester/pkg/types"
)

const (
	exitSuccess          = 0
	exitConfigError      = 2
	exitStoreError       = 3
	exitInsufficientData = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return exitConfigError
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hist, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open historical store", "error", err)
		return exitStoreError
	}
	if closer, ok := hist.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var dashboard *api.Server
	group, gctx := errgroup.WithContext(ctx)
	if cfg.Dashboard.Enabled {
		dashboard = api.NewServer(api.Config{
			Port:           cfg.Dashboard.Port,
			AllowedOrigins: cfg.Dashboard.AllowedOrigins,
		}, logger)
		group.Go(func() error { return dashboard.Run(gctx) })
		logger.Info("dashboard enabled", "port", cfg.Dashboard.Port)
	}

	anyArmed := false
	for _, market := range cfg.Markets {
		armed, runErr := runMarket(gctx, cfg, hist, market, dashboard, logger)
		if runErr != nil {
			logger.Error("market run failed", "market", market, "error", runErr)
			stop()
			if waitErr := group.Wait(); waitErr != nil {
				logger.Error("dashboard shutdown error", "error", waitErr)
			}
			var storeErr *store.ErrStoreError
			if errors.As(runErr, &storeErr) || errors.Is(runErr, stream.ErrInputOrderViolation) {
				return exitStoreError
			}
			return exitConfigError
		}
		anyArmed = anyArmed || armed
	}

	stop()
	if err := group.Wait(); err != nil {
		logger.Error("dashboard error", "error", err)
	}

	if !anyArmed {
		logger.Error("no market ever passed warmup; insufficient data")
		return exitInsufficientData
	}

	return exitSuccess
}

// runMarket runs one market's merged stream through the backtest engine to
// completion, reporting whether it ever left Warmup.
func runMarket(ctx context.Context, cfg *config.Config, hist store.HistoricalStore, market string, dashboard *api.Server, logger *slog.Logger) (bool, error) {
	marketLogger := logger.With("component", "backtest", "market", market)

	snapIter, err := hist.Snapshots(ctx, market)
	if err != nil {
		return false, fmt.Errorf("open snapshots for %s: %w", market, err)
	}
	tradeIter, err := hist.Trades(ctx, market)
	if err != nil {
		return false, fmt.Errorf("open trades for %s: %w", market, err)
	}

	s := stream.Merge(snapIter, tradeIter, marketLogger)
	defer s.Close()

	cal := calibrate.New(
		cfg.Calibration.WindowSeconds,
		cfg.Calibration.RecalibrationIntervalSecs,
		cfg.Engine.WarmupPeriodSeconds,
		cfg.Calibration.MinVolatility,
		cfg.Calibration.MaxVolatility,
		marketLogger,
	)

	metricsSink := backtest.NewMetricsSink(false)
	var sink backtest.Sink = metricsSink
	sink = observability.Wrap(sink)
	if dashboard != nil {
		sink = fanOutSink{first: sink, second: dashboard}
	}

	engine := backtest.New(backtest.Config{
		GapThresholdSecs: cfg.Engine.GapThresholdSeconds,
		WarmupPeriodSecs: cfg.Engine.WarmupPeriodSeconds,
		FillCooldownSecs: cfg.Fees.FillCooldownSecs,
		MakerFeeBps:      cfg.Fees.MakerBps,
		TakerFeeBps:      cfg.Fees.TakerBps,
		InventoryMax:     cfg.Risk.InventoryMax,
		UnitSize:         cfg.Risk.UnitSize,
		InitialCash:      decimal.NewFromFloat(cfg.Risk.InitialCash),
		Quote: quote.Params{
			Gamma:                cfg.Strategy.Gamma,
			GammaMode:            cfg.Strategy.GammaMode,
			MaxShiftTicks:        cfg.Strategy.MaxShiftTicks,
			InventoryHorizonSecs: cfg.Strategy.InventoryHorizonSeconds,
			TickSize:             decimal.NewFromFloat(cfg.Risk.TickSize),
			MinSpreadBps:         cfg.Spread.MinSpreadBps,
			MaxSpreadBps:         cfg.Spread.MaxSpreadBps,
			MakerFeeBps:          cfg.Fees.MakerBps,
			InventoryMax:         cfg.Risk.InventoryMax,
			QuoteValiditySecs:    cfg.Engine.QuoteValiditySeconds,
		},
	}, cal, sink, marketLogger)

	if err := engine.Run(ctx, s); err != nil {
		return false, fmt.Errorf("run market %s: %w", market, err)
	}

	summary := metricsSink.Summary()
	marketLogger.Info("run complete",
		"events", summary.EventsProcessed,
		"bid_fills", summary.TotalBidFills,
		"ask_fills", summary.TotalAskFills,
		"final_pnl", summary.FinalPnL.String(),
		"max_drawdown", summary.MaxDrawdown.String(),
	)

	return engine.EverArmed(), nil
}

// fanOutSink forwards every call to both underlying sinks, used to push
// metrics to the dashboard alongside the primary accumulating sink.
type fanOutSink struct {
	first  backtest.Sink
	second backtest.Sink
}

func (f fanOutSink) Emit(row types.MetricRow) {
	f.first.Emit(row)
	f.second.Emit(row)
}

func (f fanOutSink) Finish(summary types.RunSummary) {
	f.first.Finish(summary)
	f.second.Finish(summary)
}

func openStore(cfg *config.Config) (store.HistoricalStore, error) {
	return store.OpenSQLiteStore(cfg.DataDir)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
