package calibrate

import (
	"log/slog"

	"as-backtester/internal/observability"
	"as-backtester/pkg/types"
)

// sample is one ingested observation kept in the sliding calibration window.
// A sample is either a mid-price point (from a snapshot) or a tagged fill
// event plus its enclosing exposure window (from a trade + the snapshot
// interval it fell in); exactly one of the two payloads is populated.
type sample struct {
	tsMs int64

	mid MidPoint
	isMid bool

	fillSide  types.Side
	fill      FillEvent
	window    ExposureWindow
	isFillTag bool
}

// Calibrator maintains a time-bounded sliding window of mid points and
// tagged fill events, and republishes CalibratedParams on a fixed
// wall-clock cadence once enough history has accumulated (§4.D).
type Calibrator struct {
	windowSecs        float64
	recalIntervalSecs float64
	warmupSecs        float64
	minVol, maxVol    float64
	logger            *slog.Logger

	samples []sample

	windowStartTsMs int64
	lastFitTsMs     int64
	haveFit         bool
	params          types.CalibratedParams
}

// New constructs a Calibrator. windowSecs bounds the sliding window;
// recalIntervalSecs is the minimum wall-clock gap between recalibrations;
// warmupSecs is how much data (since window start or last reset) must be
// present before the first fire; minVol/maxVol clamp the published sigma.
// logger is used to report recoverable §7 conditions (UnfitParameters,
// NumericDomain) at Warn/Debug, mirroring the teacher's risk manager, which
// logs kill conditions but never panics.
func New(windowSecs, recalIntervalSecs, warmupSecs, minVol, maxVol float64, logger *slog.Logger) *Calibrator {
	return &Calibrator{
		windowSecs:        windowSecs,
		recalIntervalSecs: recalIntervalSecs,
		warmupSecs:        warmupSecs,
		minVol:            minVol,
		maxVol:            maxVol,
		logger:            logger,
		params:            types.DefaultUnfitParams(),
	}
}

// Reset clears the sliding window and fit state, used when the engine
// transitions back to Warmup after a gap (spec §4.F).
func (c *Calibrator) Reset(tsMs int64) {
	c.samples = c.samples[:0]
	c.windowStartTsMs = tsMs
	c.lastFitTsMs = 0
	c.haveFit = false
	c.params = types.DefaultUnfitParams()
}

// ObserveSnapshot records a mid-price point from a snapshot at tsMs, for
// the volatility estimator.
func (c *Calibrator) ObserveSnapshot(tsMs int64, mid float64) {
	if mid <= 0 {
		return
	}
	c.append(sample{tsMs: tsMs, isMid: true, mid: MidPoint{TsMs: tsMs, Mid: mid}})
}

// ObserveFill records a trade attributed to one side, tagged with its
// exposure window, for the intensity estimator.
func (c *Calibrator) ObserveFill(tsMs int64, side types.Side, fill FillEvent, window ExposureWindow) {
	c.append(sample{tsMs: tsMs, isFillTag: true, fillSide: side, fill: fill, window: window})
}

func (c *Calibrator) append(s sample) {
	c.samples = append(c.samples, s)
}

// evict drops samples with tsMs < nowMs - windowSecs*1000, bounding memory
// by time rather than count (spec §5).
func (c *Calibrator) evict(nowMs int64) {
	cutoff := nowMs - int64(c.windowSecs*1000)
	i := 0
	for i < len(c.samples) && c.samples[i].tsMs < cutoff {
		i++
	}
	if i > 0 {
		c.samples = append([]sample(nil), c.samples[i:]...)
	}
}

// Due reports whether recalibration should fire at nowMs: the recalibration
// interval has elapsed since the last fit, and at least warmupSecs of data
// has accumulated since the window/engine start.
func (c *Calibrator) Due(nowMs int64) bool {
	if float64(nowMs-c.windowStartTsMs)/1000.0 < c.warmupSecs {
		return false
	}
	if !c.haveFit {
		return true
	}
	return float64(nowMs-c.lastFitTsMs)/1000.0 >= c.recalIntervalSecs
}

// Recalibrate evicts stale samples, enforces the look-ahead invariant (only
// samples with tsMs < nowMs are used), fits volatility and per-side
// intensity, and atomically publishes the result. Returns the newly
// published params; on insufficient data the published params are replaced
// by types.DefaultUnfitParams (Unfit set), stamped with LastFitTs = nowMs.
func (c *Calibrator) Recalibrate(nowMs int64) types.CalibratedParams {
	c.evict(nowMs)

	var mids []MidPoint
	var bidEvents, askEvents []FillEvent
	var bidWindows, askWindows []ExposureWindow

	for _, s := range c.samples {
		if s.tsMs >= nowMs {
			continue // look-ahead invariant: defer to next tick
		}
		switch {
		case s.isMid:
			mids = append(mids, s.mid)
		case s.isFillTag:
			if s.fillSide == types.Buy {
				bidEvents = append(bidEvents, s.fill)
				bidWindows = append(bidWindows, s.window)
			} else {
				askEvents = append(askEvents, s.fill)
				askWindows = append(askWindows, s.window)
			}
		}
	}

	sigma, volErr := EstimateVolatility(mids)
	if volErr == nil {
		clamped := ClampVolatility(sigma, c.minVol, c.maxVol)
		if clamped != sigma {
			observability.IncNumericDomain()
			c.logf(slog.LevelDebug, "volatility clamped", "raw", sigma, "clamped", clamped, "min", c.minVol, "max", c.maxVol)
		}
		sigma = clamped
	}

	bidFit := FitIntensity(bidEvents, bidWindows)
	askFit := FitIntensity(askEvents, askWindows)
	if bidFit.Unfit {
		observability.IncFitUnfit("bid")
	}
	if askFit.Unfit {
		observability.IncFitUnfit("ask")
	}

	if bidFit.Unfit && !askFit.Unfit {
		c.logf(slog.LevelDebug, "bid intensity unfit, falling back to ask fit", "ts_ms", nowMs)
		bidFit = askFit
	} else if askFit.Unfit && !bidFit.Unfit {
		c.logf(slog.LevelDebug, "ask intensity unfit, falling back to bid fit", "ts_ms", nowMs)
		askFit = bidFit
	}

	totalEvents := len(bidEvents) + len(askEvents)

	c.lastFitTsMs = nowMs
	c.haveFit = true
	observability.IncRecalibration()

	if volErr != nil || bidFit.Unfit || askFit.Unfit || totalEvents < 2 {
		c.logf(slog.LevelWarn, "recalibration unfit, falling back to default parameters",
			"ts_ms", nowMs, "vol_err", volErr, "total_events", totalEvents)
		c.params = types.DefaultUnfitParams()
		c.params.LastFitTs = nowMs
		return c.params
	}

	c.params = types.CalibratedParams{
		Sigma:     sigma,
		ABid:      bidFit.A,
		KappaBid:  bidFit.Kappa,
		AAsk:      askFit.A,
		KappaAsk:  askFit.Kappa,
		LastFitTs: nowMs,
		Unfit:     false,
	}
	c.logf(slog.LevelDebug, "recalibrated", "ts_ms", nowMs, "sigma", sigma,
		"kappa_bid", bidFit.Kappa, "kappa_ask", askFit.Kappa)
	return c.params
}

func (c *Calibrator) logf(level slog.Level, msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Log(nil, level, msg, args...)
}

// Current returns the last published CalibratedParams without recomputing.
func (c *Calibrator) Current() types.CalibratedParams {
	return c.params
}
