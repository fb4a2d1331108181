// Package calibrate implements the rolling parameter calibrator (§4.B-4.D):
// the volatility estimator, the exposure-aware fill-intensity MLE, and the
// sliding-window orchestrator that republishes CalibratedParams on a cadence.
package calibrate

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"

	"as-backtester/pkg/types"
)

// ErrInsufficientData is returned by estimators that cannot produce a fit
// from the data available. Callers treat this as "unfit", not fatal.
var ErrInsufficientData = errors.New("calibrate: insufficient data")

// MidPoint is one (ts_ms, mid) sample fed to the volatility estimator.
type MidPoint struct {
	TsMs int64
	Mid  float64
}

// EstimateVolatility computes sigma as the sample standard deviation of
// log-returns between consecutive mids, scaled to a per-second basis by
// dividing by sqrt(mean inter-sample seconds). Points with a non-positive
// mid are skipped entirely (neither side of a return is computed from
// them). Fewer than 2 usable points, or fewer than 2 log-returns over a
// positive time interval (so at least 3 usable points), is insufficient data.
//
// points must already be sorted by TsMs ascending and restricted to the
// calibration window by the caller.
func EstimateVolatility(points []MidPoint) (float64, error) {
	usable := make([]MidPoint, 0, len(points))
	for _, p := range points {
		if p.Mid > 0 {
			usable = append(usable, p)
		}
	}
	if len(usable) < 2 {
		return 0, ErrInsufficientData
	}

	logReturns := make([]float64, 0, len(usable)-1)
	intervals := make([]float64, 0, len(usable)-1)
	for i := 1; i < len(usable); i++ {
		prev, cur := usable[i-1], usable[i]
		dtSecs := float64(cur.TsMs-prev.TsMs) / 1000.0
		if dtSecs <= 0 {
			continue
		}
		logReturns = append(logReturns, math.Log(cur.Mid/prev.Mid))
		intervals = append(intervals, dtSecs)
	}
	if len(logReturns) < 2 {
		return 0, ErrInsufficientData
	}

	sampleStd := stat.StdDev(logReturns, nil)
	meanInterval := stat.Mean(intervals, nil)
	if meanInterval <= 0 {
		return 0, ErrInsufficientData
	}

	return sampleStd / math.Sqrt(meanInterval), nil
}

// ClampVolatility clamps sigma to [min, max], per spec §4.B: the estimator
// itself does not clamp, the caller does.
func ClampVolatility(sigma, min, max float64) float64 {
	if sigma < min {
		return min
	}
	if sigma > max {
		return max
	}
	return sigma
}

// midFromSnapshot derives a MidPoint from an OrderbookSnapshot, returning
// ok=false when either side of the book is empty.
func midFromSnapshot(s types.OrderbookSnapshot) (MidPoint, bool) {
	mid, ok := s.Mid()
	if !ok {
		return MidPoint{}, false
	}
	f, _ := mid.Float64()
	return MidPoint{TsMs: s.TsMs, Mid: f}, true
}
