package calibrate

import "math"

// SideFit is the estimated (A, kappa) pair for one quote side, the result
// of the exposure-aware truncated-exponential MLE (§4.C).
type SideFit struct {
	A     float64
	Kappa float64
	Unfit bool
}

// minTradesPerSide below which a side's own fit is discarded in favor of
// the other side's, per spec §4.C fallback rules.
const minTradesPerSide = 5

// kappaMin/kappaMax bound the golden-section search over kappa. The model
// has no natural upper bound on decay rate, but a search range wide enough
// to cover any plausible tick-to-mid ratio is sufficient in practice.
const (
	kappaMin = 1e-3
	kappaMax = 1e3
)

// FillEvent is one observed trade attributed to a quote side, tagged with
// its distance from the prevailing mid at the time it printed.
type FillEvent struct {
	Delta float64 // >= 0, distance from mid
}

// ExposureWindow is one snapshot interval's visible price band and
// duration on a single side, the (time x price) observation area the MLE
// integrates over.
type ExposureWindow struct {
	DeltaMin float64
	DeltaMax float64
	DurSecs  float64
}

// FitIntensity runs the exposure-aware truncated-exponential MLE for one
// side and returns its (A, kappa) fit. Returns Unfit=true (not an error)
// when fewer than minTradesPerSide events are available for this side —
// callers apply the cross-side fallback described in §4.C.
func FitIntensity(events []FillEvent, windows []ExposureWindow) SideFit {
	if len(events) < minTradesPerSide {
		return SideFit{Unfit: true}
	}

	n := float64(len(events))
	sumDelta := 0.0
	for _, e := range events {
		sumDelta += e.Delta
	}

	negLogLik := func(logKappa float64) float64 {
		kappa := math.Exp(logKappa)
		denom := exposureIntegral(windows, kappa)
		if denom <= 0 {
			return math.Inf(1)
		}
		aStar := n / denom
		// log-likelihood = N*log(A*) - kappa*sumDelta - A* * denom
		// the final term equals N by construction of A*, so it's a
		// constant offset; we keep it for clarity and numerical sanity.
		ll := n*math.Log(aStar) - kappa*sumDelta - aStar*denom
		return -ll
	}

	logKappa := goldenSectionMinimize(negLogLik, math.Log(kappaMin), math.Log(kappaMax), 100)
	kappa := math.Exp(logKappa)
	denom := exposureIntegral(windows, kappa)
	if denom <= 0 {
		return SideFit{Unfit: true}
	}
	a := n / denom

	if a <= 0 || kappa <= 0 || math.IsNaN(a) || math.IsNaN(kappa) {
		return SideFit{Unfit: true}
	}
	return SideFit{A: a, Kappa: kappa}
}

// exposureIntegral computes Sum_intervals Dt * (e^{-k*dmin} - e^{-k*dmax}) / k,
// falling back to the first-order expansion Dt*(dmax-dmin)*e^{-k*dmin} when
// k*(dmax-dmin) is small enough that the closed form loses precision to
// cancellation (spec §4.C: "integration denominator is numerically zero").
func exposureIntegral(windows []ExposureWindow, kappa float64) float64 {
	const smallArg = 1e-8
	total := 0.0
	for _, w := range windows {
		width := w.DeltaMax - w.DeltaMin
		if width <= 0 || w.DurSecs <= 0 {
			continue
		}
		arg := kappa * width
		var contrib float64
		if arg < smallArg {
			contrib = w.DurSecs * width * math.Exp(-kappa*w.DeltaMin)
		} else {
			contrib = w.DurSecs * (math.Exp(-kappa*w.DeltaMin) - math.Exp(-kappa*w.DeltaMax)) / kappa
		}
		total += contrib
	}
	return total
}

// goldenSectionMinimize finds the argmin of f on [lo, hi] via golden-section
// search. Bounded 1-D scalar minimization has no library in the dependency
// set used elsewhere in this module (gonum's optimize package targets
// multivariate gradient-based methods, not a bracketed scalar search), so
// this is implemented directly against the standard library.
func goldenSectionMinimize(f func(float64) float64, lo, hi float64, iters int) float64 {
	const invPhi = 0.6180339887498949 // (sqrt(5)-1)/2

	a, b := lo, hi
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc := f(c)
	fd := f(d)

	for i := 0; i < iters; i++ {
		if b-a < 1e-10 {
			break
		}
		if fc < fd {
			b = d
			d = c
			fd = fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a = c
			c = d
			fc = fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	return (a + b) / 2
}
