package engine

import "math"

// Epsilon clamps for degenerate denominators. Division-by-near-zero
// degrades to a safe extreme value and never surfaces as an error.
const (
	epsLoad    = 1e-6
	epsTime    = 1e-6
	epsSlope   = 1e-3
	epsHeadC   = 1e-3
	epsPeak    = 1e-6
	minSlopeDt = 1e-3
)

// stabilityScore maps utilization variance into (0, 1]. A perfectly
// steady load scores 1; variance pulls the score toward zero.
func stabilityScore(utilWin *window) float64 {
	return 1.0 / (1.0 + utilWin.stddev())
}

// thermalSlope is the finite-difference heating rate in °C/s. The
// raw (possibly negative) slope feeds the detector gate.
func thermalSlope(prevTemp, curTemp, dt float64) float64 {
	return (curTemp - prevTemp) / math.Max(dt, minSlopeDt)
}

// sustainTime estimates seconds until the temperature limit is
// reached at the current heating rate. Cooling or flat temperature
// reads as effectively unlimited headroom, capped at maxS.
func sustainTime(tempLimitC, tempNowC, slope, maxS float64) float64 {
	headroom := math.Max(tempLimitC-tempNowC, epsHeadC)
	t := headroom / math.Max(slope, epsSlope)

	return clamp(t, 1, maxS)
}

// efficiencyTerms holds the per-tick outputs of the efficiency formula.
type efficiencyTerms struct {
	rleRaw float64
	eTh    float64
	ePw    float64
	aLoad  float64
}

// computeEfficiency evaluates the canonical index and its two
// diagnostic factors. tSustainHat is the normalized time-to-limit
// (raw seconds when the theta clock is disabled). Idle devices
// (near-zero load) yield a near-zero index rather than an error.
func computeEfficiency(util, stability, powerW, ratedPowerW, tSustainHat float64) efficiencyTerms {
	aLoad := powerW / math.Max(ratedPowerW, epsLoad)
	horizon := 1.0 + 1.0/math.Max(tSustainHat, epsTime)
	denom := math.Max(aLoad, epsLoad) * horizon

	return efficiencyTerms{
		rleRaw: (util * stability) / denom,
		eTh:    stability / horizon,
		ePw:    util / math.Max(aLoad, epsLoad),
		aLoad:  aLoad,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}
