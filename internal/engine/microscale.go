package engine

import "math"

const (
	boltzmannJPerK = 1.380649e-23
	maxQuantaExp   = 50.0
	minFactor      = 1e-9
)

// microFactors is the diagnostic correction factor and its three
// terms. It scales only the secondary copies of the index; the
// rolling peak and the detector always see the canonical values.
type microFactors struct {
	fMu float64
	fQ  float64
	fS  float64
	fP  float64
}

// microScaleFactor penalizes readings taken in regimes where the
// measurement itself loses meaning: sample energy near the thermal
// noise floor, temperature jitter below the sensor's resolution, and
// power near the quantization knee. The three terms combine by
// geometric mean so any single bad regime drags the factor down.
func microScaleFactor(p Params, powerW, tempC, dtheta, t0S, tempJitterC float64) microFactors {
	tempK := math.Max(tempC+273.15, 273.15)
	pw := math.Max(powerW, epsLoad)

	// Thermal quanta per theta increment
	gamma := pw * math.Max(t0S, epsTime) / (boltzmannJPerK * tempK)
	quanta := gamma * math.Max(dtheta, 0)
	fQ := 1.0 - math.Exp(-math.Min(quanta, maxQuantaExp))

	// Sensor LSB vs measured jitter
	ratio := p.SensorLSBC / math.Max(tempJitterC, epsLoad)
	fS := 1.0 / (1.0 + ratio*ratio)

	// Low-power signal-to-noise knee
	fP := pw / (pw + p.PowerKneeW)

	fMu := clamp(math.Cbrt(fQ*fS*fP), minFactor, 1)

	return microFactors{fMu: fMu, fQ: fQ, fS: fS, fP: fP}
}
