package engine

import "math"

const (
	thetaAlpha   = 0.2
	thetaMaxStep = 0.1
	gapFactor    = 3.0
	gapMinTicks  = 4
	dtWindowSize = 64
)

// thetaClock maintains the adaptive per-device internal period T0 and
// converts wall-clock elapsed time into a dimensionless multiple of
// it, so downstream collapse thresholds are insensitive to the
// sampling rate.
type thetaClock struct {
	enabled bool
	t0      float64
	minT0   float64
	maxT0   float64

	index float64
	comp  float64 // Kahan compensation for the theta index

	dts *window // recent observed intervals, for gap flagging
}

func newThetaClock(enabled bool, initS float64, class DeviceClass) *thetaClock {
	minT0, maxT0 := class.periodBounds()

	return &thetaClock{
		enabled: enabled,
		t0:      clamp(initS, minT0, maxT0),
		minT0:   minT0,
		maxT0:   maxT0,
		dts:     newWindow(dtWindowSize),
	}
}

// advance folds one observed interval into the clock. It returns the
// dimensionless elapsed time for this tick and whether the interval
// was anomalously long relative to the recent cadence. When the clock
// is disabled the tick passes through in wall seconds.
func (c *thetaClock) advance(dt float64) (dtheta float64, gap bool) {
	if c.dts.len() >= gapMinTicks {
		gap = dt > gapFactor*math.Max(c.dts.median(), epsTime)
	}
	c.dts.push(dt)

	if !c.enabled {
		return dt, gap
	}

	// EMA toward the observed interval, at most ±10% per step, then
	// clamped to the device-class range
	ema := (1-thetaAlpha)*c.t0 + thetaAlpha*dt
	stepped := clamp(ema, c.t0*(1-thetaMaxStep), c.t0*(1+thetaMaxStep))
	c.t0 = clamp(stepped, c.minT0, c.maxT0)

	dtheta = dt / math.Max(c.t0, epsTime)

	y := dtheta - c.comp
	t := c.index + y
	c.comp = (t - c.index) - y
	c.index = t

	return dtheta, gap
}

// normalize rescales a duration in seconds into theta units
func (c *thetaClock) normalize(seconds float64) float64 {
	if !c.enabled {
		return seconds
	}

	return seconds / math.Max(c.t0, epsTime)
}

func (c *thetaClock) period() float64 {
	return c.t0
}

func (c *thetaClock) elapsed() float64 {
	return c.index
}
