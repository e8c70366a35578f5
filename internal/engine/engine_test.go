package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func feed(e *Engine, device string, tick int, dtS, util, powerW, tempC float64) Record {
	return e.Process(Sample{
		DeviceID:       device,
		Timestamp:      testBase.Add(time.Duration(float64(tick) * dtS * float64(time.Second))),
		Utilization:    util,
		PowerW:         powerW,
		TempC:          tempC,
		SecondaryTempC: NoReading(),
		FanPct:         40,
	})
}

func TestEngineRejectsInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.RatedPowerW = 0

	_, err := New(p)
	require.Error(t, err, "Expected a validation error for zero rated power")
}

// A steady high-utilization device near its thermal limit yields the
// documented index and factor values.
func TestEngineSteadyLoadIndex(t *testing.T) {
	p := DefaultParams()
	p.ThetaClock = false
	e, err := New(p)
	require.NoError(t, err)

	utils := []float64{0.92, 0.88, 0.92, 0.88, 0.90}
	temps := []float64{79.2, 79.4, 79.6, 79.8, 80.0}

	var rec Record
	for i := range utils {
		rec = feed(e, "gpu0", i, 1, utils[i], 100, temps[i])
	}

	assert.InDelta(t, 0.98243, rec.Stability, 1e-4, "Expected stability from the utilization window")
	assert.InDelta(t, 25.0, rec.TSustainS, 1e-9, "Expected 5 degrees of headroom at 0.2 C/s")
	assert.InDelta(t, 1.0, rec.ALoad, 1e-9, "Expected full rated power")
	assert.InDelta(t, 0.8502, rec.RLERaw, 1e-3, "Expected the canonical index value")
	assert.InDelta(t, 0.9446, rec.ETh, 1e-3, "Expected the thermal factor")
	assert.InDelta(t, 0.90, rec.EPw, 1e-9, "Expected the power factor")
	assert.Equal(t, StateWarmup, rec.State, "Expected the detector still in warmup")
	assert.False(t, rec.Collapse, "Expected no verdict during warmup")
}

func TestEngineMissingReadingsDegrade(t *testing.T) {
	p := DefaultParams()
	p.ThetaClock = false
	e, err := New(p)
	require.NoError(t, err)

	// First sample with no readings at all
	rec := e.Process(Sample{
		DeviceID:       "gpu0",
		Timestamp:      testBase,
		Utilization:    NoReading(),
		PowerW:         NoReading(),
		TempC:          NoReading(),
		SecondaryTempC: NoReading(),
		FanPct:         NoReading(),
	})
	assert.Contains(t, rec.Alerts, AlertSensorGap, "Expected a gap tag with no readings")
	assert.False(t, math.IsNaN(rec.RLERaw), "Expected a finite index")
	assert.False(t, math.IsNaN(rec.RLESmoothed), "Expected a finite smoothed index")
	assert.False(t, math.IsNaN(rec.TSustainS), "Expected a finite sustain time")
	assert.InDelta(t, 25.0, rec.TempC, 1e-9, "Expected the ambient default without a prior reading")
	assert.Zero(t, rec.UtilPct, "Expected zero utilization without a prior reading")

	// A good sample establishes last known values
	rec = feed(e, "gpu0", 1, 1, 0.9, 80, 70)
	assert.Empty(t, rec.Alerts, "Expected no tags on a complete sample")

	// Missing fields fall back to the last good reading
	rec = e.Process(Sample{
		DeviceID:    "gpu0",
		Timestamp:   testBase.Add(2 * time.Second),
		Utilization: NoReading(),
		PowerW:      NoReading(),
		TempC:       NoReading(),
		FanPct:      NoReading(),
	})
	assert.Contains(t, rec.Alerts, AlertSensorGap, "Expected a gap tag")
	assert.InDelta(t, 70.0, rec.TempC, 1e-9, "Expected the last good temperature")
	assert.InDelta(t, 80.0, rec.PowerW, 1e-9, "Expected the last good power")
	assert.InDelta(t, 90.0, rec.UtilPct, 1e-9, "Expected the last good utilization")
}

func TestEngineWarmupSuppressesDetection(t *testing.T) {
	p := DefaultParams()
	p.ThetaClock = false
	p.WarmupS = 10
	p.SmoothWindow = 1
	e, err := New(p)
	require.NoError(t, err)

	// Aggressive conditions from the very first tick
	for i := 0; i < 9; i++ {
		rec := feed(e, "gpu0", i, 1, 0.95, 98, 70+0.06*float64(i))
		assert.Equal(t, StateWarmup, rec.State, "Expected warmup on tick %d", i+1)
		assert.False(t, rec.Collapse, "Expected no verdict on tick %d", i+1)
	}
}

// Sustained high load with a deep drop against the rolling peak trips
// the verdict after the hysteresis run, and one benign tick recovers.
func TestEngineCollapseAndRecovery(t *testing.T) {
	p := DefaultParams()
	p.ThetaClock = false
	p.WarmupS = 0
	p.SmoothWindow = 1
	e, err := New(p)
	require.NoError(t, err)

	tick := 0

	// Establish the peak under a healthy load
	var rec Record
	for i := 0; i < 20; i++ {
		rec = feed(e, "gpu0", tick, 1, 0.9, 50, 60)
		tick++
	}
	require.Equal(t, StateStable, rec.State, "Expected stable state after the healthy phase")
	require.Greater(t, rec.RollingPeak, 1.7, "Expected the peak established by the healthy phase")

	// Sustained stress: high load, steady heating, degraded index
	temp := 60.0
	for i := 1; i <= 6; i++ {
		temp += 0.06
		rec = feed(e, "gpu0", tick, 1, 0.95, 98, temp)
		tick++
		assert.Equal(t, StateSuspect, rec.State, "Expected suspect state on stress tick %d", i)
		assert.False(t, rec.Collapse, "Expected no verdict before the hysteresis run, tick %d", i)
	}

	temp += 0.06
	rec = feed(e, "gpu0", tick, 1, 0.95, 98, temp)
	tick++
	assert.True(t, rec.Collapse, "Expected the verdict on the seventh stress tick")
	assert.Equal(t, StateCollapsed, rec.State, "Expected collapsed state")
	assert.Equal(t, []Alert{AlertPowerCollapse}, rec.Alerts, "Expected a power alert without thermal evidence")

	// Still collapsed while conditions hold, no repeat alert
	temp += 0.06
	rec = feed(e, "gpu0", tick, 1, 0.95, 98, temp)
	tick++
	assert.True(t, rec.Collapse, "Expected the verdict to persist")
	assert.Empty(t, rec.Alerts, "Expected no repeat alert inside the episode")

	// Load lifts, temperature flattens: immediate recovery
	rec = feed(e, "gpu0", tick, 1, 0.3, 40, temp)
	assert.False(t, rec.Collapse, "Expected recovery once conditions clear")
	assert.Equal(t, StateStable, rec.State, "Expected stable state after recovery")
}

func TestEngineThermalAlertPreferred(t *testing.T) {
	p := DefaultParams()
	p.ThetaClock = false
	p.WarmupS = 0
	p.SmoothWindow = 1
	e, err := New(p)
	require.NoError(t, err)

	tick := 0
	var rec Record
	for i := 0; i < 20; i++ {
		rec = feed(e, "gpu0", tick, 1, 0.9, 50, 60)
		tick++
	}

	// Fast heating close to the limit: thermal evidence dominates
	temp := 78.0
	for i := 0; i < 7; i++ {
		temp += 1.0
		rec = feed(e, "gpu0", tick, 1, 0.95, 98, temp)
		tick++
	}
	assert.Equal(t, StateCollapsed, rec.State, "Expected collapsed state")
	assert.Equal(t, []Alert{AlertThermalCollapse}, rec.Alerts, "Expected the thermal tag with thermal evidence")
}

func TestEnginePeakDecay(t *testing.T) {
	p := DefaultParams()
	p.ThetaClock = false
	e, err := New(p)
	require.NoError(t, err)

	var prevPeak float64
	utils := []float64{0.9, 0.95, 0.85, 0.92, 0.7, 0.6, 0.88, 0.5, 0.45, 0.9}
	for i, u := range utils {
		rec := feed(e, "gpu0", i, 1, u, 60+30*u, 65)

		assert.GreaterOrEqual(t, rec.RollingPeak, rec.RLESmoothed,
			"Expected the peak to cover the smoothed index, tick %d", i+1)
		if i > 0 {
			assert.GreaterOrEqual(t, rec.RollingPeak, prevPeak*p.DecayFactor-1e-12,
				"Expected the peak to decay no faster than the configured factor, tick %d", i+1)
		}
		prevPeak = rec.RollingPeak
	}
}

func TestEngineReplayIsDeterministic(t *testing.T) {
	p := DefaultParams()
	p.WarmupS = 0

	build := func() []Record {
		e, err := New(p)
		require.NoError(t, err)

		out := make([]Record, 0, 64)
		temp := 55.0
		for i := 0; i < 64; i++ {
			util := 0.5 + 0.4*math.Abs(math.Sin(float64(i)/5))
			temp += 0.3 * math.Sin(float64(i)/9)
			out = append(out, feed(e, "gpu0", i, 1, util, 100*util, temp))
		}

		return out
	}

	require.Equal(t, build(), build(), "Expected bit-identical records for the same input stream")
}

// One behavioral run at several sampling rates: the verdict should
// arrive after roughly the same wall time once the internal period has
// converged, regardless of how often samples arrive.
func TestEngineCollapseTimeRateInvariance(t *testing.T) {
	run := func(dtS float64) (bool, float64) {
		p := DefaultParams()
		p.WarmupS = 0
		p.SmoothWindow = 1
		e, err := New(p)
		require.NoError(t, err)

		tick := 0

		// Healthy phase, long enough for the period to converge
		for i := 0; i < 60; i++ {
			feed(e, "gpu0", tick, dtS, 0.9, 50, 60)
			tick++
		}

		// Stress phase at a fixed heating rate in wall time
		stressStart := tick
		temp := 60.0
		for i := 0; i < 200; i++ {
			temp += 0.06 * dtS
			rec := feed(e, "gpu0", tick, dtS, 0.95, 98, temp)
			tick++
			for _, a := range rec.Alerts {
				if a == AlertPowerCollapse || a == AlertThermalCollapse {
					return true, float64(tick-stressStart) * dtS
				}
			}
		}

		return false, 0
	}

	rates := []float64{0.5, 1, 2}
	times := make([]float64, len(rates))
	for i, dt := range rates {
		collapsed, wall := run(dt)
		require.True(t, collapsed, "Expected a verdict at %.1fs sampling", dt)
		times[i] = wall
	}

	for i, wall := range times {
		assert.InDelta(t, 7.5, wall, 1.5,
			"Expected the verdict after about seven nominal intervals of wall time at %.1fs sampling", rates[i])
	}
}

func TestEngineBenignSignalNeverCollapses(t *testing.T) {
	for _, dtS := range []float64{0.5, 1, 2} {
		p := DefaultParams()
		p.WarmupS = 0
		e, err := New(p)
		require.NoError(t, err)

		for i := 0; i < 300; i++ {
			rec := feed(e, "gpu0", i, dtS, 0.9, 50, 60)
			assert.False(t, rec.Collapse, "Expected no verdict on a benign signal at %.1fs sampling", dtS)
		}
	}
}

func TestEngineMicroScaleDiagnostics(t *testing.T) {
	p := DefaultParams()
	p.WarmupS = 0
	p.MicroScale = true
	e, err := New(p)
	require.NoError(t, err)

	var rec Record
	for i := 0; i < 20; i++ {
		rec = feed(e, "gpu0", i, 1, 0.9, 80, 65)
	}

	assert.Greater(t, rec.FMu, 0.0, "Expected a positive correction factor")
	assert.LessOrEqual(t, rec.FMu, 1.0, "Expected the factor capped at one")
	assert.InDelta(t, rec.RLERaw*rec.FMu, rec.RLERawMS, 1e-9, "Expected the scaled copy of the raw index")

	// Disabled: the secondary copies mirror the canonical values
	p.MicroScale = false
	e2, err := New(p)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		rec = feed(e2, "gpu0", i, 1, 0.9, 80, 65)
	}
	assert.InDelta(t, 1.0, rec.FMu, 1e-12, "Expected a unit factor when disabled")
	assert.Equal(t, rec.RLERaw, rec.RLERawMS, "Expected the raw copy to mirror")
	assert.Equal(t, rec.RLESmoothed, rec.RLESmoothedMS, "Expected the smoothed copy to mirror")
}

func TestEngineThetaFieldsOnlyWhenEnabled(t *testing.T) {
	p := DefaultParams()
	e, err := New(p)
	require.NoError(t, err)

	rec := feed(e, "gpu0", 0, 1, 0.9, 80, 65)
	assert.Greater(t, rec.T0S, 0.0, "Expected the period on the record")
	assert.Greater(t, rec.ThetaIndex, 0.0, "Expected the index on the record")

	p.ThetaClock = false
	e2, err := New(p)
	require.NoError(t, err)

	rec = feed(e2, "gpu0", 0, 1, 0.9, 80, 65)
	assert.Zero(t, rec.T0S, "Expected no period when disabled")
	assert.Zero(t, rec.ThetaIndex, "Expected no index when disabled")
}

func TestEngineTracksDevicesIndependently(t *testing.T) {
	p := DefaultParams()
	p.ThetaClock = false
	e, err := New(p)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		feed(e, "gpu0", i, 1, 0.9, 80, 70)
	}
	for i := 0; i < 4; i++ {
		feed(e, "gpu1", i, 1, 0.2, 20, 40)
	}

	assert.Equal(t, []string{"gpu0", "gpu1"}, e.Devices(), "Expected first-seen device order")

	summaries := e.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "gpu0", summaries[0].DeviceID)
	assert.Equal(t, 10, summaries[0].Ticks, "Expected per-device tick counts")
	assert.Equal(t, 4, summaries[1].Ticks, "Expected per-device tick counts")
	assert.Greater(t, summaries[0].PeakRLE, summaries[1].PeakRLE,
		"Expected the loaded device to carry the higher session peak")
}
