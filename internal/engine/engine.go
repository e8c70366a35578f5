package engine

import (
	"math"

	"codeberg.org/mutker/rlectl/internal/errors"
)

const defaultAmbientC = 25.0

// deviceState carries everything the engine knows about one device.
// Created on the first sample, owned exclusively by the engine, and
// never shared with callers.
type deviceState struct {
	id string

	utilWin  *window
	tempWin  *window
	rleWin   *window
	rleMSWin *window

	clock *thetaClock
	det   *detector

	lastTemp  float64
	haveTemp  bool
	lastUtil  float64
	haveUtil  bool
	lastPower float64
	havePower bool
	lastFan   float64
	haveFan   bool

	lastTime int64 // unix nanos of the previous sample; 0 before first
	elapsedS float64

	peak float64

	ticks       int
	collapses   int
	maxSmoothed float64
}

// Engine derives the efficiency index and collapse verdict from a
// stream of Samples, one device state machine per device. It performs
// no I/O and is safe to advance devices in any order within a tick;
// it is not safe for concurrent use from multiple goroutines.
type Engine struct {
	params  Params
	devices map[string]*deviceState
	order   []string
}

func New(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidParams, err)
	}

	return &Engine{
		params:  params,
		devices: make(map[string]*deviceState),
	}, nil
}

func (e *Engine) Params() Params {
	return e.params
}

func (e *Engine) state(deviceID string) *deviceState {
	if st, ok := e.devices[deviceID]; ok {
		return st
	}

	st := &deviceState{
		id:       deviceID,
		utilWin:  newWindow(e.params.StabilityWindow),
		tempWin:  newWindow(e.params.StabilityWindow),
		rleWin:   newWindow(e.params.SmoothWindow),
		rleMSWin: newWindow(e.params.SmoothWindow),
		clock:    newThetaClock(e.params.ThetaClock, e.params.T0InitS, e.params.Class),
		det:      newDetector(e.params),
	}
	e.devices[deviceID] = st
	e.order = append(e.order, deviceID)

	return st
}

// Process advances one device state machine by one tick and emits the
// record for it. Missing or NaN fields degrade to safe substitutes
// and tag the record; Process never fails on sensor input.
func (e *Engine) Process(s Sample) Record {
	p := e.params
	st := e.state(s.DeviceID)
	st.ticks++

	var alerts []Alert

	// Resolve sensor gaps before any math sees the values
	util, gapUtil := resolve(s.Utilization, st.lastUtil, st.haveUtil, 0)
	util = clamp(util, 0, 1)
	temp, gapTemp := resolve(s.TempC, st.lastTemp, st.haveTemp, defaultAmbientC)
	power, gapPower := resolve(s.PowerW, st.lastPower, st.havePower, p.RatedPowerW*util)
	if power <= 0 {
		power = p.RatedPowerW * util
		gapPower = true
	}
	fan, _ := resolve(s.FanPct, st.lastFan, st.haveFan, 0)
	if gapUtil || gapTemp || gapPower {
		alerts = append(alerts, AlertSensorGap)
	}

	var dt float64
	if st.lastTime == 0 {
		dt = p.IntervalS
	} else {
		dt = float64(s.Timestamp.UnixNano()-st.lastTime) / 1e9
		if dt <= 0 {
			dt = p.IntervalS
		}
	}
	st.lastTime = s.Timestamp.UnixNano()
	st.elapsedS += dt

	st.utilWin.push(util)
	stability := stabilityScore(st.utilWin)

	var slope float64
	if st.haveTemp {
		slope = thermalSlope(st.lastTemp, temp, dt)
	}
	st.tempWin.push(temp)
	tSustain := sustainTime(p.TempLimitC, temp, slope, p.MaxTSustainS)

	st.lastUtil, st.haveUtil = util, true
	st.lastTemp, st.haveTemp = temp, true
	st.lastPower, st.havePower = power, true
	st.lastFan, st.haveFan = fan, true

	dtheta, thetaGap := st.clock.advance(dt)
	if thetaGap {
		alerts = append(alerts, AlertThetaGap)
	}
	tSustainHat := st.clock.normalize(tSustain)

	terms := computeEfficiency(util, stability, power, p.RatedPowerW, tSustainHat)

	st.rleWin.push(terms.rleRaw)
	smoothed := st.rleWin.mean()
	st.maxSmoothed = math.Max(st.maxSmoothed, smoothed)

	factors := microFactors{fMu: 1, fQ: 1, fS: 1, fP: 1}
	rawMS, smoothedMS := terms.rleRaw, smoothed
	if p.MicroScale {
		factors = microScaleFactor(p, power, temp, dtheta, st.clock.period(), st.tempWin.stddev())
		rawMS = terms.rleRaw * factors.fMu
		st.rleMSWin.push(rawMS)
		smoothedMS = st.rleMSWin.mean()
	}

	st.peak = math.Max(smoothed, st.peak*p.DecayFactor)

	weight, threshold := 1.0, float64(p.Hysteresis)
	warm := st.elapsedS >= p.WarmupS
	if p.ThetaClock {
		weight = dtheta
		threshold = float64(p.Hysteresis) * st.clock.normalize(p.IntervalS)
		warm = st.clock.elapsed() >= p.WarmupS/p.T0InitS
	}

	collapse, detAlerts := st.det.step(detectorInput{
		warm:      warm,
		util:      util,
		aLoad:     terms.aLoad,
		slope:     slope,
		smoothed:  smoothed,
		peak:      st.peak,
		tempC:     temp,
		tSustainS: tSustain,
		weight:    weight,
		threshold: threshold,
	})
	if len(detAlerts) > 0 {
		st.collapses++
	}
	alerts = append(alerts, detAlerts...)

	rec := Record{
		DeviceID:       s.DeviceID,
		Timestamp:      s.Timestamp,
		RLERaw:         terms.rleRaw,
		RLESmoothed:    smoothed,
		ETh:            terms.eTh,
		EPw:            terms.ePw,
		RollingPeak:    st.peak,
		Stability:      stability,
		ALoad:          terms.aLoad,
		TSustainS:      tSustain,
		UtilPct:        util * 100,
		PowerW:         power,
		TempC:          temp,
		SecondaryTempC: s.SecondaryTempC,
		FanPct:         fan,
		State:          st.det.current(),
		Collapse:       collapse,
		Alerts:         alerts,
		FMu:            factors.fMu,
		RLERawMS:       rawMS,
		RLESmoothedMS:  smoothedMS,
	}
	if p.ThetaClock {
		rec.T0S = st.clock.period()
		rec.ThetaIndex = st.clock.elapsed()
		rec.TSustainHat = tSustainHat
		rec.ThetaGap = thetaGap
	}

	return rec
}

// Devices returns the known device IDs in first-seen order
func (e *Engine) Devices() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)

	return out
}

// Summaries reports per-device session aggregates for the shutdown log
func (e *Engine) Summaries() []Summary {
	out := make([]Summary, 0, len(e.order))
	for _, id := range e.order {
		st := e.devices[id]
		out = append(out, Summary{
			DeviceID:  id,
			Ticks:     st.ticks,
			Collapses: st.collapses,
			PeakRLE:   st.maxSmoothed,
			State:     st.det.current(),
		})
	}

	return out
}
