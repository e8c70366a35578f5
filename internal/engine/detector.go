package engine

import "math"

// DetectorState is the collapse state machine position for a device.
type DetectorState uint8

const (
	StateWarmup DetectorState = iota
	StateStable
	StateSuspect
	StateCollapsed
)

func (s DetectorState) String() string {
	switch s {
	case StateWarmup:
		return "warmup"
	case StateStable:
		return "stable"
	case StateSuspect:
		return "suspect"
	case StateCollapsed:
		return "collapsed"
	default:
		return "unknown"
	}
}

// detector is the gated, evidence-checked, hysteretic state machine
// that turns a sustained efficiency drop into a collapse verdict.
//
// Warmup -> Stable <-> Suspect -> Collapsed -> Stable. A tick
// qualifies only when the load/heating gate, the drop against the
// rolling peak, and at least one evidence condition all hold; any
// non-qualifying tick resets the accumulated hysteresis and recovers
// to Stable immediately.
type detector struct {
	p       Params
	state   DetectorState
	counter float64
}

func newDetector(p Params) *detector {
	return &detector{p: p}
}

type detectorInput struct {
	warm      bool
	util      float64
	aLoad     float64
	slope     float64
	smoothed  float64
	peak      float64
	tempC     float64
	tSustainS float64

	// weight is this tick's contribution toward the hysteresis
	// threshold; both are in theta units when the clock is enabled
	// and in ticks otherwise
	weight    float64
	threshold float64
}

func (d *detector) step(in detectorInput) (bool, []Alert) {
	if !in.warm {
		d.state = StateWarmup
		d.counter = 0
		return false, nil
	}

	underLoad := in.util > d.p.UtilGate || in.aLoad > d.p.LoadGate
	heating := in.slope > d.p.SlopeGateCPerS
	gate := underLoad && heating

	drop := in.smoothed < d.p.DropFraction*math.Max(in.peak, epsPeak)

	thermalEvidence := in.tSustainS < d.p.EvidenceS ||
		in.tempC > d.p.TempLimitC-d.p.EvidenceMarginC
	powerEvidence := in.aLoad > d.p.LoadEvidence

	if !(gate && drop && (thermalEvidence || powerEvidence)) {
		d.state = StateStable
		d.counter = 0
		return false, nil
	}

	d.counter += in.weight
	if d.counter < in.threshold {
		d.state = StateSuspect
		return false, nil
	}

	var alerts []Alert
	if d.state != StateCollapsed {
		if thermalEvidence {
			alerts = append(alerts, AlertThermalCollapse)
		} else {
			alerts = append(alerts, AlertPowerCollapse)
		}
	}
	d.state = StateCollapsed

	return true, alerts
}

func (d *detector) current() DetectorState {
	return d.state
}
