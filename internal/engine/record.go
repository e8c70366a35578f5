package engine

import (
	"strings"
	"time"
)

// Record is the per-tick output of the engine: the efficiency index,
// its diagnostic factors, the detector verdict, and the resolved
// sensor values the index was computed from. Immutable once emitted.
type Record struct {
	DeviceID  string
	Timestamp time.Time

	RLERaw      float64
	RLESmoothed float64
	ETh         float64
	EPw         float64
	RollingPeak float64

	Stability float64
	ALoad     float64
	TSustainS float64

	UtilPct        float64
	PowerW         float64
	TempC          float64
	SecondaryTempC float64
	FanPct         float64

	State    DetectorState
	Collapse bool
	Alerts   []Alert

	// Time-base diagnostics; zero when the theta clock is disabled
	T0S         float64
	ThetaIndex  float64
	TSustainHat float64
	ThetaGap    bool

	// Micro-scale diagnostics; mirrors of the canonical values when
	// the correction factor is disabled
	FMu           float64
	RLERawMS      float64
	RLESmoothedMS float64
}

// AlertString serializes the alert set for columnar persistence
func (r *Record) AlertString() string {
	if len(r.Alerts) == 0 {
		return ""
	}

	tags := make([]string, len(r.Alerts))
	for i, a := range r.Alerts {
		tags[i] = string(a)
	}

	return strings.Join(tags, ",")
}

// Summary aggregates one device's session for the shutdown report.
type Summary struct {
	DeviceID  string
	Ticks     int
	Collapses int
	PeakRLE   float64
	State     DetectorState
}
