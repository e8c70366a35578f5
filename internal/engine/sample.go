package engine

import (
	"math"
	"time"
)

// Sample is one normalized telemetry reading for one device. Fields
// without a reading carry NaN; the engine substitutes a safe value
// and tags the tick instead of failing.
type Sample struct {
	DeviceID       string
	Timestamp      time.Time
	Utilization    float64 // fraction of full load, 0..1
	PowerW         float64
	TempC          float64
	SecondaryTempC float64
	FanPct         float64
}

// Missing reports whether a sensor field carries no usable reading
func Missing(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// NoReading is the sentinel for an absent sensor field
func NoReading() float64 {
	return math.NaN()
}

// Alert tags a per-tick anomaly or event on the emitted record.
type Alert string

const (
	AlertSensorGap       Alert = "SENSOR_GAP"
	AlertThetaGap        Alert = "THETA_GAP"
	AlertThermalCollapse Alert = "THERMAL_COLLAPSE"
	AlertPowerCollapse   Alert = "POWER_COLLAPSE"
)

// resolve returns a usable value for a possibly-missing field,
// preferring the last known good reading over the static default.
func resolve(v, lastGood float64, haveLast bool, def float64) (float64, bool) {
	if !Missing(v) {
		return v, false
	}
	if haveLast {
		return lastGood, true
	}

	return def, true
}
