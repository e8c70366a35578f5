package engine

import (
	"codeberg.org/mutker/rlectl/internal/errors"
)

// DeviceClass bounds the adaptive internal period for a device family.
type DeviceClass string

const (
	ClassDesktop DeviceClass = "desktop"
	ClassMobile  DeviceClass = "mobile"
)

// periodBounds returns the allowed range for the internal period in seconds
func (c DeviceClass) periodBounds() (minS, maxS float64) {
	switch c {
	case ClassMobile:
		return 2, 120
	default:
		return 5, 600
	}
}

// IsValid reports whether the device class is recognized
func (c DeviceClass) IsValid() bool {
	switch c {
	case ClassDesktop, ClassMobile:
		return true
	default:
		return false
	}
}

// Params holds the full tuning surface of the efficiency engine.
// DefaultParams returns the documented defaults; every knob is
// validated once at startup and immutable afterwards.
type Params struct {
	RatedPowerW float64
	TempLimitC  float64
	Class       DeviceClass

	// IntervalS is the nominal sampling period in seconds
	IntervalS float64

	StabilityWindow int
	SmoothWindow    int
	MaxTSustainS    float64

	// Collapse detection
	WarmupS         float64
	DecayFactor     float64
	DropFraction    float64
	Hysteresis      int
	UtilGate        float64
	LoadGate        float64
	SlopeGateCPerS  float64
	EvidenceS       float64
	EvidenceMarginC float64
	LoadEvidence    float64

	// Time-base normalization
	ThetaClock bool
	T0InitS    float64

	// Diagnostic-only correction factor
	MicroScale bool
	SensorLSBC float64
	PowerKneeW float64
}

func DefaultParams() Params {
	return Params{
		RatedPowerW:     100,
		TempLimitC:      85,
		Class:           ClassDesktop,
		IntervalS:       1,
		StabilityWindow: 5,
		SmoothWindow:    5,
		MaxTSustainS:    3600,
		WarmupS:         60,
		DecayFactor:     0.998,
		DropFraction:    0.65,
		Hysteresis:      7,
		UtilGate:        0.60,
		LoadGate:        0.75,
		SlopeGateCPerS:  0.05,
		EvidenceS:       60,
		EvidenceMarginC: 5,
		LoadEvidence:    0.95,
		ThetaClock:      true,
		T0InitS:         60,
		MicroScale:      false,
		SensorLSBC:      0.1,
		PowerKneeW:      3,
	}
}

// Validate rejects out-of-range parameters before the engine starts.
// Per-tick processing assumes a validated parameter set and never
// re-checks.
func (p Params) Validate() error {
	errFactory := errors.New()

	check := func(ok bool, field string, value any) error {
		if ok {
			return nil
		}
		return errFactory.WithData(errors.ErrInvalidParams, struct {
			Field string
			Value any
		}{Field: field, Value: value})
	}

	if err := check(p.RatedPowerW > 0, "rated_power_w", p.RatedPowerW); err != nil {
		return err
	}
	if err := check(p.TempLimitC > 0 && p.TempLimitC <= 150, "temp_limit_c", p.TempLimitC); err != nil {
		return err
	}
	if err := check(p.Class.IsValid(), "device_class", p.Class); err != nil {
		return err
	}
	if err := check(p.IntervalS >= 0.2 && p.IntervalS <= 2, "interval_s", p.IntervalS); err != nil {
		return err
	}
	if err := check(p.StabilityWindow >= 1, "stability_window", p.StabilityWindow); err != nil {
		return err
	}
	if err := check(p.SmoothWindow >= 1, "smooth_window", p.SmoothWindow); err != nil {
		return err
	}
	if err := check(p.MaxTSustainS >= 1, "max_t_sustain_s", p.MaxTSustainS); err != nil {
		return err
	}
	if err := check(p.WarmupS >= 0, "warmup_s", p.WarmupS); err != nil {
		return err
	}
	if err := check(p.DecayFactor > 0 && p.DecayFactor <= 1, "decay_factor", p.DecayFactor); err != nil {
		return err
	}
	if err := check(p.DropFraction > 0 && p.DropFraction < 1, "drop_fraction", p.DropFraction); err != nil {
		return err
	}
	if err := check(p.Hysteresis >= 1, "hysteresis", p.Hysteresis); err != nil {
		return err
	}
	if err := check(p.UtilGate > 0 && p.UtilGate < 1, "util_gate", p.UtilGate); err != nil {
		return err
	}
	if err := check(p.LoadGate > 0, "load_gate", p.LoadGate); err != nil {
		return err
	}
	if err := check(p.SlopeGateCPerS > 0, "slope_gate_c_per_s", p.SlopeGateCPerS); err != nil {
		return err
	}
	if err := check(p.EvidenceS > 0, "evidence_s", p.EvidenceS); err != nil {
		return err
	}
	if err := check(p.EvidenceMarginC > 0, "evidence_margin_c", p.EvidenceMarginC); err != nil {
		return err
	}
	if err := check(p.LoadEvidence > 0, "load_evidence", p.LoadEvidence); err != nil {
		return err
	}
	if err := check(p.T0InitS > 0, "t0_init_s", p.T0InitS); err != nil {
		return err
	}
	if p.MicroScale {
		if err := check(p.SensorLSBC > 0, "sensor_lsb_c", p.SensorLSBC); err != nil {
			return err
		}
		if err := check(p.PowerKneeW > 0, "power_knee_w", p.PowerKneeW); err != nil {
			return err
		}
	}

	return nil
}
