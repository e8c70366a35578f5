package config

import (
	"os"

	"codeberg.org/mutker/rlectl/internal/errors"
	"codeberg.org/mutker/rlectl/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	configEnvVar = "RLECTL_CONFIG"
)

// Config is the full configuration surface of the daemon. Values are
// resolved in order: defaults, config file, then command-line flags.
type Config struct {
	// Sampling
	Interval    float64 `mapstructure:"interval"`
	GPUIndex    int     `mapstructure:"gpu_index"`
	Replay      string  `mapstructure:"replay"`
	Device      string  `mapstructure:"device"`
	DeviceClass string  `mapstructure:"device_class"`

	// Device envelope
	RatedPower float64 `mapstructure:"rated_power"`
	TempLimit  float64 `mapstructure:"temp_limit"`

	// Collapse detection
	Warmup         float64 `mapstructure:"warmup"`
	DecayFactor    float64 `mapstructure:"decay_factor"`
	DropFraction   float64 `mapstructure:"drop_fraction"`
	Hysteresis     int     `mapstructure:"hysteresis"`
	UtilGate       float64 `mapstructure:"util_gate"`
	LoadGate       float64 `mapstructure:"load_gate"`
	SlopeGate      float64 `mapstructure:"slope_gate"`
	EvidenceWindow float64 `mapstructure:"evidence_window"`
	EvidenceMargin float64 `mapstructure:"evidence_margin"`
	LoadEvidence   float64 `mapstructure:"load_evidence"`

	// Time-base normalization
	ThetaClock bool `mapstructure:"theta_clock"`

	// Diagnostic correction factor
	MicroScale bool    `mapstructure:"micro_scale"`
	SensorLSB  float64 `mapstructure:"sensor_lsb"`
	PowerKnee  float64 `mapstructure:"power_knee"`

	// Collaborators
	Journal    bool   `mapstructure:"journal"`
	JournalDB  string `mapstructure:"database"`
	Export     bool   `mapstructure:"export"`
	ListenAddr string `mapstructure:"listen_addr"`

	LogLevel string `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	fs := pflag.NewFlagSet("rlectl", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Float64("interval", 1, "Seconds between samples")
	fs.Int("gpu-index", 0, "NVML index of the GPU to sample")
	fs.String("replay", "", "Replay a captured CSV session instead of sampling live")
	fs.String("device", "", "Device ID override for replayed sessions")
	fs.String("device-class", "desktop", "Device class for time-base bounds (desktop, mobile)")
	fs.Float64("rated-power", 100, "Rated device power in watts")
	fs.Float64("temp-limit", 85, "Temperature limit in Celsius")
	fs.Int("hysteresis", 7, "Consecutive qualifying ticks before collapse")
	fs.Bool("theta-clock", true, "Normalize collapse timing against the adaptive internal period")
	fs.Bool("micro-scale", false, "Compute the diagnostic micro-scale correction factor")
	fs.Bool("journal", false, "Persist records to the journal database")
	fs.String("database", "", "Journal database path")
	fs.Bool("export", false, "Serve Prometheus gauges")
	fs.String("listen-addr", ":9223", "Listen address for the metrics exporter")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if path := os.Getenv(configEnvVar); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rlectl")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	// Flags the user actually set override the config file
	fs.Visit(func(f *pflag.Flag) {
		v.Set(flagKey(f.Name), f.Value.String())
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", 1.0)
	v.SetDefault("gpu_index", 0)
	v.SetDefault("replay", "")
	v.SetDefault("device", "")
	v.SetDefault("device_class", "desktop")
	v.SetDefault("rated_power", 100.0)
	v.SetDefault("temp_limit", 85.0)
	v.SetDefault("warmup", 60.0)
	v.SetDefault("decay_factor", 0.998)
	v.SetDefault("drop_fraction", 0.65)
	v.SetDefault("hysteresis", 7)
	v.SetDefault("util_gate", 0.60)
	v.SetDefault("load_gate", 0.75)
	v.SetDefault("slope_gate", 0.05)
	v.SetDefault("evidence_window", 60.0)
	v.SetDefault("evidence_margin", 5.0)
	v.SetDefault("load_evidence", 0.95)
	v.SetDefault("theta_clock", true)
	v.SetDefault("micro_scale", false)
	v.SetDefault("sensor_lsb", 0.1)
	v.SetDefault("power_knee", 3.0)
	v.SetDefault("journal", false)
	v.SetDefault("database", "")
	v.SetDefault("export", false)
	v.SetDefault("listen_addr", ":9223")
	v.SetDefault("log_level", DefaultLogLevel)
}

// flagKey maps a dashed flag name onto its config file key
func flagKey(name string) string {
	switch name {
	case "gpu-index":
		return "gpu_index"
	case "device-class":
		return "device_class"
	case "rated-power":
		return "rated_power"
	case "temp-limit":
		return "temp_limit"
	case "theta-clock":
		return "theta_clock"
	case "micro-scale":
		return "micro_scale"
	case "listen-addr":
		return "listen_addr"
	case "log-level":
		return "log_level"
	default:
		return name
	}
}

// Validate rejects configurations the daemon cannot start with.
// Detailed engine parameter validation happens in the engine itself;
// this catches the plainly unusable values early with a clear message.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !logger.IsValidLevel(c.LogLevel) {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Interval < 0.2 || c.Interval > 2 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.RatedPower <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value float64
		}{Field: "rated_power", Value: c.RatedPower})
	}
	if c.TempLimit <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value float64
		}{Field: "temp_limit", Value: c.TempLimit})
	}
	if c.Journal && c.JournalDB == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "database")
	}

	return nil
}
