package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/rlectl/internal/config"
	"codeberg.org/mutker/rlectl/internal/engine"
	"codeberg.org/mutker/rlectl/internal/errors"
	"codeberg.org/mutker/rlectl/internal/export"
	"codeberg.org/mutker/rlectl/internal/journal"
	"codeberg.org/mutker/rlectl/internal/logger"
	"codeberg.org/mutker/rlectl/internal/source"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	eng, err := engine.New(engineParams(cfg))
	if err != nil {
		return err
	}

	src, err := newSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	collector, err := journal.NewService(journalConfig(cfg))
	if err != nil {
		return err
	}

	var exporter *export.Exporter
	if cfg.Export {
		exporter = export.New(cfg.ListenAddr)
		exporter.Start()
		defer exporter.Close()
	}

	logger.Info().
		Str("source", src.Name()).
		Float64("interval", cfg.Interval).
		Bool("theta_clock", cfg.ThetaClock).
		Bool("journal", cfg.Journal).
		Msg("Sampling started")

	if cfg.Replay != "" {
		err = replayLoop(ctx, eng, src, collector, exporter)
	} else {
		err = sampleLoop(ctx, eng, src, collector, exporter)
	}

	// Shutdown: flush buffered records before reporting
	if cerr := collector.Close(); cerr != nil {
		logger.Error().Err(cerr).Msg("failed to close journal")
	}
	logSummaries(eng)

	return err
}

// sampleLoop drives live acquisition at the configured cadence. A
// failed read skips the tick; the engine handles partial readings
// itself.
func sampleLoop(ctx context.Context, eng *engine.Engine, src source.Source, collector journal.Collector, exporter *export.Exporter) error {
	interval := time.Duration(cfg.Interval * float64(time.Second))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sample, err := src.Sample(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("sample read failed, skipping tick")
				continue
			}
			emit(ctx, eng, sample, collector, exporter)
		}
	}
}

// replayLoop feeds a captured session through the engine as fast as
// the journal can keep up; timestamps come from the file.
func replayLoop(ctx context.Context, eng *engine.Engine, src source.Source, collector journal.Collector, exporter *export.Exporter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		sample, err := src.Sample(ctx)
		if errors.IsCode(err, errors.ErrSensorExhausted) {
			logger.Info().Msg("Replay complete")
			return nil
		}
		if err != nil {
			return err
		}
		emit(ctx, eng, sample, collector, exporter)
	}
}

func emit(ctx context.Context, eng *engine.Engine, sample engine.Sample, collector journal.Collector, exporter *export.Exporter) {
	rec := eng.Process(sample)

	logRecord(&rec)

	if err := collector.Record(ctx, &rec); err != nil {
		logger.Error().Err(err).Msg("failed to journal record")
	}
	if exporter != nil {
		exporter.Observe(&rec)
	}
}

func logRecord(rec *engine.Record) {
	if rec.Collapse || len(rec.Alerts) > 0 {
		logger.Warn().
			Str("device", rec.DeviceID).
			Str("state", rec.State.String()).
			Float64("rle_smoothed", rec.RLESmoothed).
			Float64("rolling_peak", rec.RollingPeak).
			Float64("t_sustain_s", rec.TSustainS).
			Str("alerts", rec.AlertString()).
			Msg("")
		return
	}

	logger.Info().
		Str("device", rec.DeviceID).
		Str("state", rec.State.String()).
		Float64("rle_smoothed", rec.RLESmoothed).
		Float64("rle_raw", rec.RLERaw).
		Float64("rolling_peak", rec.RollingPeak).
		Float64("temp_c", rec.TempC).
		Float64("power_w", rec.PowerW).
		Float64("util_pct", rec.UtilPct).
		Msg("")
}

func logSummaries(eng *engine.Engine) {
	for _, s := range eng.Summaries() {
		logger.Info().
			Str("device", s.DeviceID).
			Int("ticks", s.Ticks).
			Int("collapses", s.Collapses).
			Float64("peak_rle", s.PeakRLE).
			Str("state", s.State.String()).
			Msg("Session summary")
	}
	logger.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func newSource(cfg *config.Config) (source.Source, error) {
	if cfg.Replay != "" {
		return source.NewReplay(cfg.Replay, cfg.Device)
	}

	return source.NewNVML(cfg.GPUIndex)
}

func engineParams(cfg *config.Config) engine.Params {
	p := engine.DefaultParams()
	p.RatedPowerW = cfg.RatedPower
	p.TempLimitC = cfg.TempLimit
	p.Class = engine.DeviceClass(cfg.DeviceClass)
	p.IntervalS = cfg.Interval
	p.WarmupS = cfg.Warmup
	p.DecayFactor = cfg.DecayFactor
	p.DropFraction = cfg.DropFraction
	p.Hysteresis = cfg.Hysteresis
	p.UtilGate = cfg.UtilGate
	p.LoadGate = cfg.LoadGate
	p.SlopeGateCPerS = cfg.SlopeGate
	p.EvidenceS = cfg.EvidenceWindow
	p.EvidenceMarginC = cfg.EvidenceMargin
	p.LoadEvidence = cfg.LoadEvidence
	p.ThetaClock = cfg.ThetaClock
	p.MicroScale = cfg.MicroScale
	p.SensorLSBC = cfg.SensorLSB
	p.PowerKneeW = cfg.PowerKnee

	return p
}

func journalConfig(cfg *config.Config) journal.Config {
	jc := journal.DefaultConfig()
	jc.Enabled = cfg.Journal
	if cfg.JournalDB != "" {
		jc.DBPath = cfg.JournalDB
	}

	return jc
}
