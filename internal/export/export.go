package export

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/rlectl/internal/engine"
	"codeberg.org/mutker/rlectl/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 3 * time.Second

var (
	rleSmoothed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rlectl_rle_smoothed",
		Help: "Smoothed efficiency index",
	}, []string{"device"})

	rollingPeak = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rlectl_rolling_peak",
		Help: "Decaying peak reference for collapse detection",
	}, []string{"device"})

	sustainSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rlectl_t_sustain_seconds",
		Help: "Estimated seconds until the temperature limit is reached",
	}, []string{"device"})

	loadFactor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rlectl_a_load",
		Help: "Power draw as a fraction of rated power",
	}, []string{"device"})

	collapsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rlectl_collapse",
		Help: "Whether the device is currently in efficiency collapse",
	}, []string{"device"})

	collapseEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rlectl_collapse_events_total",
		Help: "Total transitions into the collapsed state",
	}, []string{"device"})
)

// Exporter publishes live efficiency gauges for scraping. It is an
// optional observer; the engine and journal never depend on it.
type Exporter struct {
	server *http.Server
}

func New(listenAddr string) *Exporter {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &Exporter{
		server: &http.Server{
			Addr:    listenAddr,
			Handler: mux,
		},
	}
}

// Start serves the metrics endpoint in the background
func (e *Exporter) Start() {
	go func() {
		logger.Info().Str("addr", e.server.Addr).Msg("Metrics exporter listening")
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics exporter failed")
		}
	}()
}

// Observe updates the gauges from one emitted record
func (e *Exporter) Observe(rec *engine.Record) {
	rleSmoothed.WithLabelValues(rec.DeviceID).Set(rec.RLESmoothed)
	rollingPeak.WithLabelValues(rec.DeviceID).Set(rec.RollingPeak)
	sustainSeconds.WithLabelValues(rec.DeviceID).Set(rec.TSustainS)
	loadFactor.WithLabelValues(rec.DeviceID).Set(rec.ALoad)

	if rec.Collapse {
		collapsed.WithLabelValues(rec.DeviceID).Set(1)
	} else {
		collapsed.WithLabelValues(rec.DeviceID).Set(0)
	}
	for _, alert := range rec.Alerts {
		if alert == engine.AlertThermalCollapse || alert == engine.AlertPowerCollapse {
			collapseEvents.WithLabelValues(rec.DeviceID).Inc()
		}
	}
}

// Close shuts the endpoint down, waiting briefly for in-flight scrapes
func (e *Exporter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return e.server.Shutdown(ctx)
}
