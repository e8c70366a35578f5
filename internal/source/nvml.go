package source

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/rlectl/internal/engine"
	"codeberg.org/mutker/rlectl/internal/errors"
	"codeberg.org/mutker/rlectl/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const milliWattsPerWatt = 1000.0

// nvmlSource reads live GPU telemetry through NVML. Individual
// readings the driver cannot provide degrade to NaN; the engine
// resolves and tags those downstream.
type nvmlSource struct {
	device   nvml.Device
	deviceID string
}

// NewNVML initializes NVML and binds to the GPU at the given index
func NewNVML(index int) (Source, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); !isNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if !isNVMLSuccess(ret) {
		nvml.Shutdown()
		return nil, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	deviceID := fmt.Sprintf("gpu%d", index)
	if name, ret := device.GetName(); isNVMLSuccess(ret) {
		logger.Info().Str("device", deviceID).Str("name", name).Msg("Detected GPU")
	} else {
		logger.Warn().Str("device", deviceID).Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
	}

	return &nvmlSource{
		device:   device,
		deviceID: deviceID,
	}, nil
}

func (s *nvmlSource) Name() string {
	return "nvml:" + s.deviceID
}

func (s *nvmlSource) Sample(_ context.Context) (engine.Sample, error) {
	sample := engine.Sample{
		DeviceID:       s.deviceID,
		Timestamp:      time.Now(),
		Utilization:    engine.NoReading(),
		PowerW:         engine.NoReading(),
		TempC:          engine.NoReading(),
		SecondaryTempC: engine.NoReading(),
		FanPct:         engine.NoReading(),
	}

	if util, ret := s.device.GetUtilizationRates(); isNVMLSuccess(ret) {
		sample.Utilization = float64(util.Gpu) / 100.0
	}
	if power, ret := s.device.GetPowerUsage(); isNVMLSuccess(ret) {
		sample.PowerW = float64(power) / milliWattsPerWatt
	}
	if temp, ret := s.device.GetTemperature(nvml.TEMPERATURE_GPU); isNVMLSuccess(ret) {
		sample.TempC = float64(temp)
	}
	if fan, ret := s.device.GetFanSpeed(); isNVMLSuccess(ret) {
		sample.FanPct = float64(fan)
	}

	return sample, nil
}

func (s *nvmlSource) Close() error {
	errFactory := errors.New()

	if ret := nvml.Shutdown(); !isNVMLSuccess(ret) {
		return errFactory.Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	return nil
}
