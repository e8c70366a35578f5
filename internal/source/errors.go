package source

import (
	"codeberg.org/mutker/rlectl/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	// Initialization and Lifecycle Errors
	ErrInitFailed     = errors.ErrSensorInit
	ErrShutdownFailed = errors.ErrShutdownFailed
	ErrDeviceNotFound = errors.ErrDeviceNotFound

	// Read Errors
	ErrReadFailed = errors.ErrSensorRead
	ErrExhausted  = errors.ErrSensorExhausted

	// Replay Errors
	ErrReplayOpenFailed = errors.ErrorCode("source_replay_open_failed")
	ErrReplayBadHeader  = errors.ErrorCode("source_replay_bad_header")
)

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e *nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// newNVMLError creates an error from an NVML return code
func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

// isNVMLSuccess checks if a Return value indicates success
func isNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
