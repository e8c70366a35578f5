package source

import (
	"context"

	"codeberg.org/mutker/rlectl/internal/engine"
)

// Source produces one best-effort Sample per tick. Implementations
// substitute NaN for readings they cannot obtain rather than failing;
// a returned error means the source itself is unusable (or, for
// replay sources, exhausted).
type Source interface {
	// Name identifies the source for logging
	Name() string

	// Sample reads the current telemetry for the device
	Sample(ctx context.Context) (engine.Sample, error)

	// Close releases the underlying device or file
	Close() error
}
