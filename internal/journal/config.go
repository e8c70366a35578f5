package journal

import "codeberg.org/mutker/rlectl/internal/errors"

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/rlectl/journal.db"

	defaultBatchSize    = 32
	defaultBatchTimeout = 5
)

type Config struct {
	DBPath       string
	Enabled      bool
	BatchSize    int
	BatchTimeout int // seconds between background flushes
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		Enabled:      false,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 1 || c.BatchTimeout < 1 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout int
		}{c.BatchSize, c.BatchTimeout})
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
