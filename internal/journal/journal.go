package journal

import (
	"context"

	"codeberg.org/mutker/rlectl/internal/engine"
	"codeberg.org/mutker/rlectl/internal/errors"
	"codeberg.org/mutker/rlectl/internal/logger"
)

// Collector is the persistence boundary the daemon writes through
type Collector interface {
	Record(ctx context.Context, rec *engine.Record) error
	Close() error
}

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation used when the journal is disabled
type noopCollector struct{}

func NewService(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Journal disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	repo, err := NewRepository(cfg)
	if err != nil {
		return nil, err
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, rec *engine.Record) error {
	errFactory := errors.New()

	if rec == nil {
		return errFactory.New(ErrInvalidRecord)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Append(rec); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}

	return nil
}

func (*noopCollector) Record(_ context.Context, _ *engine.Record) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}
