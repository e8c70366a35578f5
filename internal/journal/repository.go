package journal

import (
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/rlectl/internal/engine"
	"codeberg.org/mutker/rlectl/internal/errors"
	"codeberg.org/mutker/rlectl/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// Repository is the storage half of the journal
type Repository interface {
	Append(rec *engine.Record) error
	Close() error
}

type repository struct {
	db            *sql.DB
	cfg           Config
	mu            sync.Mutex
	buffer        []*engine.Record
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func NewRepository(cfg Config) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// WAL keeps the flusher from stalling readers
	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndMigrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Journal repository initialized")

	repo := &repository{
		db:            db,
		cfg:           cfg,
		buffer:        make([]*engine.Record, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	repo.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
	go repo.flusher()

	return repo, nil
}

// Append buffers one record; the write reaches disk when the batch
// fills or the flush timer fires, never inside the compute tick
func (r *repository) Append(rec *engine.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, rec)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) Close() error {
	close(r.shutdownChan)
	r.flushTicker.Stop()
	<-r.flushDoneChan

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	logger.Info().Msg("Journal repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				logger.Error().Err(err).Msg("Periodic journal flush failed")
			}
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			if err := r.flush(); err != nil {
				logger.Error().Err(err).Msg("Final journal flush failed")
			}
			r.mu.Unlock()
			return
		}
	}
}

func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertRecordSQL())
	if err != nil {
		if err := tx.Rollback(); err != nil {
			logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, rec := range r.buffer {
		if _, err := stmt.Exec(recordValues(rec)...); err != nil {
			if err := tx.Rollback(); err != nil {
				logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	logger.Debug().Int("records", len(r.buffer)).Msg("Flushed records to journal")
	r.buffer = r.buffer[:0]

	return nil
}

// recordValues lays out one record in schema column order
func recordValues(rec *engine.Record) []interface{} {
	return []interface{}{
		rec.Timestamp.UnixMilli(),
		rec.DeviceID,
		rec.RLESmoothed,
		rec.RLERaw,
		rec.ETh,
		rec.EPw,
		rec.RollingPeak,
		rec.TempC,
		nullableReading(rec.SecondaryTempC),
		rec.TSustainS,
		rec.PowerW,
		rec.UtilPct,
		rec.ALoad,
		rec.FanPct,
		int64(boolToInt(rec.Collapse)),
		rec.AlertString(),
		rec.T0S,
		rec.ThetaIndex,
		rec.TSustainHat,
		int64(boolToInt(rec.ThetaGap)),
		rec.FMu,
		rec.RLERawMS,
		rec.RLESmoothedMS,
	}
}

func nullableReading(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}

	return v
}
