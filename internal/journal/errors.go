package journal

import "codeberg.org/mutker/rlectl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("journal_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("journal_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("journal_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("journal_schema_migration_failed")
	ErrSchemaViolation        = errors.ErrSchemaViolation
	ErrTransactionFailed      = errors.ErrorCode("journal_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed

	// Collection Errors
	ErrInvalidRecord = errors.ErrorCode("journal_invalid_record")
	ErrRecordFailed  = errors.ErrorCode("journal_record_failed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
	ErrServiceShutdown  = errors.ErrShutdownFailed
)
