package store

import "codeberg.org/mutker/vramwatch/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")

	// Schema errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")

	// Storage errors
	ErrStorageInit       = errors.ErrInitFailed
	ErrStorageAccess     = errors.ErrorCode("store_access_failed")
	ErrStorageClose      = errors.ErrShutdownFailed
	ErrTransactionFailed = errors.ErrorCode("store_transaction_failed")

	// Entity errors
	ErrNodeNotFound     = errors.ErrorCode("store_node_not_found")
	ErrDuplicateNode    = errors.ErrorCode("store_duplicate_node")
	ErrSnapshotNotFound = errors.ErrorCode("store_snapshot_not_found")
)
