package store

import (
	"database/sql"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS nodes (
	       id          TEXT PRIMARY KEY,
	       name        TEXT NOT NULL UNIQUE,
	       host        TEXT NOT NULL,
	       port        INTEGER NOT NULL DEFAULT 6767,
	       enabled     INTEGER NOT NULL DEFAULT 1 CHECK (enabled IN (0, 1)),
	       created_at  INTEGER NOT NULL,
	       last_seen   INTEGER
	   );
	   CREATE TABLE IF NOT EXISTS vram_snapshots (
	       id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	       node_id                  TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	       timestamp                INTEGER NOT NULL,
	       total_bytes              INTEGER NOT NULL,
	       used_bytes               INTEGER NOT NULL,
	       free_bytes               INTEGER NOT NULL,
	       reserved_bytes           INTEGER NOT NULL,
	       used_percent             REAL NOT NULL,
	       allocated_blocks         INTEGER NOT NULL,
	       free_blocks              INTEGER NOT NULL,
	       utilized_blocks          INTEGER NOT NULL,
	       atomic_allocations_bytes INTEGER NOT NULL,
	       fragmentation_ratio      REAL NOT NULL,
	       num_processes            INTEGER NOT NULL,
	       num_threads              INTEGER NOT NULL,
	       num_blocks               INTEGER NOT NULL,
	       kv_cache_utilization     REAL NOT NULL,
	       memory_utilization       REAL NOT NULL,
	       memory_fragmentation     REAL NOT NULL,
	       vllm_metrics             TEXT
	   );
	   CREATE INDEX IF NOT EXISTS idx_snapshots_node_time ON vram_snapshots(node_id, timestamp);
	   CREATE INDEX IF NOT EXISTS idx_snapshots_time ON vram_snapshots(timestamp);
	   CREATE TABLE IF NOT EXISTS processes (
	       id             INTEGER PRIMARY KEY AUTOINCREMENT,
	       snapshot_id    INTEGER NOT NULL REFERENCES vram_snapshots(id) ON DELETE CASCADE,
	       pid            INTEGER NOT NULL,
	       name           TEXT NOT NULL,
	       used_bytes     INTEGER NOT NULL,
	       reserved_bytes INTEGER NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_processes_snapshot ON processes(snapshot_id);
	   CREATE INDEX IF NOT EXISTS idx_processes_pid ON processes(pid);
	   CREATE TABLE IF NOT EXISTS threads (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       snapshot_id     INTEGER NOT NULL REFERENCES vram_snapshots(id) ON DELETE CASCADE,
	       thread_id       INTEGER NOT NULL,
	       allocated_bytes INTEGER NOT NULL,
	       state           TEXT NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_threads_snapshot ON threads(snapshot_id);
	   CREATE TABLE IF NOT EXISTS blocks (
	       id          INTEGER PRIMARY KEY AUTOINCREMENT,
	       snapshot_id INTEGER NOT NULL REFERENCES vram_snapshots(id) ON DELETE CASCADE,
	       block_id    INTEGER NOT NULL,
	       size        INTEGER NOT NULL,
	       block_type  TEXT NOT NULL,
	       allocated   INTEGER NOT NULL CHECK (allocated IN (0, 1)),
	       utilized    INTEGER NOT NULL CHECK (utilized IN (0, 1))
	   );
	   CREATE INDEX IF NOT EXISTS idx_blocks_snapshot ON blocks(snapshot_id);
	   CREATE TABLE IF NOT EXISTS nsight_metrics (
	       id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	       snapshot_id         INTEGER NOT NULL REFERENCES vram_snapshots(id) ON DELETE CASCADE,
	       pid                 INTEGER NOT NULL,
	       available           INTEGER NOT NULL CHECK (available IN (0, 1)),
	       atomic_operations   INTEGER,
	       threads_per_block   INTEGER,
	       blocks_per_sm       INTEGER,
	       shared_memory_usage INTEGER,
	       occupancy           REAL
	   );
	   CREATE INDEX IF NOT EXISTS idx_nsight_snapshot ON nsight_metrics(snapshot_id);`

	insertSnapshotSQL = `
    INSERT INTO vram_snapshots (
        node_id, timestamp,
        total_bytes, used_bytes, free_bytes, reserved_bytes, used_percent,
        allocated_blocks, free_blocks, utilized_blocks,
        atomic_allocations_bytes, fragmentation_ratio,
        num_processes, num_threads, num_blocks,
        kv_cache_utilization, memory_utilization, memory_fragmentation,
        vllm_metrics
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertProcessSQL = `
    INSERT INTO processes (snapshot_id, pid, name, used_bytes, reserved_bytes)
    VALUES (?, ?, ?, ?, ?)`

	insertThreadSQL = `
    INSERT INTO threads (snapshot_id, thread_id, allocated_bytes, state)
    VALUES (?, ?, ?, ?)`

	insertBlockSQL = `
    INSERT INTO blocks (snapshot_id, block_id, size, block_type, allocated, utilized)
    VALUES (?, ?, ?, ?, ?, ?)`

	insertNsightSQL = `
    INSERT INTO nsight_metrics (
        snapshot_id, pid, available,
        atomic_operations, threads_per_block, blocks_per_sm,
        shared_memory_usage, occupancy
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	snapshotColumns = `
        id, node_id, timestamp,
        total_bytes, used_bytes, free_bytes, reserved_bytes, used_percent,
        allocated_blocks, free_blocks, utilized_blocks,
        atomic_allocations_bytes, fragmentation_ratio,
        num_processes, num_threads, num_blocks,
        kv_cache_utilization, memory_utilization, memory_fragmentation`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database schema...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
		}{
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
