package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/logger"
	"codeberg.org/mutker/vramwatch/internal/vram"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
}

// NewRepository opens (and if necessary creates) the SQLite database and
// validates its schema.
func NewRepository(cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// Ensure the directory exists
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

	// Open database with specific pragmas for better performance and safety
	dsn := cfg.DBPath + "?_journal=WAL&_foreign_keys=on&_busy_timeout=5000"
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

	// One connection serializes writers; readers queue behind the busy timeout
	db.SetMaxOpenConns(1)

	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("Snapshot repository initialized")

	return &repository{
		db:     db,
		logger: log,
		cfg:    cfg,
	}, nil
}

func (r *repository) Close() error {
	errFactory := errors.New()

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Snapshot repository closed gracefully")

	return nil
}

func (r *repository) CreateNode(ctx context.Context, name, host string, port int) (*Node, error) {
	errFactory := errors.New()

	var count int
	err := r.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM nodes WHERE name = ? OR (host = ? AND port = ?)
    `, name, host, port).Scan(&count)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	if count > 0 {
		return nil, errFactory.WithData(ErrDuplicateNode, struct {
			Name string
			Host string
			Port int
		}{
			Name: name,
			Host: host,
			Port: port,
		})
	}

	node := &Node{
		ID:        uuid.NewString(),
		Name:      name,
		Host:      host,
		Port:      port,
		Enabled:   true,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	_, err = r.db.ExecContext(ctx, `
        INSERT INTO nodes (id, name, host, port, enabled, created_at)
        VALUES (?, ?, ?, ?, 1, ?)
    `, node.ID, node.Name, node.Host, node.Port, node.CreatedAt.Unix())
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	r.logger.Info().
		Str("node_id", node.ID).
		Str("name", node.Name).
		Str("host", node.Host).
		Int("port", node.Port).
		Msg("Node registered")

	return node, nil
}

func (r *repository) GetNode(ctx context.Context, id string) (*Node, error) {
	errFactory := errors.New()

	node, err := scanNode(r.db.QueryRowContext(ctx, `
        SELECT id, name, host, port, enabled, created_at, last_seen
        FROM nodes WHERE id = ?
    `, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errFactory.WithData(ErrNodeNotFound, id)
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return node, nil
}

func (r *repository) ListNodes(ctx context.Context) ([]Node, error) {
	return r.listNodes(ctx, `
        SELECT id, name, host, port, enabled, created_at, last_seen
        FROM nodes ORDER BY name
    `)
}

func (r *repository) ListEnabledNodes(ctx context.Context) ([]Node, error) {
	return r.listNodes(ctx, `
        SELECT id, name, host, port, enabled, created_at, last_seen
        FROM nodes WHERE enabled = 1 ORDER BY name
    `)
}

func (r *repository) listNodes(ctx context.Context, query string) ([]Node, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return nodes, nil
}

func (r *repository) UpdateNode(ctx context.Context, id string, update NodeUpdate) (*Node, error) {
	errFactory := errors.New()

	node, err := r.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		node.Name = *update.Name
	}
	if update.Host != nil {
		node.Host = *update.Host
	}
	if update.Port != nil {
		node.Port = *update.Port
	}
	if update.Enabled != nil {
		node.Enabled = *update.Enabled
	}

	// Reject collisions with other nodes
	var count int
	err = r.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM nodes
        WHERE id != ? AND (name = ? OR (host = ? AND port = ?))
    `, id, node.Name, node.Host, node.Port).Scan(&count)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	if count > 0 {
		return nil, errFactory.WithData(ErrDuplicateNode, struct {
			Name string
			Host string
			Port int
		}{
			Name: node.Name,
			Host: node.Host,
			Port: node.Port,
		})
	}

	_, err = r.db.ExecContext(ctx, `
        UPDATE nodes SET name = ?, host = ?, port = ?, enabled = ? WHERE id = ?
    `, node.Name, node.Host, node.Port, boolToInt(node.Enabled), id)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return node, nil
}

func (r *repository) DeleteNode(ctx context.Context, id string) error {
	errFactory := errors.New()

	res, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}
	if affected == 0 {
		return errFactory.WithData(ErrNodeNotFound, id)
	}

	r.logger.Info().Str("node_id", id).Msg("Node deleted with all history")

	return nil
}

// InsertSnapshot persists the snapshot and all child rows and updates the
// node's last_seen, as one all-or-nothing transaction. No partial snapshot
// is ever visible to readers.
func (r *repository) InsertSnapshot(ctx context.Context, nodeID string, snapshot *vram.Snapshot) (int64, error) {
	errFactory := errors.New()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				r.logger.Error().Err(err).Msg("Failed to roll back snapshot transaction")
			}
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, nodeID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errFactory.WithData(ErrNodeNotFound, nodeID)
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	res, err := tx.ExecContext(ctx, insertSnapshotSQL,
		nodeID,
		snapshot.Timestamp.Unix(),
		snapshot.TotalBytes,
		snapshot.UsedBytes,
		snapshot.FreeBytes,
		snapshot.ReservedBytes,
		snapshot.UsedPercent,
		snapshot.AllocatedBlocks,
		snapshot.FreeBlocks,
		snapshot.UtilizedBlocks,
		snapshot.AtomicAllocationsBytes,
		snapshot.FragmentationRatio,
		snapshot.NumProcesses,
		snapshot.NumThreads,
		snapshot.NumBlocks,
		snapshot.Derived.KVCacheUtilization,
		snapshot.Derived.MemoryUtilization,
		snapshot.Derived.MemoryFragmentation,
		snapshot.VLLMMetrics,
	)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	snapshotID, err := res.LastInsertId()
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	for i := range snapshot.Processes {
		p := &snapshot.Processes[i]
		if _, err := tx.ExecContext(ctx, insertProcessSQL,
			snapshotID, p.PID, p.Name, p.UsedBytes, p.ReservedBytes); err != nil {
			return 0, errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	for i := range snapshot.Threads {
		t := &snapshot.Threads[i]
		if _, err := tx.ExecContext(ctx, insertThreadSQL,
			snapshotID, t.ThreadID, t.AllocatedBytes, t.State); err != nil {
			return 0, errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	for i := range snapshot.Blocks {
		b := &snapshot.Blocks[i]
		if _, err := tx.ExecContext(ctx, insertBlockSQL,
			snapshotID, b.BlockID, b.Size, b.Type,
			boolToInt(b.Allocated), boolToInt(b.Utilized)); err != nil {
			return 0, errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	for i := range snapshot.ProfilerMetrics {
		m := &snapshot.ProfilerMetrics[i]
		if _, err := tx.ExecContext(ctx, insertNsightSQL,
			snapshotID, m.PID, boolToInt(m.Metric.Available),
			m.Metric.AtomicOperations, m.Metric.ThreadsPerBlock, m.Metric.BlocksPerSM,
			m.Metric.SharedMemoryUsage, m.Metric.Occupancy); err != nil {
			return 0, errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	touched, err := tx.ExecContext(ctx, `
        UPDATE nodes SET last_seen = ? WHERE id = ?
    `, snapshot.Timestamp.Unix(), nodeID)
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	affected, err := touched.RowsAffected()
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	if affected == 0 {
		return 0, errFactory.WithData(ErrNodeNotFound, nodeID)
	}

	if err := tx.Commit(); err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	return snapshotID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*Node, error) {
	var (
		node      Node
		enabled   int
		createdAt int64
		lastSeen  sql.NullInt64
	)

	err := row.Scan(&node.ID, &node.Name, &node.Host, &node.Port,
		&enabled, &createdAt, &lastSeen)
	if err != nil {
		return nil, err
	}

	node.Enabled = enabled != 0
	node.CreatedAt = time.Unix(createdAt, 0).UTC()
	if lastSeen.Valid {
		seen := time.Unix(lastSeen.Int64, 0).UTC()
		node.LastSeen = &seen
	}

	return &node, nil
}
