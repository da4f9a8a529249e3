package store

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/vramwatch/internal/errors"
	"codeberg.org/mutker/vramwatch/internal/vram"
)

func (q RangeQuery) whereClause() (string, []any) {
	clause := " WHERE 1=1"
	var args []any

	if !q.Start.IsZero() {
		clause += " AND timestamp >= ?"
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		clause += " AND timestamp <= ?"
		args = append(args, q.End.Unix())
	}
	if q.NodeID != "" {
		clause += " AND node_id = ?"
		args = append(args, q.NodeID)
	}

	return clause, args
}

// SnapshotsInRange returns snapshots in the range, ascending by timestamp.
func (r *repository) SnapshotsInRange(ctx context.Context, q RangeQuery) ([]SnapshotRow, error) {
	where, args := q.whereClause()
	return r.querySnapshots(ctx,
		"SELECT "+snapshotColumns+" FROM vram_snapshots"+where+" ORDER BY timestamp ASC", args...)
}

// ListSnapshots returns a page of snapshots, newest first.
func (r *repository) ListSnapshots(ctx context.Context, limit, offset int, q RangeQuery) ([]SnapshotRow, error) {
	where, args := q.whereClause()
	args = append(args, limit, offset)
	return r.querySnapshots(ctx,
		"SELECT "+snapshotColumns+" FROM vram_snapshots"+where+
			" ORDER BY timestamp DESC LIMIT ? OFFSET ?", args...)
}

// LatestSnapshot returns the most recent snapshot, optionally for one node.
func (r *repository) LatestSnapshot(ctx context.Context, nodeID string) (*SnapshotRow, error) {
	errFactory := errors.New()

	where, args := RangeQuery{NodeID: nodeID}.whereClause()
	rows, err := r.querySnapshots(ctx,
		"SELECT "+snapshotColumns+" FROM vram_snapshots"+where+
			" ORDER BY timestamp DESC LIMIT 1", args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errFactory.New(ErrSnapshotNotFound)
	}

	return &rows[0], nil
}

func (r *repository) querySnapshots(ctx context.Context, query string, args ...any) ([]SnapshotRow, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var result []SnapshotRow
	for rows.Next() {
		var (
			s  SnapshotRow
			ts int64
		)
		if err := rows.Scan(
			&s.ID, &s.NodeID, &ts,
			&s.TotalBytes, &s.UsedBytes, &s.FreeBytes, &s.ReservedBytes, &s.UsedPercent,
			&s.AllocatedBlocks, &s.FreeBlocks, &s.UtilizedBlocks,
			&s.AtomicAllocationsBytes, &s.FragmentationRatio,
			&s.NumProcesses, &s.NumThreads, &s.NumBlocks,
			&s.KVCacheUtilization, &s.MemoryUtilization, &s.MemoryFragmentation,
		); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		s.Timestamp = time.Unix(ts, 0).UTC()
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return result, nil
}

// SnapshotDetail loads one snapshot with all of its child rows.
func (r *repository) SnapshotDetail(ctx context.Context, id int64) (*SnapshotDetail, error) {
	errFactory := errors.New()

	rows, err := r.querySnapshots(ctx,
		"SELECT "+snapshotColumns+" FROM vram_snapshots WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errFactory.WithData(ErrSnapshotNotFound, id)
	}

	detail := &SnapshotDetail{SnapshotRow: rows[0]}

	var metrics sql.NullString
	err = r.db.QueryRowContext(ctx,
		`SELECT vllm_metrics FROM vram_snapshots WHERE id = ?`, id).Scan(&metrics)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	detail.VLLMMetrics = metrics.String

	procRows, err := r.db.QueryContext(ctx, `
        SELECT pid, name, used_bytes, reserved_bytes
        FROM processes WHERE snapshot_id = ? ORDER BY id
    `, id)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer procRows.Close()
	for procRows.Next() {
		var p vram.Process
		if err := procRows.Scan(&p.PID, &p.Name, &p.UsedBytes, &p.ReservedBytes); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		detail.Processes = append(detail.Processes, p)
	}
	if err := procRows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	threadRows, err := r.db.QueryContext(ctx, `
        SELECT thread_id, allocated_bytes, state
        FROM threads WHERE snapshot_id = ? ORDER BY id
    `, id)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer threadRows.Close()
	for threadRows.Next() {
		var t vram.Thread
		if err := threadRows.Scan(&t.ThreadID, &t.AllocatedBytes, &t.State); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		detail.Threads = append(detail.Threads, t)
	}
	if err := threadRows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	blockRows, err := r.db.QueryContext(ctx, `
        SELECT block_id, size, block_type, allocated, utilized
        FROM blocks WHERE snapshot_id = ? ORDER BY id
    `, id)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer blockRows.Close()
	for blockRows.Next() {
		var (
			b                   vram.Block
			allocated, utilized int
		)
		if err := blockRows.Scan(&b.BlockID, &b.Size, &b.Type, &allocated, &utilized); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		b.Allocated = allocated != 0
		b.Utilized = utilized != 0
		detail.Blocks = append(detail.Blocks, b)
	}
	if err := blockRows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	nsightRows, err := r.db.QueryContext(ctx, `
        SELECT pid, available, atomic_operations, threads_per_block,
               blocks_per_sm, shared_memory_usage, occupancy
        FROM nsight_metrics WHERE snapshot_id = ? ORDER BY pid
    `, id)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer nsightRows.Close()
	for nsightRows.Next() {
		var (
			m         vram.ProfilerMetric
			available int
		)
		if err := nsightRows.Scan(&m.PID, &available,
			&m.Metric.AtomicOperations, &m.Metric.ThreadsPerBlock, &m.Metric.BlocksPerSM,
			&m.Metric.SharedMemoryUsage, &m.Metric.Occupancy); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		m.Metric.Available = available != 0
		detail.ProfilerMetrics = append(detail.ProfilerMetrics, m)
	}
	if err := nsightRows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return detail, nil
}

// Summarize aggregates snapshot statistics over the range. An empty range
// yields a summary with TotalSnapshots == 0; interpreting that as "no data"
// is the query layer's concern.
func (r *repository) Summarize(ctx context.Context, q RangeQuery) (*Summary, error) {
	errFactory := errors.New()

	where, args := q.whereClause()

	var (
		summary          Summary
		first, last      sql.NullInt64
		avgUsed          sql.NullFloat64
		maxUsed, minUsed sql.NullInt64
		avgPct, avgFrag  sql.NullFloat64
		maxFrag          sql.NullFloat64
	)

	err := r.db.QueryRowContext(ctx, `
        SELECT COUNT(*), MIN(timestamp), MAX(timestamp),
               AVG(used_bytes), MAX(used_bytes), MIN(used_bytes),
               AVG(used_percent), AVG(fragmentation_ratio), MAX(fragmentation_ratio)
        FROM vram_snapshots`+where, args...).Scan(
		&summary.TotalSnapshots, &first, &last,
		&avgUsed, &maxUsed, &minUsed,
		&avgPct, &avgFrag, &maxFrag,
	)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	if first.Valid {
		summary.TimeRangeStart = time.Unix(first.Int64, 0).UTC()
	}
	if last.Valid {
		summary.TimeRangeEnd = time.Unix(last.Int64, 0).UTC()
	}
	summary.AvgUsedBytes = avgUsed.Float64
	summary.MaxUsedBytes = maxUsed.Int64
	summary.MinUsedBytes = minUsed.Int64
	summary.AvgUsedPercent = avgPct.Float64
	summary.AvgFragmentation = avgFrag.Float64
	summary.MaxFragmentation = maxFrag.Float64

	return &summary, nil
}

// ProcessSamples returns process rows joined with their snapshot timestamps
// over the range, ascending by timestamp.
func (r *repository) ProcessSamples(ctx context.Context, q RangeQuery) ([]ProcessSample, error) {
	errFactory := errors.New()

	query := `
        SELECT p.pid, p.name, s.timestamp, p.used_bytes, p.reserved_bytes
        FROM processes p
        JOIN vram_snapshots s ON s.id = p.snapshot_id
        WHERE 1=1`
	var args []any
	if !q.Start.IsZero() {
		query += " AND s.timestamp >= ?"
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		query += " AND s.timestamp <= ?"
		args = append(args, q.End.Unix())
	}
	if q.NodeID != "" {
		query += " AND s.node_id = ?"
		args = append(args, q.NodeID)
	}
	query += " ORDER BY s.timestamp ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var samples []ProcessSample
	for rows.Next() {
		var (
			sample ProcessSample
			ts     int64
		)
		if err := rows.Scan(&sample.PID, &sample.Name, &ts,
			&sample.UsedBytes, &sample.ReservedBytes); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		sample.Timestamp = time.Unix(ts, 0).UTC()
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return samples, nil
}

// PurgeSnapshotsBefore deletes snapshots older than the cutoff. Child rows
// go with them through the cascade. Invoked explicitly by an operator; the
// store never expires data on its own.
func (r *repository) PurgeSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	errFactory := errors.New()

	res, err := r.db.ExecContext(ctx, `
        DELETE FROM vram_snapshots WHERE timestamp < ?
    `, cutoff.Unix())
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	r.logger.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Purged old snapshots")

	return deleted, nil
}
