package jobstate

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendLog appends p to jobID's build log. Appends are monotonic: each
// call's starting offset is the current total length of the log.
func (s *Store) AppendLog(ctx context.Context, jobID string, p []byte) error {
	ctx = ctxOrBackground(ctx)
	if len(p) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("jobstate: begin append log tx: %w", err)
	}
	defer tx.Rollback()

	total, err := logLength(tx, jobID)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, offset, data) VALUES (?, ?, ?)`,
		jobID, total, p,
	); err != nil {
		return fmt.Errorf("jobstate: insert log chunk: %w", err)
	}
	return tx.Commit()
}

func logLength(tx *sql.Tx, jobID string) (uint64, error) {
	row := tx.QueryRow(
		`SELECT COALESCE(MAX(offset + LENGTH(data)), 0) FROM job_logs WHERE job_id = ?`,
		jobID,
	)
	var total uint64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("jobstate: log length: %w", err)
	}
	return total, nil
}

// ReadLog returns up to maxBytes of log data starting at cursor, along with
// the cursor to resume from. If the job is terminal and cursor has reached
// the end of the log, eof is true and nextCursor equals cursor.
func (s *Store) ReadLog(ctx context.Context, jobID string, cursor, maxBytes uint64) (data []byte, nextCursor uint64, eof bool, err error) {
	ctx = ctxOrBackground(ctx)
	if maxBytes == 0 {
		maxBytes = 1 << 20
	}
	job, ok, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, cursor, false, err
	}
	if !ok {
		return nil, cursor, false, &JobNotFoundError{JobID: jobID}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT offset, data FROM job_logs WHERE job_id = ? AND offset + LENGTH(data) > ? ORDER BY offset ASC`,
		jobID, cursor,
	)
	if err != nil {
		return nil, cursor, false, fmt.Errorf("jobstate: read log: %w", err)
	}
	defer rows.Close()

	out := make([]byte, 0, maxBytes)
	pos := cursor
	for rows.Next() {
		var offset uint64
		var chunk []byte
		if err := rows.Scan(&offset, &chunk); err != nil {
			return nil, cursor, false, fmt.Errorf("jobstate: scan log chunk: %w", err)
		}
		if offset < pos {
			chunk = chunk[pos-offset:]
		}
		if uint64(len(out)+len(chunk)) > maxBytes {
			chunk = chunk[:maxBytes-uint64(len(out))]
		}
		out = append(out, chunk...)
		pos += uint64(len(chunk))
		if uint64(len(out)) >= maxBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, false, fmt.Errorf("jobstate: iterate log: %w", err)
	}

	total, err := s.totalLogLength(ctx, jobID)
	if err != nil {
		return nil, cursor, false, err
	}
	isEOF := job.State.Terminal() && pos >= total
	return out, pos, isEOF, nil
}

func (s *Store) totalLogLength(ctx context.Context, jobID string) (uint64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(offset + LENGTH(data)), 0) FROM job_logs WHERE job_id = ?`,
		jobID,
	)
	var total uint64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("jobstate: total log length: %w", err)
	}
	return total, nil
}
