package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/scenecapture/internal/dataset"
	"github.com/banshee-data/scenecapture/internal/progress"
)

// LoadProgress returns the persisted cursor, or the zero cursor for a fresh
// database.
func (db *DB) LoadProgress(ctx context.Context) (progress.Cursor, error) {
	var c progress.Cursor
	err := db.QueryRowContext(ctx, `
		SELECT current_world_index, current_capture_index, current_scene_index, current_scene_count
		FROM capture_progress WHERE id = 1`,
	).Scan(&c.World, &c.Capture, &c.Scene, &c.Repetition)
	if errors.Is(err, sql.ErrNoRows) {
		return progress.Cursor{}, nil
	}
	if err != nil {
		return progress.Cursor{}, fmt.Errorf("load progress: %w", err)
	}
	return c, nil
}

func (db *DB) Lookup(ctx context.Context, kind dataset.Kind, token string) (dataset.Row, bool, error) {
	r := dataset.Row{Kind: kind, Token: token}
	var body string
	err := db.QueryRowContext(ctx,
		`SELECT scene_token, body FROM dataset_records WHERE kind = ? AND token = ?`,
		string(kind), token,
	).Scan(&r.SceneToken, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return dataset.Row{}, false, nil
	}
	if err != nil {
		return dataset.Row{}, false, fmt.Errorf("lookup %s %s: %w", kind, token, err)
	}
	r.Body = []byte(body)
	return r, true, nil
}

// Commit replaces the rows of replaceScenes, upserts rows and stores cursor
// in a single transaction.
func (db *DB) Commit(ctx context.Context, cursor progress.Cursor, replaceScenes []string, rows []dataset.Row) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	for _, scene := range replaceScenes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_records WHERE scene_token = ?`, scene); err != nil {
			return fmt.Errorf("replace scene %s: %w", scene, err)
		}
	}

	now := time.Now().UnixNano()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dataset_records (kind, token, scene_token, body, updated_at_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(kind, token) DO UPDATE SET
			scene_token = excluded.scene_token,
			body = excluded.body,
			updated_at_ns = excluded.updated_at_ns`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, string(r.Kind), r.Token, r.SceneToken, string(r.Body), now); err != nil {
			return fmt.Errorf("upsert %s %s: %w", r.Kind, r.Token, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO capture_progress (id, current_world_index, current_capture_index, current_scene_index, current_scene_count, updated_at_ns)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_world_index = excluded.current_world_index,
			current_capture_index = excluded.current_capture_index,
			current_scene_index = excluded.current_scene_index,
			current_scene_count = excluded.current_scene_count,
			updated_at_ns = excluded.updated_at_ns`,
		cursor.World, cursor.Capture, cursor.Scene, cursor.Repetition, now,
	); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rows returns every row of kind ordered by token.
func (db *DB) Rows(ctx context.Context, kind dataset.Kind) ([]dataset.Row, error) {
	q, err := db.QueryContext(ctx,
		`SELECT token, scene_token, body FROM dataset_records WHERE kind = ? ORDER BY token`,
		string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer q.Close()

	var out []dataset.Row
	for q.Next() {
		r := dataset.Row{Kind: kind}
		var body string
		if err := q.Scan(&r.Token, &r.SceneToken, &body); err != nil {
			return nil, err
		}
		r.Body = []byte(body)
		out = append(out, r)
	}
	return out, q.Err()
}

// Counts returns the number of persisted rows per kind.
func (db *DB) Counts(ctx context.Context) (map[dataset.Kind]int, error) {
	q, err := db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM dataset_records GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer q.Close()

	out := make(map[dataset.Kind]int)
	for q.Next() {
		var kind string
		var n int
		if err := q.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[dataset.Kind(kind)] = n
	}
	return out, q.Err()
}

// Reset deletes every dataset row and the progress cursor.
func (db *DB) Reset(ctx context.Context) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM dataset_records`,
		`DELETE FROM capture_progress`,
		`DELETE FROM capture_failures`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}
	return tx.Commit()
}

func (db *DB) RecordFailure(ctx context.Context, f progress.Failure) error {
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO capture_failures (run_id, level, world_index, capture_index, scene_index, repetition, message, occurred_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, f.Level.String(), f.Cursor.World, f.Cursor.Capture, f.Cursor.Scene, f.Cursor.Repetition, f.Message, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Failures lists recorded failures, oldest first. An empty runID lists every
// run.
func (db *DB) Failures(ctx context.Context, runID string) ([]progress.Failure, error) {
	q, err := db.QueryContext(ctx, `
		SELECT run_id, level, world_index, capture_index, scene_index, repetition, message, occurred_at_ns
		FROM capture_failures
		WHERE ? = '' OR run_id = ?
		ORDER BY id`, runID, runID)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer q.Close()

	var out []progress.Failure
	for q.Next() {
		var (
			f     progress.Failure
			level string
			at    int64
		)
		if err := q.Scan(&f.RunID, &level, &f.Cursor.World, &f.Cursor.Capture, &f.Cursor.Scene, &f.Cursor.Repetition, &f.Message, &at); err != nil {
			return nil, err
		}
		if f.Level, err = progress.ParseLevel(level); err != nil {
			return nil, err
		}
		f.At = time.Unix(0, at)
		out = append(out, f)
	}
	return out, q.Err()
}

var (
	_ dataset.Store    = (*DB)(nil)
	_ dataset.Reader   = (*DB)(nil)
	_ progress.Journal = (*DB)(nil)
)
