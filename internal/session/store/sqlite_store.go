// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/StagOS/android-system-apex/internal/persistence/sqlite"
	"github.com/StagOS/android-system-apex/internal/session/lifecycle"
	"github.com/StagOS/android-system-apex/internal/session/model"
)

const schemaVersion = 1

// SqliteStore implements Store on SQLite.
type SqliteStore struct {
	db *sql.DB
}

var _ Store = (*SqliteStore)(nil)

// OpenSqliteStore initializes the SQLite-backed session store at dbPath.
func OpenSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s := &SqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migration failed: %v", ErrStorage, err)
	}
	return s, nil
}

func (s *SqliteStore) Close() error { return s.db.Close() }

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id      INTEGER PRIMARY KEY,
		state           TEXT NOT NULL,
		pending_retry   INTEGER NOT NULL DEFAULT 0,
		child_ids       TEXT NOT NULL,
		package_paths   TEXT NOT NULL,
		is_rollback     INTEGER NOT NULL DEFAULT 0,
		error_message   TEXT NOT NULL DEFAULT '',
		created_at_unix INTEGER NOT NULL,
		updated_at_unix INTEGER NOT NULL
	);`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Put(ctx context.Context, rec *model.Session) error {
	childIDs, paths, err := encodeLists(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, state, pending_retry, child_ids, package_paths, is_rollback, error_message, created_at_unix, updated_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			pending_retry = excluded.pending_retry,
			child_ids = excluded.child_ids,
			package_paths = excluded.package_paths,
			is_rollback = excluded.is_rollback,
			error_message = excluded.error_message,
			created_at_unix = excluded.created_at_unix,
			updated_at_unix = excluded.updated_at_unix`,
		rec.ID, string(rec.State), boolToInt(rec.PendingRetry), childIDs, paths,
		boolToInt(rec.IsRollback), rec.ErrorMessage, rec.CreatedAtUnix, rec.UpdatedAtUnix)
	if err != nil {
		return fmt.Errorf("%w: commit session %d: %v", ErrStorage, rec.ID, err)
	}
	return nil
}

func (s *SqliteStore) Get(ctx context.Context, id int) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, state, pending_retry, child_ids, package_paths, is_rollback, error_message, created_at_unix, updated_at_unix
		FROM sessions WHERE session_id = ?`, id)
	rec, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read session %d: %v", ErrStorage, id, err)
	}
	return rec, nil
}

func (s *SqliteStore) List(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, state, pending_retry, child_ids, package_paths, is_rollback, error_message, created_at_unix, updated_at_unix
		FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	var list []*model.Session
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", ErrStorage, err)
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrStorage, err)
	}
	return list, nil
}

func (s *SqliteStore) UpdateStateAndCommit(ctx context.Context, id int, ev lifecycle.EventKind, errMsg string) (*model.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin transaction: %v", ErrStorage, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT session_id, state, pending_retry, child_ids, package_paths, is_rollback, error_message, created_at_unix, updated_at_unix
		FROM sessions WHERE session_id = ?`, id)
	rec, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: session %d", lifecycle.ErrUnknownSession, id)
		}
		return nil, fmt.Errorf("%w: read session %d: %v", ErrStorage, id, err)
	}

	if err := lifecycle.Apply(rec, ev, errMsg); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET state = ?, pending_retry = ?, error_message = ?, updated_at_unix = ?
		WHERE session_id = ?`,
		string(rec.State), boolToInt(rec.PendingRetry), rec.ErrorMessage, rec.UpdatedAtUnix, id)
	if err != nil {
		return nil, fmt.Errorf("%w: update session %d: %v", ErrStorage, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit session %d: %v", ErrStorage, id, err)
	}
	return rec, nil
}

func (s *SqliteStore) Delete(ctx context.Context, id int) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("%w: delete session %d: %v", ErrStorage, id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*model.Session, error) {
	var (
		rec           model.Session
		state         string
		pendingRetry  int
		childIDsRaw   string
		pathsRaw      string
		isRollbackInt int
	)
	err := r.Scan(&rec.ID, &state, &pendingRetry, &childIDsRaw, &pathsRaw, &isRollbackInt,
		&rec.ErrorMessage, &rec.CreatedAtUnix, &rec.UpdatedAtUnix)
	if err != nil {
		return nil, err
	}
	rec.State = model.State(state)
	rec.PendingRetry = pendingRetry != 0
	rec.IsRollback = isRollbackInt != 0
	if err := json.Unmarshal([]byte(childIDsRaw), &rec.ChildIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(pathsRaw), &rec.PackagePaths); err != nil {
		return nil, err
	}
	return &rec, nil
}

func encodeLists(rec *model.Session) (string, string, error) {
	childIDs := rec.ChildIDs
	if childIDs == nil {
		childIDs = []int{}
	}
	paths := rec.PackagePaths
	if paths == nil {
		paths = []string{}
	}
	cb, err := json.Marshal(childIDs)
	if err != nil {
		return "", "", fmt.Errorf("%w: encode child ids: %v", ErrStorage, err)
	}
	pb, err := json.Marshal(paths)
	if err != nil {
		return "", "", fmt.Errorf("%w: encode package paths: %v", ErrStorage, err)
	}
	return string(cb), string(pb), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
