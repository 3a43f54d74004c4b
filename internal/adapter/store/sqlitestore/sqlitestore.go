// Package sqlitestore keeps sessions, CSV files and logging tokens in a
// SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/google/uuid"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id        TEXT NOT NULL PRIMARY KEY,
	name      TEXT NOT NULL,
	date      INTEGER NOT NULL, -- unix nanoseconds
	tz        TEXT NOT NULL,
	group_id  TEXT NOT NULL DEFAULT '',
	completed INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS session_devices (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	mac        TEXT NOT NULL,
	PRIMARY KEY (session_id, position)
);
CREATE TABLE IF NOT EXISTS files (
	id         TEXT NOT NULL PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	name       TEXT NOT NULL,
	csv        BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
	mac          TEXT NOT NULL PRIMARY KEY,
	start_date   INTEGER NOT NULL,
	session_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS legacy (
	key   TEXT NOT NULL PRIMARY KEY,
	value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS imported (
	mac TEXT NOT NULL PRIMARY KEY
);
`

type Store struct {
	db     *sql.DB
	events *eventstream.EventStream
}

var _ port.Store = (*Store)(nil)

// Open opens or creates the database at fname in WAL mode.
func Open(fname string, events *eventstream.EventStream) (*Store, error) {
	db, err := sql.Open("sqlite", fname)
	if err != nil {
		return nil, fmt.Errorf("could not open session db %q: %w", fname, err)
	}
	// one writer; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := setup(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not setup session db %q: %w", fname, err)
	}
	return &Store{db: db, events: events}, nil
}

func setup(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("could not set WAL mode: %w", err)
	}
	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("could not determine sqlite3 journal_mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("could not set sqlite WAL mode")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("could not enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("could not create tables: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("could not close sqlite db: %w", err)
		}
		s.db = nil
	}
	return nil
}

func (s *Store) publish(event any) {
	if s.events != nil {
		s.events.Publish(event)
	}
}

// inTx runs fn in a transaction and rolls back when it fails.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not create sqlite transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit sqlite transaction: %w", err)
	}
	return nil
}

func insertSession(ctx context.Context, tx *sql.Tx, session domain.Session) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, name, date, tz, group_id, completed) VALUES (?1, ?2, ?3, ?4, ?5, ?6)`,
		session.Id.String(), session.Name, session.Date.UnixNano(), session.Date.Location().String(),
		session.GroupId, session.Completed,
	)
	if err != nil {
		return fmt.Errorf("could not insert session %s: %w", session.Id, err)
	}
	for i, mac := range session.Devices {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_devices (session_id, position, mac) VALUES (?1, ?2, ?3)`,
			session.Id.String(), i, mac,
		)
		if err != nil {
			return fmt.Errorf("could not insert device %s: %w", mac, err)
		}
	}
	return nil
}

func insertFile(ctx context.Context, tx *sql.Tx, sessionId uuid.UUID, position int, f domain.File) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO files (id, session_id, position, name, csv) VALUES (?1, ?2, ?3, ?4, ?5)`,
		f.Id.String(), sessionId.String(), position, f.Name, f.CSV,
	)
	if err != nil {
		return fmt.Errorf("could not insert file %q: %w", f.Name, err)
	}
	return nil
}

func (s *Store) AddSession(ctx context.Context, session domain.Session, files []domain.File) (domain.Session, error) {
	if session.Id == uuid.Nil {
		session.Id = uuid.New()
	}
	session.Files = make([]uuid.UUID, 0, len(files))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertSession(ctx, tx, session); err != nil {
			return err
		}
		for i, f := range files {
			if f.Id == uuid.Nil {
				f.Id = uuid.New()
			}
			if err := insertFile(ctx, tx, session.Id, i, f); err != nil {
				return err
			}
			session.Files = append(session.Files, f.Id)
		}
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.publish(domain.SessionsChangedEvent{Kind: domain.SessionsAdded, SessionId: session.Id})
	return session, nil
}

func (s *Store) FetchAllSessions(ctx context.Context) ([]domain.Session, error) {
	return s.FetchSessions(ctx, port.SessionQuery{})
}

func (s *Store) FetchSessions(ctx context.Context, query port.SessionQuery) ([]domain.Session, error) {
	var (
		where []string
		args  []any
	)
	if query.GroupId != "" {
		args = append(args, query.GroupId)
		where = append(where, fmt.Sprintf("group_id = ?%d", len(args)))
	}
	if query.DeviceMAC != "" {
		args = append(args, query.DeviceMAC)
		where = append(where, fmt.Sprintf("id IN (SELECT session_id FROM session_devices WHERE mac = ?%d)", len(args)))
	}
	stmt := `SELECT id FROM sessions`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	ids, err := s.queryIds(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	var sessions []domain.Session
	for _, id := range ids {
		session, err := s.session(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		// name matching is case insensitive on unicode, which LIKE is not
		if query.Matches(session) {
			sessions = append(sessions, session)
		}
	}
	domain.SortSessions(sessions)
	return sessions, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) queryIds(ctx context.Context, stmt string, args ...any) ([]uuid.UUID, error) {
	return queryIds(ctx, s.db, stmt, args...)
}

func queryIds(ctx context.Context, q querier, stmt string, args ...any) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("could not issue query: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("could not scan id row: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) session(ctx context.Context, q querier, id uuid.UUID) (domain.Session, error) {
	var (
		session   domain.Session
		date      int64
		tz        string
		completed bool
	)
	err := q.QueryRowContext(ctx,
		`SELECT name, date, tz, group_id, completed FROM sessions WHERE id = ?1`, id.String(),
	).Scan(&session.Name, &date, &tz, &session.GroupId, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return session, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return session, fmt.Errorf("could not scan session %s: %w", id, err)
	}
	session.Id = id
	session.Completed = completed
	session.Date = time.Unix(0, date)
	if loc, err := time.LoadLocation(tz); err == nil {
		session.Date = session.Date.In(loc)
	}

	session.Devices, err = queryMACs(ctx, q, id)
	if err != nil {
		return session, err
	}
	session.Files, err = queryIds(ctx, q, `SELECT id FROM files WHERE session_id = ?1 ORDER BY position`, id.String())
	if err != nil {
		return session, err
	}
	if session.Files == nil {
		session.Files = []uuid.UUID{}
	}
	return session, nil
}

func queryMACs(ctx context.Context, q querier, sessionId uuid.UUID) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT mac FROM session_devices WHERE session_id = ?1 ORDER BY position`, sessionId.String())
	if err != nil {
		return nil, fmt.Errorf("could not issue query: %w", err)
	}
	defer rows.Close()
	var macs []string
	for rows.Next() {
		var mac string
		if err := rows.Scan(&mac); err != nil {
			return nil, err
		}
		macs = append(macs, mac)
	}
	return macs, rows.Err()
}

func (s *Store) FetchFiles(ctx context.Context, sessionId uuid.UUID) ([]domain.File, error) {
	if _, err := s.session(ctx, s.db, sessionId); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, csv FROM files WHERE session_id = ?1 ORDER BY position`, sessionId.String())
	if err != nil {
		return nil, fmt.Errorf("could not issue query: %w", err)
	}
	defer rows.Close()
	var files []domain.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (domain.File, error) {
	var (
		f  domain.File
		id string
	)
	if err := row.Scan(&id, &f.Name, &f.CSV); err != nil {
		return f, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return f, err
	}
	f.Id = parsed
	return f, nil
}

func (s *Store) FetchFile(ctx context.Context, fileId uuid.UUID) (domain.File, error) {
	f, err := scanFile(s.db.QueryRowContext(ctx, `SELECT id, name, csv FROM files WHERE id = ?1`, fileId.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return f, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileId)
	}
	return f, err
}

func (s *Store) DeleteSession(ctx context.Context, sessionId uuid.UUID) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?1`, sessionId.String())
		if err != nil {
			return fmt.Errorf("could not delete session %s: %w", sessionId, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionId)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(domain.SessionsChangedEvent{Kind: domain.SessionsDeleted, SessionId: sessionId})
	return nil
}

func (s *Store) RenameSession(ctx context.Context, sessionId uuid.UUID, name string) (domain.Session, error) {
	var session domain.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sessions SET name = ?1 WHERE id = ?2`, name, sessionId.String())
		if err != nil {
			return fmt.Errorf("could not rename session %s: %w", sessionId, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionId)
		}
		session, err = s.session(ctx, tx, sessionId)
		return err
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.publish(domain.SessionsChangedEvent{Kind: domain.SessionsRenamed, SessionId: sessionId})
	return session, nil
}

// DuplicateSession copies a session and all of its files under new ids.
func (s *Store) DuplicateSession(ctx context.Context, sessionId uuid.UUID, name string) (domain.Session, error) {
	var dup domain.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		orig, err := s.session(ctx, tx, sessionId)
		if err != nil {
			return err
		}
		dup = orig
		dup.Id = uuid.New()
		dup.Name = name
		if dup.Name == "" {
			dup.Name = domain.CopyName(orig.Name)
		}
		if err := insertSession(ctx, tx, dup); err != nil {
			return err
		}
		dup.Files = make([]uuid.UUID, 0, len(orig.Files))
		for i, id := range orig.Files {
			f, err := scanFile(tx.QueryRowContext(ctx, `SELECT id, name, csv FROM files WHERE id = ?1`, id.String()))
			if err != nil {
				return fmt.Errorf("could not read file %s: %w", id, err)
			}
			f.Id = uuid.New()
			if err := insertFile(ctx, tx, dup.Id, i, f); err != nil {
				return err
			}
			dup.Files = append(dup.Files, f.Id)
		}
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.publish(domain.SessionsChangedEvent{Kind: domain.SessionsDuplicated, SessionId: dup.Id})
	return dup, nil
}
