package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mbientlab/metabase/internal/core/domain"
)

func (s *Store) Register(ctx context.Context, token domain.LoggingToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (mac, start_date, session_name) VALUES (?1, ?2, ?3)
		ON CONFLICT(mac) DO UPDATE SET start_date = excluded.start_date, session_name = excluded.session_name`,
		token.MAC, token.StartDate.UnixNano(), token.SessionName,
	)
	if err != nil {
		return fmt.Errorf("could not register token of %s: %w", token.MAC, err)
	}
	s.publish(domain.LoggingTokenEvent{Token: token})
	return nil
}

// Release forgets the token of mac. Releasing an unknown MAC is a no-op.
func (s *Store) Release(ctx context.Context, mac string) error {
	token, ok, err := s.Token(ctx, mac)
	if err != nil || !ok {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE mac = ?1`, mac); err != nil {
		return fmt.Errorf("could not release token of %s: %w", mac, err)
	}
	s.publish(domain.LoggingTokenEvent{Token: token, Released: true})
	return nil
}

func (s *Store) Token(ctx context.Context, mac string) (domain.LoggingToken, bool, error) {
	var (
		token domain.LoggingToken
		start int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT mac, start_date, session_name FROM tokens WHERE mac = ?1`, mac,
	).Scan(&token.MAC, &start, &token.SessionName)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LoggingToken{}, false, nil
	}
	if err != nil {
		return domain.LoggingToken{}, false, err
	}
	token.StartDate = time.Unix(0, start)
	return token, true, nil
}

func (s *Store) Tokens(ctx context.Context) ([]domain.LoggingToken, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT mac, start_date, session_name FROM tokens ORDER BY mac`)
	if err != nil {
		return nil, fmt.Errorf("could not issue query: %w", err)
	}
	defer rows.Close()
	var tokens []domain.LoggingToken
	for rows.Next() {
		var (
			token domain.LoggingToken
			start int64
		)
		if err := rows.Scan(&token.MAC, &start, &token.SessionName); err != nil {
			return nil, err
		}
		token.StartDate = time.Unix(0, start)
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// LegacyValue returns nil when key holds nothing.
func (s *Store) LegacyValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM legacy WHERE key = ?1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return value, err
}

// PutLegacyValue stores a blob written by an older release.
func (s *Store) PutLegacyValue(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO legacy (key, value) VALUES (?1, ?2) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (s *Store) ImportedDevices(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT mac FROM imported ORDER BY mac`)
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

func (s *Store) MarkImported(ctx context.Context, mac string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO imported (mac) VALUES (?1)`, mac)
	return err
}
