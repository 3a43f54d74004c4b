// Package boltstore keeps sessions, CSV files and logging tokens in a
// bbolt file.
package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/google/uuid"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
	"go.etcd.io/bbolt"
)

var (
	bucketSessions = []byte("sessions")
	bucketFiles    = []byte("files")
	bucketTokens   = []byte("tokens")
	bucketLegacy   = []byte("legacy")
	bucketImported = []byte("imported")
)

type Store struct {
	db     *bbolt.DB
	events *eventstream.EventStream
}

var _ port.Store = (*Store)(nil)

type fileRecord struct {
	Id        uuid.UUID `json:"id"`
	SessionId uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`
	CSV       []byte    `json:"csv"`
}

// Open opens or creates the store at path. Change notifications go to
// events when it is not nil.
func Open(path string, events *eventstream.EventStream) (*Store, error) {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open session db %q: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSessions, bucketFiles, bucketTokens, bucketLegacy, bucketImported} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("could not create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, events: events}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) publish(event any) {
	if s.events != nil {
		s.events.Publish(event)
	}
}

func (s *Store) AddSession(ctx context.Context, session domain.Session, files []domain.File) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	if session.Id == uuid.Nil {
		session.Id = uuid.New()
	}
	session.Files = make([]uuid.UUID, 0, len(files))
	err := s.db.Update(func(tx *bbolt.Tx) error {
		fb := tx.Bucket(bucketFiles)
		for _, f := range files {
			if f.Id == uuid.Nil {
				f.Id = uuid.New()
			}
			if err := putJSON(fb, f.Id.String(), fileRecord{Id: f.Id, SessionId: session.Id, Name: f.Name, CSV: f.CSV}); err != nil {
				return err
			}
			session.Files = append(session.Files, f.Id)
		}
		return putJSON(tx.Bucket(bucketSessions), session.Id.String(), session)
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("could not add session %s: %w", session.Id, err)
	}
	s.publish(domain.SessionsChangedEvent{Kind: domain.SessionsAdded, SessionId: session.Id})
	return session, nil
}

func (s *Store) FetchAllSessions(ctx context.Context) ([]domain.Session, error) {
	return s.FetchSessions(ctx, port.SessionQuery{})
}

func (s *Store) FetchSessions(ctx context.Context, query port.SessionQuery) ([]domain.Session, error) {
	var sessions []domain.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var session domain.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return fmt.Errorf("could not decode session %s: %w", k, err)
			}
			if query.Matches(session) {
				sessions = append(sessions, session)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	domain.SortSessions(sessions)
	return sessions, nil
}

func (s *Store) FetchFiles(ctx context.Context, sessionId uuid.UUID) ([]domain.File, error) {
	var files []domain.File
	err := s.db.View(func(tx *bbolt.Tx) error {
		session, err := getSession(tx, sessionId)
		if err != nil {
			return err
		}
		fb := tx.Bucket(bucketFiles)
		for _, id := range session.Files {
			var rec fileRecord
			if err := getJSON(fb, id.String(), &rec); err != nil {
				return err
			}
			files = append(files, domain.File{Id: rec.Id, Name: rec.Name, CSV: rec.CSV})
		}
		return nil
	})
	return files, err
}

func (s *Store) FetchFile(ctx context.Context, fileId uuid.UUID) (domain.File, error) {
	var rec fileRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketFiles), fileId.String(), &rec)
	})
	if errors.Is(err, errNotFound) {
		return domain.File{}, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileId)
	}
	if err != nil {
		return domain.File{}, err
	}
	return domain.File{Id: rec.Id, Name: rec.Name, CSV: rec.CSV}, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionId uuid.UUID) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		session, err := getSession(tx, sessionId)
		if err != nil {
			return err
		}
		fb := tx.Bucket(bucketFiles)
		for _, id := range session.Files {
			if err := fb.Delete([]byte(id.String())); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketSessions).Delete([]byte(sessionId.String()))
	})
	if err != nil {
		return err
	}
	s.publish(domain.SessionsChangedEvent{Kind: domain.SessionsDeleted, SessionId: sessionId})
	return nil
}

func (s *Store) RenameSession(ctx context.Context, sessionId uuid.UUID, name string) (domain.Session, error) {
	var session domain.Session
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		session, err = getSession(tx, sessionId)
		if err != nil {
			return err
		}
		session.Name = name
		return putJSON(tx.Bucket(bucketSessions), sessionId.String(), session)
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
	err := s.db.Update(func(tx *bbolt.Tx) error {
		orig, err := getSession(tx, sessionId)
		if err != nil {
			return err
		}
		dup = orig
		dup.Id = uuid.New()
		dup.Name = name
		if dup.Name == "" {
			dup.Name = domain.CopyName(orig.Name)
		}
		dup.Devices = slices.Clone(orig.Devices)
		dup.Files = make([]uuid.UUID, 0, len(orig.Files))
		fb := tx.Bucket(bucketFiles)
		for _, id := range orig.Files {
			var rec fileRecord
			if err := getJSON(fb, id.String(), &rec); err != nil {
				return err
			}
			rec.Id = uuid.New()
			rec.SessionId = dup.Id
			if err := putJSON(fb, rec.Id.String(), rec); err != nil {
				return err
			}
			dup.Files = append(dup.Files, rec.Id)
		}
		return putJSON(tx.Bucket(bucketSessions), dup.Id.String(), dup)
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.publish(domain.SessionsChangedEvent{Kind: domain.SessionsDuplicated, SessionId: dup.Id})
	return dup, nil
}

var errNotFound = errors.New("not found")

func getSession(tx *bbolt.Tx, id uuid.UUID) (domain.Session, error) {
	var session domain.Session
	err := getJSON(tx.Bucket(bucketSessions), id.String(), &session)
	if errors.Is(err, errNotFound) {
		return session, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return session, err
}

func getJSON(b *bbolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%s: %w", key, errNotFound)
	}
	return json.Unmarshal(data, v)
}

func putJSON(b *bbolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}
