package boltstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mbientlab/metabase/internal/core/domain"
	"go.etcd.io/bbolt"
)

func (s *Store) Register(ctx context.Context, token domain.LoggingToken) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketTokens), token.MAC, token)
	})
	if err != nil {
		return err
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
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(mac))
	})
	if err != nil {
		return err
	}
	s.publish(domain.LoggingTokenEvent{Token: token, Released: true})
	return nil
}

func (s *Store) Token(ctx context.Context, mac string) (domain.LoggingToken, bool, error) {
	var token domain.LoggingToken
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketTokens), mac, &token)
	})
	if errors.Is(err, errNotFound) {
		return domain.LoggingToken{}, false, nil
	}
	if err != nil {
		return domain.LoggingToken{}, false, err
	}
	return token, true, nil
}

func (s *Store) Tokens(ctx context.Context) ([]domain.LoggingToken, error) {
	var tokens []domain.LoggingToken
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(_, v []byte) error {
			var token domain.LoggingToken
			if err := json.Unmarshal(v, &token); err != nil {
				return err
			}
			tokens = append(tokens, token)
			return nil
		})
	})
	return tokens, err
}

// LegacyValue returns nil when key holds nothing.
func (s *Store) LegacyValue(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketLegacy).Get([]byte(key)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, err
}

// PutLegacyValue stores a blob written by an older release.
func (s *Store) PutLegacyValue(ctx context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLegacy).Put([]byte(key), value)
	})
}

func (s *Store) ImportedDevices(ctx context.Context) ([]string, error) {
	var macs []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketImported).ForEach(func(k, _ []byte) error {
			macs = append(macs, string(k))
			return nil
		})
	})
	return macs, err
}

func (s *Store) MarkImported(ctx context.Context, mac string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketImported).Put([]byte(mac), []byte{1})
	})
}
