// Package redisstore keeps the client session in a single redis hash.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-auth-pipeline/session"
	"github.com/redis/go-redis/v9"
)

const (
	fieldAccess  = "access_token"
	fieldRefresh = "refresh_token"
	fieldUser    = "user"
)

var _ session.Store = (*Store)(nil)

// Store writes all three session fields with one HSET, so a reader never
// sees a partially replaced session.
type Store struct {
	rdb redis.UniversalClient
	key string
}

func New(rdb redis.UniversalClient, key string) *Store {
	return &Store{rdb: rdb, key: key}
}

func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.field(ctx, fieldAccess)
}

func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	return s.field(ctx, fieldRefresh)
}

func (s *Store) SaveAll(ctx context.Context, sess session.Session) error {
	err := s.rdb.HSet(ctx, s.key,
		fieldAccess, sess.AccessToken,
		fieldRefresh, sess.RefreshToken,
		fieldUser, []byte(sess.User),
	).Err()
	if err != nil {
		return fmt.Errorf("redis hset session: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}

// Load returns the whole session in one round trip.
func (s *Store) Load(ctx context.Context) (session.Session, error) {
	values, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return session.Session{}, fmt.Errorf("redis hgetall session: %w", err)
	}
	sess := session.Session{
		AccessToken:  values[fieldAccess],
		RefreshToken: values[fieldRefresh],
	}
	if user := values[fieldUser]; user != "" {
		sess.User = []byte(user)
	}
	return sess, nil
}

func (s *Store) field(ctx context.Context, name string) (string, error) {
	value, err := s.rdb.HGet(ctx, s.key, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis hget %s: %w", name, err)
	}
	return value, nil
}
