package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkragh/ensemble/core"
)

// sessionRecord is the JSON document persisted per session key.
type sessionRecord struct {
	ID      string         `json:"id"`
	OwnerID string         `json:"owner_id"`
	Name    string         `json:"name,omitempty"`
	State   map[string]any `json:"state"`
	History []core.Turn    `json:"history"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
}

// RedisStore is a SessionStore persisting each session as one JSON blob
// under "session:<id>". Read-modify-write operations run under WATCH so a
// concurrent writer aborts the transaction; an aborted write is retried once
// before surfacing core.ErrStoreConflict.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	// TTL expires idle sessions. Zero keeps them forever.
	TTL time.Duration
}

// NewRedisStore wraps an existing client. Call Ping beforehand if connection
// health should be a startup failure.
func NewRedisStore(client *redis.Client, optFns ...func(o *RedisStoreOptions)) *RedisStore {
	opts := RedisStoreOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &RedisStore{client: client, ttl: opts.TTL}
}

// NewRedisStoreFromURL connects from a redis:// URL and verifies the
// connection.
func NewRedisStoreFromURL(ctx context.Context, url string, optFns ...func(o *RedisStoreOptions)) (*RedisStore, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStore(client, optFns...), nil
}

func sessionKey(id string) string { return "session:" + id }

// Create stores a fresh session document unless the key already exists, in
// which case the existing session is returned untouched.
func (s *RedisStore) Create(ctx context.Context, id, ownerID string) (*core.Session, error) {
	now := time.Now().UTC()
	rec := sessionRecord{
		ID:      id,
		OwnerID: ownerID,
		State:   map[string]any{},
		History: []core.Turn{},
		Created: now,
		Updated: now,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.SetNX(ctx, sessionKey(id), data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.Get(ctx, id, ownerID)
}

// Get loads and decodes the session document owned by ownerID.
func (s *RedisStore) Get(ctx context.Context, id, ownerID string) (*core.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var rec sessionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if rec.OwnerID != ownerID {
		return nil, core.ErrSessionNotFound
	}
	return recordToSession(rec), nil
}

// AppendTurn appends one turn to the session history.
func (s *RedisStore) AppendTurn(ctx context.Context, id string, t core.Turn) error {
	return s.update(ctx, id, func(rec *sessionRecord) {
		rec.History = append(rec.History, t)
	})
}

// MergeState merges delta into the persisted state under optimistic locking.
func (s *RedisStore) MergeState(ctx context.Context, id string, delta map[string]any) error {
	return s.update(ctx, id, func(rec *sessionRecord) {
		if rec.State == nil {
			rec.State = map[string]any{}
		}
		for k, v := range delta {
			rec.State[k] = v
		}
	})
}

// SetNameIfUnset persists name only when no name is set yet.
func (s *RedisStore) SetNameIfUnset(ctx context.Context, id, name string) (bool, error) {
	applied := false
	err := s.update(ctx, id, func(rec *sessionRecord) {
		if rec.Name != "" {
			return
		}
		rec.Name = name
		applied = true
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// update runs one optimistic read-modify-write cycle under WATCH, retrying
// once when a concurrent writer invalidates the transaction.
func (s *RedisStore) update(ctx context.Context, id string, mutate func(rec *sessionRecord)) error {
	key := sessionKey(id)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return core.ErrSessionNotFound
			}
			return err
		}
		var rec sessionRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		mutate(&rec)
		rec.Updated = time.Now().UTC()
		merged, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, merged, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return core.ErrStoreConflict
}

func recordToSession(rec sessionRecord) *core.Session {
	sess := core.NewSession(rec.ID, rec.OwnerID)
	sess.Name = rec.Name
	if rec.State != nil {
		sess.State = rec.State
	}
	sess.History = rec.History
	sess.Created = rec.Created
	sess.Updated = rec.Updated
	return sess
}
