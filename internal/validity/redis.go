package validity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRetention keeps artifacts well past their trust window so that an
	// UNKNOWN token can still be compared and renewed.
	DefaultRetention = 7 * 24 * time.Hour

	keyPrefix      = "discovery:feed:"
	scanBatch      = 100
	fieldPrint     = "fingerprint"
	fieldExpiresAt = "expires_at"
	fieldBody      = "body"
)

// ErrArtifactNotFound is returned by Load for an unknown key.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore persists entries outside the process.
type ArtifactStore interface {
	Load(ctx context.Context, key Key) (*Entry, error)
	Save(ctx context.Context, key Key, e *Entry) error
	Flush(ctx context.Context) (int, error)
}

// RedisArtifactStore keeps one hash per feed: fingerprint, expiry and body.
type RedisArtifactStore struct {
	client    *redis.Client
	ttl       time.Duration
	retention time.Duration
}

// NewRedisArtifactStore creates a store. ttl is applied to restored tokens.
func NewRedisArtifactStore(client *redis.Client, ttl, retention time.Duration) *RedisArtifactStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisArtifactStore{client: client, ttl: ttl, retention: retention}
}

func redisKey(key Key) string {
	return keyPrefix + key.Hash()
}

// Load restores the entry of key as a completed token plus body.
func (s *RedisArtifactStore) Load(ctx context.Context, key Key) (*Entry, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, ErrArtifactNotFound
	}

	nanos, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: bad expiry: %w", key, err)
	}
	return &Entry{
		Token:    RestoreToken(fields[fieldPrint], time.Unix(0, nanos), s.ttl),
		Artifact: []byte(fields[fieldBody]),
	}, nil
}

// Save writes e. The token must be completed.
func (s *RedisArtifactStore) Save(ctx context.Context, key Key, e *Entry) error {
	if e.Token == nil || e.Token.State() != StateCompleted {
		return fmt.Errorf("save artifact %s: token not completed", key)
	}

	rk := redisKey(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rk,
			fieldPrint, e.Token.Fingerprint(),
			fieldExpiresAt, strconv.FormatInt(e.Token.ExpiresAt().UnixNano(), 10),
			fieldBody, e.Artifact,
		)
		pipe.Expire(ctx, rk, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", key, err)
	}
	return nil
}

// Flush deletes every feed artifact and returns how many were removed.
func (s *RedisArtifactStore) Flush(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan artifacts: %w", err)
		}
		if len(keys) > 0 {
			n, delErr := s.client.Del(ctx, keys...).Result()
			if delErr != nil {
				return deleted, fmt.Errorf("delete artifacts: %w", delErr)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// Ping checks connectivity for readiness probes.
func (s *RedisArtifactStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
