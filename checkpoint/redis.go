package checkpoint

import (
	"context"
	"fmt"
	"time"

	"corpusdedup/config"
	"corpusdedup/types"

	"github.com/redis/go-redis/v9"
)

// RemovalMirror publishes each run's removal set to Redis so other services can
// test membership without reading checkpoints:
//
//	<prefix>:<run>:removed  SET of removed ids
//	<prefix>:<run>:stage    HASH id -> stage that removed it
//
// Both keys expire ttl after the most recent write.
type RemovalMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRemovalMirror creates a mirror and verifies connectivity
func NewRemovalMirror(cfg config.RedisConfig) (*RemovalMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Ping to verify
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRemovalMirrorWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRemovalMirrorWithClient wraps an existing client
func NewRemovalMirrorWithClient(client *redis.Client, prefix string, ttl time.Duration) *RemovalMirror {
	if prefix == "" {
		prefix = config.DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = config.DefaultRedisTTL
	}
	return &RemovalMirror{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the underlying Redis client
func (r *RemovalMirror) Close() error {
	return r.client.Close()
}

func (r *RemovalMirror) removedKey(runID string) string {
	return fmt.Sprintf("%s:%s:removed", r.prefix, runID)
}

func (r *RemovalMirror) stageKey(runID string) string {
	return fmt.Sprintf("%s:%s:stage", r.prefix, runID)
}

// Record adds the ids removed by stage and resets the expiry of the run's keys.
func (r *RemovalMirror) Record(ctx context.Context, runID string, stage types.Stage, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	fields := make([]any, 0, 2*len(ids))
	for i, id := range ids {
		members[i] = id
		fields = append(fields, id, string(stage))
	}

	// Sliding window TTL behaviour: reset the expire on each write so that the
	// run remains visible for `ttl` after its last stage.
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.removedKey(runID), members...)
	pipe.HSet(ctx, r.stageKey(runID), fields...)
	pipe.Expire(ctx, r.removedKey(runID), r.ttl)
	pipe.Expire(ctx, r.stageKey(runID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror %d removals of %s: %w", len(ids), stage, err)
	}
	return nil
}

// IsRemoved reports whether id was removed during the run
func (r *RemovalMirror) IsRemoved(ctx context.Context, runID, id string) (bool, error) {
	return r.client.SIsMember(ctx, r.removedKey(runID), id).Result()
}

// StageOf returns the stage that removed id, or "" when it was not removed
func (r *RemovalMirror) StageOf(ctx context.Context, runID, id string) (types.Stage, error) {
	v, err := r.client.HGet(ctx, r.stageKey(runID), id).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return types.Stage(v), nil
}

// Count returns the number of ids removed during the run
func (r *RemovalMirror) Count(ctx context.Context, runID string) (int64, error) {
	return r.client.SCard(ctx, r.removedKey(runID)).Result()
}
