package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/docflow/pkg/api"
)

// RedisOutputCache is an OutputCache backed by Redis.
// It uses one hash per execution:
//
//	<prefix>out:<executionID>  => HASH  field "<nodeID>|<fingerprint>" -> gob-encoded NodeOutput
//
// Invalidate drops the whole hash. Nothing expires on its own.
type RedisOutputCache struct {
	client *redis.Client
	prefix string
}

var _ OutputCache = (*RedisOutputCache)(nil)

// NewRedisOutputCache creates a RedisOutputCache.
// prefix is optional but recommended (e.g. "docflow:").
func NewRedisOutputCache(client *redis.Client, prefix string) *RedisOutputCache {
	if prefix == "" {
		prefix = "docflow:"
	}
	return &RedisOutputCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisOutputCache) keyExecution(id string) string {
	return c.prefix + "out:" + id
}

func (c *RedisOutputCache) Get(ctx context.Context, key api.NodeOutputKey) (*api.NodeOutput, bool, error) {
	data, err := c.client.HGet(ctx, c.keyExecution(key.ExecutionID), entryKey(key.NodeID, key.Fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	out, err := DecodeValue[api.NodeOutput](data)
	if err != nil {
		return nil, false, fmt.Errorf("decode node output: %w", err)
	}
	return &out, true, nil
}

func (c *RedisOutputCache) Put(ctx context.Context, out api.NodeOutput) error {
	data, err := EncodeValue(out)
	if err != nil {
		return fmt.Errorf("encode node output: %w", err)
	}
	return c.client.HSet(ctx, c.keyExecution(out.ExecutionID), entryKey(out.NodeID, out.Fingerprint), data).Err()
}

func (c *RedisOutputCache) Invalidate(ctx context.Context, executionID string) (int, error) {
	key := c.keyExecution(executionID)

	pipe := c.client.TxPipeline()
	n := pipe.HLen(ctx, key)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(n.Val()), nil
}
