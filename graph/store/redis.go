package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisIndexSuffix = ":index"

// RedisMemory is a MemoryStore on Redis.
//
// Each entry is a JSON string under "<prefix>:<id>", where id is derived
// from the entry identity, so storing the same identity overwrites in
// place. Redis expires entries with a TTL natively; a set at
// "<prefix>:index" tracks live keys and is pruned lazily.
type RedisMemory struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisMemory connects to addr and verifies the connection.
func NewRedisMemory(ctx context.Context, addr, password string, db int) (*RedisMemory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisMemoryFromClient(client, "nodegraph:memory"), nil
}

// NewRedisMemoryFromClient wraps an existing client. prefix namespaces every
// key the store writes.
func NewRedisMemoryFromClient(client redis.UniversalClient, prefix string) *RedisMemory {
	return &RedisMemory{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisMemory) entryKey(m Memory) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryIdentity(m)))
	return r.prefix + ":" + id.String()
}

func (r *RedisMemory) indexKey() string {
	return r.prefix + redisIndexSuffix
}

// PutMemory stores an entry. An entry with ExpiresAt gets a matching Redis
// TTL; an expiry in the past is rejected.
func (r *RedisMemory) PutMemory(ctx context.Context, m Memory) (Memory, error) {
	if err := validateMemory(m); err != nil {
		return Memory{}, err
	}
	now := r.now()

	var ttl time.Duration
	if m.ExpiresAt != nil {
		ttl = m.ExpiresAt.Sub(now)
		if ttl <= 0 {
			return Memory{}, errors.New("memory expiry is in the past")
		}
	}

	key := r.entryKey(m)
	m.ID = key[len(r.prefix)+1:]
	m.CreatedAt = now
	if existing, err := r.client.Get(ctx, key).Result(); err == nil {
		var prev Memory
		if json.Unmarshal([]byte(existing), &prev) == nil {
			m.CreatedAt = prev.CreatedAt
		}
	} else if !errors.Is(err, redis.Nil) {
		return Memory{}, fmt.Errorf("failed to read memory: %w", err)
	}
	m.UpdatedAt = now

	data, err := json.Marshal(m)
	if err != nil {
		return Memory{}, fmt.Errorf("failed to encode memory: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.SAdd(ctx, r.indexKey(), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Memory{}, fmt.Errorf("failed to store memory: %w", err)
	}

	var stored Memory
	if err := json.Unmarshal(data, &stored); err != nil {
		return Memory{}, fmt.Errorf("failed to decode memory: %w", err)
	}
	return stored, nil
}

// RetrieveMemories returns live entries matching q, newest first.
func (r *RedisMemory) RetrieveMemories(ctx context.Context, q MemoryQuery) ([]Memory, error) {
	return r.collect(ctx, q, DefaultRetrieveLimit, func(Memory) bool { return true })
}

// SearchMemories returns live entries whose key or value contains q.Text.
func (r *RedisMemory) SearchMemories(ctx context.Context, q MemoryQuery) ([]Memory, error) {
	return r.collect(ctx, q, DefaultSearchLimit, func(m Memory) bool {
		encoded, _ := json.Marshal(m.Value)
		return q.matchesText(m, string(encoded))
	})
}

// DeleteMemories removes entries matching q and returns the count.
func (r *RedisMemory) DeleteMemories(ctx context.Context, q MemoryQuery) (int, error) {
	if !q.hasCondition() {
		return 0, ErrNoCondition
	}
	entries, err := r.scan(ctx)
	if err != nil {
		return 0, err
	}

	var keys []string
	for key, m := range entries {
		if q.matches(m) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.SRem(ctx, r.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete memories: %w", err)
	}
	return int(del.Val()), nil
}

// ClearExpired prunes index entries whose keys Redis has already expired.
func (r *RedisMemory) ClearExpired(ctx context.Context) (int, error) {
	keys, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory index: %w", err)
	}
	return r.prune(ctx, keys)
}

// Close closes the underlying client.
func (r *RedisMemory) Close() error {
	return r.client.Close()
}

func (r *RedisMemory) collect(ctx context.Context, q MemoryQuery, defaultLimit int, keep func(Memory) bool) ([]Memory, error) {
	entries, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	out := []Memory{}
	for _, m := range entries {
		if m.Expired(now) || !q.matches(m) || !keep(m) {
			continue
		}
		out = append(out, m)
	}
	newestFirst(out)
	if limit := q.limit(defaultLimit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// scan loads every indexed entry, pruning keys that have expired.
func (r *RedisMemory) scan(ctx context.Context) (map[string]Memory, error) {
	keys, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory index: %w", err)
	}
	if len(keys) == 0 {
		return map[string]Memory{}, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read memories: %w", err)
	}

	entries := make(map[string]Memory, len(keys))
	var gone []string
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			gone = append(gone, keys[i])
			continue
		}
		var m Memory
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("failed to decode memory %s: %w", keys[i], err)
		}
		entries[keys[i]] = m
	}
	if len(gone) > 0 {
		if _, err := r.prune(ctx, gone); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *RedisMemory) prune(ctx context.Context, keys []string) (int, error) {
	n := 0
	for _, key := range keys {
		exists, err := r.client.Exists(ctx, key).Result()
		if err != nil {
			return n, fmt.Errorf("failed to check memory %s: %w", key, err)
		}
		if exists > 0 {
			continue
		}
		if err := r.client.SRem(ctx, r.indexKey(), key).Err(); err != nil {
			return n, fmt.Errorf("failed to prune memory index: %w", err)
		}
		n++
	}
	return n, nil
}
