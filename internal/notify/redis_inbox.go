package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisInbox keeps browser notifications in Redis: a sorted set per owner
// scored by delivery time, plus hashes for payloads and ref ownership.
type RedisInbox struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisInbox(options redis.Options, prefix string) *RedisInbox {
	if prefix == "" {
		prefix = "notekeeper:browser"
	}
	return &RedisInbox{rdb: redis.NewClient(&options), prefix: prefix}
}

// Ping checks connectivity.
func (r *RedisInbox) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisInbox) Close() error {
	return r.rdb.Close()
}

func (r *RedisInbox) queueKey(owner string) string { return r.prefix + ":queue:" + owner }
func (r *RedisInbox) payloadKey() string           { return r.prefix + ":payload" }
func (r *RedisInbox) ownerKey() string             { return r.prefix + ":owner" }

func (r *RedisInbox) Push(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, r.queueKey(n.OwnerID), redis.Z{Score: float64(n.DeliverAt.UnixMilli()), Member: n.Ref})
		p.HSet(ctx, r.payloadKey(), n.Ref, payload)
		p.HSet(ctx, r.ownerKey(), n.Ref, n.OwnerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save notification into redis: %w", err)
	}
	return nil
}

func (r *RedisInbox) Remove(ctx context.Context, ref string) (bool, error) {
	owner, err := r.rdb.HGet(ctx, r.ownerKey(), ref).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up notification owner: %w", err)
	}

	var removed *redis.IntCmd
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.ZRem(ctx, r.queueKey(owner), ref)
		p.HDel(ctx, r.payloadKey(), ref)
		p.HDel(ctx, r.ownerKey(), ref)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove notification from redis: %w", err)
	}
	return removed.Val() > 0, nil
}

func (r *RedisInbox) Due(ctx context.Context, ownerID string, now time.Time) ([]Notification, error) {
	key := r.queueKey(ownerID)

	refs, err := r.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notification queue: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}

	// Claim each ref with its own ZREM so that concurrent pollers never
	// both deliver the same entry.
	claims := make([]*redis.IntCmd, len(refs))
	payloads := make([]*redis.StringCmd, len(refs))
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, ref := range refs {
			claims[i] = p.ZRem(ctx, key, ref)
			payloads[i] = p.HGet(ctx, r.payloadKey(), ref)
			p.HDel(ctx, r.payloadKey(), ref)
			p.HDel(ctx, r.ownerKey(), ref)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to claim notifications: %w", err)
	}

	var out []Notification
	for i := range refs {
		if claims[i].Val() == 0 {
			continue
		}
		raw, err := payloads[i].Result()
		if err != nil {
			continue
		}
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
