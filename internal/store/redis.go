package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/flowsketch/pkg/schema"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key; defaults to "flowsketch".
	Prefix string
}

// RedisStore keeps shares in hashes, counters in a hash, active users in a
// set and subscribers in a hash indexed by a sorted set.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// setPeak raises the peak counter only when the candidate is larger.
var setPeak = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local cand = tonumber(ARGV[2])
if cand > cur then
  redis.call('HSET', KEYS[1], ARGV[1], cand)
  cur = cand
end
return cur
`)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "flowsketch"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, storeFailure("connect redis", err)
	}
	return &RedisStore{client: client, prefix: cfg.Prefix}, nil
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Migrate is a no-op; Redis needs no schema.
func (s *RedisStore) Migrate(context.Context) error { return nil }

func (s *RedisStore) Close() error { return s.client.Close() }

// --- Shares ---

func (s *RedisStore) CreateShare(ctx context.Context, share *Share) error {
	hkey := s.key("share", share.ID)
	created, err := s.client.HSetNX(ctx, hkey, "id", share.ID).Result()
	if err != nil {
		return storeFailure("create share", err)
	}
	if !created {
		return storeConflict("share", share.ID)
	}

	at := timeOrNow(share.CreatedAt)
	score := float64(at.UnixNano())
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, hkey, map[string]any{
			"title":          share.Title,
			"flowchart_code": share.FlowchartCode,
			"svg_content":    share.SVGContent,
			"is_public":      boolInt(share.IsPublic),
			"views":          share.Views,
			"created_at":     at.Format(time.RFC3339Nano),
		})
		p.ZAdd(ctx, s.key("shares"), redis.Z{Score: score, Member: share.ID})
		if share.IsPublic {
			p.ZAdd(ctx, s.key("shares", "public"), redis.Z{Score: score, Member: share.ID})
		}
		return nil
	})
	if err != nil {
		return storeFailure("create share", err)
	}
	return nil
}

func (s *RedisStore) GetShare(ctx context.Context, id string) (*Share, error) {
	fields, err := s.client.HGetAll(ctx, s.key("share", id)).Result()
	if err != nil {
		return nil, storeFailure("get share", err)
	}
	if len(fields) == 0 {
		return nil, storeNotFound("share", id)
	}
	return shareFromHash(fields)
}

func (s *RedisStore) IncrementShareViews(ctx context.Context, id string) (int64, error) {
	hkey := s.key("share", id)
	n, err := s.client.Exists(ctx, hkey).Result()
	if err != nil {
		return 0, storeFailure("increment views", err)
	}
	if n == 0 {
		return 0, storeNotFound("share", id)
	}
	views, err := s.client.HIncrBy(ctx, hkey, "views", 1).Result()
	if err != nil {
		return 0, storeFailure("increment views", err)
	}
	return views, nil
}

func (s *RedisStore) ListShares(ctx context.Context, filter ShareFilter) ([]*Share, error) {
	index := s.key("shares")
	if filter.PublicOnly {
		index = s.key("shares", "public")
	}
	start := int64(max(filter.Offset, 0))
	stop := int64(-1)
	if filter.Limit > 0 {
		stop = start + int64(filter.Limit) - 1
	}

	ids, err := s.client.ZRevRange(ctx, index, start, stop).Result()
	if err != nil {
		return nil, storeFailure("list shares", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, s.key("share", id))
		}
		return nil
	})
	if err != nil {
		return nil, storeFailure("list shares", err)
	}

	out := make([]*Share, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		sh, err := shareFromHash(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, nil
}

func shareFromHash(f map[string]string) (*Share, error) {
	views, _ := strconv.ParseInt(f["views"], 10, 64)
	created, err := time.Parse(time.RFC3339Nano, f["created_at"])
	if err != nil {
		return nil, storeFailure("parse share", err)
	}
	return &Share{
		ID:            f["id"],
		Title:         f["title"],
		FlowchartCode: f["flowchart_code"],
		SVGContent:    f["svg_content"],
		IsPublic:      f["is_public"] == "1",
		Views:         views,
		CreatedAt:     created,
	}, nil
}

// --- Counters ---

func (s *RedisStore) IncrementCounter(ctx context.Context, name string, delta int64) (int64, error) {
	v, err := s.client.HIncrBy(ctx, s.key("counters"), name, delta).Result()
	if err != nil {
		return 0, storeFailure("increment counter", err)
	}
	return v, nil
}

func (s *RedisStore) Counters(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.key("counters")).Result()
	if err != nil {
		return nil, storeFailure("read counters", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, storeFailure("parse counter "+k, err)
		}
		out[k] = n
	}
	return out, nil
}

func (s *RedisStore) MarkUserActive(ctx context.Context, userID string) (bool, error) {
	added, err := s.client.SAdd(ctx, s.key("active_users"), userID).Result()
	if err != nil {
		return false, storeFailure("mark user active", err)
	}
	return added > 0, nil
}

func (s *RedisStore) ActiveUsers(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.key("active_users")).Result()
	if err != nil {
		return 0, storeFailure("count active users", err)
	}
	return int(n), nil
}

func (s *RedisStore) SetPeak(ctx context.Context, candidate int64) (int64, error) {
	peak, err := setPeak.Run(ctx, s.client, []string{s.key("counters")},
		schema.CounterPeakUsers, candidate).Int64()
	if err != nil {
		return 0, storeFailure("set peak", err)
	}
	return peak, nil
}

func (s *RedisStore) ResetActiveUsers(ctx context.Context, at time.Time) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key("active_users"))
		p.Set(ctx, s.key("last_reset"), timeOrNow(at).Format(time.RFC3339Nano), 0)
		return nil
	})
	if err != nil {
		return storeFailure("reset active users", err)
	}
	return nil
}

func (s *RedisStore) LastReset(ctx context.Context) (time.Time, error) {
	raw, err := s.client.Get(ctx, s.key("last_reset")).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storeFailure("read last reset", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, storeFailure("parse last reset", err)
	}
	return t, nil
}

// --- Subscribers ---

func (s *RedisStore) AddSubscriber(ctx context.Context, sub *Subscriber) error {
	cp := *sub
	cp.Interests = nonNil(sub.Interests)
	cp.SubscribedAt = timeOrNow(sub.SubscribedAt)
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal subscriber: %w", err)
	}

	added, err := s.client.HSetNX(ctx, s.key("subscribers"), sub.Email, data).Result()
	if err != nil {
		return storeFailure("add subscriber", err)
	}
	if !added {
		return storeConflict("subscriber", sub.Email)
	}
	err = s.client.ZAdd(ctx, s.key("subscribers", "by_time"), redis.Z{
		Score:  float64(cp.SubscribedAt.UnixNano()),
		Member: sub.Email,
	}).Err()
	if err != nil {
		return storeFailure("index subscriber", err)
	}
	return nil
}

func (s *RedisStore) CountSubscribers(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key("subscribers")).Result()
	if err != nil {
		return 0, storeFailure("count subscribers", err)
	}
	return int(n), nil
}

func (s *RedisStore) RecentSubscribers(ctx context.Context, limit int) ([]*Subscriber, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	emails, err := s.client.ZRevRange(ctx, s.key("subscribers", "by_time"), 0, stop).Result()
	if err != nil {
		return nil, storeFailure("list subscribers", err)
	}
	if len(emails) == 0 {
		return nil, nil
	}

	vals, err := s.client.HMGet(ctx, s.key("subscribers"), emails...).Result()
	if err != nil {
		return nil, storeFailure("list subscribers", err)
	}
	out := make([]*Subscriber, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		sub := &Subscriber{}
		if err := json.Unmarshal([]byte(str), sub); err != nil {
			return nil, storeFailure("decode subscriber", err)
		}
		out = append(out, sub)
	}
	return out, nil
}

// --- Secrets ---

func (s *RedisStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	if err := s.client.HSet(ctx, s.key("secrets"), key, value).Err(); err != nil {
		return storeFailure("store secret", err)
	}
	return nil
}

func (s *RedisStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.HGet(ctx, s.key("secrets"), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storeNotFound("secret", key)
	}
	if err != nil {
		return nil, storeFailure("get secret", err)
	}
	return v, nil
}

func (s *RedisStore) DeleteSecret(ctx context.Context, key string) error {
	n, err := s.client.HDel(ctx, s.key("secrets"), key).Result()
	if err != nil {
		return storeFailure("delete secret", err)
	}
	if n == 0 {
		return storeNotFound("secret", key)
	}
	return nil
}

func (s *RedisStore) ListSecrets(ctx context.Context) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.key("secrets")).Result()
	if err != nil {
		return nil, storeFailure("list secrets", err)
	}
	sort.Strings(keys)
	return keys, nil
}
