package eventstats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pixelbot/pixelbot/internal/admission"
)

// RedisStore keeps counters in redis hashes so several bot instances can
// share them.
//
// Keys:
//
//	<prefix>:total                 cumulative, never expires
//	<prefix>:minute:<YYYYMMDDhhmm>  per-minute bucket, expires after ttl
//	<prefix>:kind                  "<kind>:<field>" counters
//	<prefix>:requestor:<id>        optional, expires after ttl
type RedisStore struct {
	rdb redis.UniversalClient

	prefix          string
	ttl             time.Duration
	bucket          string
	trackRequestors bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithRedisTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// WithRedisBucket selects "minute" (default) or "none".
func WithRedisBucket(bucket string) RedisOption {
	return func(s *RedisStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithRedisTrackRequestors(track bool) RedisOption {
	return func(s *RedisStore) { s.trackRequestors = track }
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "pixelbot:admission",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *RedisStore) Record(ctx context.Context, ev admission.Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	name := field(ev)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.totalKey(), name, 1)

	if s.bucket == "minute" {
		key := s.bucketKey(at)
		pipe.HIncrBy(ctx, key, name, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	if ev.Kind != "" {
		pipe.HIncrBy(ctx, s.prefix+":kind", string(ev.Kind)+":"+name, 1)
	}

	if s.trackRequestors && ev.Requestor != "" {
		key := s.requestorKey(ev.Requestor)
		pipe.HIncrBy(ctx, key, name, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Total reads the cumulative counters.
func (s *RedisStore) Total(ctx context.Context) (Counters, error) {
	return s.readCounters(ctx, s.totalKey())
}

// Minute reads the bucket containing at.
func (s *RedisStore) Minute(ctx context.Context, at time.Time) (Counters, error) {
	return s.readCounters(ctx, s.bucketKey(at))
}

// Requestor reads counters for one requestor. Requires request tracking.
func (s *RedisStore) Requestor(ctx context.Context, id admission.RequestorID) (Counters, error) {
	return s.readCounters(ctx, s.requestorKey(id))
}

func (s *RedisStore) readCounters(ctx context.Context, key string) (Counters, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("read %s: %w", key, err)
	}
	values := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("parse %s.%s: %w", key, k, err)
		}
		values[k] = n
	}
	return countersFromHash(values), nil
}

func (s *RedisStore) totalKey() string {
	return s.prefix + ":total"
}

func (s *RedisStore) bucketKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

func (s *RedisStore) requestorKey(id admission.RequestorID) string {
	return s.prefix + ":requestor:" + strings.TrimSpace(string(id))
}
