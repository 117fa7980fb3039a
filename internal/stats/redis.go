package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "tts:admission"
	defaultRedisTTL    = 24 * time.Hour
	minuteBucketLayout = "200601021504"
)

// RedisRecorder keeps cumulative counters in Redis hashes:
//
//	<prefix>:total                 field = outcome
//	<prefix>:minute:<yyyymmddhhmm> field = outcome, expires after ttl
//	<prefix>:slot:<name>           field = outcome
//	<prefix>:route                 field = <route>:<outcome>
type RedisRecorder struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisRecorder.
type RedisOption func(*RedisRecorder)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisRecorder) {
		if trimmed := strings.Trim(prefix, ":"); trimmed != "" {
			r.prefix = trimmed
		}
	}
}

// WithRedisTTL sets the expiry of the per-minute buckets. Zero disables it.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *RedisRecorder) { r.ttl = ttl }
}

// NewRedisRecorder wraps rdb.
func NewRedisRecorder(rdb redis.UniversalClient, opts ...RedisOption) *RedisRecorder {
	recorder := &RedisRecorder{
		rdb:    rdb,
		prefix: defaultRedisPrefix,
		ttl:    defaultRedisTTL,
	}

	for _, opt := range opts {
		opt(recorder)
	}

	return recorder
}

// Prefix returns the key prefix in use.
func (r *RedisRecorder) Prefix() string {
	return r.prefix
}

// Record implements Recorder with a single pipelined round trip.
func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := string(ev.Outcome)

	pipe := r.rdb.Pipeline()
	pipe.HIncrBy(ctx, r.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", r.prefix, at.UTC().Format(minuteBucketLayout))
	pipe.HIncrBy(ctx, bucketKey, field, 1)

	if r.ttl > 0 {
		pipe.Expire(ctx, bucketKey, r.ttl)
	}

	if slot := strings.TrimSpace(ev.Slot); slot != "" {
		pipe.HIncrBy(ctx, r.prefix+":slot:"+slot, field, 1)
	}

	if route := strings.TrimSpace(ev.Route); route != "" {
		pipe.HIncrBy(ctx, r.prefix+":route", route+":"+field, 1)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("record admission event: %w", err)
	}

	return nil
}
