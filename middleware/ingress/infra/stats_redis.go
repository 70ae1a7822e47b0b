package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"webhook-gateway/middleware/ingress/domain"
)

// RedisStatsStore grava contadores de decisão em hashes do Redis.
//
// Layout (prefixo padrão "ratelimit:stats"):
//
//	<prefix>:total                 allowed / denied / fail_open / denied:<reason>
//	<prefix>:minute:<yyyymmddhhmm> mesmos campos, com TTL
//	<prefix>:tenant:<tenant>       mesmos campos, com TTL (só com trackTenants)
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por tenant.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackTenants bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackTenants(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackTenants = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := statsFields(ev)

	pipe := s.rdb.Pipeline()
	incr := func(key string, expire bool) {
		for _, f := range fields {
			pipe.HIncrBy(ctx, key, f, 1)
		}
		if expire && s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}

	incr(s.prefix+":total", false)
	if s.bucket == "minute" {
		incr(fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504")), true)
	}
	if s.trackTenants {
		if t := strings.TrimSpace(string(ev.Tenant)); t != "" {
			incr(s.prefix+":tenant:"+t, true)
		}
	}

	_, err := pipe.Exec(ctx)
	return classify("stats", s.prefix, err)
}

// Total lê o hash cumulativo.
func (s *RedisStatsStore) Total(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return nil, classify("stats", s.prefix, err)
	}
	return parseCounters(raw), nil
}

func statsFields(ev domain.StatsEvent) []string {
	switch {
	case ev.Allowed && ev.FailOpen:
		return []string{"allowed", "fail_open"}
	case ev.Allowed:
		return []string{"allowed"}
	default:
		return []string{"denied", "denied:" + string(ev.Reason)}
	}
}

func parseCounters(raw map[string]string) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		}
	}
	return out
}
