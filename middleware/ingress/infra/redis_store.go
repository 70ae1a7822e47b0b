package infra

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/xerrors"

	"webhook-gateway/middleware/ingress/domain"
)

// incrWindowScript incrementa e, só na criação da chave, aplica o TTL.
// Uma chave órfã sem TTL (PTTL == -1) recebe o TTL também; um TTL existente nunca é estendido.
var incrWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) == -1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Respostas de erro do Redis que indicam indisponibilidade temporária, não bug.
var unavailableReplies = []string{"LOADING", "READONLY", "CLUSTERDOWN", "TRYAGAIN", "MASTERDOWN", "BUSY"}

// RedisStore implementa domain.Store sobre go-redis.
//
// Cada operação é um único comando, script Lua ou transação MULTI/EXEC, então
// chamadores concorrentes em vários processos coordenam só pelo Redis.
type RedisStore struct {
	rdb       redis.UniversalClient
	scanCount int64
}

type RedisStoreOption func(*RedisStore)

// WithScanCount ajusta o COUNT usado pelo SCAN em Keys.
func WithScanCount(n int64) RedisStoreOption {
	return func(s *RedisStore) { s.scanCount = n }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{rdb: rdb, scanCount: 200}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping verifica a conexão. Erro já vem classificado.
func (s *RedisStore) Ping(ctx context.Context) error {
	return classify("ping", "", s.rdb.Ping(ctx).Err())
}

func (s *RedisStore) IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ms := ttl.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	n, err := incrWindowScript.Run(ctx, s.rdb, []string{key}, ms).Int64()
	if err != nil {
		return 0, classify("incr", key, err)
	}
	return n, nil
}

func (s *RedisStore) SetIfNotExists(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, classify("setnx", key, err)
	}
	return ok, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return classify("set", key, s.rdb.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) AppendToList(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, value)
		if ttl > 0 {
			p.PExpire(ctx, key, ttl)
		}
		return nil
	})
	return classify("rpush", key, err)
}

// ReadAndDeleteList roda LRANGE + DEL numa transação MULTI/EXEC: nenhum RPUSH
// concorrente cai entre a leitura e a remoção.
// Em Redis Cluster, key e alsoDelete precisam compartilhar hash tag.
func (s *RedisStore) ReadAndDeleteList(ctx context.Context, key string, alsoDelete ...string) ([]string, error) {
	var lrange *redis.StringSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		lrange = p.LRange(ctx, key, 0, -1)
		p.Del(ctx, append([]string{key}, alsoDelete...)...)
		return nil
	})
	if err != nil {
		return nil, classify("drain", key, err)
	}
	return lrange.Val(), nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, classify("exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return 0, classify("pttl", key, err)
	}
	// -1 (sem expiração) e -2 (ausente) chegam como durações negativas
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *RedisStore) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Get(ctx, key).Int64()
	if xerrors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, classify("get", key, err)
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, classify("del", strings.Join(keys, ","), err)
	}
	return n, nil
}

// Keys percorre o keyspace com SCAN (nunca KEYS). Em cluster, varre todos os masters.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if cc, ok := s.rdb.(*redis.ClusterClient); ok {
		var (
			mu  sync.Mutex
			out []string
		)
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			keys, err := scanAll(ctx, node, pattern, s.scanCount)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, keys...)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, classify("scan", pattern, err)
		}
		return out, nil
	}
	keys, err := scanAll(ctx, s.rdb, pattern, s.scanCount)
	if err != nil {
		return nil, classify("scan", pattern, err)
	}
	return keys, nil
}

func scanAll(ctx context.Context, c redis.Cmdable, pattern string, count int64) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	iter := c.Scan(ctx, 0, pattern, count).Iterator()
	for iter.Next(ctx) {
		// SCAN pode devolver a mesma chave mais de uma vez
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, iter.Err()
}

func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.StoreError{Op: op, Key: key, Unavailable: isUnavailable(err), Err: err}
}

// isUnavailable separa falhas de infraestrutura (rede, timeout, pool, cliente
// fechado, réplica carregando) de respostas de erro lógicas do servidor.
func isUnavailable(err error) bool {
	var rerr redis.Error
	if !xerrors.As(err, &rerr) {
		return true
	}
	msg := rerr.Error()
	for _, prefix := range unavailableReplies {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
