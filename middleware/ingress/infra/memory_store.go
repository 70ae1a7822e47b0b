package infra

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"webhook-gateway/middleware/ingress/domain"
)

// MemoryStore é uma implementação de domain.Store em memória, com expiração por
// chave e limpeza periódica.
// Útil para testes e desenvolvimento: não é compartilhada entre processos.
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[string]*memEntry
	clock        quartz.Clock
	cleanupEvery time.Duration
}

type memEntry struct {
	str  string
	list []string
	// isList distingue lista de valor escalar, como o WRONGTYPE do Redis.
	isList   bool
	expireAt time.Time
}

type MemoryStoreOption func(*MemoryStore)

func WithMemoryClock(c quartz.Clock) MemoryStoreOption {
	return func(s *MemoryStore) { s.clock = c }
}

func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[string]*memEntry),
		clock:        quartz.NewReal(),
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errWrongType = xerrors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

func logicalErr(op, key string, err error) error {
	return &domain.StoreError{Op: op, Key: key, Err: err}
}

// live devolve a entrada se existir e não tiver expirado. Chamar com mu travado.
func (s *MemoryStore) live(key string, now time.Time) (*memEntry, bool) {
	ent, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !ent.expireAt.IsZero() && !now.Before(ent.expireAt) {
		delete(s.entries, key)
		return nil, false
	}
	return ent, true
}

func (s *MemoryStore) IncrementWindow(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.live(key, now)
	if !ok {
		ent = &memEntry{str: "0"}
		s.entries[key] = ent
	}
	if ent.isList {
		return 0, logicalErr("incr", key, errWrongType)
	}
	n, err := strconv.ParseInt(ent.str, 10, 64)
	if err != nil {
		return 0, logicalErr("incr", key, xerrors.New("ERR value is not an integer or out of range"))
	}
	n++
	ent.str = strconv.FormatInt(n, 10)
	if ent.expireAt.IsZero() && ttl > 0 {
		ent.expireAt = now.Add(ttl)
	}
	return n, nil
}

func (s *MemoryStore) SetIfNotExists(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key, now); ok {
		return false, nil
	}
	s.entries[key] = &memEntry{str: value, expireAt: expireAt(now, ttl)}
	return true, nil
}

func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{str: value, expireAt: expireAt(now, ttl)}
	return nil
}

func (s *MemoryStore) AppendToList(_ context.Context, key, value string, ttl time.Duration) error {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.live(key, now)
	if !ok {
		ent = &memEntry{isList: true}
		s.entries[key] = ent
	}
	if !ent.isList {
		return logicalErr("rpush", key, errWrongType)
	}
	ent.list = append(ent.list, value)
	ent.expireAt = expireAt(now, ttl)
	return nil
}

func (s *MemoryStore) ReadAndDeleteList(_ context.Context, key string, alsoDelete ...string) ([]string, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	if ent, ok := s.live(key, now); ok {
		if !ent.isList {
			return nil, logicalErr("lrange", key, errWrongType)
		}
		out = ent.list
	}
	delete(s.entries, key)
	for _, k := range alsoDelete {
		delete(s.entries, k)
	}
	return out, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(key, now)
	return ok, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.live(key, now)
	if !ok || ent.expireAt.IsZero() {
		return 0, nil
	}
	return ent.expireAt.Sub(now), nil
}

func (s *MemoryStore) GetInt(_ context.Context, key string) (int64, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.live(key, now)
	if !ok {
		return 0, nil
	}
	if ent.isList {
		return 0, logicalErr("get", key, errWrongType)
	}
	n, err := strconv.ParseInt(ent.str, 10, 64)
	if err != nil {
		return 0, logicalErr("get", key, err)
	}
	return n, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, k := range keys {
		if _, ok := s.live(k, now); ok {
			n++
		}
		delete(s.entries, k)
	}
	return n, nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.entries {
		if _, ok := s.live(k, now); ok && globMatch(pattern, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Cleanup remove entradas expiradas.
func (s *MemoryStore) Cleanup() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		s.live(k, now)
	}
}

// Len devolve o número de entradas vivas.
func (s *MemoryStore) Len() int {
	s.Cleanup()
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor inicia a limpeza periódica de chaves expiradas.
// Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}
	s.clock.TickerFunc(ctx, s.cleanupEvery, func() error {
		s.Cleanup()
		return nil
	}, "memorystore", "janitor")
}

func expireAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// globMatch casa padrões estilo Redis com '*' e '?'.
func globMatch(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatch(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
		default:
			if s == "" || s[0] != pattern[0] {
				return false
			}
		}
		pattern = pattern[1:]
		s = s[1:]
	}
	return s == ""
}
