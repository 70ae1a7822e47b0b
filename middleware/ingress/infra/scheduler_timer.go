package infra

import (
	"context"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"webhook-gateway/middleware/ingress/domain"
)

var (
	ErrSchedulerClosed = xerrors.New("scheduler closed")
	ErrNoFlushHandler  = xerrors.New("scheduler has no flush handler")
)

// TimerScheduler agenda flushes com timers em processo (quartz.AfterFunc).
//
// Jobs pendentes se perdem num restart ou no Close; o lock de debounce expira e
// o próximo fragmento da conversa elege um novo líder.
type TimerScheduler struct {
	clock      quartz.Clock
	logger     slog.Logger
	jobTimeout time.Duration

	mu      sync.Mutex
	handler domain.FlushHandler
	timers  map[uint64]*quartz.Timer
	nextID  uint64
	closed  bool
	wg      sync.WaitGroup
}

type TimerSchedulerOption func(*TimerScheduler)

func WithSchedulerClock(c quartz.Clock) TimerSchedulerOption {
	return func(s *TimerScheduler) { s.clock = c }
}

func WithSchedulerLogger(l slog.Logger) TimerSchedulerOption {
	return func(s *TimerScheduler) { s.logger = l }
}

// WithJobTimeout limita a duração de cada flush; o padrão é 30s.
func WithJobTimeout(d time.Duration) TimerSchedulerOption {
	return func(s *TimerScheduler) { s.jobTimeout = d }
}

func NewTimerScheduler(opts ...TimerSchedulerOption) *TimerScheduler {
	s := &TimerScheduler{
		clock:      quartz.NewReal(),
		jobTimeout: 30 * time.Second,
		timers:     make(map[uint64]*quartz.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle define quem executa os jobs. Deve ser chamado antes do primeiro Schedule.
func (s *TimerScheduler) Handle(h domain.FlushHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *TimerScheduler) Schedule(_ context.Context, job domain.FlushJob, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	if s.handler == nil {
		return ErrNoFlushHandler
	}

	id := s.nextID
	s.nextID++
	s.wg.Add(1)
	s.timers[id] = s.clock.AfterFunc(delay, func() { s.fire(id, job) }, "scheduler", "flush")
	return nil
}

func (s *TimerScheduler) fire(id uint64, job domain.FlushJob) {
	defer s.wg.Done()

	s.mu.Lock()
	delete(s.timers, id)
	h := s.handler
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	if err := h.Flush(ctx, job); err != nil {
		s.logger.Warn(ctx, "flush job failed",
			slog.F("tenant", job.Tenant),
			slog.F("conversation", job.Conversation),
			slog.Error(err),
		)
	}
}

// Pending devolve quantos jobs ainda não dispararam.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close descarta os jobs pendentes e espera os que já estão rodando.
func (s *TimerScheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := 0
	for id, t := range s.timers {
		if t.Stop() {
			dropped++
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Info(context.Background(), "dropped pending flush jobs on close", slog.F("count", dropped))
	}
	s.wg.Wait()
	return nil
}
