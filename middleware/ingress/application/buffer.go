package application

import (
	"context"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"webhook-gateway/middleware/ingress/domain"
)

// FragmentSeparator junta os fragmentos de uma conversa, para o modelo entender a separação.
const FragmentSeparator = ". "

const lockValue = "processing"

// ErrNoFlushSlot indica que o flush desistiu por falta de vaga no pool de handoff.
var ErrNoFlushSlot = xerrors.New("no flush slot available")

// Buffer acumula fragmentos por (tenant, conversa) e elege um único líder por
// ciclo de debounce para agendar o flush adiado.
//
// Ciclo por conversa: EMPTY -> ACCUMULATING (primeiro Append, líder eleito)
// -> FLUSHING (job dispara e drena) -> EMPTY. Seguidores não tentam de novo:
// contam com o job já agendado.
type Buffer struct {
	store     domain.Store
	scheduler domain.Scheduler
	onFlush   domain.FlushFunc
	cfg       Config
	logger    slog.Logger

	// slots limita handoffs simultâneos para a fila de workers.
	slots ConcurrencyService
}

type BufferOption func(*Buffer)

func WithBufferLogger(l slog.Logger) BufferOption {
	return func(b *Buffer) { b.logger = l }
}

// WithFlushSlots limita quantos flushes rodam ao mesmo tempo.
func WithFlushSlots(pool domain.SlotPool, acquireTimeout time.Duration) BufferOption {
	return func(b *Buffer) {
		b.slots = ConcurrencyService{Pool: pool, AcquireTimeout: acquireTimeout}
	}
}

func NewBuffer(store domain.Store, scheduler domain.Scheduler, onFlush domain.FlushFunc, cfg Config, opts ...BufferOption) *Buffer {
	b := &Buffer{
		store:     store,
		scheduler: scheduler,
		onFlush:   onFlush,
		cfg:       cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EnqueueResult descreve o que aconteceu com um fragmento.
type EnqueueResult struct {
	// Leader indica que este chamador venceu a eleição e agendou o flush.
	Leader bool
	// Skipped indica texto vazio: nada foi gravado.
	Skipped bool
}

// EnqueueFragment grava o fragmento, tenta virar líder e, se conseguir, agenda o flush.
// Nunca espera o flush acontecer.
//
// Falha do store no Append é devolvida ao chamador: o fragmento se perde
// (limitação aceita), mas não silenciosamente.
func (b *Buffer) EnqueueFragment(ctx context.Context, tenant domain.TenantID, conv domain.ConversationID, text string) (EnqueueResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return EnqueueResult{Skipped: true}, nil
	}

	if err := b.Append(ctx, tenant, conv, text); err != nil {
		b.logger.Error(ctx, "append fragment to buffer",
			slog.F("tenant", tenant),
			slog.F("conversation", conv),
			slog.Error(err),
		)
		return EnqueueResult{}, err
	}

	leader, err := b.TryBecomeLeader(ctx, tenant, conv)
	if err != nil {
		// O fragmento já está na lista; o próximo fragmento (ou o job do ciclo
		// atual, se existir) o levará.
		return EnqueueResult{}, xerrors.Errorf("elect debounce leader: %w", err)
	}
	if !leader {
		return EnqueueResult{}, nil
	}

	job := domain.FlushJob{Tenant: tenant, Conversation: conv}
	if err := b.scheduler.Schedule(ctx, job, b.cfg.DebounceDelay); err != nil {
		// Sem job agendado o lock só atrasaria o próximo ciclo até expirar.
		if _, delErr := b.store.Delete(ctx, bufferLockKey(tenant, conv)); delErr != nil {
			b.logger.Warn(ctx, "release debounce lock after schedule failure",
				slog.F("tenant", tenant),
				slog.F("conversation", conv),
				slog.Error(delErr),
			)
		}
		return EnqueueResult{}, xerrors.Errorf("schedule flush: %w", err)
	}
	b.logger.Debug(ctx, "debounce leader scheduled flush",
		slog.F("tenant", tenant),
		slog.F("conversation", conv),
		slog.F("delay", b.cfg.DebounceDelay),
	)
	return EnqueueResult{Leader: true}, nil
}

// Append adiciona o fragmento ao fim da lista e renova o TTL de segurança da lista.
func (b *Buffer) Append(ctx context.Context, tenant domain.TenantID, conv domain.ConversationID, text string) error {
	return b.store.AppendToList(ctx, bufferListKey(tenant, conv), text, b.cfg.BufferSafetyTTL)
}

// TryBecomeLeader faz o set condicional do lock de debounce.
// Exatamente um chamador por ciclo recebe true.
func (b *Buffer) TryBecomeLeader(ctx context.Context, tenant domain.TenantID, conv domain.ConversationID) (bool, error) {
	return b.store.SetIfNotExists(ctx, bufferLockKey(tenant, conv), lockValue, b.cfg.DebounceDelay+b.cfg.LockMargin)
}

// DrainAndClear lê todos os fragmentos em ordem, apaga lista e lock atomicamente e
// devolve o texto junto. Buffer vazio (disparo duplicado) devolve "".
func (b *Buffer) DrainAndClear(ctx context.Context, tenant domain.TenantID, conv domain.ConversationID) (string, error) {
	fragments, err := b.store.ReadAndDeleteList(ctx, bufferListKey(tenant, conv), bufferLockKey(tenant, conv))
	if err != nil {
		return "", err
	}
	if len(fragments) == 0 {
		return "", nil
	}
	return strings.Join(fragments, FragmentSeparator), nil
}

// Flush implementa domain.FlushHandler: drena o buffer e entrega o texto ao OnFlush.
// É idempotente: um segundo disparo encontra o buffer vazio e não faz nada.
func (b *Buffer) Flush(ctx context.Context, job domain.FlushJob) error {
	release, ok := b.slots.Acquire(ctx)
	if !ok {
		return b.retryLater(ctx, job)
	}
	defer release()

	text, err := b.DrainAndClear(ctx, job.Tenant, job.Conversation)
	if err != nil {
		b.logger.Error(ctx, "drain buffer",
			slog.F("tenant", job.Tenant),
			slog.F("conversation", job.Conversation),
			slog.Error(err),
		)
		return xerrors.Errorf("drain buffer: %w", err)
	}
	if text == "" {
		b.logger.Debug(ctx, "buffer already drained",
			slog.F("tenant", job.Tenant),
			slog.F("conversation", job.Conversation),
		)
		return nil
	}
	if b.onFlush == nil {
		return nil
	}
	if err := b.onFlush(ctx, job.Tenant, job.Conversation, text); err != nil {
		b.logger.Error(ctx, "hand off flushed text",
			slog.F("tenant", job.Tenant),
			slog.F("conversation", job.Conversation),
			slog.F("text_len", len(text)),
			slog.Error(err),
		)
		return xerrors.Errorf("on flush: %w", err)
	}
	return nil
}

// retryLater reagenda um flush que não achou vaga de handoff. Os fragmentos
// continuam na lista e o lock é renovado, para que fragmentos novos sigam como
// seguidores do job reagendado. Se não der para reagendar, solta o lock: o
// próximo fragmento elege outro líder.
func (b *Buffer) retryLater(ctx context.Context, job domain.FlushJob) error {
	// o ctx do job pode ter vencido junto com a espera pela vaga
	ctx = context.WithoutCancel(ctx)
	listKey := bufferListKey(job.Tenant, job.Conversation)
	lockKey := bufferLockKey(job.Tenant, job.Conversation)

	pending, err := b.store.Exists(ctx, listKey)
	if err == nil && !pending {
		return nil
	}

	if err := b.scheduler.Schedule(ctx, job, b.cfg.FlushRetryDelay); err != nil {
		if _, delErr := b.store.Delete(ctx, lockKey); delErr != nil {
			b.logger.Warn(ctx, "release debounce lock after reschedule failure",
				slog.F("tenant", job.Tenant),
				slog.F("conversation", job.Conversation),
				slog.Error(delErr),
			)
		}
		b.logger.Error(ctx, "no flush slot available and reschedule failed",
			slog.F("tenant", job.Tenant),
			slog.F("conversation", job.Conversation),
			slog.Error(err),
		)
		return ErrNoFlushSlot
	}

	if err := b.store.SetWithTTL(ctx, lockKey, lockValue, b.cfg.FlushRetryDelay+b.cfg.LockMargin); err != nil {
		b.logger.Warn(ctx, "renew debounce lock for flush retry",
			slog.F("tenant", job.Tenant),
			slog.F("conversation", job.Conversation),
			slog.Error(err),
		)
	}
	b.logger.Warn(ctx, "no flush slot available, flush rescheduled",
		slog.F("tenant", job.Tenant),
		slog.F("conversation", job.Conversation),
		slog.F("delay", b.cfg.FlushRetryDelay),
	)
	return nil
}
