package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"

	"webhook-gateway/middleware/ingress"
	"webhook-gateway/middleware/ingress/application"
	"webhook-gateway/middleware/ingress/domain"
	"webhook-gateway/middleware/ingress/infra"
)

func main() {
	// Exemplo: admissão + buffer dentro do seu próprio webserver, sem Redis.
	// O estado fica em memória, então só serve para uma réplica.
	logger := slog.Make(sloghuman.Sink(os.Stderr)).Named("example")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infra.NewMemoryStore()
	store.StartJanitor(ctx)

	cfg := application.DefaultConfig()
	cfg.DebounceDelay = 3 * time.Second

	limiter := application.NewLimiter(store, nil, cfg, application.WithLogger(logger))

	sched := infra.NewTimerScheduler(infra.WithSchedulerLogger(logger))
	defer func() { _ = sched.Close() }()

	onFlush := func(ctx context.Context, tenant domain.TenantID, conv domain.ConversationID, text string) error {
		logger.Info(ctx, "flushed", slog.F("tenant", tenant), slog.F("conversation", conv), slog.F("text", text))
		return nil
	}
	buf := application.NewBuffer(store, sched, onFlush, cfg, application.WithBufferLogger(logger))
	sched.Handle(buf)

	tenantFn := ingress.DefaultTenantFunc("X-Tenant-ID")

	h := ingress.WebhookHandler(buf, tenantFn, logger)
	h = ingress.Middleware(ingress.Options{
		Limiter:             limiter,
		TenantFn:            tenantFn,
		AddRateLimitHeaders: true,
	})(h)
	h = ingress.ConcurrencyMiddleware(ingress.ConcurrencyOptions{Max: 50})(h)

	mux := http.NewServeMux()
	mux.Handle("POST /webhook/{tenant}", h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "example server listening", slog.F("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(ctx, "server error", slog.Error(err))
	}
}
