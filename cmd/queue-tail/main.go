// queue-tail consome a fila de trabalho e imprime cada mensagem agregada.
// Útil para inspecionar o que o gateway está entregando aos workers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/redis/go-redis/v9"

	"webhook-gateway/middleware/ingress/infra"
)

func main() {
	var (
		addr  = flag.String("redis", envOr("REDIS_ADDR", "localhost:6379"), "redis address")
		queue = flag.String("queue", envOr("WORKER_QUEUE", "queue:main"), "queue key")
		wait  = flag.Duration("wait", 5*time.Second, "BRPOP timeout per poll")
		limit = flag.Int("n", 0, "stop after n tasks (0 = forever)")
	)
	flag.Parse()

	logger := slog.Make(sloghuman.Sink(os.Stderr)).Named("queue-tail")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: *addr})
	defer func() { _ = rdb.Close() }()

	q := infra.NewRedisQueue(rdb, *queue)
	enc := json.NewEncoder(os.Stdout)

	seen := 0
	for ctx.Err() == nil {
		task, ok, err := q.Pop(ctx, *wait)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn(ctx, "pop failed", slog.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		_ = enc.Encode(task)
		seen++
		if *limit > 0 && seen >= *limit {
			break
		}
	}
	logger.Info(context.Background(), "done", slog.F("tasks", seen))
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
