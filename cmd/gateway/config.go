package main

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"webhook-gateway/middleware/ingress/application"
)

type config struct {
	listenAddr string

	redisAddr     string
	redisPassword string
	redisDB       int

	limits application.Config

	plansDBDriver string
	plansDBDSN    string

	scheduler           string
	flushConcurrency    int
	flushAcquireTimeout time.Duration
	workerQueue         string

	concurrencyMax     int
	concurrencyTimeout time.Duration

	adminToken string
	adminRPS   float64

	rateStatsRedis bool
	logJSON        bool
	debug          bool
}

// planFile é o formato de PLAN_LIMITS_FILE.
//
//	default_plan: basic
//	plans:
//	  basic: 60
//	  pro: 180
type planFile struct {
	DefaultPlan string           `yaml:"default_plan"`
	Plans       map[string]int64 `yaml:"plans"`
}

func readConfig() (config, error) {
	def := application.DefaultConfig()

	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)

	cfg.limits = application.Config{
		GlobalLimitPerMinute: int64(getenvIntDefault("RATE_LIMIT_GLOBAL", int(def.GlobalLimitPerMinute))),
		PlanLimits:           def.PlanLimits,
		DefaultPlan:          getenvDefault("DEFAULT_PLAN", def.DefaultPlan),
		BurstLimit:           int64(getenvIntDefault("RATE_LIMIT_BURST", int(def.BurstLimit))),
		BurstWindow:          getenvSecondsDefault("RATE_LIMIT_BURST_WINDOW", def.BurstWindow),
		ViolationThreshold:   int64(getenvIntDefault("RATE_LIMIT_VIOLATION_THRESHOLD", int(def.ViolationThreshold))),
		ViolationWindow:      getenvSecondsDefault("RATE_LIMIT_VIOLATION_WINDOW", def.ViolationWindow),
		BlockDuration:        getenvSecondsDefault("RATE_LIMIT_BLOCK_DURATION", def.BlockDuration),
		PlanCacheTTL:         getenvSecondsDefault("PLAN_CACHE_TTL", def.PlanCacheTTL),
		PlanLookupTimeout:    getenvDurationDefault("PLAN_LOOKUP_TIMEOUT", def.PlanLookupTimeout),
		DebounceDelay:        getenvSecondsDefault("BUFFER_DEBOUNCE", def.DebounceDelay),
		LockMargin:           getenvSecondsDefault("BUFFER_LOCK_MARGIN", def.LockMargin),
		BufferSafetyTTL:      getenvSecondsDefault("BUFFER_SAFETY_TTL", def.BufferSafetyTTL),
		FlushRetryDelay:      getenvDurationDefault("FLUSH_RETRY_DELAY", def.FlushRetryDelay),
	}
	if path := strings.TrimSpace(os.Getenv("PLAN_LIMITS_FILE")); path != "" {
		pf, err := loadPlanFile(path)
		if err != nil {
			return config{}, err
		}
		if len(pf.Plans) > 0 {
			cfg.limits.PlanLimits = pf.Plans
		}
		if pf.DefaultPlan != "" {
			cfg.limits.DefaultPlan = pf.DefaultPlan
		}
	}

	cfg.plansDBDriver = strings.ToLower(strings.TrimSpace(os.Getenv("PLANS_DB_DRIVER")))
	cfg.plansDBDSN = os.Getenv("PLANS_DB_DSN")

	cfg.scheduler = strings.ToLower(getenvDefault("BUFFER_SCHEDULER", "timer"))
	cfg.flushConcurrency = getenvIntDefault("FLUSH_CONCURRENCY", 32)
	cfg.flushAcquireTimeout = getenvDurationDefault("FLUSH_ACQUIRE_TIMEOUT", 5*time.Second)
	cfg.workerQueue = getenvDefault("WORKER_QUEUE", "queue:main")

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.adminToken = os.Getenv("ADMIN_TOKEN")
	cfg.adminRPS = getenvFloatDefault("ADMIN_RPS", 5)

	cfg.rateStatsRedis = getenvBoolDefault("RATE_STATS_REDIS", false)
	cfg.logJSON = getenvBoolDefault("LOG_JSON", false)
	cfg.debug = getenvBoolDefault("DEBUG", false)

	if strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required")
	}
	switch cfg.plansDBDriver {
	case "":
	case "postgres", "sqlite":
		if strings.TrimSpace(cfg.plansDBDSN) == "" {
			return config{}, errors.New("PLANS_DB_DSN is required when PLANS_DB_DRIVER is set")
		}
	default:
		return config{}, xerrors.Errorf("PLANS_DB_DRIVER must be postgres or sqlite, got %q", cfg.plansDBDriver)
	}
	switch cfg.scheduler {
	case "timer", "redis":
	default:
		return config{}, xerrors.Errorf("BUFFER_SCHEDULER must be timer or redis, got %q", cfg.scheduler)
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

func loadPlanFile(path string) (planFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return planFile{}, xerrors.Errorf("read PLAN_LIMITS_FILE: %w", err)
	}
	var pf planFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return planFile{}, xerrors.Errorf("parse PLAN_LIMITS_FILE: %w", err)
	}
	for name, limit := range pf.Plans {
		if limit <= 0 {
			return planFile{}, xerrors.Errorf("PLAN_LIMITS_FILE: plan %q must have a positive limit", name)
		}
	}
	return pf, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// getenvSecondsDefault aceita segundos inteiros ("60") ou duração Go ("1m").
func getenvSecondsDefault(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return def
		}
		return time.Duration(n) * time.Second
	}
	return getenvDurationDefault(k, def)
}
