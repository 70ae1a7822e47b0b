package application

import (
	"strings"
	"time"
)

// Config reúne os knobs de admissão e de debounce.
//
// Campos zerados ou negativos são substituídos pelos padrões de DefaultConfig.
type Config struct {
	GlobalLimitPerMinute int64

	// PlanLimits mapeia nome do plano (minúsculo) -> requisições por minuto.
	PlanLimits  map[string]int64
	DefaultPlan string

	BurstLimit  int64
	BurstWindow time.Duration

	ViolationThreshold int64
	ViolationWindow    time.Duration
	BlockDuration      time.Duration

	PlanCacheTTL time.Duration
	// PlanLookupTimeout limita cada consulta de plano ao banco.
	PlanLookupTimeout time.Duration

	DebounceDelay time.Duration
	// LockMargin soma-se ao DebounceDelay no TTL do lock de debounce, para que
	// o lock sobreviva ao disparo do job mas se cure sozinho se o job se perder.
	LockMargin      time.Duration
	BufferSafetyTTL time.Duration
	// FlushRetryDelay é o reagendamento de um flush que não achou vaga de handoff.
	FlushRetryDelay time.Duration
}

func DefaultPlanLimits() map[string]int64 {
	return map[string]int64{
		"trial":     60,
		"basic":     60,
		"pro":       180,
		"corporate": 300,
	}
}

func DefaultConfig() Config {
	return Config{
		GlobalLimitPerMinute: 10000,
		PlanLimits:           DefaultPlanLimits(),
		DefaultPlan:          "basic",
		BurstLimit:           50,
		BurstWindow:          10 * time.Second,
		ViolationThreshold:   5,
		ViolationWindow:      300 * time.Second,
		BlockDuration:        60 * time.Second,
		PlanCacheTTL:         300 * time.Second,
		PlanLookupTimeout:    2 * time.Second,
		DebounceDelay:        10 * time.Second,
		LockMargin:           10 * time.Second,
		BufferSafetyTTL:      time.Hour,
		FlushRetryDelay:      2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.GlobalLimitPerMinute <= 0 {
		c.GlobalLimitPerMinute = def.GlobalLimitPerMinute
	}
	if len(c.PlanLimits) == 0 {
		c.PlanLimits = def.PlanLimits
	} else {
		limits := make(map[string]int64, len(c.PlanLimits))
		for name, limit := range c.PlanLimits {
			if limit > 0 {
				limits[normalizePlan(name)] = limit
			}
		}
		c.PlanLimits = limits
	}
	c.DefaultPlan = normalizePlan(c.DefaultPlan)
	if _, ok := c.PlanLimits[c.DefaultPlan]; !ok {
		c.DefaultPlan = lowestPlan(c.PlanLimits)
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = def.BurstLimit
	}
	if c.BurstWindow < time.Second {
		c.BurstWindow = def.BurstWindow
	}
	if c.ViolationThreshold <= 0 {
		c.ViolationThreshold = def.ViolationThreshold
	}
	if c.ViolationWindow <= 0 {
		c.ViolationWindow = def.ViolationWindow
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = def.BlockDuration
	}
	if c.PlanCacheTTL <= 0 {
		c.PlanCacheTTL = def.PlanCacheTTL
	}
	if c.PlanLookupTimeout <= 0 {
		c.PlanLookupTimeout = def.PlanLookupTimeout
	}
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = def.DebounceDelay
	}
	if c.LockMargin <= 0 {
		c.LockMargin = def.LockMargin
	}
	if c.FlushRetryDelay <= 0 {
		c.FlushRetryDelay = def.FlushRetryDelay
	}
	if c.BufferSafetyTTL <= c.DebounceDelay+c.LockMargin {
		c.BufferSafetyTTL = def.BufferSafetyTTL
		if c.BufferSafetyTTL <= c.DebounceDelay+c.LockMargin {
			c.BufferSafetyTTL = 10 * (c.DebounceDelay + c.LockMargin)
		}
	}
	return c
}

// fallbackLimit é o limite do plano padrão (o menor tier documentado).
func (c Config) fallbackLimit() int64 {
	if limit, ok := c.PlanLimits[c.DefaultPlan]; ok {
		return limit
	}
	return DefaultPlanLimits()["basic"]
}

func normalizePlan(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// lowestPlan escolhe o plano de menor limite; empate resolve pelo nome.
func lowestPlan(limits map[string]int64) string {
	best := ""
	for name, limit := range limits {
		if best == "" || limit < limits[best] || (limit == limits[best] && name < best) {
			best = name
		}
	}
	if best == "" {
		return "basic"
	}
	return best
}
