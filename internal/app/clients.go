package app

import (
	"fmt"

	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/aigateway"
	"github.com/yungbote/coursebuilder-backend/internal/platform/locks"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
	"github.com/yungbote/coursebuilder-backend/internal/platform/openai"
	"github.com/yungbote/coursebuilder-backend/internal/platform/retry"
)

type Clients struct {
	Gateway aigateway.Gateway
	// Locker is the in-process registry, backed by redis when REDIS_ADDR is set.
	Locker locks.Locker
	redis  *locks.RedisLocker
}

func wireClients(log *logger.Logger, cfg Config, metrics *observability.Metrics) (Clients, error) {
	log.Info("Wiring clients...")

	model, err := openai.NewClient(log, openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}
	gateway := aigateway.NewResilient(model, log, aigateway.Options{
		Timeout:         cfg.AITimeout,
		Retry:           retry.Policy{MaxAttempts: cfg.AIMaxAttempts},
		BreakerFailures: uint32(max(cfg.AIBreakerFailures, 0)),
		BreakerCooldown: cfg.AIBreakerCooldown,
		Metrics:         metrics,
	})

	out := Clients{Gateway: gateway}
	registry := locks.NewRegistry()
	if cfg.RedisAddr == "" {
		out.Locker = registry
		return out, nil
	}
	rl, err := locks.NewRedisLocker(log, cfg.RedisAddr, "", cfg.RedisLockTTL)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis locker: %w", err)
	}
	out.redis = rl
	out.Locker = locks.Multi{registry, rl}
	return out, nil
}

func (c Clients) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
