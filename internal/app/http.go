package app

import (
	"context"

	"github.com/yungbote/coursebuilder-backend/internal/http"
	"github.com/yungbote/coursebuilder-backend/internal/http/handlers"
	"github.com/yungbote/coursebuilder-backend/internal/http/middleware"
	"github.com/yungbote/coursebuilder-backend/internal/observability"
	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg Config, services Services, clients Clients, metrics *observability.Metrics, ping func(ctx context.Context) error) *http.Server {
	log.Info("Wiring HTTP server...")
	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.Otel.ServiceName
	}
	return http.NewServer(http.RouterConfig{
		Log:         log,
		ServiceName: serviceName,
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     metrics,
		AuthMiddleware: middleware.NewAuthMiddleware(log, middleware.AuthConfig{
			Secret:   cfg.JWTSecretKey,
			Disabled: cfg.AuthDisabled,
		}),
		TurnHandler: handlers.NewTurnHandler(log, services.Dispatcher),
		SessionHandler: handlers.NewSessionHandler(log, handlers.SessionHandlerDeps{
			Store:   services.Store,
			Locker:  clients.Locker,
			Editor:  services.Engine,
			Tracker: services.AutoSave,
			Courses: services.Courses,
		}),
		HealthHandler: handlers.NewHealthHandler(ping),
	})
}
