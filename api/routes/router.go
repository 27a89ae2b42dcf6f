package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whatsub/notifications/api/controllers"
	"github.com/whatsub/notifications/api/middleware"
	"github.com/whatsub/notifications/internal/notifications"
	"github.com/whatsub/notifications/pkg/config"
	"github.com/whatsub/notifications/pkg/logger"
	"github.com/whatsub/notifications/pkg/metrics"
)

// Dependencies are the collaborators the HTTP surface needs.
type Dependencies struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            controllers.Pinger
	Redis         controllers.Pinger
	Notifications notifications.Service
	StreamMetrics *metrics.StreamMetrics
	Gatherer      prometheus.Gatherer
}

func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/notifications", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
		r.Get("/unread-count", controllers.UnreadCount(deps.Notifications, logg))
		r.Get("/stream", controllers.StreamNotifications(deps.Notifications, cfg.Stream, deps.StreamMetrics, logg))
		r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
	})

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(middleware.InternalToken(cfg.Internal, logg))
		r.Post("/notifications", controllers.CreateNotification(deps.Notifications, logg))
		r.Delete("/subscriptions/{subscriptionId}/notifications", controllers.DeleteSubscriptionNotifications(deps.Notifications, logg))
	})

	return r
}
