// Package http wires the gin engine: middleware chain, payment API and
// processor webhooks.
package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"leaguehub.com/app/internal/http/handlers"
	"leaguehub.com/app/internal/http/middleware"
	"leaguehub.com/app/internal/modules/payments"
)

type Deps struct {
	Payments  *payments.Service
	Webhooks  *payments.WebhookService
	Processor payments.Processor
	JWTSecret []byte
	Checks    map[string]handlers.Check
}

func NewRouter(logger *slog.Logger, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.ErrorHandler(logger),
	)

	health := &handlers.HealthHandler{Checks: d.Checks}
	r.GET("/healthz", health.Health)

	wh := handlers.NewWebhookHandler(logger, d.Processor, d.Webhooks)
	r.POST("/webhooks/:provider", wh.Handle)

	ph := handlers.NewPaymentsHandler(d.Payments)
	api := r.Group("/api", middleware.Principal(d.JWTSecret))
	{
		api.POST("/payments/intents", ph.CreateIntent)
		api.GET("/payments/:id", ph.Get)
		api.GET("/resources/:resourceId/payments/latest", ph.LatestForResource)
	}

	return r
}
