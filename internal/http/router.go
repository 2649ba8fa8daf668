// Package httpapi wires the Gin transport to the agent's services: tracing,
// correlation ids, redacted request logs, panic recovery, metrics, CORS and
// security headers for every route; rate limiting and signature checks for
// provider webhooks.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/go-reminder-agent/docs"
	"github.com/tbourn/go-reminder-agent/internal/config"
	"github.com/tbourn/go-reminder-agent/internal/http/handlers"
	"github.com/tbourn/go-reminder-agent/internal/http/middleware"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// Deps are the services behind the endpoints.
type Deps struct {
	Webhooks    handlers.WebhookService
	Batches     handlers.BatchService
	Sender      handlers.SendService
	DeadLetters handlers.DeadLetterService
	Quotas      handlers.QuotaService
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with phone/email scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//  8. gzip (after metrics, so sizes are not skewed by compression)
//
// Webhook POSTs are additionally rate limited per source IP, then verified
// against WEBHOOK_SIGNING_SECRET when one is set.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", "X-Hub-Signature"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.Webhooks, deps.Batches, deps.Sender, deps.DeadLetters, deps.Quotas, cfg.Webhook.VerifyToken)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		hooks := api.Group("/webhooks/:channel")
		hooks.GET("/verify", h.Verify)

		limiter := middleware.NewRateLimiter(cfg.Webhook.RatePerMinute, time.Minute, middleware.KeyByIP())
		signed := hooks.Group("", limiter.Handler(), middleware.VerifySignature(cfg.Webhook.SigningSecret))
		signed.POST("/inbound", h.Inbound)
		signed.POST("/status", h.Status)

		api.POST("/reminders/run", h.RunReminders)
		api.POST("/reengagement/run", h.RunReengagement)
		api.POST("/send-now", middleware.IdempotencyKey(middleware.IdempotencyOptions{MaxLen: 200}), h.SendNow)

		api.GET("/dlq/stats", h.DLQStats)
		api.POST("/dlq/retry/:queue/:jobId", h.DLQRetry)

		api.GET("/quotas/usage", h.QuotaUsage)
		api.GET("/quotas/status", h.QuotaStatus)
	}
}

// corsMiddleware allows every origin when none is configured. Otherwise the
// request Origin is echoed only when it is in the allowlist.
func corsMiddleware(cfg config.CORSConfig) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, middleware.HeaderSignature},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	if len(cfg.AllowedOrigins) == 0 {
		base.AllowAllOrigins = true
		// requests without an Origin header get ACAO too
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = cfg.AllowedOrigins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// limitBody caps the request body at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
