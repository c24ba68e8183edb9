package router

import (
	"context"
	"net/http"
	"time"

	apphttp "salespipeline_backend/internal/http"
	"salespipeline_backend/internal/http/middleware"
	"salespipeline_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	ingestRate  = 20
	ingestBurst = 40
)

// New builds the gin engine and mounts every module.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(cors.New(corsConfig(app.Config)))
	engine.Use(middleware.BodyLimit(middleware.DefaultBodyLimit))

	engine.GET("/api/health", func(c *gin.Context) {
		if app.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := app.Health.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	limiter := httpkit.NewIPRateLimiter(rate.Limit(ingestRate), ingestBurst, app.Logger)
	v1 := engine.Group("/api/v1")
	scoped := v1.Group("")
	scoped.Use(limiter.RateLimit(), httpkit.AccountScope(app.Config))

	rc := &apphttp.RouterContext{
		Engine: engine,
		V1:     v1,
		Scoped: scoped,
		Config: app.Config,
	}
	for _, m := range app.Modules {
		m.RegisterRoutes(rc)
		app.Logger.Debug("http module registered", "module", m.Name())
	}
	return engine
}

func corsConfig(cfg apphttp.RouterConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", httpkit.AccountHeader, httpkit.RequestIDHeader},
		ExposeHeaders:    []string{httpkit.RequestIDHeader},
		AllowCredentials: cfg.GetCORSAllowCreds(),
		MaxAge:           12 * time.Hour,
	}
	if cfg.GetCORSAllowAll() {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.GetCORSOrigins()
	}
	return c
}
