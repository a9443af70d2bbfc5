package httpapi

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/locallift/backend/internal/config"
	"github.com/locallift/backend/internal/http/handlers"
	"github.com/locallift/backend/internal/http/middleware"

	_ "github.com/locallift/backend/docs"
)

func Router(cfg config.Config, h *handlers.Handler) *gin.Engine {
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(h.Logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}
	if cfg.CORSAllowed == "" || cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		for _, o := range strings.Split(cfg.CORSAllowed, ",") {
			if o = strings.TrimSpace(o); o != "" {
				corsCfg.AllowOrigins = append(corsCfg.AllowOrigins, o)
			}
		}
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", h.Healthz)

	r.GET("/leaderboards/:metric_kind", h.LeaderboardGet)
	r.POST("/leaderboards/recompute", h.LeaderboardRecompute)

	clients := r.Group("/clients/:client_id")
	{
		clients.GET("/reports/latest", h.ReportLatest)
		clients.GET("/reports", h.ReportHistory)
		clients.POST("/reports", h.ReportBuild)
		clients.PUT("/delivery-preferences/:method", h.PreferenceUpsert)
		clients.GET("/inbox", h.Inbox)
	}
	r.POST("/reports/:report_id/viewed", h.ReportViewed)

	ingest := r.Group("/ingest")
	{
		ingest.POST("/region_snapshot", h.IngestRegionSnapshot)
		ingest.POST("/client_sample", h.IngestClientSample)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
