package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailkeeper/internal/api/handlers"
	"github.com/luo-one/mailkeeper/internal/api/middleware"
	"github.com/luo-one/mailkeeper/internal/config"
	"github.com/luo-one/mailkeeper/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the services the HTTP API serves
type Dependencies struct {
	Auth      *middleware.AuthManager
	Scheduler handlers.RunTrigger
	Recorder  *services.RunRecorder
	Emails    *services.EmailService
	Filters   *services.FilterService
	Logs      *services.LogService
	Logger    *slog.Logger
}

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Metrics())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.GetCORSOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	authHandler := handlers.NewAuthHandler(deps.Auth.JWTManager, deps.Logs, deps.Logger)
	jobHandler := handlers.NewJobHandler(deps.Scheduler, deps.Recorder, deps.Logger)
	emailHandler := handlers.NewEmailHandler(deps.Emails, deps.Logger)
	filterHandler := handlers.NewFilterHandler(deps.Filters, deps.Logs, deps.Logger)
	logHandler := handlers.NewLogHandler(deps.Logs)

	// Health check and Prometheus endpoints (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"scheduler": deps.Scheduler.State(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		// Token issuance requires the API key itself
		api.POST("/auth/token", middleware.APIKeyMiddleware(deps.Auth.APIKeyManager), authHandler.IssueToken)

		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(deps.Auth))
		{
			job := protected.Group("/job")
			{
				job.POST("/trigger", jobHandler.Trigger)
				job.GET("/metrics", jobHandler.Metrics)
				job.GET("/runs", jobHandler.ListRuns)
				job.GET("/runs/:id", jobHandler.GetRun)
			}

			emails := protected.Group("/emails")
			{
				emails.GET("", emailHandler.ListEmails)
				emails.GET("/:id", emailHandler.GetEmail)
				emails.DELETE("/:id", emailHandler.DeleteEmail)
			}

			attachments := protected.Group("/attachments")
			{
				attachments.GET("/:id/download", emailHandler.DownloadAttachment)
				attachments.DELETE("/:id", emailHandler.DeleteAttachment)
			}

			filters := protected.Group("/filters")
			{
				filters.GET("", filterHandler.ListFilters)
				filters.POST("", filterHandler.CreateFilter)
				filters.PUT("/:id", filterHandler.UpdateFilter)
				filters.DELETE("/:id", filterHandler.DeleteFilter)
			}

			protected.GET("/logs", logHandler.ListLogs)
		}
	}

	return router
}
