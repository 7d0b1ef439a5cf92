package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/cadence/internal/calendar"
	"github.com/ifuryst/cadence/internal/config"
	"github.com/ifuryst/cadence/internal/metrics"
	"github.com/ifuryst/cadence/internal/models"
	"github.com/ifuryst/cadence/internal/service"
)

// ErrorLog is the persisted operational error log behind the admin API and
// the scheduler's retention cleanup.
type ErrorLog interface {
	service.ErrorRecorder
	service.Cleaner
	GetRecentErrors(limit int, includeResolved bool) ([]models.ErrorLog, error)
	ResolveError(id uint) error
}

type Server struct {
	Config   *config.Config
	DB       *gorm.DB
	Router   *gin.Engine
	Logger   *zap.Logger
	Server   *http.Server
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Services
	Items      *service.ItemService
	Calendar   *service.CalendarService
	Reschedule *service.RescheduleService
	Publisher  *service.PublisherService
	Auth       *service.AuthService
	Scheduler  *service.Scheduler
	Errors     ErrorLog

	pending *pendingRegistry
}

// NewServer connects to the configured database and wires every service on
// top of it.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	srv, err := New(cfg, logger, service.NewGormStore(db), service.NewMonitoringService(db, logger))
	if err != nil {
		return nil, err
	}
	srv.DB = db
	return srv, nil
}

// New builds a server over an arbitrary store. errLog may be nil, in which
// case trigger failures are only logged and the error endpoints are absent.
func New(cfg *config.Config, logger *zap.Logger, store service.ContentStore, errLog ErrorLog) (*Server, error) {
	pendingTTL, err := time.ParseDuration(cfg.Reschedule.PendingTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid reschedule.pending_ttl: %w", err)
	}
	sessionTTL, err := time.ParseDuration(cfg.Auth.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid auth.session_ttl: %w", err)
	}
	hour, minute, err := cfg.Calendar.PublishClock()
	if err != nil {
		return nil, err
	}
	loc := cfg.Calendar.Location()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	var (
		recorder service.ErrorRecorder
		cleaner  service.Cleaner
	)
	if errLog != nil {
		recorder = errLog
		cleaner = errLog
	}

	// Initialize services
	calendarService := service.NewCalendarService(store, calendar.Aggregator{
		Location: loc,
		Themes:   cfg.Calendar.Themes,
		MaxWeeks: cfg.Calendar.MaxWeeks,
	}, logger)
	publisherService := service.NewPublisherService(store, logger, m, recorder, calendarService)
	rescheduleService := service.NewRescheduleService(store, logger, m, calendarService, service.RescheduleOptions{
		Location:      loc,
		DefaultHour:   hour,
		DefaultMinute: minute,
	})

	// Create router
	router := gin.New()

	srv := &Server{
		Config:     cfg,
		Router:     router,
		Logger:     logger,
		Registry:   registry,
		Metrics:    m,
		Items:      service.NewItemService(store, logger, m, calendarService),
		Calendar:   calendarService,
		Reschedule: rescheduleService,
		Publisher:  publisherService,
		Auth:       service.NewAuthService(logger, cfg.Auth.TOTPSecret, sessionTTL),
		Scheduler:  service.NewScheduler(&cfg.Scheduler, logger, publisherService, cleaner),
		Errors:     errLog,
		pending:    newPendingRegistry(pendingTTL, m.PendingProposals),
	}

	if !srv.Auth.Enabled() {
		logger.Warn("No auth.totp_secret configured, admin API is unauthenticated")
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("HTTP request",
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	})

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"time":              time.Now().Unix(),
			"calendar_revision": s.Calendar.Revision(),
		})
	})
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))

	// API routes
	api := s.Router.Group("/api/v1")
	api.POST("/auth/login", s.handleLogin)

	protected := api.Group("")
	protected.Use(s.Auth.AuthMiddleware())
	{
		items := protected.Group("/items")
		{
			items.GET("", s.handleListItems)
			items.POST("", s.handleCreateItem)
			items.GET("/:id", s.handleGetItem)
			items.GET("/:id/history", s.handleItemHistory)
			items.POST("/:id/transition", s.handleTransition)
		}

		protected.GET("/calendar", s.handleCalendar)

		reschedule := protected.Group("/reschedule")
		{
			reschedule.POST("", s.handlePropose)
			reschedule.POST("/:token/confirm", s.handleConfirm)
			reschedule.DELETE("/:token", s.handleCancel)
		}

		protected.POST("/publish/due", s.handlePublishDue)

		if s.Errors != nil {
			errs := protected.Group("/errors")
			{
				errs.GET("", s.handleListErrors)
				errs.POST("/:id/resolve", s.handleResolveError)
			}
		}
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first so no publish pass races the HTTP drain
	s.Scheduler.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
