// Package app assembles the server: storage, ledger, queue lanes, processors
// and the HTTP surface, with an explicit startup/shutdown lifecycle.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/equilens/equilens/internal/cache"
	"github.com/equilens/equilens/internal/config"
	"github.com/equilens/equilens/internal/db"
	"github.com/equilens/equilens/internal/engine"
	adminapi "github.com/equilens/equilens/internal/http/api/admin"
	"github.com/equilens/equilens/internal/http/api/front"
	"github.com/equilens/equilens/internal/ledger"
	"github.com/equilens/equilens/internal/logging"
	"github.com/equilens/equilens/internal/processor"
	"github.com/equilens/equilens/internal/queue"
	"github.com/equilens/equilens/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Migrate opens the database and runs migrations.
func Migrate(configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the analysis platform core and blocks until ctx ends.
func RunServer(ctx context.Context, configPath string) error {
	cfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	logging.Setup(cfg.Logging)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Infof("database connected (dialect=%s)", db.DialectName(conn))

	var mirror *cache.Mirror
	if cfg.Redis.URL != "" {
		connected, errCache := cache.New(cfg.Redis.URL)
		if errCache != nil {
			return errCache
		}
		if errPing := connected.Ping(ctx); errPing != nil {
			return errPing
		}
		mirror = connected
		defer func() { _ = mirror.Close() }()
		log.Info("redis queue mirror connected")
	}

	tokens := ledger.NewService(conn)

	analysisEngine := engine.NewHTTPAnalysisEngine(cfg.Engine.AnalysisURL)
	renderer := engine.NewHTTPReportRenderer(cfg.Engine.RendererURL)
	mail := engine.NewMailTransport(cfg.Engine.MailURL)
	webhook := engine.NewHTTPWebhookDispatcher(cfg.Engine.WebhookEndpoint)

	// The session store and the analysis processor reference each other
	// through the dispatcher; the lane handlers bind to the processors via
	// indirection so everything can be wired before Start.
	var (
		analysisProcessor *processor.AnalysisProcessor
		reportProcessor   *processor.ReportProcessor
	)

	analysisLane := queue.NewLane(laneConfig(queue.LaneAnalysis, cfg.Queues.Analysis), func(handlerCtx context.Context, job *queue.Job[queue.AnalysisJob]) error {
		return analysisProcessor.Handle(handlerCtx, job)
	})
	reportLane := queue.NewLane(laneConfig(queue.LaneReports, cfg.Queues.Reports), func(handlerCtx context.Context, job *queue.Job[queue.ReportJob]) error {
		return reportProcessor.Handle(handlerCtx, job)
	})
	notificationProcessor := processor.NewNotificationProcessor(mail, webhook, engine.LogPushSender{})
	notificationLane := queue.NewLane(laneConfig(queue.LaneNotifications, cfg.Queues.Notifications), notificationProcessor.Handle)

	analysisLane.OnProgress(func(jobID uuid.UUID, progress int) {
		if errMirror := mirror.SetJobProgress(context.Background(), queue.LaneAnalysis, jobID, progress); errMirror != nil {
			log.WithError(errMirror).Debug("mirror analysis progress failed")
		}
	})

	dispatcher := processor.NewAnalysisLaneDispatcher(analysisLane, mirror)
	sessions := session.NewStore(conn, tokens, dispatcher)
	analysisProcessor = processor.NewAnalysisProcessor(sessions, analysisEngine, mirror, cfg.Engine.Timeout.Std(), cfg.Queues.Analysis.MaxAttempts)
	reportProcessor = processor.NewReportProcessor(conn, sessions, renderer, cfg.Queues.Reports.MaxAttempts)

	manager := queue.NewManager(analysisLane, reportLane, notificationLane)
	manager.Start(ctx)
	defer manager.Stop()

	if cleaner := queue.NewRetentionCleaner(manager); cleaner != nil {
		cleaner.Start(ctx)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	front.RegisterFrontRoutes(router, conn, sessions, tokens, reportLane)
	adminapi.RegisterAdminRoutes(router, manager)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("server listening on %s", cfg.Server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case errServe := <-serveErr:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("server shutdown")
	}
	return nil
}

// laneConfig maps a configured lane onto queue settings.
func laneConfig(name string, lane config.LaneConfig) queue.Config {
	return queue.Config{
		Name:        name,
		Workers:     lane.Workers,
		MaxAttempts: lane.MaxAttempts,
		BackoffBase: lane.BackoffBase.Std(),
		Retention:   lane.Retention.Std(),
	}
}
