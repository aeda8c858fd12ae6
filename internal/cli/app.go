package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/luo-one/mailkeeper/internal/api/middleware"
	"github.com/luo-one/mailkeeper/internal/config"
	"github.com/luo-one/mailkeeper/internal/database"
	"github.com/luo-one/mailkeeper/internal/mailbox"
	"github.com/luo-one/mailkeeper/internal/services"
	"github.com/luo-one/mailkeeper/internal/storage"
	"gorm.io/gorm"
)

// App holds the wired services shared by every command
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *gorm.DB
	Auth      *middleware.AuthManager
	Blobs     *storage.DirStore
	Logs      *services.LogService
	Writer    *services.AttachmentWriter
	Recorder  *services.RunRecorder
	Filters   *services.FilterService
	Emails    *services.EmailService
	Ingest    *services.IngestService
	Scheduler *services.SyncScheduler
}

// NewApp opens the store and wires the pipeline. Nothing touches the mail server until a run starts.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := database.InitializeWithLogLevel(cfg.DatabasePath, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.NewDirStore(cfg.GetAttachmentsDir())
	if err != nil {
		database.Close(db)
		return nil, err
	}

	auth, err := middleware.NewAuthManager(cfg.DataDir, cfg.JWTSecret, middleware.DefaultTokenExpiry)
	if err != nil {
		database.Close(db)
		return nil, fmt.Errorf("init auth: %w", err)
	}

	transport := mailbox.NewIMAPTransport(mailbox.Settings{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		UseTLS:   cfg.IMAP.UseTLS,
		Username: cfg.IMAP.Username,
	}, newCredentials(cfg), logger)

	logs := services.NewLogServiceWithLevel(db, cfg.LogLevel)
	writer := services.NewAttachmentWriter(db, blobs, logs, logger)
	recorder := services.NewRunRecorder(db)
	filters := services.NewFilterService(db)

	ingest := services.NewIngestService(services.IngestConfig{
		DB:          db,
		Transport:   transport,
		MailboxName: cfg.IMAP.Mailbox,
		Writer:      writer,
		Recorder:    recorder,
		Filters:     filters,
		LogService:  logs,
		Logger:      logger,
	})

	scheduler := services.NewSyncScheduler(ingest, logs, services.SchedulerConfig{
		Interval:     cfg.SyncInterval,
		StartupDelay: cfg.StartupDelay,
	}, logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Auth:      auth,
		Blobs:     blobs,
		Logs:      logs,
		Writer:    writer,
		Recorder:  recorder,
		Filters:   filters,
		Emails:    services.NewEmailService(db, writer, logs, logger),
		Ingest:    ingest,
		Scheduler: scheduler,
	}, nil
}

// newCredentials picks XOAUTH2 when a refresh token is configured, LOGIN otherwise
func newCredentials(cfg *config.Config) mailbox.CredentialProvider {
	if cfg.UsesOAuth() {
		return mailbox.NewOAuthCredentials(mailbox.OAuthSettings{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RefreshToken: cfg.OAuth.RefreshToken,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		})
	}
	return mailbox.StaticPassword{Password: cfg.IMAP.Password}
}

// recordActivity reports a failed activity log write; the command still succeeds
func (a *App) recordActivity(err error) {
	if err != nil {
		a.Logger.Debug("failed to write activity log", "error", err)
	}
}

// Close stops the scheduler and releases the database
func (a *App) Close() error {
	a.Scheduler.Stop()
	return database.Close(a.DB)
}
