package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"WorkItemsETL/internal/config"
	"WorkItemsETL/internal/dataset"
	"WorkItemsETL/internal/domain"
	"WorkItemsETL/internal/infrastructure/azuredevops"
	"WorkItemsETL/internal/infrastructure/storage"
	"WorkItemsETL/internal/infrastructure/telegram"
	"WorkItemsETL/internal/logging"
	"WorkItemsETL/internal/normalize"
	"WorkItemsETL/internal/ports"
	"WorkItemsETL/internal/usecase"
)

// Application wires config to the pipeline and owns shared resources.
type Application struct {
	cfg      config.Config
	pipeline *usecase.Pipeline
	db       *sql.DB
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	if cfg.Source.Organization == "" || cfg.Source.Project == "" {
		return nil, fmt.Errorf("source organization and project are required")
	}
	if cfg.Source.PAT == "" {
		return nil, fmt.Errorf("source credentials are required (set AZURE_DEVOPS_PAT)")
	}

	normalizer, err := normalize.New(cfg.Normalize)
	if err != nil {
		return nil, fmt.Errorf("build normalizer: %w", err)
	}

	source := azuredevops.NewClient(cfg.Source, cfg.Pipeline.FetchConcurrency, nil,
		baseLogger.With("component", "source"))
	writer := dataset.NewWriter(cfg.Dataset.Collection, cfg.Source.Project,
		baseLogger.With("component", "writer"))

	var (
		journal ports.RunJournal
		db      *sql.DB
	)
	if cfg.Journal.DSN != "" {
		db, err = sql.Open("postgres", cfg.Journal.DSN)
		if err != nil {
			return nil, fmt.Errorf("open journal database: %w", err)
		}
		journal = storage.NewPostgresJournal(db)
	}

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:               source,
		Normalizer:           normalizer,
		Writer:               writer,
		Journal:              journal,
		Notifier:             notifier,
		DestPath:             cfg.Dataset.Path,
		NormalizeConcurrency: cfg.Pipeline.NormalizeConcurrency,
		Logger:               baseLogger.With("component", "pipeline"),
	})

	return &Application{cfg: cfg, pipeline: pipeline, db: db}, nil
}

// Run executes one full-rebuild run.
func (a *Application) Run(ctx context.Context) (domain.RunReport, error) {
	return a.pipeline.Run(ctx)
}

// Close releases shared resources.
func (a *Application) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
