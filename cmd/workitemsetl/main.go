package main

import (
	"context"
	"os"

	"WorkItemsETL/internal/app"
	"WorkItemsETL/internal/config"
	"WorkItemsETL/internal/logging"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	report, err := application.Run(ctx)
	if err != nil {
		logger.Error(report.Summary(), "stage", report.FailedStage)
		os.Exit(1)
	}

	logger.Info(report.Summary())
}
