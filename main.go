package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/m-mizutani/clog"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/gmail/v1"

	"github.com/paras-0007/HMS-Portal/internal/api"
	"github.com/paras-0007/HMS-Portal/internal/config"
	drivestore "github.com/paras-0007/HMS-Portal/internal/drive"
	"github.com/paras-0007/HMS-Portal/internal/importer"
	"github.com/paras-0007/HMS-Portal/internal/ingestion"
	"github.com/paras-0007/HMS-Portal/internal/llm"
	"github.com/paras-0007/HMS-Portal/internal/pipeline"
	"github.com/paras-0007/HMS-Portal/internal/scheduler"
	"github.com/paras-0007/HMS-Portal/internal/store"
)

func main() {
	logger := slog.New(clog.New(
		clog.WithWriter(os.Stdout),
		clog.WithColor(true),
	))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx := context.Background()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.CreateTables(ctx); err != nil {
		return err
	}

	client, err := ingestion.NewGoogleClient(ctx, ingestion.Credentials{
		CredentialsFile: cfg.CredentialsFile,
		TokenFile:       cfg.TokenFile,
	}, gmail.GmailModifyScope, drive.DriveFileScope, calendar.CalendarScope)
	if err != nil {
		return err
	}

	source, err := ingestion.NewGmailSource(ctx, client, cfg.AttachmentsDir)
	if err != nil {
		return err
	}

	uploader, err := drivestore.NewUploader(ctx, client)
	if err != nil {
		return err
	}

	classifier, err := llm.NewClassifier(ctx, cfg.GoogleCloudProject, cfg.GoogleCloudLocation)
	if err != nil {
		return err
	}
	defer classifier.Close()

	loc := cfg.Location()
	gcal, err := scheduler.NewGoogleCalendar(ctx, client, loc)
	if err != nil {
		return err
	}
	engine := scheduler.NewEngine(gcal, loc)

	extractor := ingestion.NewExtractor()
	sync := pipeline.New(source, extractor, classifier, uploader, db, cfg.HREmail,
		pipeline.WithClassifyTimeout(cfg.ClassifierTimeout),
		pipeline.WithLogger(logger),
	)
	loader := importer.New(db, extractor, classifier, uploader, nil, cfg.AttachmentsDir)

	server := api.NewServer(sync, db, engine, loader, uploader, cfg.HREmail)

	addr := ":" + cfg.Port
	logger.Info("starting server", slog.String("addr", addr))
	return http.ListenAndServe(addr, server.Router())
}
