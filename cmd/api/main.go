package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"thesisflow/api/internal/app"
	"thesisflow/api/internal/archive"
	"thesisflow/api/internal/blob"
	"thesisflow/api/internal/config"
	"thesisflow/api/internal/email"
	"thesisflow/api/internal/feed"
	"thesisflow/api/internal/logging"
	"thesisflow/api/internal/search"
	"thesisflow/api/internal/session"
	"thesisflow/api/internal/store"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logging.New(cfg.LogLevel, cfg.LogFormat, cfg.Environment)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	records := store.NewPostgresStore(db)

	opts := []app.Option{}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info().Msg("using redis for refresh sessions and the notification feed")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		opts = append(opts, app.WithSessionStore(redisStore), app.WithFeed(feed.NewRedisFeed(redisStore.Client())))
	} else {
		log.Info().Msg("using postgres for refresh sessions and an in-process feed")
	}

	var files http.Handler
	if strings.TrimSpace(cfg.BlobEndpoint) != "" {
		blobs, err := blob.NewMinioStore(ctx, cfg.BlobEndpoint, cfg.BlobAccessKey, cfg.BlobSecretKey, cfg.BlobBucket, cfg.BlobUseSSL, cfg.BlobURLTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("object storage init failed")
		}
		opts = append(opts, app.WithBlobStore(blobs))
	} else {
		local, err := blob.NewLocalStore(cfg.BlobLocalDir, "/files")
		if err != nil {
			log.Fatal().Err(err).Msg("local blob dir init failed")
		}
		log.Warn().Str("dir", cfg.BlobLocalDir).Msg("BLOB_ENDPOINT not set, storing drafts on local disk")
		files = local.Handler()
		opts = append(opts, app.WithBlobStore(local))
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, records)
	defer searchService.Close()
	opts = append(opts, app.WithSearch(searchService))

	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		arch, err := archive.New(cfg.ArchiveDir)
		if err != nil {
			log.Fatal().Err(err).Msg("archive init failed")
		}
		opts = append(opts, app.WithArchive(arch))
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppURL:   cfg.AppURL,
	})
	if !mail.IsConfigured() {
		log.Info().Msg("SMTP not configured, draft notices and confirmation mail are disabled")
	}
	opts = append(opts, app.WithNotifier(email.NewDraftNotifier(mail, records)))
	if mail.IsConfigured() {
		opts = append(opts, app.WithCodeSender(mail))
	}

	service := app.New(cfg, records, opts...)
	if err := service.Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Msg("bootstrap error (will retry on next restart)")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, files)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("thesisflow API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	service.Drain()
}
