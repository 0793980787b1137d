package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quorum/api/internal/app"
	"quorum/api/internal/config"
	"quorum/api/internal/email"
	"quorum/api/internal/files"
	"quorum/api/internal/notify"
	"quorum/api/internal/realtime"
	"quorum/api/internal/search"
	"quorum/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	hub := realtime.NewHub()
	broker, err := realtime.NewBroker(cfg.RedisURL, hub)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer broker.Close()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go broker.Run(runCtx)

	fileService, err := files.NewService(ctx, files.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("object storage setup failed: %v", err)
	}
	if !fileService.IsConfigured() {
		log.Printf("object storage not configured, attachments disabled")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf("smtp not configured, email notifications disabled")
	}

	notifyService := notify.NewService(dataStore, broker, mailer)
	service := app.New(cfg, dataStore, notifyService, broker, searchService)

	go runSweeps(runCtx, cfg, service, notifyService)

	httpServer := app.NewHTTPServer(service, hub, broker, fileService, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Quorum API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// runSweeps drives the background maintenance loops: escalating resolutions
// that sat unaccepted past the deadline and deleting old read notifications.
func runSweeps(ctx context.Context, cfg config.Config, service *app.Service, notifyService *notify.Service) {
	escalate := time.NewTicker(cfg.EscalateEvery)
	cleanup := time.NewTicker(cfg.NotifSweepEvery)
	defer escalate.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-escalate.C:
			warned, err := service.WarnApproachingDeadlines(ctx, cfg.EscalateAfter, cfg.EscalateEvery)
			if err != nil {
				log.Printf("deadline warning sweep failed: %v", err)
			} else if warned > 0 {
				log.Printf("warned %d resolutions nearing the acceptance deadline", warned)
			}
			count, err := service.EscalateStaleNotified(ctx, cfg.EscalateAfter)
			if err != nil {
				log.Printf("escalation sweep failed: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("escalated %d stale resolutions", count)
			}
		case <-cleanup.C:
			deleted, err := notifyService.CleanupRead(ctx, cfg.NotifRetention)
			if err != nil {
				log.Printf("notification cleanup failed: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("deleted %d read notifications", deleted)
			}
		}
	}
}
