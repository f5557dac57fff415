package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"example.com/rewards/internal/config"
	"example.com/rewards/internal/dedup"
	"example.com/rewards/internal/detect"
	"example.com/rewards/internal/domain"
	persistence "example.com/rewards/internal/persistence/postgres"
	"example.com/rewards/internal/pipeline"
	"example.com/rewards/internal/platform"
	"example.com/rewards/internal/relay"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)

	deduplicator := dedup.NewDeduplicator(dedup.DefaultTolerances())
	sink := pipeline.NewService(repo, deduplicator)

	var orchestrators []*detect.Orchestrator

	if cfg.RelayURL != "" {
		sub := relay.NewSubscriber(cfg.RelayURL, relay.Filter{
			Kinds:   []int{relay.KindWorkoutRecord},
			Authors: cfg.RelayAuthors,
			Since:   time.Now().Add(-24 * time.Hour).Unix(),
			Limit:   100,
		}, nil)
		source := relay.NewSource(sub, nil)
		source.Start(ctx)
		defer source.Close()

		debouncer := dedup.NewDebouncer(cfg.DebounceWindow, cfg.DebounceMaxAge)
		go debouncer.Run(ctx)

		orch := detect.NewOrchestrator(detect.Config{
			UserID:       "nostr:" + cfg.RelayURL,
			RecentLimit:  cfg.DetectRecentLimit,
			QueryTimeout: cfg.DetectQueryTimeout,
		}, source, repo, debouncer, sink)
		orchestrators = append(orchestrators, orch)
	}

	if cfg.PlatformBaseURL != "" && cfg.PlatformAccessToken != "" && cfg.DetectUserID != "" {
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.PlatformAccessToken})
		client := platform.NewClient(cfg.PlatformBaseURL, domain.SourceGarmin, tokenSource)
		source := platform.NewPollSource(client, tokenSource, cfg.PlatformPollInterval)

		debouncer := dedup.NewDebouncer(cfg.DebounceWindow, cfg.DebounceMaxAge)
		go debouncer.Run(ctx)

		orch := detect.NewOrchestrator(detect.Config{
			UserID:       cfg.DetectUserID,
			RecentLimit:  cfg.DetectRecentLimit,
			QueryTimeout: cfg.DetectQueryTimeout,
		}, source, repo, debouncer, sink)
		orchestrators = append(orchestrators, orch)
	}

	if len(orchestrators) == 0 {
		log.Fatal("no detection source configured: set RELAY_URL or PLATFORM_BASE_URL")
	}

	started := 0
	for _, orch := range orchestrators {
		if err := orch.Start(ctx); err != nil {
			log.Printf("orchestrator failed to start: %v", err)
			continue
		}
		started++
	}
	if started == 0 {
		log.Fatal("every detection orchestrator failed to start")
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("detector metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("detector shutdown requested")
	cancel()

	for _, orch := range orchestrators {
		orch.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
