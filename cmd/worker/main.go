package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediaq/internal/config"
	"mediaq/internal/inference"
	"mediaq/internal/media"
	"mediaq/internal/repository"
	"mediaq/internal/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	queue, err := repository.NewSQLiteQueue(cfg.Storage.QueuePath, cfg.Queue.MaxAttempts)
	if err != nil {
		log.Fatalf("failed to initialize job queue: %v", err)
	}
	defer queue.Close()

	cache, err := repository.NewLevelDBCache(cfg.Storage.CachePath)
	if err != nil {
		log.Fatalf("failed to initialize cache: %v", err)
	}
	defer cache.Close()

	pool, err := inference.NewPool(poolConfig(cfg), inference.NewHTTPCaller(cfg.Inference.TimeoutDur))
	if err != nil {
		log.Fatalf("failed to initialize inference pool: %v", err)
	}

	processor := service.NewProcessor(
		media.NewHTTPFetcher(cfg.Media.FetchTimeoutDur),
		media.PassthroughTransformer{},
		pool,
	)

	workerService := service.NewWorkerService(queue, cache, processor, cfg.Worker.PollIntervalDur, cfg.Cache.TTLDur)

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		log.Printf("worker metrics listening on port %d", cfg.Worker.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	defer metricsServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("shutting down workers...")
		cancel()
	}()

	var wg sync.WaitGroup

	for i := 0; i < cfg.Worker.Count; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.New().String()[:8])
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := workerService.Run(ctx, workerID); err != nil && err != context.Canceled {
				log.Printf("worker=%s: stopped with error: %v", workerID, err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := workerService.RunReclaim(ctx, cfg.Queue.ReclaimEveryDur, cfg.Queue.ReclaimAfterDur); err != nil && err != context.Canceled {
			log.Printf("reclaim loop stopped with error: %v", err)
		}
	}()

	log.Printf("%d workers started, polling for jobs...", cfg.Worker.Count)
	wg.Wait()
	log.Println("workers stopped")
}

func poolConfig(cfg config.Config) inference.Config {
	pc := inference.Config{
		FailureThreshold: cfg.Inference.FailureThreshold,
		BackoffBase:      cfg.Inference.BackoffBaseDur,
		BackoffMax:       cfg.Inference.BackoffMaxDur,
		MaxHops:          cfg.Inference.MaxHops,
	}
	for _, ep := range cfg.Inference.Endpoints {
		pc.Endpoints = append(pc.Endpoints, inference.EndpointConfig{
			ID:          ep.ID,
			URL:         ep.URL,
			MinInterval: ep.MinIntervalDur,
		})
	}
	return pc
}
