package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediaq/internal/config"
	"mediaq/internal/handler"
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

	admission := service.NewAdmissionController(
		cache, queue, processor,
		cfg.Admission.MaxDirect, cfg.Cache.TTLDur, cfg.Admission.DefaultPriority,
	)

	jobHandler := handler.NewJobHandler(admission, queue, pool)

	corsMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/submit", corsMiddleware(jobHandler.Submit))
	mux.HandleFunc("/jobs", corsMiddleware(jobHandler.ListJobs))
	mux.HandleFunc("/jobs/", corsMiddleware(jobHandler.GetJob))
	mux.HandleFunc("/status", corsMiddleware(jobHandler.Status))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("API server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigChan
	log.Println("shutting down server...")
	if err := server.Close(); err != nil {
		log.Printf("error closing server: %v", err)
	}
	log.Println("server stopped")
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
