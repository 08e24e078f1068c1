package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-backed configuration shared by the api and worker
// binaries. Duration fields are strings in the file ("500ms", "5m") and
// compiled on load.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		QueuePath string `yaml:"queuePath"`
		CachePath string `yaml:"cachePath"`
	} `yaml:"storage"`

	Cache struct {
		TTL string `yaml:"ttl"`

		TTLDur time.Duration `yaml:"-"`
	} `yaml:"cache"`

	Admission struct {
		MaxDirect       int `yaml:"maxDirect"`
		DefaultPriority int `yaml:"defaultPriority"`
	} `yaml:"admission"`

	Queue struct {
		MaxAttempts  int    `yaml:"maxAttempts"`
		ReclaimAfter string `yaml:"reclaimAfter"`
		ReclaimEvery string `yaml:"reclaimEvery"`

		ReclaimAfterDur time.Duration `yaml:"-"`
		ReclaimEveryDur time.Duration `yaml:"-"`
	} `yaml:"queue"`

	Worker struct {
		Count        int    `yaml:"count"`
		PollInterval string `yaml:"pollInterval"`
		MetricsPort  int    `yaml:"metricsPort"`

		PollIntervalDur time.Duration `yaml:"-"`
	} `yaml:"worker"`

	Inference struct {
		Timeout          string     `yaml:"timeout"`
		MaxHops          int        `yaml:"maxHops"`
		FailureThreshold int        `yaml:"failureThreshold"`
		BackoffBase      string     `yaml:"backoffBase"`
		BackoffMax       string     `yaml:"backoffMax"`
		Endpoints        []Endpoint `yaml:"endpoints"`

		TimeoutDur     time.Duration `yaml:"-"`
		BackoffBaseDur time.Duration `yaml:"-"`
		BackoffMaxDur  time.Duration `yaml:"-"`
	} `yaml:"inference"`

	Media struct {
		FetchTimeout string `yaml:"fetchTimeout"`

		FetchTimeoutDur time.Duration `yaml:"-"`
	} `yaml:"media"`
}

// Endpoint configures one remote inference endpoint.
type Endpoint struct {
	ID          string `yaml:"id"`
	URL         string `yaml:"url"`
	MinInterval string `yaml:"minInterval"`

	MinIntervalDur time.Duration `yaml:"-"`
}

// LoadConfig reads, defaults and validates the config file at path.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.QueuePath == "" {
		cfg.Storage.QueuePath = "data/jobs.db"
	}
	if cfg.Storage.CachePath == "" {
		cfg.Storage.CachePath = "data/cache"
	}
	if cfg.Admission.MaxDirect == 0 {
		cfg.Admission.MaxDirect = 5
	}
	if cfg.Admission.DefaultPriority == 0 {
		cfg.Admission.DefaultPriority = 5
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Worker.Count == 0 {
		cfg.Worker.Count = 4
	}
	if cfg.Worker.MetricsPort == 0 {
		cfg.Worker.MetricsPort = 9090
	}
	if cfg.Inference.FailureThreshold == 0 {
		cfg.Inference.FailureThreshold = 3
	}

	if cfg.Cache.TTLDur, err = parseDur(cfg.Cache.TTL, 24*time.Hour); err != nil {
		return Config{}, fmt.Errorf("cache.ttl: %w", err)
	}
	if cfg.Queue.ReclaimAfterDur, err = parseDur(cfg.Queue.ReclaimAfter, 5*time.Minute); err != nil {
		return Config{}, fmt.Errorf("queue.reclaimAfter: %w", err)
	}
	if cfg.Queue.ReclaimEveryDur, err = parseDur(cfg.Queue.ReclaimEvery, time.Minute); err != nil {
		return Config{}, fmt.Errorf("queue.reclaimEvery: %w", err)
	}
	if cfg.Worker.PollIntervalDur, err = parseDur(cfg.Worker.PollInterval, time.Second); err != nil {
		return Config{}, fmt.Errorf("worker.pollInterval: %w", err)
	}
	if cfg.Inference.TimeoutDur, err = parseDur(cfg.Inference.Timeout, time.Minute); err != nil {
		return Config{}, fmt.Errorf("inference.timeout: %w", err)
	}
	if cfg.Inference.BackoffBaseDur, err = parseDur(cfg.Inference.BackoffBase, 2*time.Second); err != nil {
		return Config{}, fmt.Errorf("inference.backoffBase: %w", err)
	}
	if cfg.Inference.BackoffMaxDur, err = parseDur(cfg.Inference.BackoffMax, 5*time.Minute); err != nil {
		return Config{}, fmt.Errorf("inference.backoffMax: %w", err)
	}
	if cfg.Media.FetchTimeoutDur, err = parseDur(cfg.Media.FetchTimeout, 2*time.Minute); err != nil {
		return Config{}, fmt.Errorf("media.fetchTimeout: %w", err)
	}

	if len(cfg.Inference.Endpoints) == 0 {
		return Config{}, fmt.Errorf("inference.endpoints: at least one endpoint is required")
	}
	for i := range cfg.Inference.Endpoints {
		ep := &cfg.Inference.Endpoints[i]
		if ep.ID == "" {
			return Config{}, fmt.Errorf("inference.endpoints[%d].id is required", i)
		}
		if ep.URL == "" {
			return Config{}, fmt.Errorf("inference.endpoints[%d].url is required", i)
		}
		if ep.MinIntervalDur, err = parseDur(ep.MinInterval, 0); err != nil {
			return Config{}, fmt.Errorf("inference.endpoints[%d].minInterval: %w", i, err)
		}
	}

	// Reclaiming a job that is still being processed would hand it to a
	// second worker, so the stale cutoff has to outlast a full attempt.
	if cfg.Queue.ReclaimAfterDur <= cfg.Inference.TimeoutDur+cfg.Media.FetchTimeoutDur {
		return Config{}, fmt.Errorf("queue.reclaimAfter must exceed inference.timeout + media.fetchTimeout")
	}

	return cfg, nil
}

func parseDur(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}
