package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	modeREST     = "rest"
	modeAzure    = "azure"
	modePostgres = "postgres"
)

type config struct {
	ListenAddr string
	Debug      bool

	GatewayMode    string
	TaskServiceURL string
	TaskToken      string
	GatewayTimeout time.Duration
	DragWait       time.Duration

	StorageConnStr string
	TasksTable     string
	StatusQueue    string
	DatabaseURL    string

	RedisConn     string
	TasksCacheTTL time.Duration
	DeduperTTL    time.Duration
	UpdatesChan   string

	SessionIdleTTL time.Duration
	ResyncInterval time.Duration

	DispatchWorkers int
	DispatchBuffer  int
	DispatchHandoff time.Duration

	AuthDomain   string
	AuthAudience string
	AuthTestMode bool
	TestSecret   string
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}

func envBool(key string) bool {
	v := os.Getenv(key)
	if v == "1" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// loadConfig reads the environment and checks what the selected gateway
// mode requires.
func loadConfig() (config, error) {
	cfg := config{
		ListenAddr:     envString("LISTEN_ADDR", ":8080"),
		Debug:          envBool("DEBUG"),
		GatewayMode:    strings.ToLower(envString("GATEWAY_MODE", modeREST)),
		TaskServiceURL: os.Getenv("TASK_SERVICE_URL"),
		TaskToken:      os.Getenv("TASK_SERVICE_TOKEN"),
		StorageConnStr: os.Getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:     os.Getenv("TASKS_TABLE"),
		StatusQueue:    os.Getenv("STATUS_QUEUE"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisConn:      os.Getenv("REDIS_CONNECTION_STRING"),
		UpdatesChan:    envString("TASK_UPDATES_CHANNEL", "task-updates"),
		AuthDomain:     os.Getenv("AUTH0_DOMAIN"),
		AuthAudience:   os.Getenv("AUTH0_AUDIENCE"),
		AuthTestMode:   envBool("AUTH0_TEST_MODE"),
		TestSecret:     os.Getenv("TEST_JWT_SECRET"),
	}
	var err error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"GATEWAY_TIMEOUT", 10 * time.Second, &cfg.GatewayTimeout},
		{"TASKS_CACHE_TTL", 30 * time.Second, &cfg.TasksCacheTTL},
		{"DEDUPER_TTL", 24 * time.Hour, &cfg.DeduperTTL},
		{"SESSION_IDLE_TTL", 10 * time.Minute, &cfg.SessionIdleTTL},
		{"RESYNC_INTERVAL", time.Minute, &cfg.ResyncInterval},
		{"DISPATCH_HANDOFF_TIMEOUT", 100 * time.Millisecond, &cfg.DispatchHandoff},
	}
	for _, d := range durations {
		if *d.dst, err = envDur(d.key, d.def); err != nil {
			return config{}, err
		}
	}
	// A failed confirmation is followed by a recovery fetch, each bounded by
	// GATEWAY_TIMEOUT.
	if cfg.DragWait, err = envDur("DRAG_WAIT_TIMEOUT", 2*cfg.GatewayTimeout); err != nil {
		return config{}, err
	}
	if cfg.DispatchWorkers, err = envInt("DISPATCH_WORKERS", 16); err != nil {
		return config{}, err
	}
	if cfg.DispatchBuffer, err = envInt("DISPATCH_BUFFER", 256); err != nil {
		return config{}, err
	}

	switch cfg.GatewayMode {
	case modeREST:
		if cfg.TaskServiceURL == "" {
			return config{}, errors.New("missing TASK_SERVICE_URL")
		}
	case modeAzure:
		if cfg.StorageConnStr == "" || cfg.TasksTable == "" || cfg.StatusQueue == "" {
			return config{}, errors.New("missing storage config")
		}
	case modePostgres:
		if cfg.DatabaseURL == "" {
			return config{}, errors.New("missing DATABASE_URL")
		}
	default:
		return config{}, fmt.Errorf("unknown GATEWAY_MODE %q", cfg.GatewayMode)
	}
	if cfg.RedisConn == "" {
		return config{}, errors.New("missing redis config")
	}
	if cfg.AuthTestMode {
		if cfg.TestSecret == "" {
			return config{}, errors.New("missing TEST_JWT_SECRET")
		}
	} else if cfg.AuthDomain == "" || cfg.AuthAudience == "" {
		return config{}, errors.New("missing Auth0 config")
	}
	return cfg, nil
}

// redisOptions accepts a redis:// URL or an Azure style connection string
// ("host:port,password=...,ssl=True").
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
