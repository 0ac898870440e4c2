package main

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TB_STRING", "value")
	t.Setenv("TB_INT", "12")
	t.Setenv("TB_BAD_INT", "x")
	t.Setenv("TB_ZERO_INT", "0")
	t.Setenv("TB_DUR", "90s")
	t.Setenv("TB_BAD_DUR", "-1s")
	t.Setenv("TB_BOOL", "1")

	if got := envString("TB_STRING", "def"); got != "value" {
		t.Fatalf("envString = %q", got)
	}
	if got := envString("TB_MISSING", "def"); got != "def" {
		t.Fatalf("envString default = %q", got)
	}
	if n, err := envInt("TB_INT", 1); err != nil || n != 12 {
		t.Fatalf("envInt = %d, %v", n, err)
	}
	if n, err := envInt("TB_MISSING", 7); err != nil || n != 7 {
		t.Fatalf("envInt default = %d, %v", n, err)
	}
	if _, err := envInt("TB_BAD_INT", 1); err == nil {
		t.Fatalf("expected error for non numeric int")
	}
	if _, err := envInt("TB_ZERO_INT", 1); err == nil {
		t.Fatalf("expected error for zero int")
	}
	if d, err := envDur("TB_DUR", time.Second); err != nil || d != 90*time.Second {
		t.Fatalf("envDur = %v, %v", d, err)
	}
	if _, err := envDur("TB_BAD_DUR", time.Second); err == nil {
		t.Fatalf("expected error for negative duration")
	}
	if !envBool("TB_BOOL") || envBool("TB_MISSING") {
		t.Fatalf("unexpected envBool result")
	}
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GATEWAY_MODE", "rest")
	t.Setenv("TASK_SERVICE_URL", "http://tasks.local")
	t.Setenv("REDIS_CONNECTION_STRING", "redis://localhost:6379/0")
	t.Setenv("AUTH0_DOMAIN", "tenant.example.com")
	t.Setenv("AUTH0_AUDIENCE", "api://board")
}

func TestLoadConfigDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.UpdatesChan != "task-updates" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DispatchWorkers != 16 || cfg.DispatchBuffer != 256 {
		t.Fatalf("unexpected dispatch defaults: %d/%d", cfg.DispatchWorkers, cfg.DispatchBuffer)
	}
	if cfg.DragWait != 2*cfg.GatewayTimeout {
		t.Fatalf("drag wait = %v, want twice the gateway timeout %v", cfg.DragWait, cfg.GatewayTimeout)
	}
	if cfg.SessionIdleTTL != 10*time.Minute || cfg.DeduperTTL != 24*time.Hour {
		t.Fatalf("unexpected ttl defaults: %v/%v", cfg.SessionIdleTTL, cfg.DeduperTTL)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown_mode":      {"GATEWAY_MODE": "mongo"},
		"rest_without_url":  {"TASK_SERVICE_URL": ""},
		"azure_incomplete":  {"GATEWAY_MODE": "azure", "STORAGE_CONNECTION_STRING": "x"},
		"postgres_no_dsn":   {"GATEWAY_MODE": "postgres"},
		"missing_redis":     {"REDIS_CONNECTION_STRING": ""},
		"missing_auth":      {"AUTH0_DOMAIN": ""},
		"test_mode_secret":  {"AUTH0_TEST_MODE": "1"},
		"bad_resync":        {"RESYNC_INTERVAL": "soon"},
		"bad_worker_count":  {"DISPATCH_WORKERS": "-2"},
		"bad_gateway_limit": {"GATEWAY_TIMEOUT": "0s"},
		"bad_drag_wait":     {"DRAG_WAIT_TIMEOUT": "-5s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Fatalf("expected config error")
			}
		})
	}
}

func TestLoadConfigTestMode(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("AUTH0_DOMAIN", "")
	t.Setenv("AUTH0_TEST_MODE", "1")
	t.Setenv("TEST_JWT_SECRET", "secret")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if !cfg.AuthTestMode || issuer(cfg.AuthDomain) != "" {
		t.Fatalf("unexpected auth config: %+v", cfg)
	}
}

func TestRedisOptions(t *testing.T) {
	opts := redisOptions("redis://:pw@cache:6380/2")
	if opts.Addr != "cache:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts = redisOptions("cache.redis.cache.windows.net:6380,password=secret,ssl=True,abortConnect=False")
	if opts.Addr != "cache.redis.cache.windows.net:6380" || opts.Password != "secret" {
		t.Fatalf("unexpected connection string options: %+v", opts)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected tls for ssl=True")
	}
}

func TestLoadConfigDragWaitFollowsGatewayTimeout(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("GATEWAY_TIMEOUT", "3s")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.DragWait != 6*time.Second {
		t.Fatalf("drag wait = %v, want 6s", cfg.DragWait)
	}

	t.Setenv("DRAG_WAIT_TIMEOUT", "45s")
	if cfg, err = loadConfig(); err != nil || cfg.DragWait != 45*time.Second {
		t.Fatalf("explicit drag wait = %v, %v", cfg.DragWait, err)
	}
}
