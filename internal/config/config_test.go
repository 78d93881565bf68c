package config_test

import (
	"CarbonLedger/internal/config"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPC.Addr != ":9090" {
		t.Errorf("grpc.addr: got %s, want :9090", cfg.GRPC.Addr)
	}
	if cfg.Persist.FlushTimeout != 10*time.Millisecond {
		t.Errorf("persist.flush_timeout: got %v, want 10ms", cfg.Persist.FlushTimeout)
	}
	if cfg.Idempotency.LRUCapacity != 1_000_000 {
		t.Errorf("idempotency.lru_capacity: got %d, want 1000000", cfg.Idempotency.LRUCapacity)
	}
	if !cfg.Postgres.Enabled || !cfg.NATS.Enabled {
		t.Errorf("postgres/nats should default to enabled")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CARBON_STATE_BACKEND", "memdb")
	t.Setenv("CARBON_PERSIST_BATCH_SIZE", "7")
	t.Setenv("CARBON_PERSIST_FLUSH_TIMEOUT", "250ms")
	t.Setenv("CARBON_AUTH_MODE", "static")
	t.Setenv("CARBON_AUTH_TRUSTED", "issuer,clearing")
	t.Setenv("CARBON_NATS_ENABLED", "false")

	cfg, err := config.Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Backend != "memdb" {
		t.Errorf("state.backend: got %s, want memdb", cfg.State.Backend)
	}
	if cfg.Persist.BatchSize != 7 {
		t.Errorf("persist.batch_size: got %d, want 7", cfg.Persist.BatchSize)
	}
	if cfg.Persist.FlushTimeout != 250*time.Millisecond {
		t.Errorf("persist.flush_timeout: got %v, want 250ms", cfg.Persist.FlushTimeout)
	}
	if len(cfg.Auth.Trusted) != 2 || cfg.Auth.Trusted[1] != "clearing" {
		t.Errorf("auth.trusted: got %v", cfg.Auth.Trusted)
	}
	if cfg.NATS.Enabled {
		t.Errorf("nats.enabled: got true, want false")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carbon.yaml")
	data := []byte("grpc:\n  addr: \":7000\"\ncore:\n  conservation_interval: 10\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := config.Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPC.Addr != ":7000" {
		t.Errorf("grpc.addr: got %s, want :7000", cfg.GRPC.Addr)
	}
	if cfg.Core.ConservationInterval != 10 {
		t.Errorf("core.conservation_interval: got %d, want 10", cfg.Core.ConservationInterval)
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"CARBON_STATE_BACKEND": "rocksdb",
		"CARBON_AUTH_MODE":     "open",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := config.Load(viper.New(), ""); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}

	t.Run("static without trusted", func(t *testing.T) {
		t.Setenv("CARBON_AUTH_MODE", "static")
		if _, err := config.Load(viper.New(), ""); err == nil {
			t.Fatal("expected error for static auth with no trusted addresses")
		}
	})
}
