package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("PROCESSOR_INTERVAL", "")
	t.Setenv("QUEUE_MAX_SIZE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port=%s, want 8080", cfg.Port)
	}
	if cfg.ProcessorInterval != 100*time.Millisecond {
		t.Errorf("ProcessorInterval=%v, want 100ms", cfg.ProcessorInterval)
	}
	if cfg.PersistInterval != 5*time.Minute {
		t.Errorf("PersistInterval=%v, want 5m", cfg.PersistInterval)
	}
	if cfg.ResyncInterval != 30*time.Minute {
		t.Errorf("ResyncInterval=%v, want 30m", cfg.ResyncInterval)
	}
	if cfg.QueueMaxSize != 1000 {
		t.Errorf("QueueMaxSize=%d, want 1000", cfg.QueueMaxSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("AUTO_ROUTE_USERS", " alice, ,bob ")
	t.Setenv("PROCESSOR_INTERVAL", "250ms")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBDriver != "postgres" {
		t.Errorf("DBDriver=%s, want postgres", cfg.DBDriver)
	}
	if len(cfg.AutoRouteUsers) != 2 || cfg.AutoRouteUsers[0] != "alice" || cfg.AutoRouteUsers[1] != "bob" {
		t.Errorf("AutoRouteUsers=%v", cfg.AutoRouteUsers)
	}
	if cfg.ProcessorInterval != 250*time.Millisecond {
		t.Errorf("ProcessorInterval=%v", cfg.ProcessorInterval)
	}
	if cfg.TelegramChatID != 12345 {
		t.Errorf("TelegramChatID=%d", cfg.TelegramChatID)
	}
}

func TestParseBrokerProfiles(t *testing.T) {
	data := []byte(`
brokers:
  - id: paper
    type: paper
    asset_classes: [crypto, stocks]
    execution_speed: 9
    commission: 1
    reliability: 8
`)
	profiles, err := ParseBrokerProfiles(data)
	if err != nil {
		t.Fatalf("ParseBrokerProfiles: %v", err)
	}
	if len(profiles) != 1 || profiles[0].ID != "paper" || len(profiles[0].AssetClasses) != 2 {
		t.Fatalf("unexpected profiles: %+v", profiles)
	}

	if _, err := ParseBrokerProfiles([]byte("brokers:\n  - id: bad\n    execution_speed: 11\n    commission: 1\n    reliability: 1\n")); err == nil {
		t.Fatal("expected out-of-range score to fail")
	}
}
