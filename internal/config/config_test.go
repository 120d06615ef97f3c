package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_DefaultsApplyWithoutConfigFile(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer os.Chdir(wd)
	viper.Reset()

	tmp := t.TempDir()
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signaling.URL != localDevSignalingURL {
		t.Fatalf("expected local dev signaling default, got %s", cfg.Signaling.URL)
	}
	if cfg.Transfer.ChunkSize != 64*1024 {
		t.Fatalf("unexpected default chunk size: %d", cfg.Transfer.ChunkSize)
	}
	if cfg.RateLimit.CoarseMax != 100 {
		t.Fatalf("unexpected default coarse max: %d", cfg.RateLimit.CoarseMax)
	}
}

func TestLoad_EnvOverrideAppliesOnTopOfDefaults(t *testing.T) {
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	viper.Reset()

	tmp := t.TempDir()
	os.Chdir(tmp)

	os.Setenv("BACKUPPEER_SIGNALING_URL", "wss://relay.example.org/ws")
	defer os.Unsetenv("BACKUPPEER_SIGNALING_URL")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signaling.URL != "wss://relay.example.org/ws" {
		t.Fatalf("expected env override to apply, got %s", cfg.Signaling.URL)
	}
}
