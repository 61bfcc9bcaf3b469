package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.OONI.Mode != ModeMeasurements {
		t.Fatalf("default mode = %q", cfg.OONI.Mode)
	}
	if cfg.OONI.CountryCode != "VE" {
		t.Fatalf("default country = %q", cfg.OONI.CountryCode)
	}
	if cfg.Watcher.LookbackDays != 1 {
		t.Fatalf("default lookback = %d", cfg.Watcher.LookbackDays)
	}
	if cfg.Watcher.CriticalAnomalyRate != 0.1 {
		t.Fatalf("default critical rate = %f", cfg.Watcher.CriticalAnomalyRate)
	}
	if cfg.Alerting.Email.Port != 465 {
		t.Fatalf("default smtp port = %d", cfg.Alerting.Email.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ooni:
  mode: aggregation
  country_code: RU
watcher:
  lookback_days: 7
  critical_anomaly_rate: 0.25
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.OONI.Mode != ModeAggregation || cfg.OONI.CountryCode != "RU" {
		t.Fatalf("file values not applied: %+v", cfg.OONI)
	}
	if cfg.Watcher.LookbackDays != 7 || cfg.Watcher.CriticalAnomalyRate != 0.25 {
		t.Fatalf("file values not applied: %+v", cfg.Watcher)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ooni:
  mode: streaming
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unknown mode should fail validation")
	}

	content = `
watcher:
  critical_anomaly_rate: -0.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("negative critical rate should fail validation")
	}

	content = `
alerting:
  email:
    enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("email enabled without addresses should fail validation")
	}
}
