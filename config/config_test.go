package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func testViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(testViper(), filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Detection.MissingThreshold != 3 {
		t.Errorf("MissingThreshold = %d, want 3", cfg.Detection.MissingThreshold)
	}
	if cfg.Detection.PartialThresholdPct != 0.5 {
		t.Errorf("PartialThresholdPct = %v, want 0.5", cfg.Detection.PartialThresholdPct)
	}
	if cfg.Detection.AbsoluteMinimum != 3 {
		t.Errorf("AbsoluteMinimum = %d, want 3", cfg.Detection.AbsoluteMinimum)
	}
	if cfg.Batch.SmallBatchCeiling != 10 {
		t.Errorf("SmallBatchCeiling = %d, want 10", cfg.Batch.SmallBatchCeiling)
	}
	if cfg.Batch.SkipFailureRate != 50 {
		t.Errorf("SkipFailureRate = %v, want 50", cfg.Batch.SkipFailureRate)
	}
	if cfg.Scraper.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.Scraper.RetryAttempts)
	}
	if cfg.Scraper.RunTimeout != 30*time.Minute {
		t.Errorf("RunTimeout = %s, want 30m", cfg.Scraper.RunTimeout)
	}
	if cfg.Media.Enabled {
		t.Error("media should be disabled without a bucket")
	}
	if len(cfg.Organizations) != 0 {
		t.Errorf("got %d organizations, want 0", len(cfg.Organizations))
	}
}

func TestLoadFrom_Overrides(t *testing.T) {
	v := testViper()
	v.Set("missing_threshold", 5)
	v.Set("s3_bucket", "animals")
	v.Set("run_timeout", "10m")

	cfg, err := LoadFrom(v, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Detection.MissingThreshold != 5 {
		t.Errorf("MissingThreshold = %d, want 5", cfg.Detection.MissingThreshold)
	}
	if !cfg.Media.Enabled {
		t.Error("media should be enabled when a bucket is set")
	}
	if cfg.Scraper.RunTimeout != 10*time.Minute {
		t.Errorf("RunTimeout = %s, want 10m", cfg.Scraper.RunTimeout)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"zero missing threshold", "missing_threshold", 0},
		{"threshold pct above one", "partial_threshold_pct", 1.5},
		{"negative absolute minimum", "absolute_minimum", -1},
		{"zero retries", "retry_attempts", 0},
		{"min batch above max", "min_batch_size", 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testViper()
			v.Set(tt.key, tt.value)
			if _, err := LoadFrom(v, t.TempDir()); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadOrganizations(t *testing.T) {
	dir := t.TempDir()
	org := `id: paws
name: Paws Rescue
url: https://paws.example/adopt
skip_existing: true
selectors:
  item: ".card"
  fields:
    name: ".name"
detection:
  missing_threshold: 4
  absolute_minimum: 10
`
	os.WriteFile(filepath.Join(dir, "paws.yaml"), []byte(org), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)

	cfg, err := LoadFrom(testViper(), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	paws, ok := cfg.Organizations["paws"]
	if !ok {
		t.Fatal("organization paws not loaded")
	}
	if paws.Collector != "html" {
		t.Errorf("Collector = %q, want default html", paws.Collector)
	}
	if !paws.SkipExisting {
		t.Error("SkipExisting = false, want true")
	}
	if paws.Selectors.Fields["name"] != ".name" {
		t.Errorf("name selector = %q", paws.Selectors.Fields["name"])
	}

	d := cfg.DetectionFor("paws")
	if d.MissingThreshold != 4 || d.AbsoluteMinimum != 10 {
		t.Errorf("DetectionFor(paws) = %+v, want overrides applied", d)
	}
	if d.PartialThresholdPct != 0.5 {
		t.Errorf("PartialThresholdPct = %v, want global 0.5", d.PartialThresholdPct)
	}

	if got := cfg.DetectionFor("unknown"); got != cfg.Detection {
		t.Errorf("DetectionFor(unknown) = %+v, want globals", got)
	}
}

func TestLoadOrganizations_MissingID(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: No ID\n"), 0644)

	if _, err := LoadFrom(testViper(), dir); err == nil {
		t.Error("expected error for organization without id, got nil")
	}
}
