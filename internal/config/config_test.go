package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PANOSTITCH_CONFIG", filepath.Join(t.TempDir(), "none.json"))
	t.Setenv("PANOSTITCH_JWT_SECRET", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Stitch.Projector != "cylindrical" || cfg.Stitch.Iterations != 500 {
		t.Fatalf("unexpected stitch defaults: %+v", cfg.Stitch)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
}

func TestLoadOverridesAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"stitch": {"scale_ratio": 0.5, "seed": 9}, "watch": {"debounce": "750ms"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PANOSTITCH_CONFIG", path)
	t.Setenv("PANOSTITCH_JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Stitch.ScaleRatio != 0.5 || cfg.Stitch.Seed != 9 {
		t.Fatalf("file values not applied: %+v", cfg.Stitch)
	}
	if cfg.Stitch.Detector != "harris" {
		t.Fatalf("defaults lost for unset keys: %q", cfg.Stitch.Detector)
	}
	if cfg.Watch.Debounce.Duration != 750*time.Millisecond {
		t.Fatalf("expected 750ms debounce, got %v", cfg.Watch.Debounce)
	}
	if cfg.Server.JWTSecret != "s3cret" {
		t.Fatalf("expected env secret, got %q", cfg.Server.JWTSecret)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PANOSTITCH_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateReportsProblems(t *testing.T) {
	cfg := Default()
	cfg.Stitch.ScaleRatio = 2
	cfg.Stitch.Matcher = "flann"
	cfg.Stitch.Iterations = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"scale_ratio", "flann", "ransac_iterations"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestStitchOptions(t *testing.T) {
	cfg := Default()
	cfg.Stitch.Rectifier = "none"
	o := cfg.Stitch.StitchOptions()
	if o.Rectifier != "none" || o.Iterations != 500 || o.RatioThreshold != 0.7 {
		t.Fatalf("unexpected options %+v", o)
	}
}
