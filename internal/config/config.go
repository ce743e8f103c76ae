package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"panostitch/internal/logging"
	"panostitch/internal/stitch"
)

const (
	defaultConfigPath = "~/.config/panostitch/config.json"
	defaultParallel   = 2
)

// Config holds user-editable settings for the stitcher and its services.
type Config struct {
	Processing Processing      `json:"processing"`
	Logging    logging.Options `json:"logging"`
	Paths      Paths           `json:"paths"`
	Stitch     Stitch          `json:"stitch"`
	Server     Server          `json:"server"`
	Watch      Watch           `json:"watch"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"` // concurrent stitch jobs
	Workers      int    `json:"workers"`       // per-image workers inside one job
	TempDir      string `json:"temp_dir"`
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput  string `json:"default_input"`
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
	DebugDir      string `json:"debug_dir"`
}

// Stitch selects and tunes the stitching stages.
type Stitch struct {
	ScaleRatio      float64 `json:"scale_ratio"`
	Projector       string  `json:"projector"`
	Detector        string  `json:"detector"`
	Descriptor      string  `json:"descriptor"`
	Matcher         string  `json:"matcher"`
	Aligner         string  `json:"aligner"`
	Blender         string  `json:"blender"`
	Rectifier       string  `json:"rectifier"`
	Iterations      int     `json:"ransac_iterations"`
	RatioThreshold  float64 `json:"ratio_threshold"`
	HarrisK         float64 `json:"harris_k"`
	HarrisThreshold float64 `json:"harris_threshold"`
	Seed            int64   `json:"seed"`
	DebugImages     bool    `json:"debug_images"`
}

// Server configures the HTTP and gRPC listeners.
type Server struct {
	Addr      string `json:"addr"`
	GRPCAddr  string `json:"grpc_addr"`
	JWTSecret string `json:"jwt_secret"` // empty disables auth
}

// Watch configures directory watching.
type Watch struct {
	FocalFile string   `json:"focal_file"`
	Debounce  Duration `json:"debounce"`
	Output    string   `json:"output"`
}

// Duration is a time.Duration encoded as a string such as "2s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// StitchOptions converts the stage settings for stitch.Build.
func (s Stitch) StitchOptions() stitch.Options {
	return stitch.Options{
		Projector:       s.Projector,
		Detector:        s.Detector,
		Descriptor:      s.Descriptor,
		Matcher:         s.Matcher,
		Aligner:         s.Aligner,
		Blender:         s.Blender,
		Rectifier:       s.Rectifier,
		HarrisK:         s.HarrisK,
		HarrisThreshold: s.HarrisThreshold,
		RatioThreshold:  s.RatioThreshold,
		Iterations:      s.Iterations,
	}
}

// Load reads configuration from disk, falling back to sensible defaults.
// A .env file in the working directory is loaded first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	configPath := os.Getenv("PANOSTITCH_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		applyEnv(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PANOSTITCH_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("PANOSTITCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PANOSTITCH_DB"); v != "" {
		cfg.Paths.DatabasePath = v
	}
}

// Validate reports settings the stitcher cannot honour.
func (c *Config) Validate() error {
	var errs []error
	if c.Processing.ParallelJobs < 1 {
		errs = append(errs, fmt.Errorf("processing.parallel_jobs must be at least 1"))
	}
	if c.Stitch.ScaleRatio < 0.1 || c.Stitch.ScaleRatio > 1 {
		errs = append(errs, fmt.Errorf("stitch.scale_ratio %v is outside [0.1, 1.0] and will be clamped", c.Stitch.ScaleRatio))
	}
	if c.Stitch.Iterations < 1 {
		errs = append(errs, fmt.Errorf("stitch.ransac_iterations must be positive"))
	}
	if c.Stitch.RatioThreshold <= 0 || c.Stitch.RatioThreshold > 1 {
		errs = append(errs, fmt.Errorf("stitch.ratio_threshold must be in (0, 1]"))
	}
	if err := stitch.ValidateNames(c.Stitch.StitchOptions()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	def := stitch.DefaultOptions()
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			Workers:      4,
			TempDir:      os.TempDir(),
		},
		Logging: logging.Options{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput:  ".",
			DefaultOutput: "./panorama.png",
			DatabasePath:  filepath.Join(os.TempDir(), "panostitch.db"),
			DebugDir:      "./result",
		},
		Stitch: Stitch{
			ScaleRatio:      1.0,
			Projector:       def.Projector,
			Detector:        def.Detector,
			Descriptor:      def.Descriptor,
			Matcher:         def.Matcher,
			Aligner:         def.Aligner,
			Blender:         def.Blender,
			Rectifier:       def.Rectifier,
			Iterations:      def.Iterations,
			RatioThreshold:  def.RatioThreshold,
			HarrisK:         def.HarrisK,
			HarrisThreshold: def.HarrisThreshold,
			Seed:            1,
		},
		Server: Server{
			Addr:     ":8080",
			GRPCAddr: ":50051",
		},
		Watch: Watch{
			FocalFile: "focal.txt",
			Debounce:  Duration{2 * time.Second},
			Output:    "panorama.png",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
