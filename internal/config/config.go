package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Detector   DetectorConfig   `yaml:"detector"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Quality    QualityConfig    `yaml:"quality"`
	Thumbnail  ThumbnailConfig  `yaml:"thumbnail"`
	Matching   MatchingConfig   `yaml:"matching"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Log        LogConfig        `yaml:"log"`
}

type StoreConfig struct {
	Mode             string        `yaml:"mode"`       // embedded or remote
	Path             string        `yaml:"path"`       // SQLite file for embedded mode
	URL              string        `yaml:"url"`        // PostgreSQL connection URL for remote mode
	Collection       string        `yaml:"collection"` // table / collection name
	Dimension        int           `yaml:"dimension"`
	Metric           string        `yaml:"metric"`
	ConnectAttempts  int           `yaml:"connect_attempts"`   // remote mode only
	ConnectBaseDelay time.Duration `yaml:"connect_base_delay"` // doubled after every failed attempt
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns"`
}

type DetectorConfig struct {
	URL     string        `yaml:"url"` // inference server base URL
	Timeout time.Duration `yaml:"timeout"`
}

type ExtractionConfig struct {
	Padding         int     `yaml:"padding"`       // pixels added around each detector box
	MinFaceSize     int     `yaml:"min_face_size"` // minimum crop side in pixels
	MinQualityScore float64 `yaml:"min_quality_score"`
	ThumbnailDir    string  `yaml:"thumbnail_dir"`
}

type QualityConfig struct {
	BlurThreshold     float64 `yaml:"blur_threshold"`
	ReferenceSize     int     `yaml:"reference_size"`
	OptimalBrightness float64 `yaml:"optimal_brightness"`
	ContrastCap       float64 `yaml:"contrast_cap"`
}

type ThumbnailConfig struct {
	Size                 int  `yaml:"size"`
	SuperResolution      bool `yaml:"super_resolution"`
	SuperResolutionBelow int  `yaml:"super_resolution_below"`
}

type MatchingConfig struct {
	DefiniteThreshold   float64 `yaml:"definite_threshold"`
	BorderlineThreshold float64 `yaml:"borderline_threshold"`
}

type DedupConfig struct {
	Window   time.Duration `yaml:"window"`
	RedisURL string        `yaml:"redis_url"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// envString overrides dst with the environment variable if it is set.
func envString(key string, dst *string) {
	if s := os.Getenv(key); s != "" {
		*dst = s
	}
}

// envInt reads an environment variable and parses it as a non-negative integer.
// Leaves dst unchanged if the env var is unset, empty, or invalid.
func envInt(key string, dst *int) {
	s := os.Getenv(key)
	if s == "" {
		return
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		*dst = n
	}
}

func envFloat(key string, dst *float64) {
	s := os.Getenv(key)
	if s == "" {
		return
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		*dst = f
	}
}

func envBool(key string, dst *bool) {
	s := os.Getenv(key)
	if s == "" {
		return
	}
	if b, err := strconv.ParseBool(s); err == nil {
		*dst = b
	}
}

// envDuration accepts Go durations ("90s") and bare integers as seconds.
func envDuration(key string, dst *time.Duration) {
	s := os.Getenv(key)
	if s == "" {
		return
	}
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(s); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}

// Defaults returns the built-in configuration without environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load returns the defaults overridden by environment variables.
func Load() *Config {
	cfg := Defaults()

	envString("STORE_MODE", &cfg.Store.Mode)
	envString("STORE_PATH", &cfg.Store.Path)
	envString("DATABASE_URL", &cfg.Store.URL)
	envString("STORE_COLLECTION", &cfg.Store.Collection)
	envInt("EMBEDDING_DIM", &cfg.Store.Dimension)
	envString("STORE_METRIC", &cfg.Store.Metric)
	envInt("STORE_CONNECT_ATTEMPTS", &cfg.Store.ConnectAttempts)
	envDuration("STORE_CONNECT_BASE_DELAY", &cfg.Store.ConnectBaseDelay)
	envInt("DATABASE_MAX_OPEN_CONNS", &cfg.Store.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &cfg.Store.MaxIdleConns)

	envString("INFERENCE_URL", &cfg.Detector.URL)
	envDuration("INFERENCE_TIMEOUT", &cfg.Detector.Timeout)

	envInt("FACE_PADDING", &cfg.Extraction.Padding)
	envInt("MIN_FACE_SIZE", &cfg.Extraction.MinFaceSize)
	envFloat("MIN_QUALITY_SCORE", &cfg.Extraction.MinQualityScore)
	envString("THUMBNAIL_DIR", &cfg.Extraction.ThumbnailDir)

	envFloat("BLUR_THRESHOLD", &cfg.Quality.BlurThreshold)
	envInt("QUALITY_REFERENCE_SIZE", &cfg.Quality.ReferenceSize)
	envFloat("QUALITY_OPTIMAL_BRIGHTNESS", &cfg.Quality.OptimalBrightness)
	envFloat("QUALITY_CONTRAST_CAP", &cfg.Quality.ContrastCap)

	envInt("THUMBNAIL_SIZE", &cfg.Thumbnail.Size)
	envBool("SUPER_RESOLUTION_ENABLED", &cfg.Thumbnail.SuperResolution)
	envInt("SUPER_RESOLUTION_BELOW", &cfg.Thumbnail.SuperResolutionBelow)

	envFloat("MATCH_DEFINITE_THRESHOLD", &cfg.Matching.DefiniteThreshold)
	envFloat("MATCH_BORDERLINE_THRESHOLD", &cfg.Matching.BorderlineThreshold)

	envDuration("DEDUP_WINDOW", &cfg.Dedup.Window)
	envString("DEDUP_REDIS_URL", &cfg.Dedup.RedisURL)

	envString("LOG_LEVEL", &cfg.Log.Level)
	envBool("LOG_DEVELOPMENT", &cfg.Log.Development)

	return cfg
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Mode {
	case "embedded":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("STORE_PATH is required in embedded mode"))
		}
	case "remote":
		if c.Store.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in remote mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store mode %q", c.Store.Mode))
	}
	if c.Store.Metric != "cosine" && c.Store.Metric != "euclidean" {
		errs = append(errs, fmt.Errorf("unknown distance metric %q", c.Store.Metric))
	}
	if c.Store.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimension must be positive, got %d", c.Store.Dimension))
	}
	if c.Store.ConnectAttempts < 1 {
		errs = append(errs, fmt.Errorf("connect attempts must be at least 1, got %d", c.Store.ConnectAttempts))
	}
	if c.Thumbnail.Size <= 0 {
		errs = append(errs, fmt.Errorf("thumbnail size must be positive, got %d", c.Thumbnail.Size))
	}
	if c.Extraction.MinQualityScore < 0 || c.Extraction.MinQualityScore > 1 {
		errs = append(errs, fmt.Errorf("min quality score %f outside [0, 1]", c.Extraction.MinQualityScore))
	}
	if c.Matching.DefiniteThreshold < 0 {
		errs = append(errs, fmt.Errorf("definite threshold must not be negative, got %f", c.Matching.DefiniteThreshold))
	}
	if c.Matching.BorderlineThreshold < c.Matching.DefiniteThreshold {
		errs = append(errs, fmt.Errorf("borderline threshold %f is below definite threshold %f",
			c.Matching.BorderlineThreshold, c.Matching.DefiniteThreshold))
	}

	return errors.Join(errs...)
}
