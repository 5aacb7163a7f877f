// Package config loads pipeline configuration with precedence:
// defaults → optional YAML file → STRATA_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPattern is the inclusion glob applied when none is configured.
const DefaultPattern = "*.csv"

// DefaultExcluded is kept out of normal loads so it can serve as a
// holdout for the report's validation section. It applies only while the
// inclusion pattern is still the default and no explicit exclusion list
// was given.
const DefaultExcluded = "validation.csv"

// Config is the root configuration structure.
// It is read-only after Load() returns.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig contains backing-store settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// SourceConfig contains file discovery settings.
type SourceConfig struct {
	Dir     string   `yaml:"dir"`
	Pattern string   `yaml:"pattern"`
	Exclude []string `yaml:"exclude"`
}

// PipelineConfig contains batch execution settings.
type PipelineConfig struct {
	ChunkSize ChunkSize `yaml:"chunk_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EffectiveExclude resolves the exclusion list for a load. The implicit
// validation.csv holdout applies only to the default pattern with no
// user-supplied exclusions; an explicit pattern means the caller asked
// for exactly those files.
func (c *Config) EffectiveExclude() []string {
	if c.Source.Exclude != nil {
		return c.Source.Exclude
	}
	if c.Source.Pattern == DefaultPattern {
		return []string{DefaultExcluded}
	}
	return nil
}

// ChunkSize is either a fixed positive batch size or "auto", which derives
// the size from the pending workload at run time.
type ChunkSize struct {
	Auto bool
	N    int
}

// ParseChunkSize parses a chunk size from flag or YAML text.
func ParseChunkSize(s string) (ChunkSize, error) {
	if strings.EqualFold(strings.TrimSpace(s), "auto") {
		return ChunkSize{Auto: true}, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return ChunkSize{}, fmt.Errorf("chunk size must be a positive integer or %q, got %q", "auto", s)
	}
	return ChunkSize{N: n}, nil
}

// String renders the chunk size back to its flag form.
func (c ChunkSize) String() string {
	if c.Auto {
		return "auto"
	}
	return strconv.Itoa(c.N)
}

// UnmarshalYAML implements yaml.Unmarshaler: accepts an integer or "auto".
func (c *ChunkSize) UnmarshalYAML(value *yaml.Node) error {
	var n int
	if err := value.Decode(&n); err == nil {
		if n <= 0 {
			return fmt.Errorf("chunk size must be positive, got %d", n)
		}
		*c = ChunkSize{N: n}
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid chunk size: %w", err)
	}
	parsed, err := ParseChunkSize(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for ChunkSize.
func (c ChunkSize) MarshalYAML() (interface{}, error) {
	if c.Auto {
		return "auto", nil
	}
	return c.N, nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// The config path comes from STRATA_CONFIG_PATH; a missing file is not an
// error.
func Load() (*Config, error) {
	return loadFrom(getEnv("STRATA_CONFIG_PATH", "config/strata.yaml"), false)
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	return loadFrom(path, true)
}

func loadFrom(path string, mustExist bool) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err) && !mustExist:
		// Missing file is OK; use defaults
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL: "postgres://localhost:5432/strata?sslmode=disable",
		},
		Source: SourceConfig{
			Dir:     "data",
			Pattern: DefaultPattern,
		},
		Pipeline: PipelineConfig{
			ChunkSize: ChunkSize{Auto: true},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRATA_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("STRATA_DATA_DIR"); v != "" {
		cfg.Source.Dir = v
	}
	if v := os.Getenv("STRATA_PATTERN"); v != "" {
		cfg.Source.Pattern = v
	}
	if v := os.Getenv("STRATA_EXCLUDE"); v != "" {
		cfg.Source.Exclude = splitList(v)
	}
	if v := os.Getenv("STRATA_CHUNK_SIZE"); v != "" {
		if cs, err := ParseChunkSize(v); err == nil {
			cfg.Pipeline.ChunkSize = cs
		}
	}
	if v := os.Getenv("STRATA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STRATA_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validate checks that configuration values are usable.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Source.Pattern == "" {
		return fmt.Errorf("source.pattern must not be empty")
	}
	if !c.Pipeline.ChunkSize.Auto && c.Pipeline.ChunkSize.N <= 0 {
		return fmt.Errorf("pipeline.chunk_size must be positive or %q", "auto")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text; got %q", c.Log.Format)
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
