package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// Helper to clear all config-related env vars
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"STRATA_CONFIG_PATH",
		"STRATA_DATABASE_URL",
		"STRATA_DATA_DIR",
		"STRATA_PATTERN",
		"STRATA_EXCLUDE",
		"STRATA_CHUNK_SIZE",
		"STRATA_LOG_LEVEL",
		"STRATA_LOG_FORMAT",
	}
	for _, v := range envVars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRATA_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Source.Dir != "data" {
		t.Errorf("Source.Dir: got %q, want data", cfg.Source.Dir)
	}
	if cfg.Source.Pattern != DefaultPattern {
		t.Errorf("Source.Pattern: got %q, want %q", cfg.Source.Pattern, DefaultPattern)
	}
	if !cfg.Pipeline.ChunkSize.Auto {
		t.Errorf("Pipeline.ChunkSize: got %v, want auto", cfg.Pipeline.ChunkSize)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log: got %s/%s, want info/json", cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "strata.yaml")
	content := `
database:
  url: postgres://db:5432/etl
source:
  dir: /srv/drops
  pattern: "events-*.csv"
  exclude: [skipme.csv]
pipeline:
  chunk_size: 250
log:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Database.URL != "postgres://db:5432/etl" {
		t.Errorf("Database.URL: got %q", cfg.Database.URL)
	}
	if cfg.Source.Dir != "/srv/drops" {
		t.Errorf("Source.Dir: got %q", cfg.Source.Dir)
	}
	if cfg.Pipeline.ChunkSize.Auto || cfg.Pipeline.ChunkSize.N != 250 {
		t.Errorf("ChunkSize: got %v, want 250", cfg.Pipeline.ChunkSize)
	}
	if len(cfg.Source.Exclude) != 1 || cfg.Source.Exclude[0] != "skipme.csv" {
		t.Errorf("Exclude: got %v", cfg.Source.Exclude)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "strata.yaml")
	if err := os.WriteFile(path, []byte("source:\n  dir: from-file\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("STRATA_DATA_DIR", "from-env")
	t.Setenv("STRATA_CHUNK_SIZE", "99")
	t.Setenv("STRATA_EXCLUDE", "a.csv, b.csv")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Source.Dir != "from-env" {
		t.Errorf("Source.Dir: got %q, want from-env", cfg.Source.Dir)
	}
	if cfg.Pipeline.ChunkSize.N != 99 {
		t.Errorf("ChunkSize: got %v, want 99", cfg.Pipeline.ChunkSize)
	}
	if len(cfg.Source.Exclude) != 2 || cfg.Source.Exclude[1] != "b.csv" {
		t.Errorf("Exclude: got %v", cfg.Source.Exclude)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"zero chunk", "pipeline:\n  chunk_size: 0\n", "chunk size"},
		{"bad chunk word", "pipeline:\n  chunk_size: sometimes\n", "chunk size"},
		{"empty pattern", "source:\n  pattern: \"\"\n", "source.pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "strata.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			_, err := LoadFromFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got error %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseChunkSize(t *testing.T) {
	if cs, err := ParseChunkSize("auto"); err != nil || !cs.Auto {
		t.Errorf("auto: got %v, %v", cs, err)
	}
	if cs, err := ParseChunkSize("AUTO"); err != nil || !cs.Auto {
		t.Errorf("AUTO: got %v, %v", cs, err)
	}
	if cs, err := ParseChunkSize("500"); err != nil || cs.N != 500 {
		t.Errorf("500: got %v, %v", cs, err)
	}
	for _, bad := range []string{"", "-1", "0", "5.5", "many"} {
		if _, err := ParseChunkSize(bad); err == nil {
			t.Errorf("ParseChunkSize(%q): expected error", bad)
		}
	}
}

func TestChunkSize_YAMLRoundTrip(t *testing.T) {
	for _, in := range []string{"auto", "128"} {
		var cs ChunkSize
		if err := yaml.Unmarshal([]byte(in), &cs); err != nil {
			t.Fatalf("Unmarshal(%q) failed: %v", in, err)
		}
		out, err := yaml.Marshal(cs)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if got := strings.TrimSpace(string(out)); got != in {
			t.Errorf("round trip: got %q, want %q", got, in)
		}
	}
}

func TestEffectiveExclude(t *testing.T) {
	cfg := &Config{Source: SourceConfig{Pattern: DefaultPattern}}
	if got := cfg.EffectiveExclude(); len(got) != 1 || got[0] != DefaultExcluded {
		t.Errorf("default pattern: got %v, want [%s]", got, DefaultExcluded)
	}

	cfg.Source.Pattern = "events-*.csv"
	if got := cfg.EffectiveExclude(); got != nil {
		t.Errorf("explicit pattern: got %v, want none", got)
	}

	cfg.Source.Pattern = DefaultPattern
	cfg.Source.Exclude = []string{}
	if got := cfg.EffectiveExclude(); len(got) != 0 {
		t.Errorf("explicit empty exclude: got %v, want empty", got)
	}

	cfg.Source.Exclude = []string{"other.csv"}
	if got := cfg.EffectiveExclude(); len(got) != 1 || got[0] != "other.csv" {
		t.Errorf("explicit exclude: got %v", got)
	}
}
