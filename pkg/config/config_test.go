package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("config = %+v, want defaults", cfg)
	}
	if cfg.MaxFrames != 47 || cfg.OutDir != "out" || !cfg.Serialize {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "classtap.toml")
	body := `
out_dir = "/tmp/captured"
max_frames = 8
ignore_prefixes = ["java/"]
sink = "stdout"
log_format = "json"
`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutDir != "/tmp/captured" || cfg.MaxFrames != 8 || cfg.Sink != SinkStdout || cfg.LogFormat != "json" {
		t.Fatalf("config = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.IgnorePrefixes, []string{"java/"}) {
		t.Fatalf("ignore_prefixes = %v", cfg.IgnorePrefixes)
	}
	if cfg.LogLevel != "info" || !cfg.Lock {
		t.Fatalf("unset keys lost their defaults: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	p := filepath.Join(t.TempDir(), "classtap.toml")
	if err := os.WriteFile(p, []byte("max_frame = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(p)
	if err == nil || !strings.Contains(err.Error(), "max_frame") {
		t.Fatalf("Load err = %v, want unknown key error", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	p := filepath.Join(t.TempDir(), "classtap.toml")
	if err := os.WriteFile(p, []byte("max_frames = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"empty out dir", func(c *Config) { c.OutDir = " " }, false},
		{"zero frames", func(c *Config) { c.MaxFrames = 0 }, false},
		{"bad sink", func(c *Config) { c.Sink = "kafka" }, false},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"upper level", func(c *Config) { c.LogLevel = "DEBUG" }, true},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, EffectiveName)

	want := Default()
	want.MaxFrames = 12
	want.MetricsFile = "metrics.prom"
	if err := Write(p, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only %s, found %d entries", EffectiveName, len(entries))
	}
}
