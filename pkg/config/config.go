// Package config holds capture settings. Every field has a built-in default;
// a TOML file and then command-line flags override them.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// EffectiveName is the file replay writes under the output root recording
// the settings a session ran with.
const EffectiveName = "classtap.toml"

const (
	SinkFile   = "file"
	SinkStdout = "stdout"
)

// Config stores capture settings.
type Config struct {
	OutDir         string   `toml:"out_dir"`
	MaxFrames      int      `toml:"max_frames"`
	IgnorePrefixes []string `toml:"ignore_prefixes"`
	Sink           string   `toml:"sink"`
	Serialize      bool     `toml:"serialize"`
	Lock           bool     `toml:"lock"`
	LogLevel       string   `toml:"log_level"`
	LogFormat      string   `toml:"log_format"`
	MetricsFile    string   `toml:"metrics_file,omitempty"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		OutDir:         "out",
		MaxFrames:      47,
		IgnorePrefixes: []string{"java/", "javax/", "com/sun", "sun/", "jdk/"},
		Sink:           SinkFile,
		Serialize:      true,
		Lock:           true,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults; a named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("read config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutDir) == "" {
		return fmt.Errorf("out_dir is required")
	}
	if c.MaxFrames < 1 {
		return fmt.Errorf("max_frames must be at least 1, got %d", c.MaxFrames)
	}
	switch c.Sink {
	case SinkFile, SinkStdout:
	default:
		return fmt.Errorf("sink must be %q or %q, got %q", SinkFile, SinkStdout, c.Sink)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// Write atomically writes cfg as TOML to path.
func Write(path string, cfg *Config) error {
	if cfg == nil {
		cfg = Default()
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}
