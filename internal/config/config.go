package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Assets configures where model assets are fetched from and stored.
type Assets struct {
	BaseURL         string `toml:"base_url"`
	Store           string `toml:"store"`
	CacheDir        string `toml:"cache_dir"`
	DownloadTimeout int    `toml:"download_timeout"`
	Concurrency     int    `toml:"concurrency"`
	MemoEntries     int    `toml:"memo_entries"`
}

// Runtime configures the ONNX Runtime session.
type Runtime struct {
	LibraryPath    string `toml:"library_path"`
	InputName      string `toml:"input_name"`
	OutputName     string `toml:"output_name"`
	IntraOpThreads int    `toml:"intra_op_threads"`
}

// Ranking configures candidate presentation.
type Ranking struct {
	TopK           int     `toml:"top_k"`
	HighConfidence float64 `toml:"high_confidence"`
}

// Pipeline configures coarse progress reporting.
type Pipeline struct {
	EstimatedSeconds int `toml:"estimated_seconds"`
}

// Catalog selects the source of known whiskey records.
type Catalog struct {
	Source string `toml:"source"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// Handoff configures where confirmed selections are submitted.
type Handoff struct {
	URL     string `toml:"url"`
	Timeout int    `toml:"timeout"`
}

// Server configures the asset and prediction server.
type Server struct {
	Bind           string `toml:"bind"`
	AssetDir       string `toml:"asset_dir"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values.
//
// Configuration sections by subsystem:
//   - Assets: asset endpoint base URL and local cache
//   - Runtime: ONNX Runtime library and model I/O names
//   - Ranking: top-K and the high-confidence threshold
//   - Pipeline: progress estimate for a run
//   - Catalog: file or database source of whiskey records
//   - Handoff: endpoint that persists a confirmed selection
//   - Server: bind address and asset directory for cmd/server
//   - Logging: log format and level
type Config struct {
	Assets   Assets   `toml:"assets"`
	Runtime  Runtime  `toml:"runtime"`
	Ranking  Ranking  `toml:"ranking"`
	Pipeline Pipeline `toml:"pipeline"`
	Catalog  Catalog  `toml:"catalog"`
	Handoff  Handoff  `toml:"handoff"`
	Server   Server   `toml:"server"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("goggles.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local asset cache directory.
func (c *Config) EnsureDirectories() error {
	if strings.TrimSpace(c.Assets.CacheDir) == "" {
		return nil
	}
	if err := os.MkdirAll(c.Assets.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", c.Assets.CacheDir, err)
	}
	return nil
}

// DownloadTimeout returns the per-asset download timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Assets.DownloadTimeout) * time.Second
}

// HandoffTimeout returns the hand-off request timeout.
func (c *Config) HandoffTimeout() time.Duration {
	return time.Duration(c.Handoff.Timeout) * time.Second
}

// EstimatedRunTime returns the initial remaining-time estimate for a pipeline run.
func (c *Config) EstimatedRunTime() time.Duration {
	return time.Duration(c.Pipeline.EstimatedSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "goggles")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/goggles"
	}
	return filepath.Join(home, ".cache", "goggles")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
