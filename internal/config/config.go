// Package config loads vkb settings: the vector backend connection and the
// data directory that holds the collection and model registries.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Backend connection modes.
const (
	ModeLocal  = "local"
	ModeServer = "server"
)

const (
	// SettingsFileName is the settings file looked up in the data locations.
	SettingsFileName = "settings.json"
	// RegistryFileName holds the collection registry.
	RegistryFileName = "kb_config.json"
	// ModelsFileName holds the model registry.
	ModelsFileName = "models_config.json"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "VKB_"

	// fallbackDirName is the per-user directory used when ./data is unusable.
	fallbackDirName = "qdrant_knowledge_base"
)

// Settings is the persisted settings file.
type Settings struct {
	Qdrant    QdrantConfig    `json:"qdrant" yaml:"qdrant" koanf:"qdrant"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding" koanf:"embedding"`

	// DataDir overrides data directory resolution when set.
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty" koanf:"data_dir"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty" koanf:"log_level"`
}

// QdrantConfig selects and addresses the vector backend.
type QdrantConfig struct {
	// Mode is "local" (embedded, filesystem-backed) or "server" (remote REST).
	Mode string `json:"mode" yaml:"mode" koanf:"mode"`
	Host string `json:"host" yaml:"host" koanf:"host"`
	Port int    `json:"port" yaml:"port" koanf:"port"`

	// APIKey is sent as the api-key header in server mode.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" koanf:"api_key"`

	// TimeoutSeconds bounds every server-mode request.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" koanf:"timeout_seconds"`
}

// EmbeddingConfig configures model servers used by model locators.
type EmbeddingConfig struct {
	// OllamaHost is the base URL for ollama:// locators.
	OllamaHost string `json:"ollama_host,omitempty" yaml:"ollama_host,omitempty" koanf:"ollama_host"`

	// CacheSize is the number of query embeddings kept in memory.
	CacheSize int `json:"cache_size,omitempty" yaml:"cache_size,omitempty" koanf:"cache_size"`

	// TimeoutSeconds bounds each embedding request. qdrant.timeout_seconds
	// does not apply to model servers.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" koanf:"timeout_seconds"`
}

// Timeout is TimeoutSeconds as a duration; zero leaves the embedder default.
func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// NewSettings returns settings with defaults applied: embedded local backend.
func NewSettings() *Settings {
	return &Settings{
		Qdrant: QdrantConfig{
			Mode:           ModeLocal,
			Host:           "localhost",
			Port:           6333,
			TimeoutSeconds: 10,
		},
		Embedding: EmbeddingConfig{
			OllamaHost:     "http://localhost:11434",
			CacheSize:      1000,
			TimeoutSeconds: 60,
		},
		LogLevel: "info",
	}
}

// envKeys maps environment variables (without prefix) to settings keys.
var envKeys = map[string]string{
	"QDRANT_MODE":               "qdrant.mode",
	"QDRANT_HOST":               "qdrant.host",
	"QDRANT_PORT":               "qdrant.port",
	"QDRANT_API_KEY":            "qdrant.api_key",
	"QDRANT_TIMEOUT_SECONDS":    "qdrant.timeout_seconds",
	"OLLAMA_HOST":               "embedding.ollama_host",
	"EMBEDDING_CACHE_SIZE":      "embedding.cache_size",
	"EMBEDDING_TIMEOUT_SECONDS": "embedding.timeout_seconds",
	"DATA_DIR":                  "data_dir",
	"LOG_LEVEL":                 "log_level",
}

// Load reads settings from path, or from the first existing default location
// when path is empty, then overlays VKB_* environment variables.
// A missing settings file is not an error: defaults apply.
// It returns the settings and the file they were read from ("" if none).
func Load(path string) (*Settings, string, error) {
	if path == "" {
		path = FindSettingsFile()
	}

	k := koanf.New(".")
	cfg := NewSettings()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
				return nil, "", fmt.Errorf("reading settings %s: %w", path, err)
			}
		} else if os.IsNotExist(err) {
			path = ""
		} else {
			return nil, "", fmt.Errorf("accessing settings %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return envKeys[strings.TrimPrefix(s, EnvPrefix)]
	}), nil); err != nil {
		return nil, "", fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, "", fmt.Errorf("unmarshalling settings: %w", err)
	}
	cfg.Qdrant.Mode = strings.ToLower(cfg.Qdrant.Mode)

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// FindSettingsFile returns the first existing settings file among
// ./data/settings.json and ~/qdrant_knowledge_base/settings.json, or "".
func FindSettingsFile() string {
	for _, p := range SettingsSearchPaths() {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// SettingsSearchPaths lists settings file candidates in priority order.
func SettingsSearchPaths() []string {
	paths := []string{filepath.Join("data", SettingsFileName)}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, fallbackDirName, SettingsFileName))
	}
	return paths
}

// parserFor picks the koanf parser by file extension.
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return kjson.Parser()
	}
}

// Validate checks the settings for impossible values.
func (s *Settings) Validate() error {
	switch s.Qdrant.Mode {
	case ModeLocal:
	case ModeServer:
		if s.Qdrant.Host == "" {
			return fmt.Errorf("qdrant.host is required in server mode")
		}
	default:
		return fmt.Errorf("qdrant.mode must be 'local' or 'server', got %q", s.Qdrant.Mode)
	}

	if s.Qdrant.Port < 1 || s.Qdrant.Port > 65535 {
		return fmt.Errorf("qdrant.port must be between 1 and 65535, got %d", s.Qdrant.Port)
	}
	if s.Qdrant.TimeoutSeconds < 0 {
		return fmt.Errorf("qdrant.timeout_seconds must be non-negative, got %d", s.Qdrant.TimeoutSeconds)
	}
	if s.Embedding.CacheSize < 0 {
		return fmt.Errorf("embedding.cache_size must be non-negative, got %d", s.Embedding.CacheSize)
	}
	if s.Embedding.TimeoutSeconds < 0 {
		return fmt.Errorf("embedding.timeout_seconds must be non-negative, got %d", s.Embedding.TimeoutSeconds)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if s.LogLevel != "" && !validLevels[strings.ToLower(s.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", s.LogLevel)
	}
	return nil
}

// Save writes the settings as JSON to path. Top-level sections of an
// existing file that vkb does not know about are preserved, and the
// previous file is backed up first.
func (s *Settings) Save(path string) error {
	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &doc)
		if _, err := backupFile(path); err != nil {
			return err
		}
	}

	own, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	var ownMap map[string]any
	if err := json.Unmarshal(own, &ownMap); err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	for k, v := range ownMap {
		doc[k] = v
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// WriteYAML renders the settings as YAML.
func (s *Settings) WriteYAML(w io.Writer) error {
	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return enc.Close()
}

// WriteJSON renders the settings as indented JSON.
func (s *Settings) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
