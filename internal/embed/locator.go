package embed

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

// Locator schemes accepted in a model entry's path.
const (
	SchemeOllama = "ollama"
	SchemeOpenAI = "openai"
	SchemeStatic = "static"
)

// Locator is a parsed model path such as "ollama://all-minilm".
type Locator struct {
	Scheme string
	Model  string
}

// ParseLocator parses scheme://model. A path without a scheme is taken to be
// an Ollama model name.
func ParseLocator(path string) (Locator, error) {
	scheme, model, found := strings.Cut(path, "://")
	if !found {
		return Locator{Scheme: SchemeOllama, Model: path}, nil
	}

	switch scheme = strings.ToLower(scheme); scheme {
	case SchemeOllama, SchemeOpenAI:
		if model == "" {
			return Locator{}, vkberrors.ValidationError(fmt.Sprintf("model locator %q has no model name", path), nil)
		}
	case SchemeStatic:
	default:
		return Locator{}, vkberrors.ValidationError(fmt.Sprintf("unknown model locator scheme %q", scheme), nil).
			WithSuggestion("use ollama://<model>, openai://<model> or static://")
	}
	return Locator{Scheme: scheme, Model: model}, nil
}

// FactoryConfig carries the connection settings shared by all embedders.
type FactoryConfig struct {
	OllamaHost    string
	OpenAIKey     string
	OpenAIBaseURL string
	Timeout       time.Duration
}

// FactoryConfigFromEnv fills unset fields from the environment:
// VKB_OLLAMA_HOST, OPENAI_API_KEY, OPENAI_BASE_URL and VKB_EMBED_TIMEOUT (seconds).
func FactoryConfigFromEnv(cfg FactoryConfig) FactoryConfig {
	if v := os.Getenv("VKB_OLLAMA_HOST"); v != "" {
		cfg.OllamaHost = v
	}
	if cfg.OpenAIKey == "" {
		cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if v := os.Getenv("VKB_EMBED_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Timeout = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

// NewEmbedder builds the embedder for entry.
func NewEmbedder(entry ModelEntry, cfg FactoryConfig) (Embedder, error) {
	loc, err := ParseLocator(entry.Path)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case SchemeStatic:
		return NewHashEmbedder(entry.Dimension), nil
	case SchemeOpenAI:
		if cfg.OpenAIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, vkberrors.ConfigError("OPENAI_API_KEY is not set", nil).
				WithDetail("model", entry.Name)
		}
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.OpenAIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      loc.Model,
			Dimensions: entry.Dimension,
		}), nil
	default:
		return NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      loc.Model,
			Dimensions: entry.Dimension,
			Timeout:    cfg.Timeout,
		}), nil
	}
}
