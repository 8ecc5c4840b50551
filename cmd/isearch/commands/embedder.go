package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/isearch/isearch/pkg/cli"
	"github.com/isearch/isearch/pkg/embed"
)

const defaultStaticDim = 512

// buildEmbedder constructs the embedding backend for a context. Environment
// variables take precedence over the configured API key so keys can stay
// out of the config file.
func buildEmbedder(cfg cli.EmbedderConfig, logger *slog.Logger) (embed.Embedder, error) {
	var opts []embed.Option
	if cfg.Model != "" {
		opts = append(opts, embed.WithModel(cfg.Model))
	}
	if cfg.Dimension > 0 {
		opts = append(opts, embed.WithDimension(cfg.Dimension))
	}
	if logger != nil {
		opts = append(opts, embed.WithLogger(logger))
	}

	switch cfg.Provider {
	case "openai", "":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			key = cfg.APIKey
		}
		if key == "" {
			return nil, fmt.Errorf("openai embedder needs an API key (OPENAI_API_KEY or embedder.api_key)")
		}
		return embed.NewOpenAI(key, opts...), nil

	case "dashscope":
		key := os.Getenv("DASHSCOPE_API_KEY")
		if key == "" {
			key = cfg.APIKey
		}
		if key == "" {
			return nil, fmt.Errorf("dashscope embedder needs an API key (DASHSCOPE_API_KEY or embedder.api_key)")
		}
		return embed.NewDashScope(key, opts...), nil

	case "remote":
		if cfg.URL == "" {
			return nil, fmt.Errorf("remote embedder needs embedder.url")
		}
		if cfg.Dimension <= 0 {
			return nil, fmt.Errorf("remote embedder needs embedder.dimension")
		}
		return embed.NewRemote(cfg.URL, cfg.Dimension, opts...), nil

	case "static":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = defaultStaticDim
		}
		return embed.NewStatic(dim), nil

	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}
