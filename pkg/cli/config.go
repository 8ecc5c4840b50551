package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

const (
	// DefaultBaseDir is the configuration directory name under $HOME.
	DefaultBaseDir = ".isearch"
	// DefaultConfigFile is the default configuration filename.
	DefaultConfigFile = "config.yaml"
	// DefaultSocketName is the default unix socket filename under the data dir.
	DefaultSocketName = "isearch.sock"
)

// Config is the on-disk CLI configuration. It supports multiple named
// contexts so one machine can talk to several daemons (different data
// directories, different embedders).
type Config struct {
	// CurrentContext is the name of the currently active context.
	CurrentContext string `yaml:"current_context,omitempty"`

	// Contexts maps context name to context configuration.
	Contexts map[string]*Context `yaml:"contexts,omitempty"`

	// configPath is the path to the config file.
	configPath string
}

// Context is one daemon configuration.
type Context struct {
	// Name is the context name.
	Name string `yaml:"name"`

	// BaseDir is the daemon data directory. Defaults to ~/.isearch/data.
	BaseDir string `yaml:"base_dir,omitempty"`

	// Bind is the daemon address: a unix socket path or host:port.
	// Defaults to <BaseDir>/isearch.sock.
	Bind string `yaml:"bind,omitempty"`

	// BatchSize is the ingestion batch size (optional).
	BatchSize int `yaml:"batch_size,omitempty"`

	// Embedder selects and configures the embedding backend.
	Embedder EmbedderConfig `yaml:"embedder,omitempty"`
}

// EmbedderConfig configures the embedding backend for a context.
type EmbedderConfig struct {
	// Provider is one of "openai", "dashscope", "remote", "static".
	Provider string `yaml:"provider,omitempty"`

	// Model is the embedding model name (openai/dashscope).
	Model string `yaml:"model,omitempty"`

	// APIKey is the provider API key. The OPENAI_API_KEY and
	// DASHSCOPE_API_KEY environment variables take precedence.
	APIKey string `yaml:"api_key,omitempty"`

	// URL is the embedding endpoint for the "remote" provider.
	URL string `yaml:"url,omitempty"`

	// Dimension is the vector dimensionality (required for "remote" and
	// "static", optional elsewhere).
	Dimension int `yaml:"dimension,omitempty"`
}

// ResolveBaseDir returns the context's data directory, defaulting to
// ~/.isearch/data.
func (ctx *Context) ResolveBaseDir() (string, error) {
	if ctx.BaseDir != "" {
		return ctx.BaseDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cli: resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultBaseDir, "data"), nil
}

// ResolveBind returns the context's daemon address, defaulting to a unix
// socket under the data directory.
func (ctx *Context) ResolveBind() (string, error) {
	if ctx.Bind != "" {
		return ctx.Bind, nil
	}
	base, err := ctx.ResolveBaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, DefaultSocketName), nil
}

// LoadConfig loads or creates the configuration at the default path.
func LoadConfig() (*Config, error) {
	return LoadConfigWithPath("")
}

// LoadConfigWithPath loads configuration from a custom path. An empty path
// means ~/.isearch/config.yaml. A missing file yields an empty config that
// is created on first save.
func LoadConfigWithPath(customPath string) (*Config, error) {
	configPath := customPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cli: resolve home directory: %w", err)
		}
		configPath = filepath.Join(home, DefaultBaseDir, DefaultConfigFile)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return nil, fmt.Errorf("cli: create config directory: %w", err)
	}

	cfg := &Config{
		Contexts:   make(map[string]*Context),
		configPath: configPath,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("cli: read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cli: parse config: %w", err)
	}
	if cfg.Contexts == nil {
		cfg.Contexts = make(map[string]*Context)
	}
	cfg.configPath = configPath
	return cfg, nil
}

// Save writes the configuration to disk.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cli: marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0o600); err != nil {
		return fmt.Errorf("cli: write config: %w", err)
	}
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.configPath
}

// AddContext adds a context and saves. The first context added becomes the
// current one.
func (c *Config) AddContext(name string, ctx *Context) error {
	ctx.Name = name
	c.Contexts[name] = ctx
	if c.CurrentContext == "" {
		c.CurrentContext = name
	}
	return c.Save()
}

// DeleteContext removes a context and saves.
func (c *Config) DeleteContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("cli: context %q not found", name)
	}
	delete(c.Contexts, name)
	if c.CurrentContext == name {
		c.CurrentContext = ""
	}
	return c.Save()
}

// UseContext sets the current context and saves.
func (c *Config) UseContext(name string) error {
	if _, ok := c.Contexts[name]; !ok {
		return fmt.Errorf("cli: context %q not found", name)
	}
	c.CurrentContext = name
	return c.Save()
}

// GetContext returns a specific context.
func (c *Config) GetContext(name string) (*Context, error) {
	ctx, ok := c.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("cli: context %q not found", name)
	}
	return ctx, nil
}

// GetCurrentContext returns the current context.
func (c *Config) GetCurrentContext() (*Context, error) {
	if c.CurrentContext == "" {
		if len(c.Contexts) == 0 {
			// Nothing configured; fall back to all defaults.
			return &Context{Name: "default"}, nil
		}
		return nil, fmt.Errorf("cli: no current context set")
	}
	return c.GetContext(c.CurrentContext)
}

// ResolveContext returns the context by name, or the current context when
// name is empty.
func (c *Config) ResolveContext(name string) (*Context, error) {
	if name == "" {
		return c.GetCurrentContext()
	}
	return c.GetContext(name)
}

// ListContexts returns all context names.
func (c *Config) ListContexts() []string {
	names := make([]string, 0, len(c.Contexts))
	for name := range c.Contexts {
		names = append(names, name)
	}
	return names
}

// MaskAPIKey masks an API key for display.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
