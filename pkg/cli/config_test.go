package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfigWithPath(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigWithPath: %v", err)
	}
	return cfg
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"1234", "****"},
		{"12345678", "********"},
		{"123456789", "1234*6789"},
		{"sk-1234567890abcdef", "sk-1***********cdef"},
	}
	for _, tt := range tests {
		if got := MaskAPIKey(tt.key); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestContextLifecycle(t *testing.T) {
	cfg := testConfig(t)

	if err := cfg.AddContext("local", &Context{BaseDir: "/var/lib/isearch"}); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	// The first context becomes current.
	if cfg.CurrentContext != "local" {
		t.Fatalf("CurrentContext = %q, want local", cfg.CurrentContext)
	}

	if err := cfg.AddContext("remote", &Context{Bind: "127.0.0.1:7700"}); err != nil {
		t.Fatalf("AddContext: %v", err)
	}
	if cfg.CurrentContext != "local" {
		t.Fatalf("CurrentContext changed to %q", cfg.CurrentContext)
	}

	if err := cfg.UseContext("remote"); err != nil {
		t.Fatalf("UseContext: %v", err)
	}
	ctx, err := cfg.GetCurrentContext()
	if err != nil {
		t.Fatalf("GetCurrentContext: %v", err)
	}
	if ctx.Bind != "127.0.0.1:7700" {
		t.Errorf("Bind = %q", ctx.Bind)
	}

	if err := cfg.UseContext("missing"); err == nil {
		t.Error("UseContext accepted unknown name")
	}

	if err := cfg.DeleteContext("remote"); err != nil {
		t.Fatalf("DeleteContext: %v", err)
	}
	if cfg.CurrentContext != "" {
		t.Errorf("CurrentContext = %q after deleting it, want empty", cfg.CurrentContext)
	}
	if err := cfg.DeleteContext("remote"); err == nil {
		t.Error("DeleteContext accepted unknown name")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfigWithPath(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPath: %v", err)
	}

	err = cfg.AddContext("prod", &Context{
		BaseDir:   "/srv/isearch",
		Bind:      "127.0.0.1:7700",
		BatchSize: 64,
		Embedder: EmbedderConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
	})
	if err != nil {
		t.Fatalf("AddContext: %v", err)
	}

	loaded, err := LoadConfigWithPath(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	ctx, err := loaded.ResolveContext("")
	if err != nil {
		t.Fatalf("ResolveContext: %v", err)
	}
	if ctx.Name != "prod" || ctx.BatchSize != 64 {
		t.Errorf("reloaded context = %+v", ctx)
	}
	if ctx.Embedder.Provider != "openai" || ctx.Embedder.Dimension != 1536 {
		t.Errorf("reloaded embedder = %+v", ctx.Embedder)
	}
}

func TestGetCurrentContextDefaults(t *testing.T) {
	cfg := testConfig(t)

	// No contexts at all: a default context with empty fields.
	ctx, err := cfg.GetCurrentContext()
	if err != nil {
		t.Fatalf("GetCurrentContext: %v", err)
	}
	if ctx.Name != "default" {
		t.Errorf("Name = %q, want default", ctx.Name)
	}

	// Contexts exist but none selected: that is an error.
	cfg.Contexts["a"] = &Context{Name: "a"}
	if _, err := cfg.GetCurrentContext(); err == nil {
		t.Error("GetCurrentContext succeeded without a current context")
	}
}

func TestContextResolveDefaults(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	ctx := &Context{}
	base, err := ctx.ResolveBaseDir()
	if err != nil {
		t.Fatalf("ResolveBaseDir: %v", err)
	}
	if base != filepath.Join(home, DefaultBaseDir, "data") {
		t.Errorf("base = %q", base)
	}
	bind, err := ctx.ResolveBind()
	if err != nil {
		t.Fatalf("ResolveBind: %v", err)
	}
	if bind != filepath.Join(base, DefaultSocketName) {
		t.Errorf("bind = %q", bind)
	}

	explicit := &Context{BaseDir: "/data", Bind: ":7700"}
	if got, _ := explicit.ResolveBaseDir(); got != "/data" {
		t.Errorf("ResolveBaseDir = %q", got)
	}
	if got, _ := explicit.ResolveBind(); got != ":7700" {
		t.Errorf("ResolveBind = %q", got)
	}
}
