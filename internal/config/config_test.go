package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "livenote" {
		t.Errorf("expected Name=livenote, got %s", cfg.Name)
	}
	if cfg.Render.Language != "react" {
		t.Errorf("expected Language=react, got %s", cfg.Render.Language)
	}
	if cfg.Render.Namespace != "react_data" {
		t.Errorf("expected Namespace=react_data, got %s", cfg.Render.Namespace)
	}
	if cfg.Render.MaxIncludeDepth != 10 {
		t.Errorf("expected MaxIncludeDepth=10, got %d", cfg.Render.MaxIncludeDepth)
	}
	if cfg.Market.HistoryLimit != 5 {
		t.Errorf("expected HistoryLimit=5, got %d", cfg.Market.HistoryLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("ALPHA_VANTAGE_PRIMARY_KEY", "")
	t.Setenv("LIVENOTE_THEME", "")

	vault := t.TempDir()
	path := DefaultPath(vault)

	cfg := DefaultConfig()
	cfg.Render.Theme = ThemeDark
	cfg.Render.MathTypesetting = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Render.Theme != ThemeDark {
		t.Errorf("expected Theme=dark, got %s", loaded.Render.Theme)
	}
	if !loaded.Render.MathTypesetting {
		t.Error("expected MathTypesetting=true")
	}
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), ".livenote", "config.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Render.Theme != ThemeAuto {
		t.Errorf("expected default theme, got %s", cfg.Render.Theme)
	}
}

func TestConfig_DotEnvFeedsOverrides(t *testing.T) {
	vault := t.TempDir()
	t.Setenv("ALPHA_VANTAGE_SECONDARY_KEY", "")
	os.Unsetenv("ALPHA_VANTAGE_SECONDARY_KEY")
	t.Cleanup(func() { os.Unsetenv("ALPHA_VANTAGE_SECONDARY_KEY") })

	if err := os.WriteFile(filepath.Join(vault, ".env"), []byte("ALPHA_VANTAGE_SECONDARY_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load(DefaultPath(vault))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Market.SecondaryAPIKey != "from-dotenv" {
		t.Errorf("expected key from .env, got %q", cfg.Market.SecondaryAPIKey)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Render.Theme = "sepia"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid theme")
	}

	cfg = DefaultConfig()
	cfg.Market.CacheBackend = "redis"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid backend")
	}

	cfg = DefaultConfig()
	cfg.Market.HistoryLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero history limit")
	}
}

func TestConfig_Set(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Set("theme", "Dark"); err != nil {
		t.Fatalf("Set theme: %v", err)
	}
	if cfg.Render.Theme != ThemeDark {
		t.Errorf("expected dark, got %s", cfg.Render.Theme)
	}
	if err := cfg.Set("math", "on"); err != nil {
		t.Fatalf("Set math: %v", err)
	}
	if !cfg.Render.MathTypesetting {
		t.Error("expected math typesetting enabled")
	}
	if err := cfg.Set("math", "maybe"); err == nil {
		t.Error("expected error for non-boolean")
	}
	if err := cfg.Set("nope", "x"); err == nil {
		t.Error("expected error for unknown setting")
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GetMountDelay() != 100*time.Millisecond {
		t.Errorf("unexpected mount delay %v", cfg.GetMountDelay())
	}
	if cfg.GetStaleness() != 24*time.Hour {
		t.Errorf("unexpected staleness %v", cfg.GetStaleness())
	}

	cfg.Render.SlowNotice = "garbage"
	if cfg.GetSlowNotice() != 2*time.Second {
		t.Error("GetSlowNotice should fall back on parse errors")
	}
}

func TestLoggingConfig_Categories(t *testing.T) {
	lc := LoggingConfig{Categories: map[string]bool{"market": false}}
	if lc.IsCategoryEnabled("render") {
		t.Error("categories must be off without debug mode")
	}

	lc.DebugMode = true
	if !lc.IsCategoryEnabled("render") {
		t.Error("unlisted category should default to enabled")
	}
	if lc.IsCategoryEnabled("market") {
		t.Error("market was disabled explicitly")
	}

	size, backups := lc.Rotation()
	if size != 10 || backups != 3 {
		t.Errorf("unexpected rotation defaults %d/%d", size, backups)
	}
	lc.MaxSizeMB, lc.MaxBackups = 50, 1
	if size, backups = lc.Rotation(); size != 50 || backups != 1 {
		t.Errorf("unexpected rotation %d/%d", size, backups)
	}
}
