package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RULES_DIR", "/etc/siamese/rules")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.RulesTenant != "local" {
		t.Errorf("RulesTenant = %q, want local", cfg.RulesTenant)
	}
	if !cfg.RulesWatch {
		t.Error("RulesWatch should default to true")
	}
	if cfg.WatchDebounce != 100*time.Millisecond {
		t.Errorf("WatchDebounce = %v, want 100ms", cfg.WatchDebounce)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/rules")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("RULES_WATCH", "false")
	t.Setenv("WATCH_DEBOUNCE", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want 9090", cfg.ServerPort)
	}
	if cfg.DatabaseURL != "postgres://localhost/rules" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RulesWatch {
		t.Error("RulesWatch should be false")
	}
	if cfg.WatchDebounce != 250*time.Millisecond {
		t.Errorf("WatchDebounce = %v, want 250ms", cfg.WatchDebounce)
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "siamese.yaml")
	content := "SERVER_PORT: 7070\nRULES_DIR: /srv/rules\nRULES_TENANT: files\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", file)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ServerPort != 7070 {
		t.Errorf("ServerPort = %d, want 7070", cfg.ServerPort)
	}
	if cfg.RulesDir != "/srv/rules" || cfg.RulesTenant != "files" {
		t.Errorf("rules settings = %q/%q", cfg.RulesDir, cfg.RulesTenant)
	}
}

func TestLoadRequiresARuleSource(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RULES_DIR", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when neither DATABASE_URL nor RULES_DIR is set")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid database", Config{ServerPort: 8080, DatabaseURL: "postgres://x", ErrorSampleRate: 1}, false},
		{"valid files", Config{ServerPort: 8080, RulesDir: "rules", RulesTenant: "local", ErrorSampleRate: 1}, false},
		{"port zero", Config{ServerPort: 0, DatabaseURL: "postgres://x", ErrorSampleRate: 1}, true},
		{"port too high", Config{ServerPort: 70000, DatabaseURL: "postgres://x", ErrorSampleRate: 1}, true},
		{"empty tenant", Config{ServerPort: 8080, RulesDir: "rules", ErrorSampleRate: 1}, true},
		{"bad sample rate", Config{ServerPort: 8080, DatabaseURL: "postgres://x"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
