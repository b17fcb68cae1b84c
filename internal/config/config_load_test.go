package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Helper function to reset pflag.CommandLine for testing
func resetFlags() {
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	viper.Reset()
}

// Helper function to set os.Args for testing
func setArgs(args []string) {
	os.Args = args
}

// Helper function to clear environment variables
func clearEnvVars() {
	for _, name := range flagNames {
		os.Unsetenv(envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
	}
}

// loadArgs runs LoadFromFlags with the given arguments after the program
// name. Directories default to a temporary location.
func loadArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	originalArgs := os.Args
	t.Cleanup(func() {
		os.Args = originalArgs
		resetFlags()
		clearEnvVars()
	})

	dir := t.TempDir()
	base := []string{
		"plngx-dissect",
		"--patterns-dir=" + filepath.Join(dir, "patterns"),
		"--state-dir=" + filepath.Join(dir, "state"),
		"--env-file=" + filepath.Join(dir, "missing.env"),
	}
	setArgs(append(base, args...))
	resetFlags()
	return LoadFromFlags()
}

func TestLoadFromFlags_DefaultConfig(t *testing.T) {
	clearEnvVars()
	cfg, err := loadArgs(t)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != "stdio" {
		t.Errorf("LoadFromFlags() Mode = %v, want %v", cfg.Mode, "stdio")
	}
	if cfg.PaperlessURL != DefaultPaperlessURL {
		t.Errorf("LoadFromFlags() PaperlessURL = %v, want %v", cfg.PaperlessURL, DefaultPaperlessURL)
	}
	if cfg.Schedule != DefaultSchedule {
		t.Errorf("LoadFromFlags() Schedule = %v, want %v", cfg.Schedule, DefaultSchedule)
	}
	if len(cfg.RequiredTags) != 0 {
		t.Errorf("LoadFromFlags() RequiredTags = %v, want none", cfg.RequiredTags)
	}
	if !filepath.IsAbs(cfg.PatternsDir) || !filepath.IsAbs(cfg.StateDir) {
		t.Errorf("LoadFromFlags() directories should be absolute: %s, %s", cfg.PatternsDir, cfg.StateDir)
	}
}

func TestLoadFromFlags_ValidFlags(t *testing.T) {
	clearEnvVars()
	cfg, err := loadArgs(t,
		"--mode=process",
		"--paperless-url=https://docs.example.org/",
		"--paperless-token=abc",
		"--paperless-force-ssl",
		"--required-tags=inbox,needs review",
		"--add-tags=processed",
		"--remove-tags=inbox",
		"--dry-run",
		"--stale-lease=90m",
		"--log-level=debug",
	)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != ModeProcess {
		t.Errorf("Mode = %v, want process", cfg.Mode)
	}
	if cfg.PaperlessURL != "https://docs.example.org" {
		t.Errorf("PaperlessURL = %v, want trailing slash trimmed", cfg.PaperlessURL)
	}
	if cfg.PaperlessToken != "abc" || !cfg.PaperlessForceSSL {
		t.Errorf("token/force-ssl not applied: %q %v", cfg.PaperlessToken, cfg.PaperlessForceSSL)
	}
	if !slices.Equal(cfg.RequiredTags, []string{"inbox", "needs review"}) {
		t.Errorf("RequiredTags = %q", cfg.RequiredTags)
	}
	if !slices.Equal(cfg.AddTags, []string{"processed"}) || !slices.Equal(cfg.RemoveTags, []string{"inbox"}) {
		t.Errorf("AddTags/RemoveTags = %q / %q", cfg.AddTags, cfg.RemoveTags)
	}
	if !cfg.DryRun {
		t.Error("DryRun not applied")
	}
	if cfg.StaleLease != 90*time.Minute {
		t.Errorf("StaleLease = %v, want 90m", cfg.StaleLease)
	}
	if !cfg.IsDebug() {
		t.Error("log level not applied")
	}
}

func TestLoadFromFlags_EnvironmentVariables(t *testing.T) {
	clearEnvVars()
	t.Setenv("PLNGX_DISSECT_MODE", "server")
	t.Setenv("PLNGX_DISSECT_PORT", "3000")
	t.Setenv("PLNGX_DISSECT_PAPERLESS_URL", "http://paperless:8000")
	t.Setenv("PLNGX_DISSECT_EXCLUDED_TAGS", "archived , tax 2023,")
	t.Setenv("PLNGX_DISSECT_DRY_RUN", "true")
	t.Setenv("PLNGX_DISSECT_LOG_LEVEL", "warn")

	cfg, err := loadArgs(t)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != "server" {
		t.Errorf("LoadFromFlags() Mode = %v, want %v", cfg.Mode, "server")
	}
	if cfg.Port != 3000 {
		t.Errorf("LoadFromFlags() Port = %v, want %v", cfg.Port, 3000)
	}
	if cfg.PaperlessURL != "http://paperless:8000" {
		t.Errorf("LoadFromFlags() PaperlessURL = %v", cfg.PaperlessURL)
	}
	if !slices.Equal(cfg.ExcludedTags, []string{"archived", "tax 2023"}) {
		t.Errorf("LoadFromFlags() ExcludedTags = %q", cfg.ExcludedTags)
	}
	if !cfg.DryRun {
		t.Error("LoadFromFlags() DryRun not read from environment")
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LoadFromFlags() LogLevel = %v, want %v", cfg.LogLevel, "warn")
	}
}

func TestLoadFromFlags_EnvFile(t *testing.T) {
	clearEnvVars()
	envFile := filepath.Join(t.TempDir(), "dissect.env")
	content := "PLNGX_DISSECT_PAPERLESS_TOKEN=from-file\nPLNGX_DISSECT_ADD_TAGS=done\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadArgs(t, "--env-file="+envFile)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}
	if cfg.PaperlessToken != "from-file" {
		t.Errorf("PaperlessToken = %q, want value from env file", cfg.PaperlessToken)
	}
	if !slices.Equal(cfg.AddTags, []string{"done"}) {
		t.Errorf("AddTags = %q, want [done]", cfg.AddTags)
	}
}

func TestLoadFromFlags_FlagOverridesEnvironment(t *testing.T) {
	clearEnvVars()
	t.Setenv("PLNGX_DISSECT_MODE", "server")
	t.Setenv("PLNGX_DISSECT_HOST", "192.168.1.1")
	t.Setenv("PLNGX_DISSECT_PORT", "3000")

	cfg, err := loadArgs(t, "--mode=stdio", "--host=localhost", "--port=8888")
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}

	if cfg.Mode != "stdio" {
		t.Errorf("LoadFromFlags() Mode = %v, want %v (should override env)", cfg.Mode, "stdio")
	}
	if cfg.Host != "localhost" {
		t.Errorf("LoadFromFlags() Host = %v, want %v (should override env)", cfg.Host, "localhost")
	}
	if cfg.Port != 8888 {
		t.Errorf("LoadFromFlags() Port = %v, want %v (should override env)", cfg.Port, 8888)
	}
}

func TestLoadFromFlags_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"invalid mode", []string{"--mode=invalid"}, "mode must be one of"},
		{"invalid port", []string{"--mode=server", "--port=70000"}, "port must be between"},
		{"invalid log level", []string{"--log-level=invalid"}, "invalid log level"},
		{"invalid schedule", []string{"--mode=schedule", "--schedule=soon"}, "invalid schedule"},
		{"conflicting tags", []string{"--add-tags=a,b", "--remove-tags=b"}, "both added and removed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars()
			_, err := loadArgs(t, tt.args...)
			if err == nil {
				t.Fatal("LoadFromFlags() expected error")
			}
			if !strings.Contains(err.Error(), "invalid configuration") || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadFromFlags() error = %v, want error about %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFlags_VersionFlag(t *testing.T) {
	clearEnvVars()
	_, err := loadArgs(t, "--version")
	if err == nil {
		t.Fatal("LoadFromFlags() expected version error")
	}
	if err.Error() != "version requested" {
		t.Errorf("LoadFromFlags() error = %v, want 'version requested'", err)
	}
}
