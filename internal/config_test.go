package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/rollcall/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestDatasetConfig_EmptyPolicyDefaultsAllow(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Dataset.DuplicateIDs = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty policy should default: %v", err)
	}
	if cfg.Dataset.DuplicateIDs != "allow" {
		t.Errorf("policy = %q, want allow", cfg.Dataset.DuplicateIDs)
	}
}

func TestConfig_InvalidSections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"duplicate policy", func(c *Config) { c.Dataset.DuplicateIDs = "merge" }, "dataset"},
		{"missing log", func(c *Config) { c.Attendance.Log = "" }, "attendance"},
		{"display", func(c *Config) { c.Camera.Display = "tv" }, "camera"},
		{"negative failures", func(c *Config) { c.Camera.MaxReadFailures = -1 }, "camera"},
		{"engine kind", func(c *Config) { c.Engine.Kind = "magic" }, "engine"},
		{"remote without url", func(c *Config) {
			c.Engine.Kind = EngineRemote
			c.Engine.URL = ""
		}, "engine"},
		{"scale above one", func(c *Config) { c.Recognition.Scale = 2 }, "recognition"},
		{"zero prefix", func(c *Config) { c.Recognition.UnknownPrefix = 0 }, "recognition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.HasPrefix(err.Error(), tt.want) {
				t.Errorf("error %q does not name section %q", err, tt.want)
			}
		})
	}
}

func TestEngineConfig_RemoteNeedsNoModels(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Engine.Kind = EngineRemote
	cfg.Engine.ModelsDir = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("remote engine without models dir should pass: %v", err)
	}
}

func TestResolvePath(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Dataset.Root = "/srv/rollcall"

	if got := cfg.ResolvePath("Dataset2.csv"); got != filepath.Join("/srv/rollcall", "Dataset2.csv") {
		t.Errorf("relative = %q", got)
	}
	if got := cfg.ResolvePath("/var/log/attendance.csv"); got != "/var/log/attendance.csv" {
		t.Errorf("absolute = %q", got)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("ROLLCALL_TEST_TOKEN", "s3cret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  http:
    port: 9090
auth:
  mode: token
  token: ${ROLLCALL_TEST_TOKEN}
dataset:
  root: /data
  duplicate_ids: reject
camera:
  device: rtsp://cam.local/stream
  read_timeout: 500ms
  display: snapshot
engine:
  kind: remote
  url: http://faces:8000
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.Auth.Token != "s3cret" {
		t.Errorf("app/auth = %+v %+v", cfg.App, cfg.Auth)
	}
	if cfg.Camera.ReadTimeout != 500*time.Millisecond || cfg.Camera.Display != DisplaySnapshot {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	// Untouched keys keep their defaults.
	if cfg.Dataset.Registry != "Dataset2.csv" || cfg.Recognition.Scale != 0.25 {
		t.Errorf("defaults lost: %+v %+v", cfg.Dataset, cfg.Recognition)
	}
}
