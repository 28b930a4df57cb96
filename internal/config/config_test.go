package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[domain]
root = "Example.COM"
local_suffix = "test"

[registry]
base_url = "https://registry.example.com"
entry_path = "/v1/agents"
backend_path = "/v1/devices"
timeout_seconds = 3

[forward]
credential_header = "x-agent-address"
method_policy = "POST"
timeout_seconds = 60

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Domain.Root != "example.com" {
		t.Errorf("Domain.Root = %q, want %q", cfg.Domain.Root, "example.com")
	}
	if cfg.Domain.LocalSuffix != "test" {
		t.Errorf("Domain.LocalSuffix = %q, want %q", cfg.Domain.LocalSuffix, "test")
	}
	if cfg.Registry.EntryPath != "/v1/agents" {
		t.Errorf("Registry.EntryPath = %q, want %q", cfg.Registry.EntryPath, "/v1/agents")
	}
	if cfg.Registry.TimeoutSeconds != 3 {
		t.Errorf("Registry.TimeoutSeconds = %d, want %d", cfg.Registry.TimeoutSeconds, 3)
	}
	if cfg.Forward.CredentialHeader != "x-agent-address" {
		t.Errorf("Forward.CredentialHeader = %q, want %q", cfg.Forward.CredentialHeader, "x-agent-address")
	}
	if cfg.Forward.MethodPolicy != MethodPolicyPost {
		t.Errorf("Forward.MethodPolicy = %q, want %q", cfg.Forward.MethodPolicy, MethodPolicyPost)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
	if cfg.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", cfg.FilePath(), path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Domain.Root != "frankyagent.xyz" {
		t.Errorf("default Domain.Root = %q, want %q", cfg.Domain.Root, "frankyagent.xyz")
	}
	if cfg.Domain.LocalSuffix != "localhost" {
		t.Errorf("default Domain.LocalSuffix = %q, want %q", cfg.Domain.LocalSuffix, "localhost")
	}
	if cfg.Registry.Kind != RegistryHTTP {
		t.Errorf("default Registry.Kind = %q, want %q", cfg.Registry.Kind, RegistryHTTP)
	}
	if cfg.Registry.BaseURL != "https://franky-hedera.vercel.app" {
		t.Errorf("default Registry.BaseURL = %q", cfg.Registry.BaseURL)
	}
	if cfg.Registry.EntryPath != "/api/db/agents" || cfg.Registry.BackendPath != "/api/db/devices" {
		t.Errorf("default registry paths = %q, %q", cfg.Registry.EntryPath, cfg.Registry.BackendPath)
	}
	if cfg.Forward.CredentialHeader != "agent-address" {
		t.Errorf("default Forward.CredentialHeader = %q, want %q", cfg.Forward.CredentialHeader, "agent-address")
	}
	if cfg.Forward.MethodPolicy != MethodPolicyAny {
		t.Errorf("default Forward.MethodPolicy = %q, want %q", cfg.Forward.MethodPolicy, MethodPolicyAny)
	}
	if cfg.Forward.TimeoutSeconds != 120 {
		t.Errorf("default Forward.TimeoutSeconds = %d, want %d", cfg.Forward.TimeoutSeconds, 120)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("default Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[domain]
root = "frankyagent.xyz"

[forward]
credential_header = "agent-address"

[log]
level = "info"
`)

	cli := &CLI{
		Config:           path,
		Host:             "127.0.0.1",
		Port:             3000,
		RootDomain:       "example.org",
		RegistryURL:      "http://127.0.0.1:4000",
		CredentialHeader: "x-agent-address",
		LogLevel:         "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Domain.Root != "example.org" {
		t.Errorf("Domain.Root = %q, want %q (CLI override)", cfg.Domain.Root, "example.org")
	}
	if cfg.Registry.BaseURL != "http://127.0.0.1:4000" {
		t.Errorf("Registry.BaseURL = %q, want %q (CLI override)", cfg.Registry.BaseURL, "http://127.0.0.1:4000")
	}
	if cfg.Forward.CredentialHeader != "x-agent-address" {
		t.Errorf("Forward.CredentialHeader = %q, want %q (CLI override)", cfg.Forward.CredentialHeader, "x-agent-address")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"negative port", "[server]\nport = -1\n"},
		{"port too large", "[server]\nport = 70000\n"},
		{"negative body_max_bytes", "[server]\nbody_max_bytes = -1\n"},
		{"root domain with port", "[domain]\nroot = \"example.com:443\"\n"},
		{"root domain with scheme", "[domain]\nroot = \"https://example.com\"\n"},
		{"unknown registry kind", "[registry]\nkind = \"etcd\"\n"},
		{"registry url without scheme", "[registry]\nbase_url = \"registry.example.com\"\n"},
		{"registry path without slash", "[registry]\nentry_path = \"api/db/agents\"\n"},
		{"negative registry timeout", "[registry]\ntimeout_seconds = -5\n"},
		{"negative forward timeout", "[forward]\ntimeout_seconds = -5\n"},
		{"bad credential header", "[forward]\ncredential_header = \"agent address\"\n"},
		{"unknown method policy", "[forward]\nmethod_policy = \"put\"\n"},
		{"relative site origin", "[site]\norigin = \"/static\"\n"},
		{"invalid log level", "[log]\nlevel = \"verbose\"\n"},
		{"invalid log format", "[log]\nformat = \"xml\"\n"},
		{"rate limit without rps", "[server.rate_limit]\nenabled = true\n"},
		{"consul absolute prefix", "[registry]\nkind = \"consul\"\n[registry.consul]\nprefix = \"/agents\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.data)
			if _, err := Load(cliWithPath(path)); err == nil {
				t.Fatal("Load() expected error, got nil")
			}
		})
	}
}

func TestLoad_ConsulRegistry(t *testing.T) {
	path := writeConfig(t, `
[registry]
kind = "consul"

[registry.consul]
address = "127.0.0.1:8500"
token = "secret"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Registry.Consul.Prefix != "agent-router" {
		t.Errorf("default Consul.Prefix = %q, want %q", cfg.Registry.Consul.Prefix, "agent-router")
	}
	if cfg.Registry.BaseURL != "" {
		t.Errorf("Registry.BaseURL = %q, want empty for consul registry", cfg.Registry.BaseURL)
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("expected RateLimit.Enabled = true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_MetricsPath(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid custom path", "[metrics]\nenabled = true\npath = \"/internal/metrics\"\n", false},
		{"no leading slash", "[metrics]\nenabled = true\npath = \"metrics\"\n", true},
		{"conflicts with healthz", "[metrics]\nenabled = true\npath = \"/healthz\"\n", true},
		{"conflicts with status", "[metrics]\nenabled = true\npath = \"/router/status/x\"\n", true},
		{"disabled skips validation", "[metrics]\nenabled = false\npath = \"bad-no-slash\"\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.data)
			_, err := Load(cliWithPath(path))
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions are not enforced on Windows")
	}
	path := writeConfig(t, "")
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var buf bytes.Buffer
	cfg.WarnPermissions(slog.New(slog.NewTextHandler(&buf, nil)))

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions are not enforced on Windows")
	}
	path := writeConfig(t, "")
	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var buf bytes.Buffer
	cfg.WarnPermissions(slog.New(slog.NewTextHandler(&buf, nil)))

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got %q", buf.String())
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.toml")
	second := filepath.Join(dir, "second.toml")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if got := findConfigInPaths([]string{first, second}); got != first {
		t.Errorf("findConfigInPaths() = %q, want %q", got, first)
	}
	if got := findConfigInPaths([]string{filepath.Join(dir, "missing.toml"), second}); got != second {
		t.Errorf("findConfigInPaths() = %q, want %q", got, second)
	}
	if got := findConfigInPaths([]string{filepath.Join(dir, "missing.toml")}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
