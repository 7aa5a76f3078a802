package wizard

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/wg-relay/internal/config"
)

func TestNew(t *testing.T) {
	w := New(os.Stdout)
	if w == nil {
		t.Fatal("New() returned nil")
	}
	if w.theme == nil {
		t.Error("New() returned wizard without a theme")
	}
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(string) error
		input   string
		wantErr bool
	}{
		{"config path yaml", ValidateConfigPath, "./wg-relay.yaml", false},
		{"config path yml", ValidateConfigPath, "/etc/wg-relay.yml", false},
		{"config path empty", ValidateConfigPath, "", true},
		{"config path wrong extension", ValidateConfigPath, "./wg-relay.json", true},
		{"host port", ValidateHostPort, "vpn.example.com:51820", false},
		{"host port ipv6", ValidateHostPort, "[::]:5678", false},
		{"host port empty host", ValidateHostPort, ":9090", false},
		{"host port missing port", ValidateHostPort, "vpn.example.com", true},
		{"host port empty", ValidateHostPort, "", true},
		{"workers one", ValidateWorkers, "1", false},
		{"workers many", ValidateWorkers, "16", false},
		{"workers zero", ValidateWorkers, "0", true},
		{"workers negative", ValidateWorkers, "-2", true},
		{"workers text", ValidateWorkers, "two", true},
		{"duration seconds", ValidateDuration, "180s", false},
		{"duration minutes", ValidateDuration, "3m", false},
		{"duration zero", ValidateDuration, "0s", true},
		{"duration garbage", ValidateDuration, "soon", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestDefaultAnswers(t *testing.T) {
	a := DefaultAnswers()

	if a.Bind != "0.0.0.0:5678" {
		t.Errorf("Bind = %s, want 0.0.0.0:5678", a.Bind)
	}
	if a.Workers != "1" {
		t.Errorf("Workers = %s, want 1", a.Workers)
	}
	if a.SessionTTL != "3m0s" {
		t.Errorf("SessionTTL = %s, want 3m0s", a.SessionTTL)
	}
	if a.Target != "" {
		t.Errorf("Target = %s, want empty", a.Target)
	}

	// Every default must pass its own form validator
	for _, err := range []error{
		ValidateConfigPath(a.ConfigPath),
		ValidateHostPort(a.Bind),
		ValidateWorkers(a.Workers),
		ValidateDuration(a.SessionTTL),
		ValidateHostPort(a.HealthAddress),
	} {
		if err != nil {
			t.Errorf("default answer rejected: %v", err)
		}
	}
}

func TestBuildConfig(t *testing.T) {
	a := DefaultAnswers()
	a.Target = "vpn.example.com:51820"
	a.Workers = "4"
	a.SessionTTL = "5m"
	a.LogLevel = "debug"
	a.HealthEnabled = true
	a.HealthAddress = "127.0.0.1:9191"

	cfg, err := BuildConfig(a)
	if err != nil {
		t.Fatalf("BuildConfig() error = %v", err)
	}

	if cfg.Relay.Target != "vpn.example.com:51820" {
		t.Errorf("Relay.Target = %s", cfg.Relay.Target)
	}
	if cfg.Relay.Workers != 4 {
		t.Errorf("Relay.Workers = %d, want 4", cfg.Relay.Workers)
	}
	if cfg.Session.ValidTime != 5*time.Minute {
		t.Errorf("Session.ValidTime = %v, want 5m", cfg.Session.ValidTime)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
	if !cfg.Health.Enabled || cfg.Health.Address != "127.0.0.1:9191" {
		t.Errorf("Health = %+v", cfg.Health)
	}
	// Defaults the wizard never asks about are kept
	if cfg.Relay.BufferSize != 2048 {
		t.Errorf("Relay.BufferSize = %d, want 2048", cfg.Relay.BufferSize)
	}
}

func TestBuildConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Answers)
	}{
		{"bad workers", func(a *Answers) { a.Workers = "x" }},
		{"zero workers", func(a *Answers) { a.Workers = "0" }},
		{"bad ttl", func(a *Answers) { a.SessionTTL = "forever" }},
		{"bad log level", func(a *Answers) { a.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DefaultAnswers()
			a.Target = "10.0.0.1:51820"
			tt.modify(&a)
			if _, err := BuildConfig(a); err == nil {
				t.Error("BuildConfig() should fail")
			}
		})
	}
}

func TestWriteConfig_RoundTrip(t *testing.T) {
	a := DefaultAnswers()
	a.Target = "10.0.0.1:51820"
	a.Workers = "2"
	a.SessionTTL = "90s"

	cfg, err := BuildConfig(a)
	if err != nil {
		t.Fatalf("BuildConfig() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "nested", "wg-relay.yaml")
	if err := WriteConfig(cfg, path); err != nil {
		t.Fatalf("WriteConfig() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# wg-relay configuration") {
		t.Error("config file should start with the header comment")
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Relay.Target != cfg.Relay.Target || loaded.Relay.Workers != 2 {
		t.Errorf("loaded relay = %+v, want %+v", loaded.Relay, cfg.Relay)
	}
	if loaded.Session.ValidTime != 90*time.Second {
		t.Errorf("loaded Session.ValidTime = %v, want 90s", loaded.Session.ValidTime)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	cfg := config.Default()
	cfg.Relay.Target = "10.0.0.1:51820"
	cfg.Health.Enabled = true

	w.printSummary("./wg-relay.yaml", cfg)

	out := buf.String()
	for _, want := range []string{
		"udp://0.0.0.0:5678 -> 10.0.0.1:51820",
		"http://:9090/healthz",
		"wg-relay -c ./wg-relay.yaml",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}

func TestIsInteractive_File(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if IsInteractive(f) {
		t.Error("a regular file should not be interactive")
	}
}
