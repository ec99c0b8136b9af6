package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if cfg.Device.PortPath != DefaultDevicePath || cfg.Device.BaudRate != 115200 {
		t.Errorf("device=%+v", cfg.Device)
	}
	if cfg.Control.Pivot != 60 || cfg.Control.Step != 5 {
		t.Errorf("control=%+v", cfg.Control)
	}
	if cfg.Limits.MaxAttenuation != 95 || cfg.Limits.Step != 0.25 {
		t.Errorf("limits=%+v", cfg.Limits)
	}
}

func TestLoadConfig_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
device:
  type: demo
  port_path: /dev/ttyUSB3
  timeout_ms: 250
control:
  pivot_attenuation: 50
  step: 2.5
demo:
  channels: 8
  delay: 5ms
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("# test\nADAURA_BAUD=\"9600\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADAURA_BAUD", "")
	t.Setenv("LOG_LEVEL", "7")
	t.Setenv("SERVER_ENABLED", "yes")

	cfg := LoadConfig(path)
	if cfg.Device.Type != "demo" || cfg.Device.PortPath != "/dev/ttyUSB3" {
		t.Errorf("device=%+v", cfg.Device)
	}
	if got := cfg.Timeout().Milliseconds(); got != 250 {
		t.Errorf("Timeout()=%dms, want 250", got)
	}
	if cfg.Device.BaudRate != 9600 {
		t.Errorf("baud=%d, want 9600 from .env", cfg.Device.BaudRate)
	}
	if cfg.Logging.Level != "7" || !cfg.Server.Enabled {
		t.Errorf("env overrides not applied: logging=%+v server=%+v", cfg.Logging, cfg.Server)
	}
	if s := cfg.ControlSettings(); s.Pivot != 50 || s.Step != 2.5 {
		t.Errorf("control=%+v", s)
	}
	if cfg.Demo.Channels != 8 || cfg.Demo.Delay.Milliseconds() != 5 {
		t.Errorf("demo=%+v", cfg.Demo)
	}
	// Unset sections keep defaults.
	if cfg.Limits.MaxChannels != 16 {
		t.Errorf("limits=%+v", cfg.Limits)
	}
}

func TestLoadConfig_InvalidFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("limits:\n  min_attenuation: 90\n  max_attenuation: 10\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := LoadConfig(path)
	if cfg.Limits.MinAttenuation != 0 || cfg.Limits.MaxAttenuation != 95 {
		t.Errorf("limits=%+v, want defaults", cfg.Limits)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"device type", func(c *Config) { c.Device.Type = "modbus" }},
		{"channels", func(c *Config) { c.Limits.MaxChannels = 0 }},
		{"range", func(c *Config) { c.Limits.MinAttenuation = 95 }},
		{"step", func(c *Config) { c.Limits.Step = 1 }},
		{"timeout", func(c *Config) { c.Device.TimeoutMs = -1 }},
		{"control step", func(c *Config) { c.Control.Step = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "shouty" }},
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() succeeded")
			}
		})
	}
}

func TestUpdateFromJSON(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.UpdateFromJSON([]byte(`{"control":{"pivotAttenuation":45}}`)); err != nil {
		t.Fatalf("UpdateFromJSON() err=%v", err)
	}
	if cfg.Control.Pivot != 45 || cfg.Control.Step != 5 {
		t.Errorf("control=%+v, want pivot 45 step 5", cfg.Control)
	}
	if cfg.Device.PortPath != DefaultDevicePath {
		t.Errorf("unrelated field changed: %+v", cfg.Device)
	}

	if err := cfg.UpdateFromJSON([]byte(`{"control":{"step":-1}}`)); err == nil {
		t.Fatal("invalid update accepted")
	}
	if cfg.Control.Step != 5 {
		t.Errorf("rejected update leaked: %+v", cfg.Control)
	}
	if err := cfg.UpdateFromJSON([]byte(`{`)); err == nil {
		t.Fatal("malformed JSON accepted")
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.path = path
	cfg.Control.Pivot = 42
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() err=%v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "pivot_attenuation: 42") {
		t.Errorf("saved yaml:\n%s", data)
	}
	if got := LoadConfig(path); got.Control.Pivot != 42 {
		t.Errorf("reloaded pivot=%v", got.Control.Pivot)
	}
}

func TestListen(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Listen(); got != ":8080" {
		t.Fatalf("Listen()=%q, want :8080", got)
	}
	if err := cfg.UpdateFromJSON([]byte(`{"server":{"listenAddr":"127.0.0.1:9090"}}`)); err != nil {
		t.Fatalf("UpdateFromJSON err=%v", err)
	}
	if got := cfg.Listen(); got != "127.0.0.1:9090" {
		t.Fatalf("Listen()=%q after update", got)
	}
}
