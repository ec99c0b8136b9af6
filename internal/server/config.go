package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/adacon/internal/adacom"
	"github.com/shaunagostinho/adacon/internal/control"
	"github.com/shaunagostinho/adacon/internal/logger"
	"github.com/shaunagostinho/adacon/internal/sim"
)

// DefaultDevicePath is where the udev rule links the attenuator.
const DefaultDevicePath = "/dev/ttyUSB_ADAURA"

// Config holds all controller configuration.
type Config struct {
	mu sync.RWMutex

	Device  DeviceConfig     `yaml:"device" json:"device"`
	Limits  adacom.Limits    `yaml:"limits" json:"limits"`
	Control control.Settings `yaml:"control" json:"control"`
	Demo    sim.Config       `yaml:"demo" json:"demo"`
	Logging logger.Config    `yaml:"logging" json:"logging"`
	Server  ServerConfig     `yaml:"server" json:"server"`

	path string // file path for save/load
}

type DeviceConfig struct {
	Type      string `yaml:"type" json:"type"`          // "adaura" or "demo"
	PortPath  string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB_ADAURA
	BaudRate  int    `yaml:"baud_rate" json:"baudRate"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeoutMs"` // per-command watchdog
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Type:      "adaura",
			PortPath:  DefaultDevicePath,
			BaudRate:  115200,
			TimeoutMs: int(adacom.DefaultTimeout / time.Millisecond),
		},
		Limits:  adacom.DefaultLimits(),
		Control: control.DefaultSettings(),
		Demo:    sim.DefaultConfig(),
		Logging: logger.Config{
			Level: "info",
		},
		Server: ServerConfig{
			Enabled:    false,
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found or invalid.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info().Str("component", "config").Msgf("no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Warn().Str("component", "config").Err(err).Msgf("error parsing %s, using defaults", path)
		cfg = DefaultConfig()
		cfg.path = path
	} else if err := cfg.Validate(); err != nil {
		log.Warn().Str("component", "config").Err(err).Msgf("invalid config in %s, using defaults", path)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Info().Str("component", "config").Msgf("loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Debug().Str("component", "config").Msgf("loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: DEVICE_TYPE, ADAURA_PORT, ADAURA_BAUD, ADAURA_TIMEOUT_MS,
// LOG_LEVEL, LOG_FILE, LISTEN_ADDR, SERVER_ENABLED, PIVOT_ATTENUATION
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DEVICE_TYPE"); v != "" {
		c.Device.Type = v
	}
	if v := os.Getenv("ADAURA_PORT"); v != "" {
		c.Device.PortPath = v
	}
	if v := os.Getenv("ADAURA_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Device.BaudRate = n
		}
	}
	if v := os.Getenv("ADAURA_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Device.TimeoutMs = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("SERVER_ENABLED"); v != "" {
		c.Server.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("PIVOT_ATTENUATION"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Control.Pivot = n
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Device.Type {
	case "adaura", "demo":
	default:
		return fmt.Errorf("config: unknown device type %q", c.Device.Type)
	}
	l := c.Limits
	if l.MaxChannels <= 0 {
		return fmt.Errorf("config: max_channels must be positive, got %d", l.MaxChannels)
	}
	if !(l.MinAttenuation < l.MaxAttenuation) {
		return fmt.Errorf("config: min_attenuation %v must be below max_attenuation %v", l.MinAttenuation, l.MaxAttenuation)
	}
	if l.Step < 0 || l.Step >= 1 {
		return fmt.Errorf("config: step must be in [0, 1), got %v", l.Step)
	}
	if c.Device.TimeoutMs < 0 {
		return fmt.Errorf("config: timeout_ms must not be negative, got %d", c.Device.TimeoutMs)
	}
	if err := c.Control.Validate(); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// Timeout is the per-command watchdog duration.
func (c *Config) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Device.TimeoutMs) * time.Millisecond
}

// Listen returns the web server address.
func (c *Config) Listen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server.ListenAddr
}

// ControlSettings returns a copy of the control section.
func (c *Config) ControlSettings() control.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Control
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/adacon/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved. An update that fails validation leaves the
// config untouched.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	next := DefaultConfig()
	if err := json.Unmarshal(merged, next); err != nil {
		return fmt.Errorf("unmarshal merged config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	c.Device, c.Limits, c.Control = next.Device, next.Limits, next.Control
	c.Demo, c.Logging, c.Server = next.Demo, next.Logging, next.Server
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
