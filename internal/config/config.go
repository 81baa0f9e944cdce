// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/jeranaias/retouch/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete retouch configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" json:"server"`
	Ollama    OllamaConfig    `toml:"ollama" json:"ollama"`
	Transport TransportConfig `toml:"transport" json:"transport"`
	UI        UIConfig        `toml:"ui" json:"ui"`
	Log       LogConfig       `toml:"log" json:"log"`
}

// ServerConfig locates the image-edit backend.
type ServerConfig struct {
	// BaseURL is the backend root, e.g. http://127.0.0.1:5000
	BaseURL    string `toml:"base_url" json:"base_url" validate:"required,http_url"`
	UploadPath string `toml:"upload_path" json:"upload_path" validate:"required,startswith=/"`
	StreamPath string `toml:"stream_path" json:"stream_path" validate:"required,startswith=/"`
	ChatPath   string `toml:"chat_path" json:"chat_path" validate:"required,startswith=/"`
}

// OllamaConfig locates the primary generation transport.
type OllamaConfig struct {
	URL   string `toml:"url" json:"url" validate:"required,http_url"`
	Model string `toml:"model" json:"model" validate:"required"`
}

// TransportConfig selects how turns are streamed.
type TransportConfig struct {
	// UsePrimary streams from Ollama instead of the backend push stream.
	UsePrimary bool `toml:"use_primary" json:"use_primary"`
	// Fallback retries once on the push stream when Ollama cannot be opened.
	Fallback bool `toml:"fallback" json:"fallback"`
	// OpenTimeoutSecs bounds opening a stream; 0 waits indefinitely.
	OpenTimeoutSecs int `toml:"open_timeout_secs" json:"open_timeout_secs" validate:"gte=0,lte=600"`
}

// UIConfig contains front-end settings.
type UIConfig struct {
	// ShowThink prints think blocks expanded in the console.
	ShowThink bool   `toml:"show_think" json:"show_think"`
	Theme     string `toml:"theme" json:"theme" validate:"oneof=dark light auto"`
	// MaxFPS caps transcript repaints while streaming.
	MaxFPS int `toml:"max_fps" json:"max_fps" validate:"gte=1,lte=120"`
}

// LogConfig controls the zerolog logger.
type LogConfig struct {
	Level  string `toml:"level" json:"level" validate:"oneof=trace debug info warn warning error disabled off none"`
	Pretty bool   `toml:"pretty" json:"pretty"`
	// File is the log destination; empty means retouch.log in ConfigDir.
	File string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:    "http://127.0.0.1:5000",
			UploadPath: "/upload",
			StreamPath: "/stream",
			ChatPath:   "/chat",
		},
		Ollama: OllamaConfig{
			URL:   "http://127.0.0.1:11434",
			Model: "qwen2.5:7b",
		},
		Transport: TransportConfig{
			UsePrimary:      false,
			Fallback:        true,
			OpenTimeoutSecs: 0,
		},
		UI: UIConfig{
			ShowThink: false,
			Theme:     "dark",
			MaxFPS:    30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// OpenTimeout returns the open timeout as a duration.
func (t TransportConfig) OpenTimeout() time.Duration {
	return time.Duration(t.OpenTimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the retouch configuration directory. RETOUCH_HOME
// overrides the default of ~/.retouch.
func ConfigDir() (string, error) {
	if dir := os.Getenv("RETOUCH_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".retouch"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LogPath returns the log file path, resolving the default location.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "retouch.log"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config directory. The TOML file wins
// over the JSON file; with neither present the defaults are used.
// Environment overrides are applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys missing from the file keep
// their current value.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadFromPath loads a specific file, applies environment overrides and
// validates the result. Files ending in .json are read as JSON, anything
// else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults restores defaults for strings a file explicitly set empty.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Server.BaseURL == "" {
		cfg.Server.BaseURL = d.Server.BaseURL
	}
	if cfg.Server.UploadPath == "" {
		cfg.Server.UploadPath = d.Server.UploadPath
	}
	if cfg.Server.StreamPath == "" {
		cfg.Server.StreamPath = d.Server.StreamPath
	}
	if cfg.Server.ChatPath == "" {
		cfg.Server.ChatPath = d.Server.ChatPath
	}
	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")

	if cfg.Ollama.URL == "" {
		cfg.Ollama.URL = d.Ollama.URL
	}
	if cfg.Ollama.Model == "" {
		cfg.Ollama.Model = d.Ollama.Model
	}
	cfg.Ollama.URL = strings.TrimRight(cfg.Ollama.URL, "/")

	if cfg.UI.Theme == "" {
		cfg.UI.Theme = d.UI.Theme
	}
	if cfg.UI.MaxFPS == 0 {
		cfg.UI.MaxFPS = d.UI.MaxFPS
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// fileHeader is written at the top of saved TOML files.
const fileHeader = `# retouch configuration file
#
# Environment overrides: RETOUCH_SERVER_URL, RETOUCH_OLLAMA_URL,
# RETOUCH_MODEL, RETOUCH_USE_PRIMARY, RETOUCH_LOG_LEVEL

`

// Save writes cfg to the default TOML path.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path as TOML with mode 0600.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg to path as indented JSON with mode 0600.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid configuration key.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid key of a configuration.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator returns the shared validator, reporting fields by their
// TOML key.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the configuration. A non-nil result is ValidateErrors.
func (c *Config) Validate() error {
	err := structValidator().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("config validation error: %w", err)
	}

	out := make(ValidateErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		out = append(out, ValidationError{Field: field, Message: describeRule(fe)})
	}
	return out
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "http_url":
		return fmt.Sprintf("%q is not an http(s) URL", fe.Value())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	case "oneof":
		return fmt.Sprintf("%v is not one of: %s", fe.Value(), fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RETOUCH_SERVER_URL: overrides server.base_url
//   - RETOUCH_OLLAMA_URL: overrides ollama.url
//   - RETOUCH_MODEL: overrides ollama.model
//   - RETOUCH_USE_PRIMARY: "1"/"true" streams from Ollama, "0"/"false" from the server
//   - RETOUCH_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RETOUCH_SERVER_URL"); v != "" {
		c.Server.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("RETOUCH_OLLAMA_URL"); v != "" {
		c.Ollama.URL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("RETOUCH_MODEL"); v != "" {
		c.Ollama.Model = v
	}
	if v := os.Getenv("RETOUCH_USE_PRIMARY"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Transport.UsePrimary = on
		}
	}
	if v := os.Getenv("RETOUCH_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// =============================================================================
// KEY LOOKUP (DOT NOTATION)
// =============================================================================

// Get returns the value at a dotted TOML key such as "server.base_url".
func (c *Config) Get(key string) (any, error) {
	v := reflect.ValueOf(c).Elem()
	for _, part := range strings.Split(key, ".") {
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
		field, ok := fieldByTOMLName(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
		v = field
	}
	if v.Kind() == reflect.Struct {
		return nil, fmt.Errorf("%s is a section, not a key", key)
	}
	return v.Interface(), nil
}

// Keys lists every dotted key, in declaration order.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, prefix+name+".")
				continue
			}
			keys = append(keys, prefix+name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

func fieldByTOMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Clone returns a copy of the config. Config holds no reference types, so
// a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns the config as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it on first
// access. A load failure leaves the defaults in place.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the global config state.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
