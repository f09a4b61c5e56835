// Package config loads serial-tool settings and named port profiles
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"serial-tool/pkg/codec"
	"serial-tool/pkg/history"
	"serial-tool/pkg/serial"
)

const (
	// FileName is the configuration file name without extension
	FileName = "serial-tool"
	// FileType is the configuration file format
	FileType = "yaml"
	// EnvPrefix prefixes environment overrides, e.g. SERIAL_TOOL_DEFAULTS_BAUD_RATE
	EnvPrefix = "SERIAL_TOOL"
)

// ErrProfileNotFound is returned when a named profile does not exist
var ErrProfileNotFound = errors.New("profile not found")

// profile names become viper keys, which are case-insensitive and dot separated
var profileNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Config represents the application configuration
type Config struct {
	Session  SessionConfig      `mapstructure:"session"`
	History  HistoryConfig      `mapstructure:"history"`
	Logging  LoggingConfig      `mapstructure:"logging"`
	Defaults PortSettings       `mapstructure:"defaults"`
	Profiles map[string]Profile `mapstructure:"profiles"`

	path string
}

// SessionConfig controls how a session records and presents traffic
type SessionConfig struct {
	LogDir        string        `mapstructure:"log_dir"`
	Mode          string        `mapstructure:"mode"`
	LineFeed      bool          `mapstructure:"line_feed"`
	USBOnly       bool          `mapstructure:"usb_only"`
	WatchInterval time.Duration `mapstructure:"watch_interval"`
	CloseGrace    time.Duration `mapstructure:"close_grace"`
}

// HistoryConfig controls the sent-command history
type HistoryConfig struct {
	Capacity       int    `mapstructure:"capacity"`
	SkipDuplicates bool   `mapstructure:"skip_duplicates"`
	File           string `mapstructure:"file"`
}

// LoggingConfig represents diagnostic logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// PortSettings is the file representation of serial.PortConfig
type PortSettings struct {
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	FlowControl string        `mapstructure:"flow_control"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// Profile is a saved port and its settings
type Profile struct {
	Port         string `mapstructure:"port"`
	Description  string `mapstructure:"description"`
	PortSettings `mapstructure:",squash"`
}

// PortConfig converts the settings and validates the result
func (s PortSettings) PortConfig() (serial.PortConfig, error) {
	parity, err := serial.ParseParity(s.Parity)
	if err != nil {
		return serial.PortConfig{}, err
	}
	flow, err := serial.ParseFlowControl(s.FlowControl)
	if err != nil {
		return serial.PortConfig{}, err
	}

	cfg := serial.PortConfig{
		BaudRate:    s.BaudRate,
		DataBits:    s.DataBits,
		StopBits:    s.StopBits,
		Parity:      parity,
		FlowControl: flow,
		ReadTimeout: s.ReadTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return serial.PortConfig{}, err
	}
	return cfg, nil
}

// FromPortConfig converts a serial.PortConfig into its file representation
func FromPortConfig(cfg serial.PortConfig) PortSettings {
	return PortSettings{
		BaudRate:    cfg.BaudRate,
		DataBits:    cfg.DataBits,
		StopBits:    cfg.StopBits,
		Parity:      cfg.Parity.String(),
		FlowControl: cfg.FlowControl.String(),
		ReadTimeout: cfg.ReadTimeout,
	}
}

// Validate checks the profile
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("profile port cannot be empty")
	}
	if _, err := p.PortConfig(); err != nil {
		return fmt.Errorf("invalid port settings: %w", err)
	}
	return nil
}

// DefaultPath returns the per-user configuration file location
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return FileName + "." + FileType
	}
	return filepath.Join(dir, FileName, FileName+"."+FileType)
}

// Load reads configuration from path, or from the standard locations when
// path is empty, then applies SERIAL_TOOL_* environment overrides. A missing
// file is not an error: the defaults are used and Save creates the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType(FileType)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(DefaultPath()))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.path = v.ConfigFileUsed()
	if cfg.path == "" {
		cfg.path = path
	}
	if cfg.path == "" {
		cfg.path = DefaultPath()
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	cfg.Profiles = make(map[string]Profile)
	cfg.path = DefaultPath()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	def := serial.DefaultConfig()

	v.SetDefault("session.log_dir", "logs")
	v.SetDefault("session.mode", codec.ModeUTF8.String())
	v.SetDefault("session.line_feed", false)
	v.SetDefault("session.usb_only", false)
	v.SetDefault("session.watch_interval", serial.DefaultWatchInterval.String())
	v.SetDefault("session.close_grace", serial.DefaultCloseGrace.String())

	v.SetDefault("history.capacity", history.DefaultCapacity)
	v.SetDefault("history.skip_duplicates", true)
	v.SetDefault("history.file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", false)

	v.SetDefault("defaults.baud_rate", def.BaudRate)
	v.SetDefault("defaults.data_bits", def.DataBits)
	v.SetDefault("defaults.stop_bits", def.StopBits)
	v.SetDefault("defaults.parity", def.Parity.String())
	v.SetDefault("defaults.flow_control", def.FlowControl.String())
	v.SetDefault("defaults.read_timeout", def.ReadTimeout.String())
}

func validate(cfg *Config) error {
	if _, err := codec.ParseMode(cfg.Session.Mode); err != nil {
		return fmt.Errorf("session.mode: %w", err)
	}
	if cfg.Session.WatchInterval <= 0 {
		return fmt.Errorf("session.watch_interval must be positive")
	}
	if cfg.Session.CloseGrace < 0 {
		return fmt.Errorf("session.close_grace cannot be negative")
	}
	if cfg.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be positive")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}
	validFormats := []string{"json", "console"}
	if !contains(validFormats, cfg.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: %v", validFormats)
	}

	if _, err := cfg.Defaults.PortConfig(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for name, p := range cfg.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profiles.%s: %w", name, err)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// Path returns the file Save writes to
func (c *Config) Path() string {
	return c.path
}

// SetPath changes the file Save writes to
func (c *Config) SetPath(path string) {
	c.path = path
}

// Mode returns the configured default encoding mode
func (c *Config) Mode() codec.Mode {
	mode, _ := codec.ParseMode(c.Session.Mode)
	return mode
}

// ValidateProfileName checks that name can be used as a profile key
func ValidateProfileName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if !profileNamePattern.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: use lowercase letters, digits, '-' and '_'", name)
	}
	return nil
}

// Profile returns the named profile
func (c *Config) Profile(name string) (Profile, error) {
	p, ok := c.Profiles[strings.ToLower(name)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return p, nil
}

// ProfileNames returns the saved profile names in sorted order
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SearchProfiles returns the names of profiles whose name, port or
// description contains query, ignoring case
func (c *Config) SearchProfiles(query string) []string {
	query = strings.ToLower(query)

	var names []string
	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		if strings.Contains(name, query) ||
			strings.Contains(strings.ToLower(p.Port), query) ||
			strings.Contains(strings.ToLower(p.Description), query) {
			names = append(names, name)
		}
	}
	return names
}

// SetProfile adds or replaces a profile in memory
func (c *Config) SetProfile(name string, p Profile) error {
	if err := ValidateProfileName(name); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile %s: %w", name, err)
	}
	if c.Profiles == nil {
		c.Profiles = make(map[string]Profile)
	}
	c.Profiles[name] = p
	return nil
}

// DeleteProfile removes a profile from memory
func (c *Config) DeleteProfile(name string) error {
	name = strings.ToLower(name)
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	delete(c.Profiles, name)
	return nil
}

// Save writes the whole configuration to Path, creating its directory
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("no configuration path set")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType(FileType)
	v.Set("session", map[string]any{
		"log_dir":        c.Session.LogDir,
		"mode":           c.Session.Mode,
		"line_feed":      c.Session.LineFeed,
		"usb_only":       c.Session.USBOnly,
		"watch_interval": c.Session.WatchInterval.String(),
		"close_grace":    c.Session.CloseGrace.String(),
	})
	v.Set("history", map[string]any{
		"capacity":        c.History.Capacity,
		"skip_duplicates": c.History.SkipDuplicates,
		"file":            c.History.File,
	})
	v.Set("logging", map[string]any{
		"level":       c.Logging.Level,
		"format":      c.Logging.Format,
		"output":      c.Logging.Output,
		"max_size":    c.Logging.MaxSize,
		"max_backups": c.Logging.MaxBackups,
		"max_age":     c.Logging.MaxAge,
		"compress":    c.Logging.Compress,
	})
	v.Set("defaults", settingsMap(c.Defaults))

	profiles := make(map[string]any, len(c.Profiles))
	for name, p := range c.Profiles {
		m := settingsMap(p.PortSettings)
		m["port"] = p.Port
		if p.Description != "" {
			m["description"] = p.Description
		}
		profiles[name] = m
	}
	v.Set("profiles", profiles)

	if err := v.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func settingsMap(s PortSettings) map[string]any {
	return map[string]any{
		"baud_rate":    s.BaudRate,
		"data_bits":    s.DataBits,
		"stop_bits":    s.StopBits,
		"parity":       s.Parity,
		"flow_control": s.FlowControl,
		"read_timeout": s.ReadTimeout.String(),
	}
}
