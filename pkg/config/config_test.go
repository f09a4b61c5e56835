package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-tool/pkg/codec"
	"serial-tool/pkg/history"
	"serial-tool/pkg/serial"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "serial-tool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, "logs", cfg.Session.LogDir)
	assert.Equal(t, codec.ModeUTF8, cfg.Mode())
	assert.Equal(t, serial.DefaultWatchInterval, cfg.Session.WatchInterval)
	assert.Equal(t, serial.DefaultCloseGrace, cfg.Session.CloseGrace)
	assert.Equal(t, history.DefaultCapacity, cfg.History.Capacity)
	assert.True(t, cfg.History.SkipDuplicates)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Profiles)

	port, err := cfg.Defaults.PortConfig()
	require.NoError(t, err)
	assert.Equal(t, serial.DefaultConfig(), port)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
session:
  mode: hex
  line_feed: true
  watch_interval: 1s
history:
  capacity: 20
logging:
  level: debug
  format: json
defaults:
  baud_rate: 9600
  parity: even
profiles:
  bench:
    port: /dev/ttyUSB0
    description: bench supply
    baud_rate: 57600
    data_bits: 7
    stop_bits: 2
    parity: odd
    flow_control: hardware
    read_timeout: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, codec.ModeHex, cfg.Mode())
	assert.True(t, cfg.Session.LineFeed)
	assert.Equal(t, time.Second, cfg.Session.WatchInterval)
	assert.Equal(t, 20, cfg.History.Capacity)
	assert.Equal(t, "json", cfg.Logging.Format)

	// unset keys keep their defaults
	assert.Equal(t, 8, cfg.Defaults.DataBits)
	assert.Equal(t, "even", cfg.Defaults.Parity)

	p, err := cfg.Profile("bench")
	require.NoError(t, err)
	want := Profile{
		Port:        "/dev/ttyUSB0",
		Description: "bench supply",
		PortSettings: PortSettings{
			BaudRate:    57600,
			DataBits:    7,
			StopBits:    2,
			Parity:      "odd",
			FlowControl: "hardware",
			ReadTimeout: 250 * time.Millisecond,
		},
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("Profile() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SERIAL_TOOL_DEFAULTS_BAUD_RATE", "19200")
	t.Setenv("SERIAL_TOOL_SESSION_MODE", "hex")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 19200, cfg.Defaults.BaudRate)
	assert.Equal(t, codec.ModeHex, cfg.Mode())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad mode", "session:\n  mode: octal\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"zero capacity", "history:\n  capacity: 0\n"},
		{"baud out of range", "defaults:\n  baud_rate: 300\n"},
		{"bad parity", "defaults:\n  parity: mark\n"},
		{"profile without port", "profiles:\n  x:\n    baud_rate: 9600\n"},
		{"malformed yaml", "session: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.content)); err == nil {
				t.Errorf("Load() error = nil, want error")
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, validate(cfg))
	assert.Equal(t, DefaultPath(), cfg.Path())
}

func TestPortSettings_PortConfig(t *testing.T) {
	cfg := serial.DefaultConfig()
	cfg.Parity = serial.ParityEven
	cfg.FlowControl = serial.FlowSoftware

	settings := FromPortConfig(cfg)
	assert.Equal(t, "even", settings.Parity)
	assert.Equal(t, "software", settings.FlowControl)

	back, err := settings.PortConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, back)

	settings.FlowControl = "dsr"
	_, err = settings.PortConfig()
	assert.Error(t, err)

	settings = FromPortConfig(cfg)
	settings.ReadTimeout = 0
	_, err = settings.PortConfig()
	assert.ErrorContains(t, err, "read timeout")
}

func TestValidateProfileName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"bench", false},
		{"usb-1_a", false},
		{"9600", false},
		{"", true},
		{"Bench", true},
		{"with.dot", true},
		{"-lead", true},
		{"sp ace", true},
	}

	for _, tt := range tests {
		err := ValidateProfileName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateProfileName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestConfig_ProfileLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "serial-tool.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)

	bench := Profile{Port: "/dev/ttyUSB0", Description: "bench", PortSettings: FromPortConfig(serial.DefaultConfig())}
	gps := Profile{Port: "COM4", Description: "GPS receiver", PortSettings: FromPortConfig(serial.DefaultConfig())}
	gps.BaudRate = 9600

	require.NoError(t, cfg.SetProfile("bench", bench))
	require.NoError(t, cfg.SetProfile("gps", gps))
	assert.Error(t, cfg.SetProfile("Bad Name", bench))
	assert.Error(t, cfg.SetProfile("noport", Profile{PortSettings: bench.PortSettings}))

	cfg.Session.Mode = "hex"
	require.NoError(t, cfg.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"bench", "gps"}, reloaded.ProfileNames())
	assert.Equal(t, codec.ModeHex, reloaded.Mode())

	got, err := reloaded.Profile("gps")
	require.NoError(t, err)
	if diff := cmp.Diff(gps, got); diff != "" {
		t.Errorf("reloaded profile mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"gps"}, reloaded.SearchProfiles("receiver"))
	assert.Equal(t, []string{"bench"}, reloaded.SearchProfiles("ttyusb"))
	assert.Empty(t, reloaded.SearchProfiles("nothing"))

	require.NoError(t, reloaded.DeleteProfile("bench"))
	require.NoError(t, reloaded.Save())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"gps"}, again.ProfileNames())
}

func TestConfig_ProfileNotFound(t *testing.T) {
	cfg := Default()

	_, err := cfg.Profile("missing")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Profile() error = %v, want ErrProfileNotFound", err)
	}

	err = cfg.DeleteProfile("missing")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("DeleteProfile() error = %v, want ErrProfileNotFound", err)
	}
}

func TestConfig_SaveWithoutPath(t *testing.T) {
	cfg := Default()
	cfg.SetPath("")
	assert.Error(t, cfg.Save())
}
