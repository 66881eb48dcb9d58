package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed tmcl.toml
var defaultConfigData []byte

// Global state for the selected device
var (
	DeviceName string
	Selected   Device
	MQTT       MQTTConfig
	LogLevel   string
	Path       string // file the configuration was loaded from
)

// Config represents the entire TOML configuration structure
type Config struct {
	Default string     `toml:"default"`
	Device  []Device   `toml:"device"`
	MQTT    MQTTConfig `toml:"mqtt"`
	Log     LogConfig  `toml:"log"`
}

// Device represents one TMCL module and the CAN adapter it is attached to
type Device struct {
	Name          string  `toml:"name"`
	Adapter       string  `toml:"adapter"`
	Port          string  `toml:"port"`
	Bitrate       int     `toml:"bitrate"`
	DeviceID      int     `toml:"device_id"`
	ReplyID       int     `toml:"reply_id"`
	Extended      bool    `toml:"extended"`
	TimeoutSec    float64 `toml:"timeout"`
	MotionTimeSec float64 `toml:"motion_timeout"`
}

// MQTTConfig holds the settings of the MQTT command bridge
type MQTTConfig struct {
	Broker   string `toml:"broker"`
	ClientID string `toml:"client_id"`
	Topic    string `toml:"topic"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `toml:"level"`
}

// Timeout returns the reply timeout for ordinary commands
func (d Device) Timeout() time.Duration {
	return time.Duration(d.TimeoutSec * float64(time.Second))
}

// MotionTimeout returns the timeout for moves and reference search
func (d Device) MotionTimeout() time.Duration {
	return time.Duration(d.MotionTimeSec * float64(time.Second))
}

var validAdapters = []string{"", "socketcan", "slcan", "gsusb"}

// Validate checks the device fields
func (d Device) Validate() error {
	found := false
	for _, a := range validAdapters {
		if d.Adapter == a {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("device %q has unknown adapter %q", d.Name, d.Adapter)
	}
	if d.Adapter == "socketcan" && d.Port == "" {
		return fmt.Errorf("device %q: socketcan adapter needs an interface name in `port`", d.Name)
	}
	if d.Bitrate <= 0 {
		return fmt.Errorf("device %q has invalid bitrate: %d (must be positive)", d.Name, d.Bitrate)
	}
	maxID := 0x7ff
	if d.Extended {
		maxID = 0x1fffffff
	}
	if d.DeviceID < 0 || d.DeviceID > maxID {
		return fmt.Errorf("device %q has invalid device_id: %d", d.Name, d.DeviceID)
	}
	if d.ReplyID < 0 || d.ReplyID > maxID {
		return fmt.Errorf("device %q has invalid reply_id: %d", d.Name, d.ReplyID)
	}
	if d.DeviceID > 0xff {
		// The module address is also sent in the first reply byte.
		return fmt.Errorf("device %q: device_id %d does not fit in one byte", d.Name, d.DeviceID)
	}
	if d.TimeoutSec <= 0 {
		return fmt.Errorf("device %q has invalid timeout: %g (must be positive)", d.Name, d.TimeoutSec)
	}
	if d.MotionTimeSec <= 0 {
		return fmt.Errorf("device %q has invalid motion_timeout: %g (must be positive)", d.Name, d.MotionTimeSec)
	}
	return nil
}

// configPath determines the config file path based on the operating system
func configPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		// Use AppData directory for Windows
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "tmcl")
	default:
		// Linux/macOS: use home directory
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".tmcl"), nil
}

// Load parses and validates a configuration file.
// The device named by `name`, or by the `default` key when name is empty,
// is returned as the selected device.
func Load(path, name string) (*Config, Device, error) {
	var conf Config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return nil, Device{}, fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
	}

	if name == "" {
		name = conf.Default
	}
	if name == "" {
		return nil, Device{}, errors.New("`default` key is missing or empty in config")
	}

	var found *Device
	for i := range conf.Device {
		if conf.Device[i].Name == name {
			found = &conf.Device[i]
			break
		}
	}
	if found == nil {
		return nil, Device{}, fmt.Errorf("device %q not found in device array", name)
	}
	if err := found.Validate(); err != nil {
		return nil, Device{}, err
	}

	if conf.MQTT.Topic == "" {
		conf.MQTT.Topic = "tmcl"
	}
	conf.MQTT.Topic = strings.TrimSuffix(conf.MQTT.Topic, "/")
	if conf.MQTT.ClientID == "" {
		conf.MQTT.ClientID = "tmcl"
	}
	if conf.Log.Level == "" {
		conf.Log.Level = "info"
	}
	return &conf, *found, nil
}

// Initialize loads and validates the configuration file.
// An empty path means ~/.tmcl, which is created from the embedded
// default when it doesn't exist.
func Initialize(path, deviceName string) error {
	if path == "" {
		var err error
		path, err = configPath()
		if err != nil {
			return err
		}
		if err := createDefault(path); err != nil {
			return err
		}
	}

	conf, dev, err := Load(path, deviceName)
	if err != nil {
		return err
	}

	DeviceName = dev.Name
	Selected = dev
	MQTT = conf.MQTT
	LogLevel = conf.Log.Level
	Path = path
	return nil
}

// createDefault writes the embedded default config if the file is missing
func createDefault(path string) error {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}

	// Create parent directory if needed (for Windows)
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
		return fmt.Errorf("failed to create default config file at %s: %w", path, err)
	}
	return nil
}
