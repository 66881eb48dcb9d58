package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes TOML text into a temporary file and returns its path
func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tmcl.toml")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadEmbeddedDefault(t *testing.T) {
	path := writeConfig(t, string(defaultConfigData))

	conf, dev, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if dev.Name != "tmcm3212" {
		t.Errorf("selected device = %q, expected tmcm3212", dev.Name)
	}
	if dev.DeviceID != 1 || dev.ReplyID != 2 {
		t.Errorf("ids = %d/%d, expected 1/2", dev.DeviceID, dev.ReplyID)
	}
	if dev.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v, expected 5s", dev.Timeout())
	}
	if dev.MotionTimeout() != 300*time.Second {
		t.Errorf("MotionTimeout() = %v, expected 300s", dev.MotionTimeout())
	}
	if conf.MQTT.Topic != "tmcl" {
		t.Errorf("mqtt topic = %q, expected tmcl", conf.MQTT.Topic)
	}
}

func TestLoadNamedDevice(t *testing.T) {
	path := writeConfig(t, string(defaultConfigData))

	_, dev, err := Load(path, "socketcan")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if dev.Adapter != "socketcan" || dev.Port != "can0" {
		t.Errorf("device = %+v, expected socketcan on can0", dev)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "missing default",
			text: `[[device]]
name = "a"`,
			want: "`default` key",
		},
		{
			name: "unknown device",
			text: `default = "b"
[[device]]
name = "a"`,
			want: `device "b" not found`,
		},
		{
			name: "bad adapter",
			text: `default = "a"
[[device]]
name = "a"
adapter = "parallel"
bitrate = 500000
timeout = 5
motion_timeout = 300`,
			want: "unknown adapter",
		},
		{
			name: "socketcan without interface",
			text: `default = "a"
[[device]]
name = "a"
adapter = "socketcan"
bitrate = 500000
timeout = 5
motion_timeout = 300`,
			want: "interface name",
		},
		{
			name: "zero timeout",
			text: `default = "a"
[[device]]
name = "a"
bitrate = 500000
motion_timeout = 300`,
			want: "invalid timeout",
		},
		{
			name: "reply id out of range",
			text: `default = "a"
[[device]]
name = "a"
bitrate = 500000
device_id = 1
reply_id = 4096
timeout = 5
motion_timeout = 300`,
			want: "invalid reply_id",
		},
		{
			name: "syntax error",
			text: `default = `,
			want: "failed to parse TOML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.text)
			_, _, err := Load(path, "")
			if err == nil {
				t.Fatalf("Load() returned no error, expected %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %q, expected it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestInitializeExplicitPath(t *testing.T) {
	path := writeConfig(t, `default = "bench"
[[device]]
name = "bench"
adapter = "slcan"
port = "/dev/ttyACM0"
bitrate = 500000
device_id = 3
reply_id = 5
timeout = 0.5
motion_timeout = 60

[log]
level = "debug"
`)
	if err := Initialize(path, ""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if DeviceName != "bench" || Selected.Port != "/dev/ttyACM0" {
		t.Errorf("selected %q on %q, expected bench on /dev/ttyACM0", DeviceName, Selected.Port)
	}
	if Selected.Timeout() != 500*time.Millisecond {
		t.Errorf("Timeout() = %v, expected 500ms", Selected.Timeout())
	}
	if LogLevel != "debug" {
		t.Errorf("LogLevel = %q, expected debug", LogLevel)
	}
	if MQTT.ClientID != "tmcl" {
		t.Errorf("MQTT.ClientID = %q, expected default tmcl", MQTT.ClientID)
	}
}

func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", ".tmcl")
	if err := createDefault(path); err != nil {
		t.Fatalf("createDefault() returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if string(data) != string(defaultConfigData) {
		t.Errorf("written config differs from embedded default")
	}

	// An existing file is left alone
	if err := os.WriteFile(path, []byte("default = \"x\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := createDefault(path); err != nil {
		t.Fatalf("createDefault() returned error: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "default = \"x\"\n" {
		t.Errorf("existing config was overwritten")
	}
}
