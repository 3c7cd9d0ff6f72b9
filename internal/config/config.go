// Package config holds the runtime configuration of the alert monitor.
// Values come from Default, then an optional YAML file, then command-line
// flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/alert"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/detect"
	"github.com/dj-oyu/rdk-x5_object-alert/alert-monitor/internal/hardware"
)

// Config is the complete configuration. It is not modified after startup.
type Config struct {
	Threshold     float64           `yaml:"threshold"`
	Classes       detect.ClassTable `yaml:"classes"`
	Chosen        []string          `yaml:"chosen_classes"`
	BuzzerClasses []string          `yaml:"buzzer_classes"`
	Window        time.Duration     `yaml:"debounce_window"`
	AnnotateAll   bool              `yaml:"annotate_all_classes"`
	PaletteSeed   uint64            `yaml:"palette_seed"`

	Capture   CaptureConfig   `yaml:"capture"`
	Inference InferenceConfig `yaml:"inference"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`

	QuitKey bool `yaml:"quit_key"`
}

// CaptureConfig selects and configures the frame source.
type CaptureConfig struct {
	Kind    string `yaml:"kind"` // ffmpeg, dir, shm
	URL     string `yaml:"url"`  // ffmpeg input (rtsp://, file)
	Device  string `yaml:"device"`
	Dir     string `yaml:"dir"`
	ShmName string `yaml:"shm_name"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	FPS     int    `yaml:"fps"`
	// GapTimeout is how long a source waits for a frame before reporting a gap.
	GapTimeout time.Duration `yaml:"gap_timeout"`
}

// InferenceConfig points at the remote detector.
type InferenceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Quality int           `yaml:"jpeg_quality"`
}

// HardwareConfig selects the indicator board.
type HardwareConfig struct {
	Kind   string          `yaml:"kind"` // sim, serial
	Port   string          `yaml:"port"`
	Baud   int             `yaml:"baud"`
	Layout hardware.Layout `yaml:"layout"`
}

// MQTTConfig configures transition events. An empty Broker disables them.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// HTTPConfig configures the web monitor. An empty Addr disables it.
type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"` // empty: served on Addr
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// Default returns the stock configuration: cars and people tracked at a 0.2
// threshold, the buzzer following cars for four seconds.
func Default() Config {
	return Config{
		Threshold:     0.2,
		Classes:       append(detect.ClassTable(nil), detect.VOCClasses...),
		Chosen:        []string{"car", "person"},
		BuzzerClasses: []string{"car"},
		Window:        alert.DefaultWindow,
		PaletteSeed:   1,
		Capture: CaptureConfig{
			Kind:       "ffmpeg",
			Device:     "/dev/video0",
			ShmName:    "/alert_camera_frame",
			Width:      640,
			Height:     480,
			FPS:        15,
			GapTimeout: time.Second,
		},
		Inference: InferenceConfig{
			URL:     "ws://localhost:8765/detect",
			Timeout: 2 * time.Second,
			Quality: 80,
		},
		Hardware: HardwareConfig{
			Kind:   "sim",
			Port:   "/dev/ttyUSB0",
			Baud:   115200,
			Layout: hardware.DefaultLayout(),
		},
		MQTT: MQTTConfig{
			Topic:    "alert-monitor/indicators",
			ClientID: "alert-monitor",
		},
		HTTP: HTTPConfig{
			Addr:        ":8080",
			JPEGQuality: 75,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
		QuitKey: true,
	}
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks the configuration and returns a *ConfigError for the first
// problem found.
func (c *Config) Validate() error {
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		return &ConfigError{Field: "threshold", Reason: fmt.Sprintf("%v is outside [0, 1]", c.Threshold)}
	}
	if len(c.Classes) == 0 {
		return &ConfigError{Field: "classes", Reason: "class table is empty"}
	}
	seen := make(map[string]bool, len(c.Classes))
	for i, name := range c.Classes {
		if name == "" {
			return &ConfigError{Field: "classes", Reason: fmt.Sprintf("index %d has no name", i)}
		}
		if seen[name] {
			return &ConfigError{Field: "classes", Reason: fmt.Sprintf("duplicate class %q", name)}
		}
		seen[name] = true
	}

	chosen := make(map[string]bool, len(c.Chosen))
	for _, name := range c.Chosen {
		if !seen[name] {
			return &ConfigError{Field: "chosen_classes", Reason: fmt.Sprintf("%q is not in the class table", name)}
		}
		chosen[name] = true
	}
	for _, name := range c.BuzzerClasses {
		if !chosen[name] {
			return &ConfigError{Field: "buzzer_classes", Reason: fmt.Sprintf("%q is not a chosen class", name)}
		}
	}
	if c.Window <= 0 {
		return &ConfigError{Field: "debounce_window", Reason: "must be positive"}
	}

	switch c.Capture.Kind {
	case "ffmpeg":
		if c.Capture.URL == "" && c.Capture.Device == "" {
			return &ConfigError{Field: "capture", Reason: "ffmpeg needs a url or device"}
		}
	case "dir":
		if c.Capture.Dir == "" {
			return &ConfigError{Field: "capture.dir", Reason: "required for dir capture"}
		}
	case "shm":
		if c.Capture.ShmName == "" {
			return &ConfigError{Field: "capture.shm_name", Reason: "required for shm capture"}
		}
	default:
		return &ConfigError{Field: "capture.kind", Reason: fmt.Sprintf("unknown source %q", c.Capture.Kind)}
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 || c.Capture.FPS <= 0 {
		return &ConfigError{Field: "capture", Reason: "width, height and fps must be positive"}
	}
	if c.Inference.URL == "" {
		return &ConfigError{Field: "inference.url", Reason: "required"}
	}

	switch c.Hardware.Kind {
	case "sim":
	case "serial":
		if c.Hardware.Port == "" {
			return &ConfigError{Field: "hardware.port", Reason: "required for serial board"}
		}
	default:
		return &ConfigError{Field: "hardware.kind", Reason: fmt.Sprintf("unknown board %q", c.Hardware.Kind)}
	}
	return nil
}

// Policy derives the alert policy.
func (c *Config) Policy() alert.Policy {
	return alert.Policy{
		Tracked:       append([]string(nil), c.Chosen...),
		BuzzerClasses: append([]string(nil), c.BuzzerClasses...),
		Window:        c.Window,
	}
}

// Rules derives the detection filter rules.
func (c *Config) Rules() detect.Rules {
	return detect.Rules{
		Table:       c.Classes,
		Chosen:      c.Chosen,
		Threshold:   c.Threshold,
		AnnotateAll: c.AnnotateAll,
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current value. A hardware.layout.leds map in the file
// replaces the current LED assignment as a whole.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var leds struct {
		Hardware struct {
			Layout struct {
				LEDs map[string]hardware.Pin `yaml:"leds"`
			} `yaml:"layout"`
		} `yaml:"hardware"`
	}
	if err := yaml.Unmarshal(data, &leds); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if leds.Hardware.Layout.LEDs != nil {
		cfg.Hardware.Layout.LEDs = nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Parse builds the configuration from args: defaults, then the file named by
// -config, then every flag given explicitly. The result is validated.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Default()
	path := fs.String("config", "", "YAML configuration file")
	BindFlags(fs, &cfg)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *path != "" {
		// Remember what was given on the command line so it wins over the file.
		given := make(map[string]string)
		fs.Visit(func(f *flag.Flag) { given[f.Name] = f.Value.String() })

		if err := LoadFile(*path, &cfg); err != nil {
			return Config{}, err
		}
		for name, value := range given {
			if err := fs.Set(name, value); err != nil {
				return Config{}, fmt.Errorf("flag -%s: %w", name, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BindFlags registers a flag for each commonly tuned field of cfg.
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "Detection confidence threshold (exclusive)")
	fs.Var((*listValue)(&cfg.Chosen), "classes", "Tracked classes (comma-separated)")
	fs.Var((*listValue)(&cfg.BuzzerClasses), "buzzer-classes", "Classes that drive the buzzer (comma-separated)")
	fs.DurationVar(&cfg.Window, "window", cfg.Window, "Buzzer debounce window")
	fs.BoolVar(&cfg.AnnotateAll, "annotate-all", cfg.AnnotateAll, "Draw boxes for untracked classes too")
	fs.Uint64Var(&cfg.PaletteSeed, "palette-seed", cfg.PaletteSeed, "Seed for per-class box colors")

	fs.StringVar(&cfg.Capture.Kind, "capture", cfg.Capture.Kind, "Frame source (ffmpeg, dir, shm)")
	fs.StringVar(&cfg.Capture.URL, "capture-url", cfg.Capture.URL, "ffmpeg input URL (overrides -capture-device)")
	fs.StringVar(&cfg.Capture.Device, "capture-device", cfg.Capture.Device, "V4L2 capture device")
	fs.StringVar(&cfg.Capture.Dir, "capture-dir", cfg.Capture.Dir, "Directory watched for frame images")
	fs.StringVar(&cfg.Capture.ShmName, "shm", cfg.Capture.ShmName, "Shared memory frame buffer name")
	fs.IntVar(&cfg.Capture.Width, "width", cfg.Capture.Width, "Capture width")
	fs.IntVar(&cfg.Capture.Height, "height", cfg.Capture.Height, "Capture height")
	fs.IntVar(&cfg.Capture.FPS, "fps", cfg.Capture.FPS, "Capture frame rate")

	fs.StringVar(&cfg.Inference.URL, "detector", cfg.Inference.URL, "Detector websocket URL")
	fs.DurationVar(&cfg.Inference.Timeout, "detector-timeout", cfg.Inference.Timeout, "Per-frame inference deadline")

	fs.StringVar(&cfg.Hardware.Kind, "hardware", cfg.Hardware.Kind, "Indicator board (sim, serial)")
	fs.StringVar(&cfg.Hardware.Port, "serial-port", cfg.Hardware.Port, "Serial port of the indicator board")
	fs.IntVar(&cfg.Hardware.Baud, "serial-baud", cfg.Hardware.Baud, "Serial baud rate")

	fs.StringVar(&cfg.MQTT.Broker, "mqtt", cfg.MQTT.Broker, "MQTT broker URL (empty disables events)")
	fs.StringVar(&cfg.MQTT.Topic, "mqtt-topic", cfg.MQTT.Topic, "MQTT topic for indicator transitions")

	fs.StringVar(&cfg.HTTP.Addr, "http", cfg.HTTP.Addr, "Web monitor address (empty disables)")
	fs.StringVar(&cfg.HTTP.MetricsAddr, "metrics", cfg.HTTP.MetricsAddr, "Separate metrics server address")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error, silent)")
	fs.BoolVar(&cfg.Log.Color, "log-color", cfg.Log.Color, "Enable colored log output")
	fs.BoolVar(&cfg.QuitKey, "quit-key", cfg.QuitKey, "Stop when 'q' is entered on stdin")
}

// listValue is a comma-separated flag value.
type listValue []string

func (l *listValue) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listValue) Set(s string) error {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
