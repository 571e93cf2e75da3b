// Package config reads the daemon settings file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultLocation = "/etc/kellerld.yaml"

type Settings struct {
	Bus     BusConfig     `yaml:"bus"`
	Poll    PollConfig    `yaml:"poll"`
	HTTP    HTTPConfig    `yaml:"http"`
	Datalog DatalogConfig `yaml:"datalog"`
	Log     LogConfig     `yaml:"log"`
}

// ---- BUS ----

type BusConfig struct {
	Driver  string `yaml:"driver"`  // embd | periph
	Number  int    `yaml:"number"`  // /dev/i2c-N
	Address uint8  `yaml:"address"` // 7-bit sensor address
}

// ---- POLL ----

type PollConfig struct {
	IntervalMs         int `yaml:"interval_ms"`
	MaxFailures        int `yaml:"max_failures"`
	CalibrationRetries int `yaml:"calibration_retries"`
}

func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// ---- HTTP ----

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// ---- DATALOG ----

type DatalogConfig struct {
	Path       string `yaml:"path"` // empty disables the data log
	MinFreeMB  int    `yaml:"min_free_mb"`
	FlushEvery int    `yaml:"flush_every"` // inserts between free space checks
}

// ---- LOG ----

type LogConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
}

// Default returns the settings used when no file overrides them.
func Default() Settings {
	return Settings{
		Bus: BusConfig{
			Driver:  "embd",
			Number:  1,
			Address: 0x40,
		},
		Poll: PollConfig{
			IntervalMs:         100,
			MaxFailures:        5,
			CalibrationRetries: 5,
		},
		HTTP: HTTPConfig{
			Listen: ":9978",
		},
		Datalog: DatalogConfig{
			Path:       "/var/log/kellerld.db",
			MinFreeMB:  50,
			FlushEvery: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the settings file at path over the defaults and validates the result.
func Load(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes YAML settings over the defaults and validates the result.
func Parse(b []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
