package mqtt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML seed for ClientConfig/ConnectOptions,
// mirroring the teacher's plain config struct and lighthouse's
// `yaml:"..."`-tagged Config/Mqtt pattern. Loading a FileConfig is sugar
// over the programmatic constructors: at runtime ClientConfig and
// ConnectOptions remain the source of truth, FileConfig only seeds them.
type FileConfig struct {
	URI               string   `yaml:"uri"`
	ClientID          string   `yaml:"client_id"`
	Hosts             []string `yaml:"hosts"`
	Ports             []int    `yaml:"ports"`
	Path              string   `yaml:"path"`
	UseSSL            bool     `yaml:"use_ssl"`
	MQTTVersion       byte     `yaml:"mqtt_version"`
	KeepAliveInterval int      `yaml:"keep_alive_interval"`
	CleanSession      bool     `yaml:"clean_session"`
	Reconnect         bool     `yaml:"reconnect"`
	UserName          string   `yaml:"user_name"`
	Password          string   `yaml:"password"`

	Disconnected struct {
		Publishing bool `yaml:"publishing"`
		BufferSize int  `yaml:"buffer_size"`
	} `yaml:"disconnected"`

	Log struct {
		FilePath   string `yaml:"file_path"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// LoadFileConfig reads and parses a YAML file into a FileConfig and
// validates it.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("mqtt: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields LoadFileConfig can't leave to the
// downstream constructors to reject: at least one way of locating a
// broker must be present.
func (c *FileConfig) Validate() error {
	if c.URI == "" && len(c.Hosts) == 0 {
		return NewError(CodeInvalidArgument, "config: neither uri nor hosts set")
	}
	if len(c.Hosts) > 0 && len(c.Hosts) != len(c.Ports) {
		return NewError(CodeInvalidArgument, "config: hosts and ports length mismatch (%d vs %d)", len(c.Hosts), len(c.Ports))
	}
	return nil
}

// ConnectOptions builds the ConnectOptions this file describes.
func (c *FileConfig) ConnectOptions() ConnectOptions {
	opts := ConnectOptions{
		KeepAliveInterval: 60,
		CleanSession:      true,
		MQTTVersion:       4,
		Reconnect:         c.Reconnect,
		UseSSL:            c.UseSSL,
		UserName:          c.UserName,
		Password:          c.Password,
	}
	if c.KeepAliveInterval > 0 {
		opts.KeepAliveInterval = c.KeepAliveInterval
	}
	if c.MQTTVersion != 0 {
		opts.MQTTVersion = c.MQTTVersion
		opts.MQTTVersionExplicit = true
	}
	if c.URI != "" {
		opts.URIs = []string{c.URI}
	} else {
		opts.Hosts = c.Hosts
		opts.Ports = c.Ports
		opts.Path = c.Path
	}
	opts.DisconnectedPublishing = c.Disconnected.Publishing
	opts.DisconnectedBufferSize = c.Disconnected.BufferSize
	return opts
}
