// Package config loads the sppbridge YAML configuration. Unset fields take
// the values of their default tags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/device/serialport"
	"github.com/srg/sppbridge/internal/discovery"
	"github.com/srg/sppbridge/internal/events"
	"github.com/srg/sppbridge/internal/permission"
	"github.com/srg/sppbridge/internal/session"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendBlueZ  = "bluez"
	BackendSerial = "serial"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`
	Backend  string `yaml:"backend" default:"bluez"`
	// Adapter is the BlueZ adapter name.
	Adapter string `yaml:"adapter" default:"hci0"`

	Permissions Permissions  `yaml:"permissions"`
	Scan        Scan         `yaml:"scan"`
	Session     Session      `yaml:"session"`
	Events      Events       `yaml:"events"`
	Bridge      Bridge       `yaml:"bridge"`
	SerialPorts []SerialPort `yaml:"serial_ports"`
}

// Permissions describes the host permission model. A nil Granted list grants
// everything the API level asks for.
type Permissions struct {
	APILevel int      `yaml:"api_level" default:"31"`
	Granted  []string `yaml:"granted"`
}

type Scan struct {
	Timeout      time.Duration `yaml:"timeout" default:"8s"`
	PollInterval time.Duration `yaml:"poll_interval" default:"250ms"`
	AllowList    []string      `yaml:"allow"`
	BlockList    []string      `yaml:"block"`
}

type Session struct {
	ReadBufferSize int           `yaml:"read_buffer" default:"1024"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	StopTimeout    time.Duration `yaml:"stop_timeout" default:"2s"`
	Service        string        `yaml:"service"`
}

type Events struct {
	Backlog uint32 `yaml:"backlog" default:"256"`
}

type Bridge struct {
	Symlink    string `yaml:"symlink"`
	BufferSize int    `yaml:"buffer_size" default:"4096"`
}

// SerialPort binds a device address to an OS serial port for the serial backend.
type SerialPort struct {
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
	Baud    int    `yaml:"baud"`
	Name    string `yaml:"name"`
	Paired  bool   `yaml:"paired"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	defaults.SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values that defaults cannot fix.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.Backend {
	case BackendBlueZ, BackendSerial:
	default:
		errs = append(errs, fmt.Errorf("backend: unknown backend %q", c.Backend))
	}
	if c.Backend == BackendSerial && len(c.SerialPorts) == 0 {
		errs = append(errs, errors.New("serial_ports: serial backend needs at least one port"))
	}
	if c.Session.Service != "" {
		if _, err := device.ParseServiceUUID(c.Session.Service); err != nil {
			errs = append(errs, fmt.Errorf("session.service: %w", err))
		}
	}
	if c.Events.Backlog > events.MaxBacklog {
		errs = append(errs, fmt.Errorf("events.backlog: %d is too large", c.Events.Backlog))
	}
	for _, name := range c.Permissions.Granted {
		if !knownCapability(permission.Capability(name)) {
			errs = append(errs, fmt.Errorf("permissions.granted: unknown capability %q", name))
		}
	}
	return errors.Join(errs...)
}

func knownCapability(c permission.Capability) bool {
	switch c {
	case permission.Scan, permission.Connect, permission.FineLocation, permission.CoarseLocation:
		return true
	}
	return false
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// Platform builds the static permission platform described by Permissions.
func (c *Config) Platform() *permission.StaticPlatform {
	granted := make([]permission.Capability, 0, len(c.Permissions.Granted))
	if c.Permissions.Granted == nil {
		granted = append(granted, permission.Scan, permission.Connect, permission.FineLocation, permission.CoarseLocation)
	}
	for _, name := range c.Permissions.Granted {
		granted = append(granted, permission.Capability(strings.TrimSpace(name)))
	}
	return permission.NewStaticPlatform(c.Permissions.APILevel, granted...)
}

func (c *Config) ScanOptions() *discovery.ScanOptions {
	return &discovery.ScanOptions{
		Timeout:      c.Scan.Timeout,
		PollInterval: c.Scan.PollInterval,
		AllowList:    c.Scan.AllowList,
		BlockList:    c.Scan.BlockList,
	}
}

func (c *Config) SessionOptions() *session.Options {
	return &session.Options{
		ReadBufferSize: c.Session.ReadBufferSize,
		ConnectTimeout: c.Session.ConnectTimeout,
		StopTimeout:    c.Session.StopTimeout,
		DefaultService: c.Session.Service,
	}
}

// Ports converts the serial port table for the serial backend.
func (c *Config) Ports() []serialport.Port {
	out := make([]serialport.Port, 0, len(c.SerialPorts))
	for _, p := range c.SerialPorts {
		out = append(out, serialport.Port{
			Address: p.Address,
			Path:    p.Path,
			Baud:    p.Baud,
			Name:    p.Name,
			Paired:  p.Paired,
		})
	}
	return out
}
