package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/readerlink/readerlink-go/pkg/reader"
)

// Adapter backend names.
const (
	AdapterSim   = "sim"
	AdapterBlueZ = "bluez"
	AdapterMDNS  = "mdns"
)

// Config errors.
var (
	ErrPolicyRequired = errors.New("policy is required")
	ErrUnknownAdapter = errors.New("unknown adapter backend")
	ErrUnknownLevel   = errors.New("unknown log level")
)

// File is the raw YAML shape of a configuration file.
type File struct {
	// Policy is the connection policy name: auto, persist, manual or
	// persist-manual. Required.
	Policy string `yaml:"policy"`

	// DeviceType is the reader category: standard, handheld or
	// countertop. Default: standard.
	DeviceType string `yaml:"device_type"`

	// DiscoveryMethod is the discovery method: proximity,
	// bluetooth-scan or network. Default: proximity.
	DiscoveryMethod string `yaml:"discovery_method"`

	// Adapter selects the hardware backend: sim, bluez or mdns.
	// Default: sim.
	Adapter string `yaml:"adapter"`

	// StateFile is where the persisted reader serial lives.
	// Default: readerlink.json in the working directory.
	StateFile string `yaml:"state_file"`

	// TraceFile enables lifecycle tracing when set.
	TraceFile string `yaml:"trace_file"`

	// LogLevel is the slog level: debug, info, warn or error.
	// Default: info.
	LogLevel string `yaml:"log_level"`
}

// Config is a validated daemon configuration.
type Config struct {
	Policy          reader.Policy
	DeviceType      reader.DeviceType
	DiscoveryMethod reader.DiscoveryMethod
	Adapter         string
	StateFile       string
	TraceFile       string
	LogLevel        slog.Level
}

// Default returns the configuration defaults. Policy has no default and
// stays zero.
func Default() Config {
	return Config{
		DeviceType:      reader.DeviceTypeStandard,
		DiscoveryMethod: reader.MethodProximity,
		Adapter:         AdapterSim,
		StateFile:       "readerlink.json",
		LogLevel:        slog.LevelInfo,
	}
}

// Load reads and validates a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// Parse validates YAML configuration bytes.
func Parse(data []byte) (Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return f.Resolve()
}

// Resolve validates the raw file against the domain types, filling in
// defaults for absent fields.
func (f File) Resolve() (Config, error) {
	cfg := Default()

	if f.Policy == "" {
		return Config{}, ErrPolicyRequired
	}
	policy, err := reader.ParsePolicy(f.Policy)
	if err != nil {
		return Config{}, err
	}
	cfg.Policy = policy

	if f.DeviceType != "" {
		dt, err := reader.ParseDeviceType(f.DeviceType)
		if err != nil {
			return Config{}, err
		}
		cfg.DeviceType = dt
	}

	if f.DiscoveryMethod != "" {
		dm, err := reader.ParseDiscoveryMethod(f.DiscoveryMethod)
		if err != nil {
			return Config{}, err
		}
		cfg.DiscoveryMethod = dm
	}

	switch f.Adapter {
	case "":
	case AdapterSim, AdapterBlueZ, AdapterMDNS:
		cfg.Adapter = f.Adapter
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownAdapter, f.Adapter)
	}

	if f.StateFile != "" {
		cfg.StateFile = f.StateFile
	}
	cfg.TraceFile = f.TraceFile

	if f.LogLevel != "" {
		level, err := ParseLogLevel(f.LogLevel)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

// ParseLogLevel maps a level name to its slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}
