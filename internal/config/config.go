// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "RELAYCTL"

// Config defines the global configuration structure
type Config struct {
	Serial   SerialConfig   `mapstructure:"serial"`
	Modbus   ModbusConfig   `mapstructure:"modbus"`
	Blink    BlinkConfig    `mapstructure:"blink"`
	Poll     PollConfig     `mapstructure:"poll"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Log      LogConfig      `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
	File   string `mapstructure:"file"`   // Log file path, empty or "-" for stdout
}

// SerialConfig defines RTU line settings
type SerialConfig struct {
	Driver   string `mapstructure:"driver"` // "gridx" or "bugst"
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`
	// PollInterval bounds a single blocking read of the gridx driver.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// ModbusConfig defines exchange timing
type ModbusConfig struct {
	Timeout time.Duration `mapstructure:"timeout"` // Response deadline
	Pause   time.Duration `mapstructure:"pause"`   // Pause between requests
	Trace   bool          `mapstructure:"trace"`   // Log every frame at debug level
}

// BlinkConfig drives the blink loop
type BlinkConfig struct {
	Address uint8         `mapstructure:"address"`
	Coils   []int         `mapstructure:"coils"`
	On      time.Duration `mapstructure:"on"`
	Off     time.Duration `mapstructure:"off"`
	Cycles  int           `mapstructure:"cycles"` // 0 runs until stopped
}

// PollConfig drives the poll loop
type PollConfig struct {
	Address  uint8         `mapstructure:"address"`
	Register uint16        `mapstructure:"register"`
	Count    uint16        `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
}

// RetryConfig bounds the backoff of the loops after a failed exchange
type RetryConfig struct {
	Initial time.Duration `mapstructure:"initial"`
	Max     time.Duration `mapstructure:"max"`
}

// SnapshotConfig defines where last known device state is kept
type SnapshotConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("serial.driver", "gridx")
	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "N")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.poll_interval", 20*time.Millisecond)

	v.SetDefault("modbus.timeout", time.Second)
	v.SetDefault("modbus.pause", time.Second)
	v.SetDefault("modbus.trace", false)

	v.SetDefault("blink.address", 1)
	v.SetDefault("blink.coils", []int{1, 2, 3, 4, 5, 6, 7, 8})
	v.SetDefault("blink.on", time.Second)
	v.SetDefault("blink.off", time.Second)
	v.SetDefault("blink.cycles", 0)

	v.SetDefault("poll.address", 1)
	v.SetDefault("poll.register", 0x2000)
	v.SetDefault("poll.count", 1)
	v.SetDefault("poll.interval", 5*time.Second)

	v.SetDefault("retry.initial", 200*time.Millisecond)
	v.SetDefault("retry.max", 10*time.Second)

	v.SetDefault("snapshot.type", "memory")
	v.SetDefault("snapshot.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
}

// New returns a viper instance with defaults, env overrides and the config
// file search path set up. flags may be nil.
func New(configFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/relayctl/")
		v.AddConfigPath("$HOME/.relayctl")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"device":    "serial.device",
	"baud-rate": "serial.baud_rate",
	"driver":    "serial.driver",
	"timeout":   "modbus.timeout",
	"pause":     "modbus.pause",
	"trace":     "modbus.trace",
	"log-level": "log.level",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from file. A missing file is fine when no
// file was named explicitly: defaults, env and flags still apply.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	_, cfg, err := Load(configFile, flags)
	return cfg, err
}

// Load is LoadConfig that also hands back the viper instance, for Watch.
func Load(configFile string, flags *pflag.FlagSet) (*viper.Viper, *Config, error) {
	v, err := New(configFile, flags)
	if err != nil {
		return nil, nil, err
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

// Decode unmarshals, fixes up and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	fixupSerial(&config.Serial)
	if limit := MaxPollInterval(config.Modbus.Timeout); config.Serial.PollInterval > limit {
		config.Serial.PollInterval = limit
	}
	config.Log.Level = strings.ToLower(config.Log.Level)
	config.Snapshot.Type = strings.ToLower(config.Snapshot.Type)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	s.Driver = strings.ToLower(s.Driver)
	if s.PollInterval == 0 {
		s.PollInterval = 20 * time.Millisecond
	}
}

// MaxPollInterval is the longest gridx poll interval allowed for a response
// timeout: a tenth of it, but never under a millisecond.
func MaxPollInterval(timeout time.Duration) time.Duration {
	return max(timeout/10, time.Millisecond)
}

// Validate checks ranges the protocol core would otherwise reject at run time.
func (c *Config) Validate() error {
	var errs []error

	switch c.Serial.Driver {
	case "gridx", "bugst":
	default:
		errs = append(errs, fmt.Errorf("serial.driver %q: want gridx or bugst", c.Serial.Driver))
	}
	if c.Serial.Device == "" {
		errs = append(errs, errors.New("serial.device is empty"))
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate %d must be positive", c.Serial.BaudRate))
	}
	if c.Serial.DataBits < 5 || c.Serial.DataBits > 8 {
		errs = append(errs, fmt.Errorf("serial.data_bits %d out of range 5-8", c.Serial.DataBits))
	}
	switch c.Serial.Parity {
	case "N", "E", "O":
	default:
		errs = append(errs, fmt.Errorf("serial.parity %q: want N, E or O", c.Serial.Parity))
	}
	if c.Serial.StopBits != 1 && c.Serial.StopBits != 2 {
		errs = append(errs, fmt.Errorf("serial.stop_bits %d: want 1 or 2", c.Serial.StopBits))
	}

	if c.Modbus.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("modbus.timeout %v must be positive", c.Modbus.Timeout))
	}
	if c.Serial.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("serial.poll_interval %v must be positive", c.Serial.PollInterval))
	} else if limit := MaxPollInterval(c.Modbus.Timeout); c.Modbus.Timeout > 0 && c.Serial.PollInterval > limit {
		errs = append(errs, fmt.Errorf("serial.poll_interval %v exceeds %v for modbus.timeout %v", c.Serial.PollInterval, limit, c.Modbus.Timeout))
	}
	if c.Modbus.Pause < 0 {
		errs = append(errs, fmt.Errorf("modbus.pause %v must not be negative", c.Modbus.Pause))
	}

	if c.Blink.Address < 1 || c.Blink.Address > 127 {
		errs = append(errs, fmt.Errorf("blink.address %d out of range 1-127", c.Blink.Address))
	}
	for _, coil := range c.Blink.Coils {
		if coil < 1 || coil > 8 {
			errs = append(errs, fmt.Errorf("blink.coils: coil %d out of range 1-8", coil))
		}
	}
	if c.Blink.On < 0 || c.Blink.Off < 0 || c.Blink.Cycles < 0 {
		errs = append(errs, errors.New("blink.on, blink.off and blink.cycles must not be negative"))
	}

	if c.Poll.Address < 1 || c.Poll.Address > 127 {
		errs = append(errs, fmt.Errorf("poll.address %d out of range 1-127", c.Poll.Address))
	}
	if c.Poll.Count < 1 || c.Poll.Count > 125 {
		errs = append(errs, fmt.Errorf("poll.count %d out of range 1-125", c.Poll.Count))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, fmt.Errorf("poll.interval %v must be positive", c.Poll.Interval))
	}

	if c.Retry.Initial <= 0 || c.Retry.Max < c.Retry.Initial {
		errs = append(errs, fmt.Errorf("retry: need 0 < initial (%v) <= max (%v)", c.Retry.Initial, c.Retry.Max))
	}

	switch c.Snapshot.Type {
	case "memory":
	case "file", "mmap":
		if c.Snapshot.Path == "" {
			errs = append(errs, fmt.Errorf("snapshot.path is required for %s snapshots", c.Snapshot.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("snapshot.type %q: want memory, file or mmap", c.Snapshot.Type))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}

	return errors.Join(errs...)
}
