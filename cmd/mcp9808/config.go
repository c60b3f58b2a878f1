// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/GermanBionicSystems/thermo/mcp9808"
	"github.com/GermanBionicSystems/thermo/resolve"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// maxVerbosity is the highest logr V level that maps onto a zap level.
const maxVerbosity = 127

// Address sources.
const (
	sourceStatic     = "static"
	sourceProbe      = "probe"
	sourceDeviceTree = "devicetree"
)

type I2CConfig struct {
	Bus     string `yaml:"bus"`
	Address string `yaml:"address"`
	// Source selects how the address is found: static, probe or devicetree.
	Source string `yaml:"source"`
	// Probe lists the candidate addresses for the probe source.
	Probe []string `yaml:"probe"`
}

type DeviceTreeConfig struct {
	Root       string `yaml:"root"`
	Compatible string `yaml:"compatible"`
}

type OutputConfig struct {
	Console bool   `yaml:"console"`
	Gauge   bool   `yaml:"gauge"`
	PNG     string `yaml:"png"`
}

type MQTTConfig struct {
	Server          string `yaml:"server"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Topic           string `yaml:"topic"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

type LogConfig struct {
	Verbosity   int  `yaml:"verbosity"`
	Development bool `yaml:"development"`
}

type Config struct {
	I2C        I2CConfig        `yaml:"i2c"`
	DeviceTree DeviceTreeConfig `yaml:"devicetree"`
	Name       string           `yaml:"name"`
	// Count is the number of readings taken when not serving MQTT. 0 reads
	// until interrupted.
	Count    int           `yaml:"count"`
	Interval time.Duration `yaml:"interval"`
	Output   OutputConfig  `yaml:"output"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Log      LogConfig     `yaml:"log"`
}

func DefaultConfig() Config {
	return Config{
		I2C: I2CConfig{
			Address: fmt.Sprintf("0x%02x", uint16(mcp9808.DefaultAddress)),
			Source:  sourceStatic,
			Probe:   []string{"0x18", "0x19", "0x1a", "0x1b", "0x1c", "0x1d", "0x1e", "0x1f"},
		},
		DeviceTree: DeviceTreeConfig{Root: "/proc/device-tree", Compatible: "microchip,mcp9808"},
		Name:       mcp9808.DefaultName,
		Count:      1,
		Interval:   time.Second,
		Output:     OutputConfig{Console: true},
		MQTT:       MQTTConfig{ClientID: "mcp9808"},
	}
}

// loadConfig reads the YAML file at path over the defaults. ${VAR}
// references are expanded from the environment first.
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// parseArgs builds the configuration from the .env file, the config file
// and args, in increasing order of precedence.
func parseArgs(args []string) (Config, error) {
	fs := flag.NewFlagSet("mcp9808", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config file")
	envPath := fs.String("env", ".env", "Path to .env file")
	bus := fs.String("bus", "", "I²C bus name or number, empty for the first one")
	addr := fs.String("addr", "", "I²C address (decimal or 0x hex)")
	source := fs.String("source", "", "Address source: static, probe or devicetree")
	dtRoot := fs.String("dt-root", "", "Device tree root directory")
	name := fs.String("name", "", "Node name")
	count := fs.Int("n", -1, "Number of readings, 0 for no limit")
	interval := fs.Duration("interval", -1, "Delay between readings")
	gaugeOut := fs.Bool("gauge", false, "Draw a terminal gauge")
	pngOut := fs.String("png", "", "Write the last reading as a PNG image")
	mqttServer := fs.String("mqtt-server", "", "Serve readings over MQTT (tcp://host:port)")
	mqttTopic := fs.String("mqtt-topic", "", "MQTT base topic")
	verbosity := fs.Int("v", -1, "Log verbosity")
	dev := fs.Bool("dev", false, "Human friendly logs")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() != 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if err := loadDotEnv(*envPath); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", *envPath, err)
	}
	cfg := DefaultConfig()
	if *cfgPath != "" {
		var err error
		if cfg, err = loadConfig(*cfgPath); err != nil {
			return cfg, err
		}
	}

	if *bus != "" {
		cfg.I2C.Bus = *bus
	}
	if *addr != "" {
		cfg.I2C.Address = *addr
	}
	if *source != "" {
		cfg.I2C.Source = *source
	}
	if *dtRoot != "" {
		cfg.DeviceTree.Root = *dtRoot
	}
	if *name != "" {
		cfg.Name = *name
	}
	if *count != -1 {
		cfg.Count = *count
	}
	if *interval != -1 {
		cfg.Interval = *interval
	}
	if *gaugeOut {
		cfg.Output.Gauge = true
	}
	if *pngOut != "" {
		cfg.Output.PNG = *pngOut
	}
	if *mqttServer != "" {
		cfg.MQTT.Server = *mqttServer
	}
	if *mqttTopic != "" {
		cfg.MQTT.Topic = *mqttTopic
	}
	if *verbosity != -1 {
		cfg.Log.Verbosity = *verbosity
	}
	if *dev {
		cfg.Log.Development = true
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	switch c.I2C.Source {
	case sourceStatic:
		if _, err := resolve.ParseAddr(c.I2C.Address); err != nil {
			return fmt.Errorf("i2c.address: %w", err)
		}
	case sourceProbe:
		if len(c.I2C.Probe) == 0 {
			return errors.New("i2c.probe: at least one address is required")
		}
		for _, a := range c.I2C.Probe {
			if _, err := resolve.ParseAddr(a); err != nil {
				return fmt.Errorf("i2c.probe: %w", err)
			}
		}
	case sourceDeviceTree:
		if c.DeviceTree.Root == "" || c.DeviceTree.Compatible == "" {
			return errors.New("devicetree: root and compatible are required")
		}
		if c.I2C.Address != "" {
			if _, err := resolve.ParseAddr(c.I2C.Address); err != nil {
				return fmt.Errorf("i2c.address: %w", err)
			}
		}
	default:
		return fmt.Errorf("i2c.source: unknown source %q", c.I2C.Source)
	}
	if c.Name == "" {
		return errors.New("name is required")
	}
	if c.Count < 0 {
		return errors.New("count must be >= 0")
	}
	if c.Interval <= 0 {
		return errors.New("interval must be > 0")
	}
	if c.Log.Verbosity < 0 || c.Log.Verbosity > maxVerbosity {
		return fmt.Errorf("log.verbosity must be between 0 and %d", maxVerbosity)
	}
	return nil
}
