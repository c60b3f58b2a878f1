// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mcp9808 binds an MCP9808 temperature sensor and reads it.
//
// Without an MQTT server, the sensor is registered as a local node that is
// read -n times, every -interval, and printed to the console, drawn as a
// terminal gauge or rendered to a PNG file. With -mqtt-server, the node is
// served over MQTT with Home Assistant discovery until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/thermo/devnode"
	"github.com/GermanBionicSystems/thermo/mcp9808"
	"github.com/GermanBionicSystems/thermo/mqttnode"
	"github.com/GermanBionicSystems/thermo/resolve"
)

func newLogger(c LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	// logr V(n) maps to zap level -n.
	zc.Level = zap.NewAtomicLevelAt(zapcore.Level(-c.Verbosity))
	return zc.Build()
}

func newResolver(cfg Config, b i2c.Bus, log logr.Logger) (resolve.Resolver, error) {
	switch cfg.I2C.Source {
	case sourceProbe:
		p := &resolve.Probe{
			Detect: func(addr uint16) error { return mcp9808.Detect(b, addr) },
			Logger: log,
		}
		for _, s := range cfg.I2C.Probe {
			a, err := resolve.ParseAddr(s)
			if err != nil {
				return nil, err
			}
			p.Addrs = append(p.Addrs, a)
		}
		return p, nil
	case sourceDeviceTree:
		d := &resolve.DeviceTree{
			FS:         os.DirFS(cfg.DeviceTree.Root),
			Compatible: cfg.DeviceTree.Compatible,
			Logger:     log,
		}
		if cfg.I2C.Address != "" {
			a, err := resolve.ParseAddr(cfg.I2C.Address)
			if err != nil {
				return nil, err
			}
			d.Configured = a
		}
		return d, nil
	default:
		a, err := resolve.ParseAddr(cfg.I2C.Address)
		if err != nil {
			return nil, err
		}
		return resolve.Static(a), nil
	}
}

func connectMQTT(c MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(c.Server).SetClientID(c.ClientID)
	if c.Username != "" {
		opts.SetUsername(c.Username)
	}
	if c.Password != "" {
		opts.SetPassword(c.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}

func mainImpl() error {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		return err
	}
	zl, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer zl.Sync()
	log := zapr.NewLogger(zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := host.Init(); err != nil {
		return err
	}
	b, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		return err
	}
	defer b.Close()

	r, err := newResolver(cfg, b, log.WithName("resolve"))
	if err != nil {
		return err
	}
	addr, err := r.Resolve()
	if err != nil {
		return err
	}

	var nodes *devnode.Registry
	var reg mcp9808.Registrar
	if cfg.MQTT.Server != "" {
		client, err := connectMQTT(cfg.MQTT)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		reg = mqttnode.New(client, &mqttnode.Opts{
			Topic:           cfg.MQTT.Topic,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			Logger:          log.WithName("mqttnode"),
		})
	} else {
		nodes = devnode.New(log.WithName("devnode"))
		reg = nodes
	}

	s := mcp9808.NewSession(b, reg, &mcp9808.Opts{Name: cfg.Name, Logger: log.WithName("mcp9808")})
	if err := s.Bind(addr); err != nil {
		return err
	}
	defer func() {
		if err := s.Unbind(); err != nil {
			log.Error(err, "unbind")
		}
	}()

	if nodes == nil {
		log.Info("serving", "server", cfg.MQTT.Server, "name", cfg.Name)
		<-ctx.Done()
		return nil
	}
	out, err := newOutputs(cfg.Output)
	if err != nil {
		return err
	}
	defer out.close()
	return poll(ctx, nodes, cfg.Name, cfg.Count, cfg.Interval, out)
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "mcp9808: %s.\n", err)
		os.Exit(1)
	}
}
