// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/thermo/gauge"
	"github.com/GermanBionicSystems/thermo/readout"
)

// opener is implemented by devnode.Registry.
type opener interface {
	Open(name string) (io.ReadCloser, error)
}

// outputs is where each reading goes.
type outputs struct {
	console io.Writer
	gauge   *gauge.Dev
	png     string
}

func newOutputs(c OutputConfig) (*outputs, error) {
	o := &outputs{png: c.PNG}
	if c.Console {
		o.console = colorable.NewColorableStdout()
	}
	if c.Gauge {
		g, err := gauge.New(&gauge.Opts{
			X:   40,
			Min: physic.ZeroCelsius - 40*physic.Kelvin,
			Max: physic.ZeroCelsius + 125*physic.Kelvin,
		})
		if err != nil {
			return nil, err
		}
		o.gauge = g
	}
	return o, nil
}

func (o *outputs) emit(name string, value []byte) error {
	text := strings.TrimSpace(string(value))
	if o.console != nil {
		if _, err := fmt.Fprintf(o.console, "%s: %s°C\n", name, text); err != nil {
			return err
		}
	}
	if o.gauge != nil {
		t, err := parseReading(text)
		if err != nil {
			return err
		}
		if err := o.gauge.Show(t); err != nil {
			return err
		}
	}
	if o.png != "" {
		if err := readout.Save(o.png, text, name+" °C", nil); err != nil {
			return err
		}
	}
	return nil
}

func (o *outputs) close() {
	if o.gauge != nil {
		_ = o.gauge.Halt()
	}
}

// parseReading converts the text produced by a node, in °C, back to a
// physic.Temperature.
func parseReading(s string) (physic.Temperature, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reading %q: %w", s, err)
	}
	return physic.ZeroCelsius + physic.Temperature(v*float64(physic.Kelvin)), nil
}

// readNode opens name once and returns the value it produced.
func readNode(n opener, name string) ([]byte, error) {
	f, err := n.Open(name)
	if err != nil {
		return nil, err
	}
	b, err := io.ReadAll(f)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	return b, err
}

// poll reads name count times, or until ctx is done when count is 0.
func poll(ctx context.Context, n opener, name string, count int, interval time.Duration, out *outputs) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for i := 0; count == 0 || i < count; i++ {
		if i != 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
		}
		b, err := readNode(n, name)
		if err != nil {
			return err
		}
		if err := out.emit(name, b); err != nil {
			return err
		}
	}
	return nil
}
