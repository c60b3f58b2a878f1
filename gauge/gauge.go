// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gauge draws a temperature as a horizontal bar on the terminal
// using ANSI color codes.
//
// Useful while the sensor sits on a bench with no display attached.
package gauge

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/physic"
)

// Opts represents the options available for this display.
type Opts struct {
	// X is the number of cells of the bar.
	X int
	// Min and Max are the temperatures at the left and right end of the bar.
	Min, Max physic.Temperature
	// Palette defaults to ansi256.Default.
	Palette *ansi256.Palette
	// W defaults to a colorable stdout.
	W io.Writer

	_ struct{}
}

// Dev is a terminal thermometer.
type Dev struct {
	w        io.Writer
	l        int
	min, max physic.Temperature
	palette  ansi256.Palette

	buf bytes.Buffer
}

var (
	cold  = color.NRGBA{0x20, 0x40, 0xff, 0xff}
	hot   = color.NRGBA{0xff, 0x30, 0x10, 0xff}
	empty = color.NRGBA{0x18, 0x18, 0x18, 0xff}
)

// New returns a Dev that draws at the console.
func New(opts *Opts) (*Dev, error) {
	if opts.X <= 0 {
		return nil, errors.New("gauge: X must be positive")
	}
	if opts.Max <= opts.Min {
		return nil, errors.New("gauge: Max must be above Min")
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	return &Dev{w: w, l: opts.X, min: opts.Min, max: opts.Max, palette: *p}, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("Gauge{%d, %s..%s}", d.l, d.min, d.max)
}

// Halt implements conn.Resource.
//
// It resets the terminal attributes and ends the line.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Show redraws the bar for t, followed by the value in text.
func (d *Dev) Show(t physic.Temperature) error {
	lit := d.Lit(t)
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for i := 0; i < d.l; i++ {
		c := empty
		if i < lit {
			c = ramp(i, d.l)
		}
		_, _ = io.WriteString(&d.buf, d.palette.Block(c))
	}
	_, _ = fmt.Fprintf(&d.buf, "\033[0m %s ", t)
	_, err := d.buf.WriteTo(d.w)
	return err
}

// Lit returns the number of cells lit for t.
func (d *Dev) Lit(t physic.Temperature) int {
	if t <= d.min {
		return 0
	}
	if t >= d.max {
		return d.l
	}
	return int(int64(t-d.min) * int64(d.l) / int64(d.max-d.min))
}

// ramp returns the color of cell i out of n, from cold to hot.
func ramp(i, n int) color.NRGBA {
	if n == 1 {
		return hot
	}
	mix := func(a, b uint8) uint8 {
		return uint8((int(a)*(n-1-i) + int(b)*i) / (n - 1))
	}
	return color.NRGBA{mix(cold.R, hot.R), mix(cold.G, hot.G), mix(cold.B, hot.B), 0xff}
}

var _ fmt.Stringer = &Dev{}
