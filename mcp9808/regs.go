// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp9808

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// regs performs the register transactions the sensor needs. It does not
// interpret what it reads.
type regs struct {
	d *i2c.Dev
}

func (r *regs) addr() uint16 {
	return r.d.Addr
}

// writeResolution sets the conversion resolution. Subsequent conversions use
// the new setting.
func (r *regs) writeResolution(code Resolution) error {
	if err := r.d.Tx([]byte{_REGISTER_RESOLUTION, byte(code)}, nil); err != nil {
		return &TransportError{Op: "write resolution", Addr: r.addr(), Err: err}
	}
	return nil
}

// readTemperature selects the ambient temperature register and reads it
// back. The register pointer is stateful, so the pointer write is a
// transaction of its own and completes before the read starts.
func (r *regs) readTemperature() (Frame, error) {
	buf, err := r.readRegister(_REGISTER_TEMPERATURE, 2)
	if err != nil {
		return Frame{}, &TransportError{Op: "read temperature", Addr: r.addr(), Err: err}
	}
	return Frame{Hi: buf[0], Lo: buf[1]}, nil
}

func (r *regs) readRegister(reg byte, n int) ([]byte, error) {
	if err := r.d.Tx([]byte{reg}, nil); err != nil {
		return nil, fmt.Errorf("select register 0x%02x: %w", reg, err)
	}
	buf := make([]byte, n)
	if err := r.d.Tx(nil, buf); err != nil {
		return nil, fmt.Errorf("read register 0x%02x: %w", reg, err)
	}
	return buf, nil
}

// ErrNotDetected is returned by Detect when the identification registers do
// not match an MCP9808.
var ErrNotDetected = errors.New("mcp9808: device not detected")

// Detect reads the manufacturer and device ID registers at addr and reports
// whether they identify an MCP9808. It does not change the sensor
// configuration.
func Detect(b i2c.Bus, addr uint16) error {
	r := &regs{d: &i2c.Dev{Bus: b, Addr: addr}}
	m, err := r.readRegister(_REGISTER_MANUFACTURER_ID, 2)
	if err != nil {
		return &TransportError{Op: "read manufacturer id", Addr: addr, Err: err}
	}
	d, err := r.readRegister(_REGISTER_DEVICE_ID, 2)
	if err != nil {
		return &TransportError{Op: "read device id", Addr: addr, Err: err}
	}
	if mid := uint16(m[0])<<8 | uint16(m[1]); mid != manufacturerID || d[0] != deviceID {
		return fmt.Errorf("%w at 0x%02x: manufacturer 0x%04x device 0x%02x%02x", ErrNotDetected, addr, mid, d[0], d[1])
	}
	return nil
}
