// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp9808

import (
	"fmt"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Resolution is the value written to the resolution register. It selects
// the ADC conversion precision and, with it, the conversion time.
type Resolution byte

const (
	ResolutionHalf      Resolution = iota // 0.5°C, ~30ms
	ResolutionQuarter                     // 0.25°C, ~65ms
	ResolutionEighth                      // 0.125°C, ~130ms
	ResolutionSixteenth                   // 0.0625°C, ~250ms
)

const (
	// DefaultAddress is the address with A0-A2 tied low.
	DefaultAddress i2c.Addr = 0x18

	// DefaultName is the node name registered by a Session.
	DefaultName = "mcp9808"

	// Addresses of registers to read/write.
	_REGISTER_TEMPERATURE     byte = 0x05
	_REGISTER_MANUFACTURER_ID byte = 0x06
	_REGISTER_DEVICE_ID       byte = 0x07
	_REGISTER_RESOLUTION      byte = 0x08

	// The resolution every Session configures.
	configuredResolution = ResolutionEighth

	manufacturerID uint16 = 0x0054
	deviceID       byte   = 0x04

	// Temperature is kept in units of 1/scale °C.
	scale = 10000
)

var resolutionStep = [...]physic.Temperature{
	ResolutionHalf:      500 * physic.MilliKelvin,
	ResolutionQuarter:   250 * physic.MilliKelvin,
	ResolutionEighth:    125 * physic.MilliKelvin,
	ResolutionSixteenth: 62500 * physic.MicroKelvin,
}

var resolutionName = [...]string{"0.5°C", "0.25°C", "0.125°C", "0.0625°C"}

func (r Resolution) String() string {
	if int(r) < len(resolutionName) {
		return resolutionName[r]
	}
	return fmt.Sprintf("Resolution(%d)", byte(r))
}

// Flags are the alert comparator bits the sensor reports with every
// temperature frame.
type Flags byte

const (
	FlagLower    Flags = 1 << 5 // TA < TLOWER
	FlagUpper    Flags = 1 << 6 // TA > TUPPER
	FlagCritical Flags = 1 << 7 // TA >= TCRIT

	flagMask = FlagLower | FlagUpper | FlagCritical
)

func (f Flags) String() string {
	if f&flagMask == 0 {
		return "none"
	}
	var parts []string
	if f&FlagCritical != 0 {
		parts = append(parts, "critical")
	}
	if f&FlagUpper != 0 {
		parts = append(parts, "upper")
	}
	if f&FlagLower != 0 {
		parts = append(parts, "lower")
	}
	return strings.Join(parts, "|")
}

// Frame is the raw content of the ambient temperature register.
type Frame struct {
	Hi, Lo byte
}

// Flags returns the alert bits of the frame.
func (f Frame) Flags() Flags {
	return Flags(f.Hi) & flagMask
}

func (f Frame) String() string {
	return fmt.Sprintf("%02X %02X", f.Hi, f.Lo)
}

// Temperature is a decoded reading in units of 0.0001°C.
type Temperature int32

// String formats the reading as "<int>.<4 digit fraction>". The sign is
// written in front of the integer part, including for readings between -1
// and 0 where the integer part itself is zero.
func (t Temperature) String() string {
	whole := int32(t) / scale
	frac := int32(t) % scale
	sign := ""
	if frac < 0 {
		frac = -frac
		if whole == 0 {
			sign = "-"
		}
	}
	return sign + strconv.Itoa(int(whole)) + "." + fmt.Sprintf("%04d", frac)
}

// Celsius returns the reading as a floating point value.
func (t Temperature) Celsius() float64 {
	return float64(t) / scale
}

// Physic converts the reading to the periph representation.
func (t Temperature) Physic() physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(t)*100*physic.MicroKelvin
}
