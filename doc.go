// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package thermo is a container for the MCP9808 temperature sensor driver
// and the plumbing that exposes its readings.
//
// mcp9808 binds the sensor and reads it. devnode and mqttnode are the two
// registrars a bound sensor can be published with. resolve finds the sensor
// address, gauge and readout present readings, and cmd/mcp9808 ties them
// together.
package thermo
