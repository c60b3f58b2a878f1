// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp9808

import "fmt"

// TransportError is returned when a bus transaction fails. The underlying
// bus error is available through errors.Unwrap.
type TransportError struct {
	Op   string
	Addr uint16
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcp9808: %s at 0x%02x: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigurationError is returned by Bind when the resolution could not be
// written. The session is left unbound.
type ConfigurationError struct {
	Addr uint16
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("mcp9808: configure 0x%02x: %v", e.Addr, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// RegistrationError is returned by Bind when the Registrar refused a step.
// Every step completed before Step has been released when it is returned.
type RegistrationError struct {
	Step string
	Addr uint16
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("mcp9808: register 0x%02x: %s: %v", e.Addr, e.Step, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// UnboundOperationError is returned when an operation is attempted in a
// state that does not allow it, for example Read before Bind returned.
type UnboundOperationError struct {
	Op    string
	State State
}

func (e *UnboundOperationError) Error() string {
	return fmt.Sprintf("mcp9808: %s: session is %s", e.Op, e.State)
}
