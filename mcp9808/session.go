// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp9808

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// State is the lifecycle state of a Session.
type State int

const (
	Unbound State = iota
	Configuring
	Ready
	Removed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Configuring:
		return "configuring"
	case Ready:
		return "ready"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Registrar exposes a reading to callers. A Session calls AllocID, Init, Add
// and Publish in that order during Bind, and the matching release methods in
// the reverse order on failure or Unbind.
//
// produce returns the current reading as text. It must not be called
// concurrently; the Registrar serializes its callers.
type Registrar interface {
	AllocID(name string) (uint32, error)
	FreeID(id uint32) error
	Init(id uint32, produce func() ([]byte, error)) error
	Deinit(id uint32) error
	Add(id uint32) error
	Del(id uint32) error
	Publish(id uint32) error
	Unpublish(id uint32) error
}

// Opts holds the configuration options for a Session.
type Opts struct {
	// Name is the node name passed to the Registrar. Default is DefaultName.
	Name string
	// Logger receives lifecycle events and alert flags. The zero value
	// discards everything.
	Logger logr.Logger
}

// handle is the bound sensor: its registers and configured resolution.
type handle struct {
	regs       *regs
	resolution Resolution
}

// Session drives one sensor through bind, read and unbind.
//
// Read may be called from the Registrar's goroutines while Bind or Unbind
// runs. Bind and Unbind must not be called concurrently with each other.
type Session struct {
	bus  i2c.Bus
	reg  Registrar
	name string
	log  logr.Logger
	res  releaseStack

	// mu guards state and h. It is never held across Registrar calls, which
	// may hold the Registrar's own lock while calling Produce.
	mu    sync.Mutex
	state State
	h     *handle
}

// NewSession returns an unbound Session that will talk over b and register
// with reg. opts can be nil.
func NewSession(b i2c.Bus, reg Registrar, opts *Opts) *Session {
	s := &Session{bus: b, reg: reg, name: DefaultName, log: logr.Discard()}
	if opts != nil {
		if opts.Name != "" {
			s.name = opts.Name
		}
		if opts.Logger.GetSink() != nil {
			s.log = opts.Logger
		}
	}
	return s
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound address, or 0 when no sensor is bound.
func (s *Session) Addr() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil {
		return 0
	}
	return s.h.regs.addr()
}

// Bind configures the sensor at addr and registers the session's reading
// with the Registrar. On any failure everything acquired so far is released
// and the session returns to Unbound.
func (s *Session) Bind(addr uint16) error {
	s.mu.Lock()
	if s.state != Unbound {
		st := s.state
		s.mu.Unlock()
		return &UnboundOperationError{Op: "bind", State: st}
	}
	s.state = Configuring
	s.mu.Unlock()
	log := s.log.WithValues("addr", fmt.Sprintf("0x%02x", addr))
	log.V(1).Info("binding sensor")

	h := &handle{regs: &regs{d: &i2c.Dev{Bus: s.bus, Addr: addr}}, resolution: configuredResolution}
	if err := h.regs.writeResolution(h.resolution); err != nil {
		s.setState(Unbound, nil)
		log.Error(err, "failed to set resolution", "resolution", h.resolution)
		return &ConfigurationError{Addr: addr, Err: err}
	}
	log.Info("resolution set", "resolution", h.resolution)

	if err := s.register(addr); err != nil {
		s.setState(Unbound, nil)
		log.Error(err, "failed to register node", "name", s.name)
		return err
	}
	s.setState(Ready, h)
	log.Info("sensor ready", "name", s.name)
	return nil
}

// register runs the Registrar steps, pushing a release for each completed
// one. On failure the pushed releases run before it returns.
func (s *Session) register(addr uint16) error {
	id, err := s.reg.AllocID(s.name)
	if err != nil {
		return &RegistrationError{Step: "alloc", Addr: addr, Err: err}
	}
	s.res.push("alloc", func() error { return s.reg.FreeID(id) })

	steps := []struct {
		name    string
		acquire func() error
		release func() error
	}{
		{"init", func() error { return s.reg.Init(id, s.Produce) }, func() error { return s.reg.Deinit(id) }},
		{"add", func() error { return s.reg.Add(id) }, func() error { return s.reg.Del(id) }},
		{"publish", func() error { return s.reg.Publish(id) }, func() error { return s.reg.Unpublish(id) }},
	}
	for _, step := range steps {
		if err := step.acquire(); err != nil {
			if rerr := s.res.unwind(); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return &RegistrationError{Step: step.name, Addr: addr, Err: err}
		}
		s.res.push(step.name, step.release)
	}
	return nil
}

// Read fetches and decodes the current temperature. Alert flags set in the
// frame are logged. Bus errors are returned as is, wrapped in a
// TransportError; nothing is retried.
func (s *Session) Read() (Temperature, error) {
	h, err := s.bound("read")
	if err != nil {
		return 0, err
	}
	f, err := h.regs.readTemperature()
	if err != nil {
		return 0, err
	}
	log := s.log.WithValues("addr", fmt.Sprintf("0x%02x", h.regs.addr()))
	flags := f.Flags()
	if flags&FlagCritical != 0 {
		log.Info("temperature at or above critical limit")
	}
	if flags&FlagUpper != 0 {
		log.Info("temperature above upper limit")
	}
	if flags&FlagLower != 0 {
		log.Info("temperature below lower limit")
	}
	t := Decode(f)
	log.V(1).Info("temperature read", "raw", f.String(), "celsius", t.String())
	return t, nil
}

// Produce returns the current reading formatted for the read interface,
// "<int>.<4 digit fraction>\n".
func (s *Session) Produce() ([]byte, error) {
	t, err := s.Read()
	if err != nil {
		return nil, err
	}
	return []byte(t.String() + "\n"), nil
}

// Sense reads the temperature into env. Implements part of physic.SenseEnv;
// continuous sensing is not supported.
func (s *Session) Sense(env *physic.Env) error {
	t, err := s.Read()
	if err == nil {
		env.Temperature = t.Physic()
	}
	return err
}

// Precision returns the step between two consecutive readings at the
// resolution of the bound sensor, or at the resolution Bind configures when
// none is bound.
func (s *Session) Precision(env *physic.Env) {
	r := configuredResolution
	s.mu.Lock()
	if s.h != nil {
		r = s.h.resolution
	}
	s.mu.Unlock()
	env.Temperature = resolutionStep[r]
	env.Pressure = 0
	env.Humidity = 0
}

// Unbind removes the node from the Registrar, in the reverse order it was
// registered, and releases the sensor. It is only valid on a Ready session.
func (s *Session) Unbind() error {
	h, err := s.bound("unbind")
	if err != nil {
		return err
	}
	addr := h.regs.addr()
	err = s.res.unwind()
	s.setState(Removed, nil)
	log := s.log.WithValues("addr", fmt.Sprintf("0x%02x", addr))
	if err != nil {
		log.Error(err, "node teardown incomplete", "name", s.name)
		return fmt.Errorf("mcp9808: unbind 0x%02x: %w", addr, err)
	}
	log.Info("sensor removed", "name", s.name)
	return nil
}

func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == nil {
		return fmt.Sprintf("mcp9808: %s", s.state)
	}
	return fmt.Sprintf("mcp9808: %s", s.h.regs.d.String())
}

// bound returns the handle of a Ready session.
func (s *Session) bound(op string) (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ready {
		return nil, &UnboundOperationError{Op: op, State: s.state}
	}
	return s.h, nil
}

func (s *Session) setState(st State, h *handle) {
	s.mu.Lock()
	s.state = st
	s.h = h
	s.mu.Unlock()
}

// releaseStack holds the release functions of acquired resources.
type releaseStack []release

type release struct {
	name string
	fn   func() error
}

func (r *releaseStack) push(name string, fn func() error) {
	*r = append(*r, release{name: name, fn: fn})
}

// unwind pops and runs every release, last pushed first. It keeps going
// after a failure and returns the joined errors.
func (r *releaseStack) unwind() error {
	var errs []error
	for len(*r) > 0 {
		n := len(*r) - 1
		rel := (*r)[n]
		*r = (*r)[:n]
		if err := rel.fn(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", rel.name, err))
		}
	}
	return errors.Join(errs...)
}
