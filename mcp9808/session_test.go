// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp9808

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

const addr uint16 = 0x18

var (
	errBus      = errors.New("bus stalled")
	errRegister = errors.New("registrar refused")
)

func bindOps() []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{_REGISTER_RESOLUTION, byte(ResolutionEighth)}},
	}
}

func readOps(hi, lo byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{_REGISTER_TEMPERATURE}},
		{Addr: addr, R: []byte{hi, lo}},
	}
}

// fakeRegistrar records every call it receives.
type fakeRegistrar struct {
	calls       []string
	failAt      string
	failRelease string
	produce     func() ([]byte, error)
	onPublish   func()
}

func (f *fakeRegistrar) call(name string) error {
	f.calls = append(f.calls, name)
	if name == f.failAt || name == f.failRelease {
		return errRegister
	}
	return nil
}

func (f *fakeRegistrar) AllocID(name string) (uint32, error) {
	if err := f.call("alloc"); err != nil {
		return 0, err
	}
	return 3, nil
}

func (f *fakeRegistrar) FreeID(id uint32) error { return f.call("free") }

func (f *fakeRegistrar) Init(id uint32, produce func() ([]byte, error)) error {
	f.produce = produce
	return f.call("init")
}

func (f *fakeRegistrar) Deinit(id uint32) error { return f.call("deinit") }
func (f *fakeRegistrar) Add(id uint32) error    { return f.call("add") }
func (f *fakeRegistrar) Del(id uint32) error    { return f.call("del") }

func (f *fakeRegistrar) Publish(id uint32) error {
	if f.onPublish != nil {
		f.onPublish()
	}
	return f.call("publish")
}

func (f *fakeRegistrar) Unpublish(id uint32) error { return f.call("unpublish") }

// flakyBus replays its Playback until err is set.
type flakyBus struct {
	*i2ctest.Playback
	err error
}

func (b *flakyBus) Tx(addr uint16, w, r []byte) error {
	if b.err != nil {
		return b.err
	}
	return b.Playback.Tx(addr, w, r)
}

// silentBus fails the test on any transaction.
type silentBus struct {
	i2ctest.Playback
	t *testing.T
}

func (b *silentBus) Tx(addr uint16, w, r []byte) error {
	b.t.Errorf("unexpected Tx(0x%02x, %v, %d bytes)", addr, w, len(r))
	return errBus
}

func TestBindUnbind(t *testing.T) {
	pb := &i2ctest.Playback{Ops: bindOps()}
	reg := &fakeRegistrar{}
	s := NewSession(pb, reg, nil)
	if err := s.Bind(addr); err != nil {
		t.Fatal(err)
	}
	if s.State() != Ready || s.Addr() != addr {
		t.Fatalf("state=%s addr=0x%02x", s.State(), s.Addr())
	}
	if err := s.Unbind(); err != nil {
		t.Fatal(err)
	}
	if s.State() != Removed || s.Addr() != 0 {
		t.Fatalf("state=%s addr=0x%02x", s.State(), s.Addr())
	}
	expected := []string{"alloc", "init", "add", "publish", "unpublish", "del", "deinit", "free"}
	if diff := cmp.Diff(expected, reg.calls); diff != "" {
		t.Errorf("registrar calls (-want +got):\n%s", diff)
	}
	if err := pb.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestBindRegistrationRollback(t *testing.T) {
	tests := []struct {
		failAt   string
		expected []string
	}{
		{"alloc", []string{"alloc"}},
		{"init", []string{"alloc", "init", "free"}},
		{"add", []string{"alloc", "init", "add", "deinit", "free"}},
		{"publish", []string{"alloc", "init", "add", "publish", "del", "deinit", "free"}},
	}
	for _, test := range tests {
		t.Run(test.failAt, func(t *testing.T) {
			ops := append(bindOps(), bindOps()...)
			pb := &i2ctest.Playback{Ops: ops}
			reg := &fakeRegistrar{failAt: test.failAt}
			s := NewSession(pb, reg, nil)

			err := s.Bind(addr)
			var rerr *RegistrationError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected RegistrationError, got %v", err)
			}
			if rerr.Step != test.failAt || rerr.Addr != addr || !errors.Is(err, errRegister) {
				t.Errorf("unexpected error %#v", rerr)
			}
			if diff := cmp.Diff(test.expected, reg.calls); diff != "" {
				t.Errorf("registrar calls (-want +got):\n%s", diff)
			}
			if s.State() != Unbound {
				t.Errorf("state=%s", s.State())
			}
			if _, err := s.Read(); err == nil {
				t.Error("read succeeded after failed bind")
			}

			// The session is reusable once the registrar recovers.
			reg.failAt = ""
			reg.calls = nil
			if err := s.Bind(addr); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]string{"alloc", "init", "add", "publish"}, reg.calls); diff != "" {
				t.Errorf("registrar calls (-want +got):\n%s", diff)
			}
			if err := pb.Close(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestBindRollbackFailure(t *testing.T) {
	pb := &i2ctest.Playback{Ops: bindOps()}
	reg := &fakeRegistrar{failAt: "publish", failRelease: "deinit"}
	s := NewSession(pb, reg, nil)
	err := s.Bind(addr)
	if !errors.Is(err, errRegister) {
		t.Fatalf("unexpected error %v", err)
	}
	if !strings.Contains(err.Error(), "release init") {
		t.Errorf("rollback failure not reported: %v", err)
	}
	expected := []string{"alloc", "init", "add", "publish", "del", "deinit", "free"}
	if diff := cmp.Diff(expected, reg.calls); diff != "" {
		t.Errorf("registrar calls (-want +got):\n%s", diff)
	}
}

func TestBindConfigurationFailure(t *testing.T) {
	bus := &flakyBus{Playback: &i2ctest.Playback{}, err: errBus}
	reg := &fakeRegistrar{}
	s := NewSession(bus, reg, nil)
	err := s.Bind(addr)
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) || cerr.Addr != addr {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	var terr *TransportError
	if !errors.As(err, &terr) || !errors.Is(err, errBus) {
		t.Fatalf("expected TransportError wrapping the bus error, got %v", err)
	}
	if len(reg.calls) != 0 {
		t.Errorf("registrar used after configuration failure: %v", reg.calls)
	}
	if s.State() != Unbound || s.Addr() != 0 {
		t.Errorf("state=%s addr=0x%02x", s.State(), s.Addr())
	}
}

func TestReadBeforeBind(t *testing.T) {
	bus := &silentBus{t: t}
	s := NewSession(bus, &fakeRegistrar{}, nil)
	_, err := s.Read()
	var uerr *UnboundOperationError
	if !errors.As(err, &uerr) || uerr.State != Unbound || uerr.Op != "read" {
		t.Fatalf("expected UnboundOperationError, got %v", err)
	}
}

func TestReadWhileConfiguring(t *testing.T) {
	pb := &i2ctest.Playback{Ops: bindOps()}
	reg := &fakeRegistrar{}
	var produceErr error
	reg.onPublish = func() {
		_, produceErr = reg.produce()
	}
	s := NewSession(pb, reg, nil)
	if err := s.Bind(addr); err != nil {
		t.Fatal(err)
	}
	var uerr *UnboundOperationError
	if !errors.As(produceErr, &uerr) || uerr.State != Configuring {
		t.Fatalf("expected UnboundOperationError while configuring, got %v", produceErr)
	}
	// Only the resolution write reached the bus.
	if err := pb.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRead(t *testing.T) {
	ops := bindOps()
	ops = append(ops, readOps(0x01, 0x94)...)
	ops = append(ops, readOps(0xc1, 0x94)...)
	ops = append(ops, readOps(0x1f, 0x80)...)
	pb := &i2ctest.Playback{Ops: ops}
	record := &i2ctest.Record{Bus: pb}

	var lines []string
	log := funcr.New(func(prefix, args string) {
		lines = append(lines, args)
	}, funcr.Options{})

	reg := &fakeRegistrar{}
	s := NewSession(record, reg, &Opts{Name: "probe0", Logger: log})
	if err := s.Bind(addr); err != nil {
		t.Fatal(err)
	}

	b, err := reg.produce()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "25.2500\n" {
		t.Errorf("produce = %q", b)
	}
	lines = nil
	b, err = reg.produce()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "25.2500\n" {
		t.Errorf("produce = %q", b)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "critical") || !strings.Contains(joined, "above upper") {
		t.Errorf("alert flags not logged: %s", joined)
	}
	if strings.Contains(joined, "below lower") {
		t.Errorf("unexpected flag logged: %s", joined)
	}

	temp, err := s.Read()
	if err != nil {
		t.Fatal(err)
	}
	if temp.String() != "-248.0000" {
		t.Errorf("Read() = %s", temp)
	}
	if len(record.Ops) != len(ops) {
		t.Errorf("recorded %d ops, expected %d", len(record.Ops), len(ops))
	}
	if err := pb.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestReadTransportError(t *testing.T) {
	bus := &flakyBus{Playback: &i2ctest.Playback{Ops: bindOps()}}
	s := NewSession(bus, &fakeRegistrar{}, nil)
	if err := s.Bind(addr); err != nil {
		t.Fatal(err)
	}
	bus.err = errBus
	_, err := s.Read()
	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "read temperature" || terr.Addr != addr {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !errors.Is(err, errBus) {
		t.Errorf("bus error lost: %v", err)
	}
	if _, err := s.Produce(); !errors.Is(err, errBus) {
		t.Errorf("produce: %v", err)
	}
	// A failed read does not change the lifecycle.
	if s.State() != Ready {
		t.Errorf("state=%s", s.State())
	}
}

func TestUnbindMisuse(t *testing.T) {
	pb := &i2ctest.Playback{Ops: bindOps()}
	s := NewSession(pb, &fakeRegistrar{}, nil)
	var uerr *UnboundOperationError
	if err := s.Unbind(); !errors.As(err, &uerr) || uerr.State != Unbound {
		t.Errorf("unbind before bind: %v", err)
	}
	if err := s.Bind(addr); err != nil {
		t.Fatal(err)
	}
	if err := s.Bind(addr); !errors.As(err, &uerr) || uerr.State != Ready {
		t.Errorf("second bind: %v", err)
	}
	if err := s.Unbind(); err != nil {
		t.Fatal(err)
	}
	if err := s.Unbind(); !errors.As(err, &uerr) || uerr.State != Removed {
		t.Errorf("second unbind: %v", err)
	}
	if err := s.Bind(addr); !errors.As(err, &uerr) || uerr.State != Removed {
		t.Errorf("bind after removal: %v", err)
	}
}

func TestUnbindReleaseFailure(t *testing.T) {
	pb := &i2ctest.Playback{Ops: bindOps()}
	reg := &fakeRegistrar{failRelease: "del"}
	s := NewSession(pb, reg, nil)
	if err := s.Bind(addr); err != nil {
		t.Fatal(err)
	}
	err := s.Unbind()
	if !errors.Is(err, errRegister) {
		t.Fatalf("unexpected error %v", err)
	}
	expected := []string{"alloc", "init", "add", "publish", "unpublish", "del", "deinit", "free"}
	if diff := cmp.Diff(expected, reg.calls); diff != "" {
		t.Errorf("registrar calls (-want +got):\n%s", diff)
	}
	if s.State() != Removed {
		t.Errorf("state=%s", s.State())
	}
}

func TestSense(t *testing.T) {
	ops := append(bindOps(), readOps(0x01, 0x94)...)
	pb := &i2ctest.Playback{Ops: ops}
	s := NewSession(pb, &fakeRegistrar{}, nil)
	if err := s.Bind(addr); err != nil {
		t.Fatal(err)
	}
	env := physic.Env{}
	if err := s.Sense(&env); err != nil {
		t.Fatal(err)
	}
	if expected := physic.ZeroCelsius + 25250*physic.MilliKelvin; env.Temperature != expected {
		t.Errorf("temperature %s, expected %s", env.Temperature, expected)
	}
	s.Precision(&env)
	if env.Temperature != 125*physic.MilliKelvin {
		t.Errorf("precision %s", env.Temperature)
	}
	if len(s.String()) == 0 {
		t.Error("invalid String() result")
	}
}

func TestPrecision(t *testing.T) {
	s := NewSession(&silentBus{t: t}, &fakeRegistrar{}, nil)
	env := physic.Env{}
	s.Precision(&env)
	if env.Temperature != resolutionStep[configuredResolution] {
		t.Errorf("unbound precision %s", env.Temperature)
	}
	s.setState(Ready, &handle{regs: &regs{d: &i2c.Dev{Bus: s.bus, Addr: addr}}, resolution: ResolutionSixteenth})
	s.Precision(&env)
	if env.Temperature != 62500*physic.MicroKelvin {
		t.Errorf("bound precision %s", env.Temperature)
	}
}

func TestDetect(t *testing.T) {
	pb := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: addr, W: []byte{_REGISTER_MANUFACTURER_ID}},
		{Addr: addr, R: []byte{0x00, 0x54}},
		{Addr: addr, W: []byte{_REGISTER_DEVICE_ID}},
		{Addr: addr, R: []byte{0x04, 0x01}},
	}}
	if err := Detect(pb, addr); err != nil {
		t.Fatal(err)
	}

	pb = &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: addr, W: []byte{_REGISTER_MANUFACTURER_ID}},
		{Addr: addr, R: []byte{0x00, 0x41}},
		{Addr: addr, W: []byte{_REGISTER_DEVICE_ID}},
		{Addr: addr, R: []byte{0x04, 0x00}},
	}}
	if err := Detect(pb, addr); !errors.Is(err, ErrNotDetected) {
		t.Fatalf("expected ErrNotDetected, got %v", err)
	}

	bus := &flakyBus{Playback: &i2ctest.Playback{}, err: errBus}
	var terr *TransportError
	if err := Detect(bus, addr); !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	for s, expected := range map[State]string{Unbound: "unbound", Configuring: "configuring", Ready: "ready", Removed: "removed", State(9): "State(9)"} {
		if s.String() != expected {
			t.Errorf("%d: %q", int(s), s.String())
		}
	}
	if ResolutionEighth.String() != "0.125°C" {
		t.Errorf("resolution %s", ResolutionEighth)
	}
}
