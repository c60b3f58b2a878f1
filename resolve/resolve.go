// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package resolve finds the bus address of a device before a driver binds
// to it.
//
// Static returns a configured address, Probe detects the device at one of a
// list of candidate addresses and DeviceTree reads the address from a
// flattened device tree as exposed in /proc/device-tree.
package resolve

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// MaxAddr is the largest 10-bit I²C address.
const MaxAddr = 0x3ff

// ErrNoDevice is returned when no device could be located.
var ErrNoDevice = errors.New("resolve: no device found")

// Resolver yields the address to bind to.
type Resolver interface {
	Resolve() (uint16, error)
}

// Static is an address known in advance.
type Static uint16

// Resolve implements Resolver.
func (s Static) Resolve() (uint16, error) {
	if s > MaxAddr {
		return 0, fmt.Errorf("resolve: address 0x%x out of range", uint16(s))
	}
	return uint16(s), nil
}

// Probe tries each of Addrs in order and returns the first one Detect
// accepts.
type Probe struct {
	Addrs  []uint16
	Detect func(addr uint16) error
	Logger logr.Logger
}

// Resolve implements Resolver.
func (p *Probe) Resolve() (uint16, error) {
	var errs []error
	for _, a := range p.Addrs {
		err := p.Detect(a)
		if err == nil {
			p.Logger.V(1).Info("device detected", "addr", fmt.Sprintf("0x%02x", a))
			return a, nil
		}
		errs = append(errs, err)
	}
	return 0, errors.Join(append([]error{ErrNoDevice}, errs...)...)
}

// DeviceTree looks up the first node whose compatible property lists
// Compatible and returns its reg property.
//
// When Configured is non zero and differs from the address found in the
// tree, a warning is logged and the tree wins.
type DeviceTree struct {
	FS         fs.FS
	Compatible string
	Configured uint16
	Logger     logr.Logger
}

// Resolve implements Resolver.
func (d *DeviceTree) Resolve() (uint16, error) {
	var found []string
	err := fs.WalkDir(d.FS, ".", func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() || e.Name() != "compatible" {
			return nil
		}
		b, err := fs.ReadFile(d.FS, p)
		if err != nil {
			return err
		}
		for _, c := range bytes.Split(bytes.TrimRight(b, "\x00"), []byte{0}) {
			if string(c) == d.Compatible {
				found = append(found, path.Dir(p))
				break
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("resolve: walk device tree: %w", err)
	}
	if len(found) == 0 {
		return 0, fmt.Errorf("%w: no node compatible with %q", ErrNoDevice, d.Compatible)
	}
	if len(found) > 1 {
		d.Logger.Info("several compatible nodes, using the first", "nodes", found)
	}
	addr, err := readReg(d.FS, found[0])
	if err != nil {
		return 0, err
	}
	if d.Configured != 0 && d.Configured != addr {
		d.Logger.Info("warning: configured address differs from device tree",
			"configured", fmt.Sprintf("0x%02x", d.Configured),
			"discovered", fmt.Sprintf("0x%02x", addr),
			"node", found[0])
	}
	return addr, nil
}

// readReg decodes the single cell reg property of node.
func readReg(fsys fs.FS, node string) (uint16, error) {
	b, err := fs.ReadFile(fsys, path.Join(node, "reg"))
	if err != nil {
		return 0, fmt.Errorf("resolve: %s: %w", node, err)
	}
	if len(b) < 4 {
		return 0, fmt.Errorf("resolve: %s: reg property is %d bytes", node, len(b))
	}
	v := binary.BigEndian.Uint32(b[:4])
	if v > MaxAddr {
		return 0, fmt.Errorf("resolve: %s: address 0x%x out of range", node, v)
	}
	return uint16(v), nil
}

// ParseAddr parses a decimal or 0x prefixed hexadecimal address.
func ParseAddr(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, fmt.Errorf("resolve: invalid address: %w", err)
	}
	if v > MaxAddr {
		return 0, fmt.Errorf("resolve: address 0x%x out of range", v)
	}
	return uint16(v), nil
}
