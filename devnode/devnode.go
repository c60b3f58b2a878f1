// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package devnode is an in-process registry of read-only device nodes.
//
// A driver allocates a node identifier, attaches the function that produces
// its current value, adds the node and finally publishes it under its name.
// Callers open published nodes by name; every open yields one value, read
// until io.EOF.
//
// A Registry only accepts one node per name at a time. Separate Registry
// values share nothing.
package devnode

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/go-logr/logr"
)

var (
	// ErrBusy is returned by AllocID when the name is already allocated.
	ErrBusy = errors.New("devnode: name busy")
	// ErrNotFound is returned for unknown identifiers and names.
	ErrNotFound = errors.New("devnode: no such node")
	// ErrState is returned when a step is applied out of order.
	ErrState = errors.New("devnode: invalid node state")
	// ErrRemoved is returned by reads on a node that was unpublished after
	// it was opened.
	ErrRemoved = errors.New("devnode: node removed")
)

type stage int

const (
	allocated stage = iota
	initialized
	added
	published
)

type node struct {
	name    string
	stage   stage
	produce func() ([]byte, error)
}

// Registry holds device nodes. The zero value is not usable; use New.
type Registry struct {
	log logr.Logger

	mu    sync.Mutex
	next  uint32
	nodes map[uint32]*node
	names map[string]uint32
}

// New returns an empty Registry. log may be the zero value.
func New(log logr.Logger) *Registry {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Registry{log: log, next: 1, nodes: map[uint32]*node{}, names: map[string]uint32{}}
}

// AllocID reserves name and returns its identifier.
func (r *Registry) AllocID(name string) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		return 0, errors.New("devnode: empty name")
	}
	if _, ok := r.names[name]; ok {
		return 0, fmt.Errorf("%w: %q", ErrBusy, name)
	}
	id := r.next
	r.next++
	r.nodes[id] = &node{name: name}
	r.names[name] = id
	r.log.V(1).Info("allocated node id", "name", name, "id", id)
	return id, nil
}

// FreeID releases an identifier obtained from AllocID.
func (r *Registry) FreeID(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.at(id, allocated)
	if err != nil {
		return err
	}
	delete(r.nodes, id)
	delete(r.names, n.name)
	r.log.V(1).Info("freed node id", "name", n.name, "id", id)
	return nil
}

// Init attaches produce to the node.
func (r *Registry) Init(id uint32, produce func() ([]byte, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.at(id, allocated)
	if err != nil {
		return err
	}
	if produce == nil {
		return errors.New("devnode: nil produce function")
	}
	n.produce = produce
	n.stage = initialized
	return nil
}

// Deinit detaches the produce function.
func (r *Registry) Deinit(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.at(id, initialized)
	if err != nil {
		return err
	}
	n.produce = nil
	n.stage = allocated
	return nil
}

// Add makes the node live in the registry. It is not visible to Open until
// published.
func (r *Registry) Add(id uint32) error {
	return r.advance(id, initialized, added)
}

// Del reverts Add.
func (r *Registry) Del(id uint32) error {
	return r.advance(id, added, initialized)
}

// Publish makes the node visible to Open.
func (r *Registry) Publish(id uint32) error {
	if err := r.advance(id, added, published); err != nil {
		return err
	}
	r.log.Info("node published", "name", r.nameOf(id))
	return nil
}

// Unpublish hides the node. Files already open return ErrRemoved.
func (r *Registry) Unpublish(id uint32) error {
	name := r.nameOf(id)
	if err := r.advance(id, published, added); err != nil {
		return err
	}
	r.log.Info("node unpublished", "name", name)
	return nil
}

// Names returns the published node names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.nodes {
		if n.stage == published {
			out = append(out, n.name)
		}
	}
	sort.Strings(out)
	return out
}

// Open returns a reader on the published node name.
func (r *Registry) Open(name string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.names[name]
	if !ok || r.nodes[id].stage != published {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	r.log.V(1).Info("node opened", "name", name)
	return &file{r: r, id: id, n: r.nodes[id]}, nil
}

func (r *Registry) advance(id uint32, from, to stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.at(id, from)
	if err != nil {
		return err
	}
	n.stage = to
	return nil
}

// at returns node id, which must be in stage s. r.mu must be held.
func (r *Registry) at(id uint32, s stage) (*node, error) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if n.stage != s {
		return nil, fmt.Errorf("%w: %q is %s, expected %s", ErrState, n.name, n.stage, s)
	}
	return n, nil
}

func (r *Registry) nameOf(id uint32) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[id]; ok {
		return n.name
	}
	return ""
}

func (s stage) String() string {
	switch s {
	case allocated:
		return "allocated"
	case initialized:
		return "initialized"
	case added:
		return "added"
	case published:
		return "published"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// file is one open of a node. The value is produced on the first Read and
// served from then on; once consumed, Read returns io.EOF.
type file struct {
	r      *Registry
	id     uint32
	n      *node
	buf    []byte
	off    int
	filled bool
	closed bool
}

func (f *file) Read(p []byte) (int, error) {
	if f.closed {
		return 0, errors.New("devnode: read on closed file")
	}
	if !f.filled {
		b, err := f.fill()
		if err != nil {
			return 0, err
		}
		f.buf = b
		f.filled = true
	}
	if f.off >= len(f.buf) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.off:])
	f.off += n
	return n, nil
}

// fill calls the node's produce function with the registry locked, which
// serializes it against other reads and against teardown.
func (f *file) fill() ([]byte, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	if cur, ok := f.r.nodes[f.id]; !ok || cur != f.n || f.n.stage != published {
		return nil, fmt.Errorf("%w: %q", ErrRemoved, f.n.name)
	}
	return f.n.produce()
}

func (f *file) Close() error {
	f.closed = true
	return nil
}
