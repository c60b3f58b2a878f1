// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mqttnode exposes device readings over MQTT.
//
// A node named n answers every message on <Topic>/n/get by producing a fresh
// reading and publishing it on <Topic>/n/state. Publishing a node announces
// it to Home Assistant with a retained discovery config; unpublishing clears
// that config.
package mqttnode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
)

const (
	// DefaultTopic is the base topic used when Opts.Topic is empty.
	DefaultTopic = "mcp9808"
	// DefaultDiscoveryPrefix is the Home Assistant discovery prefix used
	// when Opts.DiscoveryPrefix is empty.
	DefaultDiscoveryPrefix = "homeassistant"

	// discovery payload keys/values
	keyName              = "name"
	keyStateTopic        = "state_topic"
	keyUnitOfMeasurement = "unit_of_measurement"
	keyDeviceClass       = "device_class"
	keyStateClass        = "state_class"
	keyUniqueID          = "unique_id"
	unitCelsius          = "°C"
	deviceClass          = "temperature"
	stateClassMeasure    = "measurement"
)

var (
	// ErrBusy is returned by AllocID when the name is already in use.
	ErrBusy = errors.New("mqttnode: name busy")
	// ErrNotFound is returned for unknown identifiers.
	ErrNotFound = errors.New("mqttnode: no such node")
)

// Opts holds the configuration options for a Registrar.
type Opts struct {
	// Topic is the base topic. Default is DefaultTopic.
	Topic string
	// DiscoveryPrefix is the Home Assistant discovery prefix. Default is
	// DefaultDiscoveryPrefix.
	DiscoveryPrefix string
	// QoS used for subscriptions and publications.
	QoS byte
	// Logger receives registration events and failed readings. The zero
	// value discards everything.
	Logger logr.Logger
}

type entry struct {
	name       string
	produce    func() ([]byte, error)
	subscribed bool
	published  bool
}

// Registrar implements the node registration steps on top of an MQTT
// client. It serializes calls to the produce functions and only calls them
// for published nodes.
type Registrar struct {
	c      mqtt.Client
	topic  string
	prefix string
	qos    byte
	log    logr.Logger

	mu    sync.Mutex
	next  uint32
	nodes map[uint32]*entry
	names map[string]uint32
}

// New returns a Registrar publishing through c, which must be connected.
// opts can be nil.
func New(c mqtt.Client, opts *Opts) *Registrar {
	r := &Registrar{
		c:      c,
		topic:  DefaultTopic,
		prefix: DefaultDiscoveryPrefix,
		log:    logr.Discard(),
		next:   1,
		nodes:  map[uint32]*entry{},
		names:  map[string]uint32{},
	}
	if opts != nil {
		if opts.Topic != "" {
			r.topic = opts.Topic
		}
		if opts.DiscoveryPrefix != "" {
			r.prefix = opts.DiscoveryPrefix
		}
		r.qos = opts.QoS
		if opts.Logger.GetSink() != nil {
			r.log = opts.Logger
		}
	}
	return r
}

// AllocID reserves name.
func (r *Registrar) AllocID(name string) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		return 0, errors.New("mqttnode: empty name")
	}
	if _, ok := r.names[name]; ok {
		return 0, fmt.Errorf("%w: %q", ErrBusy, name)
	}
	id := r.next
	r.next++
	r.nodes[id] = &entry{name: name}
	r.names[name] = id
	return id, nil
}

// FreeID releases name.
func (r *Registrar) FreeID(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	delete(r.nodes, id)
	delete(r.names, e.name)
	return nil
}

// Init attaches produce to the node.
func (r *Registrar) Init(id uint32, produce func() ([]byte, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	e.produce = produce
	return nil
}

// Deinit detaches the produce function.
func (r *Registrar) Deinit(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	e.produce = nil
	return nil
}

// Add subscribes to the node's request topic.
func (r *Registrar) Add(id uint32) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	topic := r.requestTopic(e.name)
	if err := wait(r.c.Subscribe(topic, r.qos, r.handler(id))); err != nil {
		return fmt.Errorf("mqttnode: subscribe %s: %w", topic, err)
	}
	r.mu.Lock()
	e.subscribed = true
	r.mu.Unlock()
	r.log.V(1).Info("subscribed", "topic", topic)
	return nil
}

// Del unsubscribes from the node's request topic.
func (r *Registrar) Del(id uint32) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	e.subscribed = false
	r.mu.Unlock()
	topic := r.requestTopic(e.name)
	if err := wait(r.c.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("mqttnode: unsubscribe %s: %w", topic, err)
	}
	return nil
}

// Publish announces the node with a retained discovery config.
func (r *Registrar) Publish(id uint32) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	b, err := json.Marshal(r.discoveryPayload(e.name))
	if err != nil {
		return err
	}
	topic := r.discoveryTopic(e.name)
	if err := wait(r.c.Publish(topic, r.qos, true, b)); err != nil {
		return fmt.Errorf("mqttnode: publish %s: %w", topic, err)
	}
	r.mu.Lock()
	e.published = true
	r.mu.Unlock()
	r.log.Info("node announced", "name", e.name, "topic", topic)
	return nil
}

// Unpublish clears the retained discovery config.
func (r *Registrar) Unpublish(id uint32) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	e.published = false
	r.mu.Unlock()
	topic := r.discoveryTopic(e.name)
	if err := wait(r.c.Publish(topic, r.qos, true, []byte{})); err != nil {
		return fmt.Errorf("mqttnode: clear %s: %w", topic, err)
	}
	r.log.Info("node withdrawn", "name", e.name)
	return nil
}

// handler answers a request on node id. It runs on the client's goroutine
// and does not wait for its own publication. Requests that arrive before the
// node is published or after it is withdrawn are dropped.
func (r *Registrar) handler(id uint32) mqtt.MessageHandler {
	return func(c mqtt.Client, m mqtt.Message) {
		r.mu.Lock()
		e, ok := r.nodes[id]
		if !ok || !e.subscribed || !e.published || e.produce == nil {
			r.mu.Unlock()
			return
		}
		name := e.name
		b, err := e.produce()
		r.mu.Unlock()

		if err != nil {
			r.log.Error(err, "reading failed", "name", name, "request", m.Topic())
			c.Publish(r.errorTopic(name), r.qos, false, []byte(err.Error()))
			return
		}
		c.Publish(r.stateTopic(name), r.qos, false, bytes.TrimSpace(b))
	}
}

func (r *Registrar) entry(id uint32) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return e, nil
}

func (r *Registrar) requestTopic(name string) string {
	return fmt.Sprintf("%s/%s/get", r.topic, name)
}

func (r *Registrar) stateTopic(name string) string {
	return fmt.Sprintf("%s/%s/state", r.topic, name)
}

func (r *Registrar) errorTopic(name string) string {
	return fmt.Sprintf("%s/%s/error", r.topic, name)
}

func (r *Registrar) discoveryTopic(name string) string {
	return fmt.Sprintf("%s/sensor/%s/config", r.prefix, name)
}

func (r *Registrar) discoveryPayload(name string) map[string]interface{} {
	return map[string]interface{}{
		keyName:              name,
		keyStateTopic:        r.stateTopic(name),
		keyUnitOfMeasurement: unitCelsius,
		keyDeviceClass:       deviceClass,
		keyStateClass:        stateClassMeasure,
		keyUniqueID:          name,
	}
}

func wait(t mqtt.Token) error {
	t.Wait()
	return t.Error()
}
