// Copyright 2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pluginstest

import (
	"sync"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

// Emitted is an event recorded by the TestHost
type Emitted struct {
	Event string
	Args  []interface{}
}

// Published is an event recorded by the TestPublisher
type Published struct {
	Topic string
	Event interface{}
}

// TestPublisher records everything published
type TestPublisher struct {
	mux       sync.Mutex
	Published []Published
}

// Publish records the event
func (p *TestPublisher) Publish(topic string, event interface{}) int {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.Published = append(p.Published, Published{Topic: topic, Event: event})
	return 1
}

// Get returns a copy of what has been published
func (p *TestPublisher) Get() []Published {
	p.mux.Lock()
	defer p.mux.Unlock()
	return append([]Published{}, p.Published...)
}

// TestHost designed for unit testing plugins outside of a runtime
type TestHost struct {
	mux      sync.Mutex
	PathName string
	Conf     *conf.ServerConfig
	Modules  map[string]plugins.Module
	order    []string
	Kinds    map[string][]plugins.Module
	Handlers map[string][]plugins.EventFunc
	Emitted  []Emitted
	TestPub  *TestPublisher
}

// NewTestHost constructs a host with default config
func NewTestHost(path string) *TestHost {
	return &TestHost{
		PathName: path,
		Conf:     conf.NewDefaultConfig(),
		Modules:  make(map[string]plugins.Module),
		Kinds:    make(map[string][]plugins.Module),
		Handlers: make(map[string][]plugins.EventFunc),
		TestPub:  &TestPublisher{},
	}
}

// Add makes a module visible to Require, ByService and ByGroup
func (h *TestHost) Add(path, kind string, m plugins.Module) *TestHost {
	if _, ok := h.Modules[path]; !ok {
		h.order = append(h.order, path)
	}
	h.Modules[path] = m
	h.Kinds[kind] = append(h.Kinds[kind], m)
	return h
}

func (h *TestHost) Path() string {
	return h.PathName
}

func (h *TestHost) Config() *conf.ServerConfig {
	return h.Conf
}

func (h *TestHost) Require(path string) (plugins.Module, error) {
	m, ok := h.Modules[path]
	if !ok {
		return nil, errors.Errorf(errors.PluginRequiredMissing, h.PathName, path)
	}
	return m, nil
}

func (h *TestHost) ByService(kind string) []plugins.Module {
	return h.Kinds[kind]
}

func (h *TestHost) ByGroup(group string) []plugins.Module {
	var mods []plugins.Module
	for _, path := range h.order {
		if plugins.GroupOf(path) == group {
			mods = append(mods, h.Modules[path])
		}
	}
	return mods
}

func (h *TestHost) Register(event string, handler plugins.EventFunc) {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.Handlers[event] = append(h.Handlers[event], handler)
}

func (h *TestHost) Unregister(event string) {
	h.mux.Lock()
	defer h.mux.Unlock()
	delete(h.Handlers, event)
}

// Emit records the event, then calls any registered handlers
func (h *TestHost) Emit(event string, args ...interface{}) {
	h.mux.Lock()
	h.Emitted = append(h.Emitted, Emitted{Event: event, Args: args})
	handlers := append([]plugins.EventFunc{}, h.Handlers[event]...)
	h.mux.Unlock()
	for _, handler := range handlers {
		_ = handler(args...)
	}
}

// GetEmitted returns a copy of the emitted events
func (h *TestHost) GetEmitted() []Emitted {
	h.mux.Lock()
	defer h.mux.Unlock()
	return append([]Emitted{}, h.Emitted...)
}

func (h *TestHost) Publisher() plugins.Publisher {
	return h.TestPub
}
