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

package plugins

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	pluginapi "github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

// State is the lifecycle state of a plugin
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateInitializing
	StateReady
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting down"
	default:
		return "unloaded"
	}
}

// Plugin is the runtime's record of a loaded module
type Plugin struct {
	Path    string
	Group   string
	Service string
	Module  pluginapi.Module
	state   State
	events  []string
}

// State returns the current lifecycle state
func (p *Plugin) State() State {
	return p.state
}

// LifecycleError is returned when an asynchronous hook fails. It is fatal
// to boot.
type LifecycleError struct {
	Path  string
	Phase string
	Cause error
}

func (e *LifecycleError) Error() string {
	msg := errors.PluginInitFailed
	if e.Phase == "shutdown" {
		msg = errors.PluginShutdownFailed
	}
	return errors.Errorf(msg, e.Path, e.Cause).Error()
}

// Unwrap returns the hook's error
func (e *LifecycleError) Unwrap() error {
	return e.Cause
}

type handlerEntry struct {
	owner   *Plugin
	handler pluginapi.EventFunc
}

// Runtime owns every plugin, their lifecycle, and the event bus
type Runtime struct {
	conf      *conf.ServerConfig
	mux       sync.Mutex
	plugins   map[string]*Plugin
	order     []*Plugin
	handlers  map[string][]*handlerEntry
	publisher pluginapi.Publisher
	lookup    func(path string) *pluginapi.Registration
}

// NewRuntime constructs a runtime over the static registration table
func NewRuntime(conf *conf.ServerConfig) *Runtime {
	return &Runtime{
		conf:     conf,
		plugins:  make(map[string]*Plugin),
		handlers: make(map[string][]*handlerEntry),
		lookup:   pluginapi.LookupFactory,
	}
}

// Config returns the configuration shared with every plugin
func (r *Runtime) Config() *conf.ServerConfig {
	return r.conf
}

// SetPublisher sets the broker plugins publish session events through
func (r *Runtime) SetPublisher(p pluginapi.Publisher) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.publisher = p
}

func (r *Runtime) getPublisher() pluginapi.Publisher {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.publisher
}

// Get returns a loaded plugin, or nil
func (r *Runtime) Get(path string) *Plugin {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.plugins[path]
}

// Plugins returns every loaded plugin in load order
func (r *Runtime) Plugins() []*Plugin {
	r.mux.Lock()
	defer r.mux.Unlock()
	return append([]*Plugin{}, r.order...)
}

// ByService returns the loaded plugins of a kind, in load order
func (r *Runtime) ByService(kind string) []*Plugin {
	return r.filter(func(p *Plugin) bool { return p.Service == kind })
}

// ByGroup returns the loaded plugins whose path has the given prefix, in load order
func (r *Runtime) ByGroup(group string) []*Plugin {
	return r.filter(func(p *Plugin) bool { return p.Group == group })
}

func (r *Runtime) filter(match func(p *Plugin) bool) []*Plugin {
	r.mux.Lock()
	defer r.mux.Unlock()
	matched := []*Plugin{}
	for _, p := range r.order {
		if match(p) {
			matched = append(matched, p)
		}
	}
	return matched
}

// Load constructs, registers and configures a plugin. Loading a path that
// is already loaded logs a warning and returns the existing plugin.
func (r *Runtime) Load(path string) (*Plugin, error) {
	reg := r.lookup(path)
	if reg == nil {
		return nil, errors.Errorf(errors.PluginUnknownPath, path)
	}

	r.mux.Lock()
	if existing, ok := r.plugins[path]; ok {
		r.mux.Unlock()
		log.Warnf("Plugin '%s' is already loaded", path)
		return existing, nil
	}
	p := &Plugin{
		Path:    reg.Path,
		Group:   reg.Group,
		Service: reg.Service,
		Module:  reg.Factory(),
		state:   StateLoaded,
	}
	r.plugins[path] = p
	r.order = append(r.order, p)
	r.mux.Unlock()

	if es, ok := p.Module.(pluginapi.EventSource); ok {
		for _, eh := range es.EventHandlers() {
			r.Register(p, eh.Event, eh.Handler)
		}
	}

	if err := p.Module.Configure(&pluginHost{runtime: r, plugin: p}); err != nil {
		r.remove(p)
		log.Errorf("Plugin '%s' failed to configure: %s", path, err)
		return nil, errors.Errorf(errors.PluginConfigureFailed, path, err)
	}
	log.Infof("Plugin '%s' loaded (%s)", path, p.Service)
	return p, nil
}

// Init runs the asynchronous initialization hook
func (r *Runtime) Init(ctx context.Context, p *Plugin) error {
	if err := r.transition(p, StateLoaded, StateInitializing); err != nil {
		return err
	}
	log.Debugf("Plugin '%s' initializing", p.Path)
	if err := p.Module.Init(ctx); err != nil {
		r.setState(p, StateLoaded)
		return &LifecycleError{Path: p.Path, Phase: "init", Cause: err}
	}
	r.setState(p, StateReady)
	log.Infof("Plugin '%s' ready", p.Path)
	return nil
}

// Shutdown removes every event handler the plugin owns, then runs its
// shutdown hook if it was initialized. The plugin stays loaded.
func (r *Runtime) Shutdown(ctx context.Context, p *Plugin) error {
	r.mux.Lock()
	if p.state == StateUnloaded {
		r.mux.Unlock()
		return errors.Errorf(errors.PluginNotLoaded, p.Path)
	}
	r.removeHandlers(p)
	wasReady := p.state == StateReady
	p.state = StateShuttingDown
	r.mux.Unlock()

	var err error
	if wasReady {
		log.Debugf("Plugin '%s' shutting down", p.Path)
		if hookErr := p.Module.Shutdown(ctx); hookErr != nil {
			err = &LifecycleError{Path: p.Path, Phase: "shutdown", Cause: hookErr}
		}
	}
	r.setState(p, StateLoaded)
	return err
}

// Unload shuts down the plugin and removes it from the registry. A
// shutdown failure is logged, and the plugin is removed regardless.
func (r *Runtime) Unload(ctx context.Context, path string) error {
	p := r.Get(path)
	if p == nil {
		return errors.Errorf(errors.PluginNotLoaded, path)
	}
	if err := r.Shutdown(ctx, p); err != nil {
		log.Errorf("Unloading '%s': %s", path, err)
	}
	r.remove(p)
	log.Infof("Plugin '%s' unloaded", path)
	return nil
}

// Register subscribes a handler owned by p to an event. A plugin that is
// no longer in the registry cannot register.
func (r *Runtime) Register(p *Plugin, event string, handler pluginapi.EventFunc) {
	r.mux.Lock()
	defer r.mux.Unlock()
	if !r.isLive(p) {
		log.Warnf("Plugin '%s' is not loaded. Ignoring handler for '%s'", p.Path, event)
		return
	}
	r.handlers[event] = append(r.handlers[event], &handlerEntry{owner: p, handler: handler})
	p.events = append(p.events, event)
}

// Unregister removes every handler p owns for an event
func (r *Runtime) Unregister(p *Plugin, event string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.removeHandlersFor(p, event)
	events := p.events[:0]
	for _, e := range p.events {
		if e != event {
			events = append(events, e)
		}
	}
	p.events = events
}

// Emit calls each handler of the event in registration order. The emitter
// may be nil when the event does not come from a plugin. A failing handler
// is logged and does not stop the others.
func (r *Runtime) Emit(emitter *Plugin, event string, args ...interface{}) {
	r.mux.Lock()
	snapshot := append([]*handlerEntry{}, r.handlers[event]...)
	r.mux.Unlock()

	from := "gateway"
	if emitter != nil {
		from = emitter.Path
	}
	log.Tracef("Event '%s' from %s to %d handlers", event, from, len(snapshot))
	for _, he := range snapshot {
		r.callHandler(event, he, args)
	}
}

func (r *Runtime) callHandler(event string, he *handlerEntry, args []interface{}) {
	r.mux.Lock()
	live, state := r.isLive(he.owner), he.owner.state
	r.mux.Unlock()
	if !live {
		log.Debugf("Skipping handler for '%s' in plugin '%s' (%s)", event, he.owner.Path, state)
		return
	}
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("Handler for '%s' in plugin '%s' panicked: %v\n%s", event, he.owner.Path, p, debug.Stack())
		}
	}()
	if err := he.handler(args...); err != nil {
		log.Errorf("Handler for '%s' in plugin '%s' failed: %s", event, he.owner.Path, err)
	}
}

// Require returns a loaded plugin, or an error the caller should treat as fatal
func (r *Runtime) Require(requester, path string) (*Plugin, error) {
	p := r.Get(path)
	if p == nil {
		return nil, errors.Errorf(errors.PluginRequiredMissing, requester, path)
	}
	return p, nil
}

// Start loads every path in order, then initializes them in load order.
// On any failure every loaded plugin is torn down in reverse load order.
func (r *Runtime) Start(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.Errorf(errors.ConfigNoPlugins)
	}
	for _, path := range paths {
		if _, err := r.Load(path); err != nil {
			r.Stop(ctx)
			return err
		}
	}
	for _, p := range r.Plugins() {
		if err := r.Init(ctx, p); err != nil {
			log.Errorf("Boot failed: %s", err)
			r.Stop(ctx)
			return err
		}
	}
	return nil
}

// Stop unloads every plugin in reverse load order
func (r *Runtime) Stop(ctx context.Context) {
	loaded := r.Plugins()
	for i := len(loaded) - 1; i >= 0; i-- {
		_ = r.Unload(ctx, loaded[i].Path)
	}
}

// RunWithPlugins boots the plugins, runs fn, and tears everything down
// in reverse load order when fn returns
func (r *Runtime) RunWithPlugins(ctx context.Context, paths []string, fn func(ctx context.Context) error) error {
	if err := r.Start(ctx, paths); err != nil {
		return err
	}
	defer r.Stop(ctx)
	return fn(ctx)
}

func (r *Runtime) transition(p *Plugin, from, to State) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	if p.state != from {
		return errors.Errorf(errors.PluginBadState, p.Path, p.state, from)
	}
	p.state = to
	return nil
}

func (r *Runtime) setState(p *Plugin, s State) {
	r.mux.Lock()
	defer r.mux.Unlock()
	p.state = s
}

func (r *Runtime) remove(p *Plugin) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.removeHandlers(p)
	delete(r.plugins, p.Path)
	order := make([]*Plugin, 0, len(r.order))
	for _, o := range r.order {
		if o != p {
			order = append(order, o)
		}
	}
	r.order = order
	p.state = StateUnloaded
}

// must hold mux
func (r *Runtime) isLive(p *Plugin) bool {
	if p.state == StateUnloaded || p.state == StateShuttingDown {
		return false
	}
	return r.plugins[p.Path] == p
}

// must hold mux
func (r *Runtime) removeHandlers(p *Plugin) {
	for _, event := range p.events {
		r.removeHandlersFor(p, event)
	}
	p.events = nil
}

// must hold mux
func (r *Runtime) removeHandlersFor(p *Plugin, event string) {
	entries := r.handlers[event]
	kept := make([]*handlerEntry, 0, len(entries))
	for _, he := range entries {
		if he.owner != p {
			kept = append(kept, he)
		}
	}
	if len(kept) == 0 {
		delete(r.handlers, event)
	} else {
		r.handlers[event] = kept
	}
}

func (r *Runtime) String() string {
	return fmt.Sprintf("Runtime[%d plugins]", len(r.Plugins()))
}
