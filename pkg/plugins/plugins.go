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
	"sort"
	"strings"
	"sync"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
)

// Service kinds. A plugin declares exactly one, and the gateway finds its
// collaborators by kind, in load order.
const (
	KindAuthentication = "authentication"
	KindAuthorization  = "authorization"
	KindService        = "service"
	KindIdentity       = "identity"
	KindBackend        = "backend"
	KindFeeds          = "feeds"
)

// Events emitted by the session gateway. Handlers receive the *Session.
const (
	EventSessionJoin  = "session.join"
	EventSessionLeave = "session.leave"
)

// Module is the code plug-point every plugin implements.
//  Configure is synchronous and runs during load. It must not block, and is
//  where a plugin reads its config and calls host.Require for its dependencies.
//  Init may block on I/O (DB dial, broker connect) until the context is done.
//  Shutdown releases whatever Init acquired.
type Module interface {
	Configure(host Host) error
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Base can be embedded by plugins that have nothing to do in some hooks
type Base struct{}

// Configure no-op
func (Base) Configure(host Host) error { return nil }

// Init no-op
func (Base) Init(ctx context.Context) error { return nil }

// Shutdown no-op
func (Base) Shutdown(ctx context.Context) error { return nil }

// EventFunc handles a runtime event. Errors are logged by the runtime, and
// never reach the emitter or the other handlers.
type EventFunc func(args ...interface{}) error

// EventHandler pairs an event name with its handler
type EventHandler struct {
	Event   string
	Handler EventFunc
}

// EventSource is implemented by plugins that subscribe to events on load
type EventSource interface {
	EventHandlers() []EventHandler
}

// Publisher delivers events to subscribed sessions
type Publisher interface {
	Publish(topic string, event interface{}) int
}

// Host is the view of the runtime handed to a plugin in Configure. Event
// registrations made through it are owned by that plugin.
type Host interface {
	Path() string
	Config() *conf.ServerConfig
	Require(path string) (Module, error)
	ByService(kind string) []Module
	ByGroup(group string) []Module
	Register(event string, handler EventFunc)
	Unregister(event string)
	Emit(event string, args ...interface{})
	Publisher() Publisher
}

// Factory constructs a fresh, unconfigured module
type Factory func() Module

// Registration is an entry in the static registration table
type Registration struct {
	Path    string
	Group   string
	Service string
	Factory Factory
}

var (
	registryLock  sync.Mutex
	registrations = map[string]*Registration{}
)

// GroupOf returns the dotted prefix of a plugin path
func GroupOf(path string) string {
	if i := strings.Index(path, "."); i > 0 {
		return path[0:i]
	}
	return path
}

// RegisterFactory adds a plugin to the static registration table. It is
// called from package init functions, and panics on a duplicate path.
func RegisterFactory(path, service string, factory Factory) {
	registryLock.Lock()
	defer registryLock.Unlock()
	if _, exists := registrations[path]; exists {
		panic(fmt.Sprintf("Duplicate plugin registration '%s'", path))
	}
	registrations[path] = &Registration{
		Path:    path,
		Group:   GroupOf(path),
		Service: service,
		Factory: factory,
	}
}

// LookupFactory returns the registration for a path, or nil
func LookupFactory(path string) *Registration {
	registryLock.Lock()
	defer registryLock.Unlock()
	return registrations[path]
}

// RegisteredPaths lists every registered path, sorted
func RegisteredPaths() []string {
	registryLock.Lock()
	defer registryLock.Unlock()
	paths := make([]string, 0, len(registrations))
	for p := range registrations {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
