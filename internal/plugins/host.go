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
	"github.com/hyperledger/firefly-exgateway/internal/conf"
	pluginapi "github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

// pluginHost is the runtime as seen by a single plugin
type pluginHost struct {
	runtime *Runtime
	plugin  *Plugin
}

func (h *pluginHost) Path() string {
	return h.plugin.Path
}

func (h *pluginHost) Config() *conf.ServerConfig {
	return h.runtime.conf
}

func (h *pluginHost) Require(path string) (pluginapi.Module, error) {
	p, err := h.runtime.Require(h.plugin.Path, path)
	if err != nil {
		return nil, err
	}
	return p.Module, nil
}

func (h *pluginHost) ByService(kind string) []pluginapi.Module {
	return modules(h.runtime.ByService(kind))
}

func (h *pluginHost) ByGroup(group string) []pluginapi.Module {
	return modules(h.runtime.ByGroup(group))
}

func (h *pluginHost) Register(event string, handler pluginapi.EventFunc) {
	h.runtime.Register(h.plugin, event, handler)
}

func (h *pluginHost) Unregister(event string) {
	h.runtime.Unregister(h.plugin, event)
}

func (h *pluginHost) Emit(event string, args ...interface{}) {
	h.runtime.Emit(h.plugin, event, args...)
}

func (h *pluginHost) Publisher() pluginapi.Publisher {
	return h.runtime.getPublisher()
}

func modules(ps []*Plugin) []pluginapi.Module {
	mods := make([]pluginapi.Module, len(ps))
	for i, p := range ps {
		mods[i] = p.Module
	}
	return mods
}
