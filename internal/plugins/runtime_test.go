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
	"sync"
	"testing"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	pluginapi "github.com/hyperledger/firefly-exgateway/pkg/plugins"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

type callLog struct {
	mux   sync.Mutex
	calls []string
}

func (c *callLog) add(s string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.calls = append(c.calls, s)
}

func (c *callLog) get() []string {
	c.mux.Lock()
	defer c.mux.Unlock()
	return append([]string{}, c.calls...)
}

type testModule struct {
	name         string
	log          *callLog
	requires     string
	configureErr error
	initErr      error
	shutdownErr  error
	handlers     []pluginapi.EventHandler
	host         pluginapi.Host
}

func (m *testModule) Configure(host pluginapi.Host) error {
	m.host = host
	m.log.add("configure:" + m.name)
	if m.requires != "" {
		if _, err := host.Require(m.requires); err != nil {
			return err
		}
	}
	return m.configureErr
}

func (m *testModule) Init(ctx context.Context) error {
	m.log.add("init:" + m.name)
	return m.initErr
}

func (m *testModule) Shutdown(ctx context.Context) error {
	m.log.add("shutdown:" + m.name)
	return m.shutdownErr
}

func (m *testModule) EventHandlers() []pluginapi.EventHandler {
	return m.handlers
}

func newTestRuntime(mods map[string]*testModule) *Runtime {
	r := NewRuntime(conf.NewDefaultConfig())
	r.lookup = func(path string) *pluginapi.Registration {
		m, ok := mods[path]
		if !ok {
			return nil
		}
		return &pluginapi.Registration{
			Path:    path,
			Group:   pluginapi.GroupOf(path),
			Service: pluginapi.KindService,
			Factory: func() pluginapi.Module { return m },
		}
	}
	return r
}

func TestLoadUnknownPath(t *testing.T) {
	assert := assert.New(t)
	r := newTestRuntime(map[string]*testModule{})
	_, err := r.Load("authn.missing")
	assert.Regexp("FFXG100100", err)
}

func TestDoubleLoadIsNoop(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	r := newTestRuntime(map[string]*testModule{
		"svc.a": {name: "a", log: cl},
	})
	p1, err := r.Load("svc.a")
	assert.NoError(err)
	hook := logtest.NewGlobal()
	defer hook.Reset()
	p2, err := r.Load("svc.a")
	assert.NoError(err)
	assert.Equal(p1, p2)
	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
			assert.Equal("Plugin 'svc.a' is already loaded", entry.Message)
		}
	}
	assert.Equal(1, warnings)
	assert.Len(r.Plugins(), 1)
	assert.Equal([]string{"configure:a"}, cl.get())
	assert.Equal(StateLoaded, p1.State())
	assert.Equal("svc", p1.Group)
}

func TestConfigureFailureRemovesPlugin(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	r := newTestRuntime(map[string]*testModule{
		"svc.a": {name: "a", log: cl, configureErr: fmt.Errorf("pop"),
			handlers: []pluginapi.EventHandler{{Event: "e1", Handler: func(args ...interface{}) error { return nil }}},
		},
	})
	_, err := r.Load("svc.a")
	assert.Regexp("FFXG100102.*pop", err)
	assert.Nil(r.Get("svc.a"))
	assert.Empty(r.handlers)
}

func TestRequireMissingFailsFast(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	r := newTestRuntime(map[string]*testModule{
		"svc.a": {name: "a", log: cl, requires: "svc.b"},
		"svc.b": {name: "b", log: cl},
	})
	_, err := r.Load("svc.a")
	assert.Regexp("svc.b", err)
	assert.Nil(r.Get("svc.a"))

	_, err = r.Load("svc.b")
	assert.NoError(err)
	_, err = r.Load("svc.a")
	assert.NoError(err)
}

func TestInitFailureIsLifecycleError(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	r := newTestRuntime(map[string]*testModule{
		"svc.a": {name: "a", log: cl, initErr: fmt.Errorf("dial failed")},
	})
	p, err := r.Load("svc.a")
	assert.NoError(err)
	err = r.Init(context.Background(), p)
	lerr, ok := err.(*LifecycleError)
	assert.True(ok)
	assert.Equal("svc.a", lerr.Path)
	assert.Regexp("FFXG100103.*dial failed", lerr.Error())
	assert.EqualError(lerr.Unwrap(), "dial failed")
	assert.Equal(StateLoaded, p.State())
}

func TestInitWrongState(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	r := newTestRuntime(map[string]*testModule{
		"svc.a": {name: "a", log: cl},
	})
	p, _ := r.Load("svc.a")
	assert.NoError(r.Init(context.Background(), p))
	assert.Equal(StateReady, p.State())
	err := r.Init(context.Background(), p)
	assert.Regexp("FFXG100107.*ready, expected loaded", err)
}

func TestEmitOrderAndIsolation(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	mods := map[string]*testModule{
		"svc.a": {name: "a", log: cl, handlers: []pluginapi.EventHandler{
			{Event: "tick", Handler: func(args ...interface{}) error { cl.add(fmt.Sprintf("a:%v", args[0])); return fmt.Errorf("fail") }},
		}},
		"svc.b": {name: "b", log: cl, handlers: []pluginapi.EventHandler{
			{Event: "tick", Handler: func(args ...interface{}) error { panic("boom") }},
		}},
		"svc.c": {name: "c", log: cl, handlers: []pluginapi.EventHandler{
			{Event: "tick", Handler: func(args ...interface{}) error { cl.add(fmt.Sprintf("c:%v", args[0])); return nil }},
		}},
	}
	r := newTestRuntime(mods)
	for _, p := range []string{"svc.a", "svc.b", "svc.c"} {
		_, err := r.Load(p)
		assert.NoError(err)
	}
	r.Emit(nil, "tick", 1)
	r.Emit(nil, "nobody-listens")
	assert.Equal([]string{"configure:a", "configure:b", "configure:c", "a:1", "c:1"}, cl.get())
}

func TestUnloadRemovesHandlers(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	mods := map[string]*testModule{
		"svc.a": {name: "a", log: cl, handlers: []pluginapi.EventHandler{
			{Event: "tick", Handler: func(args ...interface{}) error { cl.add("a"); return nil }},
		}},
		"svc.b": {name: "b", log: cl},
	}
	r := newTestRuntime(mods)
	ctx := context.Background()
	pa, _ := r.Load("svc.a")
	pb, _ := r.Load("svc.b")
	mods["svc.b"].host.Register("tick", func(args ...interface{}) error { cl.add("b"); return nil })
	assert.NoError(r.Init(ctx, pa))
	assert.NoError(r.Init(ctx, pb))

	mods["svc.b"].host.Emit("tick")
	assert.NoError(r.Unload(ctx, "svc.a"))
	r.Emit(nil, "tick")
	assert.Equal([]string{"configure:a", "configure:b", "init:a", "init:b", "a", "b", "shutdown:a", "b"}, cl.get())
	assert.Equal(StateUnloaded, pa.State())
	assert.Nil(r.Get("svc.a"))

	mods["svc.b"].host.Unregister("tick")
	r.Emit(nil, "tick")
	assert.Len(cl.get(), 8)

	err := r.Unload(ctx, "svc.a")
	assert.Regexp("FFXG100106", err)
}

func TestEmitSkipsHandlerUnloadedMidEmit(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	entered := make(chan struct{})
	release := make(chan struct{})
	mods := map[string]*testModule{
		"svc.a": {name: "a", log: cl, handlers: []pluginapi.EventHandler{
			{Event: "tick", Handler: func(args ...interface{}) error {
				close(entered)
				<-release
				cl.add("a")
				return nil
			}},
		}},
		"svc.b": {name: "b", log: cl, handlers: []pluginapi.EventHandler{
			{Event: "tick", Handler: func(args ...interface{}) error { cl.add("b"); return nil }},
		}},
	}
	r := newTestRuntime(mods)
	ctx := context.Background()
	_, err := r.Load("svc.a")
	assert.NoError(err)
	_, err = r.Load("svc.b")
	assert.NoError(err)

	done := make(chan struct{})
	go func() {
		r.Emit(nil, "tick")
		close(done)
	}()
	<-entered
	assert.NoError(r.Unload(ctx, "svc.b"))
	close(release)
	<-done

	assert.Equal([]string{"configure:a", "configure:b", "a"}, cl.get())
}

func TestRegisterAfterUnloadIgnored(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	mods := map[string]*testModule{
		"svc.a": {name: "a", log: cl},
	}
	r := newTestRuntime(mods)
	ctx := context.Background()
	_, err := r.Load("svc.a")
	assert.NoError(err)
	host := mods["svc.a"].host
	assert.NoError(r.Unload(ctx, "svc.a"))

	hook := logtest.NewGlobal()
	defer hook.Reset()
	host.Register("tick", func(args ...interface{}) error { cl.add("stale"); return nil })
	r.Emit(nil, "tick")

	assert.Empty(r.Plugins())
	assert.Empty(r.handlers)
	assert.Equal([]string{"configure:a"}, cl.get())
	assert.Equal(logrus.WarnLevel, hook.LastEntry().Level)
	assert.Regexp("svc.a.*not loaded", hook.LastEntry().Message)

	// A reload is a new plugin, and the old host still cannot register
	_, err = r.Load("svc.a")
	assert.NoError(err)
	host.Register("tick", func(args ...interface{}) error { cl.add("stale"); return nil })
	r.Emit(nil, "tick")
	assert.Equal([]string{"configure:a", "configure:a"}, cl.get())
}

func TestUnloadShutdownErrorStillRemoves(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	r := newTestRuntime(map[string]*testModule{
		"svc.a": {name: "a", log: cl, shutdownErr: fmt.Errorf("pop")},
	})
	ctx := context.Background()
	p, _ := r.Load("svc.a")
	assert.NoError(r.Init(ctx, p))
	err := r.Shutdown(ctx, p)
	assert.Regexp("FFXG100104.*pop", err)
	assert.Equal(StateLoaded, p.State())

	assert.NoError(r.Init(ctx, p))
	assert.NoError(r.Unload(ctx, "svc.a"))
	assert.Empty(r.Plugins())
}

func TestRunWithPluginsOrder(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	r := newTestRuntime(map[string]*testModule{
		"svc.a": {name: "a", log: cl},
		"svc.b": {name: "b", log: cl, requires: "svc.a"},
		"svc.c": {name: "c", log: cl},
	})
	err := r.RunWithPlugins(context.Background(), []string{"svc.a", "svc.b", "svc.c"}, func(ctx context.Context) error {
		cl.add("run")
		assert.Len(r.ByService(pluginapi.KindService), 3)
		assert.Len(r.ByGroup("svc"), 3)
		assert.Empty(r.ByService(pluginapi.KindAuthorization))
		return nil
	})
	assert.NoError(err)
	assert.Equal([]string{
		"configure:a", "configure:b", "configure:c",
		"init:a", "init:b", "init:c",
		"run",
		"shutdown:c", "shutdown:b", "shutdown:a",
	}, cl.get())
	assert.Empty(r.Plugins())
}

func TestRunWithPluginsInitFailureTearsDown(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	r := newTestRuntime(map[string]*testModule{
		"svc.a": {name: "a", log: cl},
		"svc.b": {name: "b", log: cl, initErr: fmt.Errorf("pop")},
		"svc.c": {name: "c", log: cl},
	})
	err := r.RunWithPlugins(context.Background(), []string{"svc.a", "svc.b", "svc.c"}, func(ctx context.Context) error {
		cl.add("run")
		return nil
	})
	assert.IsType(&LifecycleError{}, err)
	assert.Equal([]string{
		"configure:a", "configure:b", "configure:c",
		"init:a", "init:b",
		"shutdown:a",
	}, cl.get())
	assert.Empty(r.Plugins())
}

func TestRunWithPluginsLoadFailure(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	r := newTestRuntime(map[string]*testModule{
		"svc.a": {name: "a", log: cl},
	})
	err := r.RunWithPlugins(context.Background(), []string{"svc.a", "svc.nope"}, func(ctx context.Context) error {
		return nil
	})
	assert.True(errors.Is(err, errors.PluginUnknownPath))
	assert.Empty(r.Plugins())
	assert.Equal([]string{"configure:a"}, cl.get())

	err = r.RunWithPlugins(context.Background(), nil, nil)
	assert.True(errors.Is(err, errors.ConfigNoPlugins))
}

type testPublisher struct{ topics []string }

func (p *testPublisher) Publish(topic string, event interface{}) int {
	p.topics = append(p.topics, topic)
	return 1
}

func TestHostView(t *testing.T) {
	assert := assert.New(t)
	cl := &callLog{}
	mods := map[string]*testModule{
		"svc.a": {name: "a", log: cl},
	}
	r := newTestRuntime(mods)
	pub := &testPublisher{}
	r.SetPublisher(pub)
	_, err := r.Load("svc.a")
	assert.NoError(err)
	h := mods["svc.a"].host
	assert.Equal("svc.a", h.Path())
	assert.Equal(r.Config(), h.Config())
	assert.Len(h.ByService(pluginapi.KindService), 1)
	assert.Len(h.ByGroup("svc"), 1)
	h.Publisher().Publish("feeds.market.trades", nil)
	assert.Equal([]string{"feeds.market.trades"}, pub.topics)
	assert.Equal("Runtime[1 plugins]", r.String())
}
