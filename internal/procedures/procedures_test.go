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

package procedures

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperledger/firefly-exgateway/internal/auth"
	"github.com/hyperledger/firefly-exgateway/internal/auth/authtest"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	iplugins "github.com/hyperledger/firefly-exgateway/internal/plugins"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	"github.com/stretchr/testify/assert"
)

type testService struct {
	plugins.Base
	ns       string
	identity bool
	procs    []plugins.ProcedureDef
}

func (s *testService) Namespace() string                  { return s.ns }
func (s *testService) RequiresIdentity() bool             { return s.identity }
func (s *testService) Procedures() []plugins.ProcedureDef { return s.procs }

func echo(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
	return map[string]interface{}{
		"kwargs":   inv.Kwargs,
		"username": inv.Details.Username,
		"session":  auth.SessionFrom(ctx).ID,
	}, nil
}

// verdictAuthorizer adapts a single authorization module to CallAuthorizer;
// like auth.Authorizer, only an explicit Allow authorizes
type verdictAuthorizer struct {
	impl plugins.Authorizer
}

func (a verdictAuthorizer) Authorize(ctx context.Context, sess *plugins.Session, uri string, action plugins.Action) bool {
	return a.impl.Authorize(ctx, sess, uri, action) == plugins.Allow
}

func loaded(mods ...plugins.Module) []*iplugins.Plugin {
	ps := make([]*iplugins.Plugin, len(mods))
	for i, m := range mods {
		ps[i] = &iplugins.Plugin{Path: fmt.Sprintf("services.s%d", i), Module: m}
	}
	return ps
}

func newTestTable(t *testing.T) *Table {
	table, err := newTable(loaded(
		&testService{ns: "rpc.market", procs: []plugins.ProcedureDef{
			{Name: "get_markets", Handler: echo},
			{Name: "get_order_book", Params: []string{"ticker"}, Handler: echo},
		}},
		&testService{ns: "rpc.trader", identity: true, procs: []plugins.ProcedureDef{
			{Name: "place_order", Params: []string{"order"}, Handler: echo},
			{Name: "fails", Handler: func(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
				return nil, fmt.Errorf("database password is hunter2")
			}},
			{Name: "panics", Handler: func(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
				panic("pop")
			}},
			{Name: "domain_error", Handler: func(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
				return nil, errors.NewCallerError("exceptions/trader/insufficient_funds", "BTC")
			}},
		}},
	))
	assert.NoError(t, err)
	return table
}

func TestTableBuild(t *testing.T) {
	assert := assert.New(t)
	table := newTestTable(t)
	assert.Equal([]string{
		"rpc.market.get_markets",
		"rpc.market.get_order_book",
		"rpc.trader.domain_error",
		"rpc.trader.fails",
		"rpc.trader.panics",
		"rpc.trader.place_order",
	}, table.URIs())
	assert.False(table.RequiresIdentity("rpc.market.get_markets"))
	assert.True(table.RequiresIdentity("rpc.trader.place_order"))
	assert.False(table.RequiresIdentity("rpc.trader.nope"))
	p, ok := table.Lookup("rpc.market.get_order_book")
	assert.True(ok)
	assert.Equal([]string{"ticker"}, p.Params)
	assert.Equal("services.s0", p.Owner)
}

func TestTableDuplicateURI(t *testing.T) {
	_, err := newTable(loaded(
		&testService{ns: "rpc.market", procs: []plugins.ProcedureDef{{Name: "get_markets", Handler: echo}}},
		&testService{ns: "rpc.market", procs: []plugins.ProcedureDef{{Name: "get_markets", Handler: echo}}},
	))
	assert.Regexp(t, "FFXG100300.*rpc.market.get_markets.*services.s0.*services.s1", err)
}

func TestTableInvalidNames(t *testing.T) {
	assert := assert.New(t)
	_, err := newTable(loaded(&testService{ns: "rpc", procs: nil}))
	assert.Regexp("FFXG100301", err)
	_, err = newTable(loaded(&testService{ns: "rpc.market", procs: []plugins.ProcedureDef{{Name: "bad.name", Handler: echo}}}))
	assert.Regexp("FFXG100301", err)
	_, err = newTable(loaded(&testService{ns: "rpc.market", procs: []plugins.ProcedureDef{{Name: "nohandler"}}}))
	assert.Regexp("FFXG100301", err)
	_, err = newTable(loaded(&plugins.Base{}))
	assert.Regexp("FFXG100105", err)
}

type testValidator struct {
	err   error
	calls []map[string]interface{}
}

func (v *testValidator) Validate(uri string, kwargs map[string]interface{}) error {
	v.calls = append(v.calls, kwargs)
	return v.err
}

func userSession() *plugins.Session {
	return &plugins.Session{ID: "s1", AuthID: "alice", AuthRole: "user", AuthMethod: "wampcra"}
}

func TestCallUnknown(t *testing.T) {
	assert := assert.New(t)
	d := NewDispatcher(newTestTable(t), nil, verdictAuthorizer{authtest.AllowAll()})
	_, err := d.Call(context.Background(), userSession(), "rpc.market.nope", nil, nil)
	assert.Equal([]interface{}{errors.TagNoSuchFunction, "rpc.market.nope"}, errors.ToWire(err))
}

func TestCallSuccessBindsArgsAndDetails(t *testing.T) {
	assert := assert.New(t)
	v := &testValidator{}
	d := NewDispatcher(newTestTable(t), v, verdictAuthorizer{authtest.AllowAll()})
	assert.NotNil(d.Table())
	res, err := d.Call(WithAPIType(context.Background(), "WS"), userSession(), "rpc.market.get_order_book",
		[]interface{}{"BTCUSD"}, map[string]interface{}{"details": map[string]interface{}{"username": "mallory"}})
	assert.NoError(err)
	m := res.(map[string]interface{})
	assert.Equal("alice", m["username"])
	assert.Equal("s1", m["session"])
	assert.Equal(map[string]interface{}{"ticker": "BTCUSD"}, m["kwargs"])
	assert.Equal([]map[string]interface{}{{"ticker": "BTCUSD"}}, v.calls)
}

func TestCallValidationBeforeAuthorization(t *testing.T) {
	assert := assert.New(t)
	v := &testValidator{err: errors.NewCallerError(errors.TagSchemaException, "bad")}
	az := &authtest.TestAuthorizer{Verdict: plugins.Allow}
	d := NewDispatcher(newTestTable(t), v, verdictAuthorizer{az})
	_, err := d.Call(context.Background(), userSession(), "rpc.market.get_markets", nil, nil)
	assert.Equal([]interface{}{errors.TagSchemaException, "bad"}, errors.ToWire(err))
	assert.Equal(int32(0), az.Calls)

	v.err = errors.Errorf(errors.SchemaLoadFailed, "x", "y")
	_, err = d.Call(context.Background(), userSession(), "rpc.market.get_markets", nil, nil)
	assert.Equal([]interface{}{errors.TagInternalError}, errors.ToWire(err))
}

func TestCallTooManyArgs(t *testing.T) {
	d := NewDispatcher(newTestTable(t), nil, verdictAuthorizer{authtest.AllowAll()})
	_, err := d.Call(context.Background(), userSession(), "rpc.market.get_markets", []interface{}{1}, nil)
	assert.Equal(t, errors.TagSchemaException, errors.ToWire(err)[0])
}

func TestCallDenied(t *testing.T) {
	assert := assert.New(t)
	called := false
	table, _ := newTable(loaded(&testService{ns: "rpc.trader", procs: []plugins.ProcedureDef{
		{Name: "place_order", Handler: func(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
			called = true
			return nil, nil
		}},
	}}))
	d := NewDispatcher(table, nil, verdictAuthorizer{&authtest.TestAuthorizer{}})
	_, err := d.Call(context.Background(), userSession(), "rpc.trader.place_order", nil, nil)
	assert.Equal([]interface{}{errors.TagNotAuthorized, "rpc.trader.place_order"}, errors.ToWire(err))
	assert.False(called)
}

func TestCallOpaqueErrors(t *testing.T) {
	assert := assert.New(t)
	d := NewDispatcher(newTestTable(t), nil, verdictAuthorizer{authtest.AllowAll()})

	_, err := d.Call(context.Background(), userSession(), "rpc.trader.fails", nil, nil)
	assert.Equal([]interface{}{errors.TagInternalError}, errors.ToWire(err))
	assert.NotContains(err.Error(), "hunter2")

	_, err = d.Call(context.Background(), userSession(), "rpc.trader.panics", nil, nil)
	assert.Equal([]interface{}{errors.TagInternalError}, errors.ToWire(err))

	_, err = d.Call(context.Background(), userSession(), "rpc.trader.domain_error", nil, nil)
	assert.Equal([]interface{}{"exceptions/trader/insufficient_funds", "BTC"}, errors.ToWire(err))
}

func TestAPIType(t *testing.T) {
	assert.Equal(t, "internal", apiTypeFrom(context.Background()))
	assert.Equal(t, "REST", apiTypeFrom(WithAPIType(context.Background(), "REST")))
}
