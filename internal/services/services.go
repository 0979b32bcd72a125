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

package services

import (
	"context"

	"github.com/hyperledger/firefly-exgateway/internal/backend"
	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

// proxied is embedded by services whose procedures are answered by a
// backend collaborator
type proxied struct {
	plugins.Base
	conf    *conf.BackendConf
	backend backend.Client
}

func (p *proxied) Configure(host plugins.Host) (err error) {
	p.conf = &host.Config().Backend
	p.backend, err = backend.FromHost(host)
	return err
}

// forward builds a handler that passes the named arguments, in order, as
// the positional args of a backend call
func (p *proxied) forward(component, procedure string, params ...string) plugins.Handler {
	return func(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
		args := make([]interface{}, 0, len(params))
		for _, name := range params {
			v, _ := inv.Arg(name)
			args = append(args, v)
		}
		return p.backend.Call(ctx, component, procedure, args, nil)
	}
}

// forwardAsUser is forward with the authenticated username as the first
// argument. The username always comes from the session, never the payload.
func (p *proxied) forwardAsUser(component, procedure string, params ...string) plugins.Handler {
	return func(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
		if inv.Details.Username == "" {
			return nil, errors.NewCallerError(errors.TagNotAuthorized, inv.URI)
		}
		args := make([]interface{}, 0, len(params)+1)
		args = append(args, inv.Details.Username)
		for _, name := range params {
			v, _ := inv.Arg(name)
			args = append(args, v)
		}
		return p.backend.Call(ctx, component, procedure, args, nil)
	}
}

func procedure(name string, handler plugins.Handler, params ...string) plugins.ProcedureDef {
	return plugins.ProcedureDef{Name: name, Params: params, Handler: handler}
}
