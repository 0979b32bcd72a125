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

	"github.com/hyperledger/firefly-exgateway/internal/authplugins"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

func init() {
	plugins.RegisterFactory("services.token", plugins.KindService, func() plugins.Module {
		return &Token{}
	})
}

// Token issues and revokes the login cookies held by the cookie authenticator
type Token struct {
	plugins.Base
	cookies authplugins.CookieIssuer
}

// Configure requires a cookie authenticator in the authn group, loaded
// ahead of this service
func (t *Token) Configure(host plugins.Host) error {
	for _, m := range host.ByGroup("authn") {
		if ci, ok := m.(authplugins.CookieIssuer); ok {
			t.cookies = ci
			return nil
		}
	}
	return errors.Errorf(errors.PluginRequiredMissing, host.Path(), "authn.cookie")
}

func (t *Token) Namespace() string { return "rpc.token" }

func (t *Token) RequiresIdentity() bool { return true }

func (t *Token) Procedures() []plugins.ProcedureDef {
	return []plugins.ProcedureDef{
		procedure("get_cookie", t.getCookie),
		procedure("logout", t.logout),
	}
}

func (t *Token) getCookie(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
	if inv.Details.Username == "" {
		return nil, errors.NewCallerError(errors.TagNotAuthorized, inv.URI)
	}
	cookie, _ := t.cookies.IssueCookie(inv.Details.Username, inv.Details.AuthRole)
	return cookie, nil
}

func (t *Token) logout(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
	if inv.Details.Username == "" {
		return nil, errors.NewCallerError(errors.TagNotAuthorized, inv.URI)
	}
	t.cookies.RevokeCookies(inv.Details.Username)
	return true, nil
}
