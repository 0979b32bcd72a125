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

package authplugins

import (
	"context"

	"github.com/hyperledger/firefly-exgateway/internal/utils"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

// Authentication methods, as offered by clients in HELLO details
const (
	MethodAnonymous = "anonymous"
	MethodWAMPCRA   = "wampcra"
	MethodCookie    = "cookie"
	MethodAPIKey    = "apikey"
)

// Roles assigned by the authenticators
const (
	RoleAnonymous = "anonymous"
	RoleUser      = "user"
)

// offers reports whether the client listed the method in details.authmethods
func offers(details map[string]interface{}, method string) bool {
	switch methods := details["authmethods"].(type) {
	case []interface{}:
		for _, m := range methods {
			if s, ok := m.(string); ok && s == method {
				return true
			}
		}
	case []string:
		for _, s := range methods {
			if s == method {
				return true
			}
		}
	}
	return false
}

// authExtra returns details.authextra[key] as a string
func authExtra(details map[string]interface{}, key string) string {
	extra, _ := details["authextra"].(map[string]interface{})
	s, _ := extra[key].(string)
	return s
}

func init() {
	plugins.RegisterFactory("authn.anonymous", plugins.KindAuthentication, func() plugins.Module {
		return &Anonymous{}
	})
}

// Anonymous admits any client offering the anonymous method, with a fresh
// authid and the anonymous role
type Anonymous struct {
	plugins.Base
}

// OnHello accepts if anonymous is offered
func (a *Anonymous) OnHello(ctx context.Context, sess *plugins.Session, realm string, details map[string]interface{}) plugins.AuthResult {
	if !offers(details, MethodAnonymous) {
		return plugins.Abstained()
	}
	return plugins.Accepted(MethodAnonymous, "anonymous-"+utils.UUIDv4(), RoleAnonymous)
}

// OnAuthenticate never issues a challenge, so always abstains
func (a *Anonymous) OnAuthenticate(ctx context.Context, sess *plugins.Session, signature string, extra map[string]interface{}) plugins.AuthResult {
	return plugins.Abstained()
}

// OnJoin no-op
func (a *Anonymous) OnJoin(ctx context.Context, sess *plugins.Session, details map[string]interface{}) error {
	return nil
}
