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

package auth

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/hyperledger/firefly-exgateway/internal/errors"
	iplugins "github.com/hyperledger/firefly-exgateway/internal/plugins"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

// NoAuthMethodMessage is sent when no module handled a hello
const NoAuthMethodMessage = "no authentication method found"

type namedAuthenticator struct {
	path string
	impl plugins.Authenticator
}

// Authenticator is the ordered chain of authentication plugins. The list
// is fixed when the chain is built.
type Authenticator struct {
	chain []namedAuthenticator
}

// NewAuthenticator builds the chain from the loaded authentication plugins
func NewAuthenticator(rt *iplugins.Runtime) *Authenticator {
	return newAuthenticator(rt.ByService(plugins.KindAuthentication))
}

func newAuthenticator(loaded []*iplugins.Plugin) *Authenticator {
	a := &Authenticator{}
	for _, p := range loaded {
		impl, ok := p.Module.(plugins.Authenticator)
		if !ok {
			log.Warnf("Plugin '%s' is registered for authentication but does not implement it", p.Path)
			continue
		}
		a.chain = append(a.chain, namedAuthenticator{path: p.Path, impl: impl})
	}
	log.Debugf("Authenticator chain has %d modules", len(a.chain))
	return a
}

// Len is the number of modules in the chain
func (a *Authenticator) Len() int {
	return len(a.chain)
}

// OnHello asks each module in order, and the first that does not abstain
// decides. If every module abstains the session is denied.
func (a *Authenticator) OnHello(ctx context.Context, sess *plugins.Session, realm string, details map[string]interface{}) plugins.AuthResult {
	sess.Realm = realm
	for _, m := range a.chain {
		res := a.safely(m.path, "onHello", func() plugins.AuthResult {
			return m.impl.OnHello(ctx, sess, realm, details)
		})
		if res.Kind != plugins.AuthAbstain {
			log.Debugf("onHello for session %s decided by '%s': %s", sess.ID, m.path, res.Kind)
			return apply(sess, res)
		}
	}
	log.Infof("No authentication method for session %s (authmethods=%v)", sess.ID, details["authmethods"])
	return plugins.AuthResult{
		Kind:   plugins.AuthDeny,
		Reason: errors.TagNoAuthMethod,
		Extra:  map[string]interface{}{"message": NoAuthMethodMessage},
	}
}

// OnAuthenticate checks a challenge response with the same policy as
// OnHello. Every module abstaining on a challenge one of them issued is a
// configuration defect.
func (a *Authenticator) OnAuthenticate(ctx context.Context, sess *plugins.Session, signature string, extra map[string]interface{}) plugins.AuthResult {
	for _, m := range a.chain {
		res := a.safely(m.path, "onAuthenticate", func() plugins.AuthResult {
			return m.impl.OnAuthenticate(ctx, sess, signature, extra)
		})
		if res.Kind != plugins.AuthAbstain {
			log.Debugf("onAuthenticate for session %s decided by '%s': %s", sess.ID, m.path, res.Kind)
			return apply(sess, res)
		}
	}
	log.Errorf("No authentication module handled the response for session %s using '%s'. Check the plugin configuration", sess.ID, sess.AuthMethod)
	return plugins.AuthResult{Kind: plugins.AuthDeny, Reason: errors.TagInternalError}
}

// OnJoin tells every module the session has joined. There is no short
// circuit, and errors are only logged.
func (a *Authenticator) OnJoin(ctx context.Context, sess *plugins.Session, details map[string]interface{}) {
	for _, m := range a.chain {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("onJoin in '%s' panicked: %v\n%s", m.path, r, debug.Stack())
				}
			}()
			if err := m.impl.OnJoin(ctx, sess, details); err != nil {
				log.Errorf("onJoin in '%s' failed for session %s: %s", m.path, sess.ID, err)
			}
		}()
	}
}

func (a *Authenticator) safely(path, hook string, fn func() plugins.AuthResult) (res plugins.AuthResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s in '%s' panicked: %v\n%s", hook, path, r, debug.Stack())
			res = plugins.AuthResult{Kind: plugins.AuthDeny, Reason: errors.TagInternalError}
		}
	}()
	return fn()
}

// apply records the decision on the session
func apply(sess *plugins.Session, res plugins.AuthResult) plugins.AuthResult {
	switch res.Kind {
	case plugins.AuthChallenge:
		sess.AuthMethod = res.AuthMethod
		sess.Challenge = res.Extra
	case plugins.AuthAccept:
		sess.AuthID = res.AuthID
		sess.AuthRole = res.AuthRole
		sess.AuthMethod = res.AuthMethod
		sess.Challenge = nil
	case plugins.AuthDeny:
		sess.Challenge = nil
		if res.Reason == "" {
			res.Reason = errors.TagAuthFailed
		}
	}
	return res
}

func (a *Authenticator) String() string {
	paths := make([]string, len(a.chain))
	for i, m := range a.chain {
		paths[i] = m.path
	}
	return fmt.Sprintf("Authenticator%v", paths)
}
