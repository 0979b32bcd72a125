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

	"github.com/hyperledger/firefly-exgateway/internal/metrics"
	iplugins "github.com/hyperledger/firefly-exgateway/internal/plugins"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

type namedAuthorizer struct {
	path string
	impl plugins.Authorizer
}

// Authorizer is the ordered chain of authorization plugins
type Authorizer struct {
	chain []namedAuthorizer
}

// NewAuthorizer builds the chain from the loaded authorization plugins
func NewAuthorizer(rt *iplugins.Runtime) *Authorizer {
	return newAuthorizer(rt.ByService(plugins.KindAuthorization))
}

func newAuthorizer(loaded []*iplugins.Plugin) *Authorizer {
	a := &Authorizer{}
	for _, p := range loaded {
		impl, ok := p.Module.(plugins.Authorizer)
		if !ok {
			log.Warnf("Plugin '%s' is registered for authorization but does not implement it", p.Path)
			continue
		}
		a.chain = append(a.chain, namedAuthorizer{path: p.Path, impl: impl})
	}
	log.Debugf("Authorizer chain has %d modules", len(a.chain))
	return a
}

// Decide returns the first verdict that is not Abstain, or Deny if the
// chain is exhausted
func (a *Authorizer) Decide(ctx context.Context, sess *plugins.Session, uri string, action plugins.Action) plugins.Verdict {
	for _, m := range a.chain {
		v := a.safely(m.path, func() plugins.Verdict {
			return m.impl.Authorize(ctx, sess, uri, action)
		})
		if v != plugins.Abstain {
			log.Debugf("%s %s by %s/%s: %s (%s)", action, uri, sess.AuthID, sess.AuthRole, v, m.path)
			metrics.VerdictInc(string(action), v.String())
			return v
		}
	}
	log.Debugf("%s %s by %s/%s: no module decided, denying", action, uri, sess.AuthID, sess.AuthRole)
	metrics.VerdictInc(string(action), plugins.Deny.String())
	return plugins.Deny
}

// Authorize is true only for an explicit Allow
func (a *Authorizer) Authorize(ctx context.Context, sess *plugins.Session, uri string, action plugins.Action) bool {
	return a.Decide(ctx, sess, uri, action) == plugins.Allow
}

// a panicking module denies
func (a *Authorizer) safely(path string, fn func() plugins.Verdict) (v plugins.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Authorizer '%s' panicked: %v\n%s", path, r, debug.Stack())
			v = plugins.Deny
		}
	}()
	return fn()
}

func (a *Authorizer) String() string {
	paths := make([]string, len(a.chain))
	for i, m := range a.chain {
		paths[i] = m.path
	}
	return fmt.Sprintf("Authorizer%v", paths)
}
