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

package authtest

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

// TestAuthenticator designed for unit testing - returns fixed results and counts calls
type TestAuthenticator struct {
	plugins.Base
	Hello        plugins.AuthResult
	Authenticate plugins.AuthResult
	JoinErr      error
	HelloCalls   int32
	AuthCalls    int32
	JoinCalls    int32
}

// OnHello of TEST MODULE returns the fixed hello result
func (a *TestAuthenticator) OnHello(ctx context.Context, sess *plugins.Session, realm string, details map[string]interface{}) plugins.AuthResult {
	atomic.AddInt32(&a.HelloCalls, 1)
	return a.Hello
}

// OnAuthenticate of TEST MODULE returns the fixed authenticate result
func (a *TestAuthenticator) OnAuthenticate(ctx context.Context, sess *plugins.Session, signature string, extra map[string]interface{}) plugins.AuthResult {
	atomic.AddInt32(&a.AuthCalls, 1)
	return a.Authenticate
}

// OnJoin of TEST MODULE counts the join
func (a *TestAuthenticator) OnJoin(ctx context.Context, sess *plugins.Session, details map[string]interface{}) error {
	atomic.AddInt32(&a.JoinCalls, 1)
	return a.JoinErr
}

// TestAuthorizer designed for unit testing - returns a fixed verdict and counts calls
type TestAuthorizer struct {
	plugins.Base
	Verdict plugins.Verdict
	Panic   bool
	Calls   int32
}

// Authorize of TEST MODULE returns the fixed verdict
func (a *TestAuthorizer) Authorize(ctx context.Context, sess *plugins.Session, uri string, action plugins.Action) plugins.Verdict {
	atomic.AddInt32(&a.Calls, 1)
	if a.Panic {
		panic(fmt.Sprintf("badness on %s", uri))
	}
	return a.Verdict
}

// AllowAll is an authorizer that allows everything, for tests of the layers above
func AllowAll() *TestAuthorizer {
	return &TestAuthorizer{Verdict: plugins.Allow}
}
