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
	"crypto/sha256"
	"encoding/hex"
)

// Session is the per-connection authentication state. It is written only
// by the authenticator chain during the handshake and by onJoin.
type Session struct {
	ID         string                 `json:"session"`
	Realm      string                 `json:"realm"`
	AuthID     string                 `json:"authid"`
	AuthRole   string                 `json:"authrole"`
	AuthMethod string                 `json:"authmethod"`
	Challenge  map[string]interface{} `json:"-"`
	Cookie     string                 `json:"-"`
	Extra      map[string]interface{} `json:"authextra,omitempty"`
}

// SetExtra adds to the additive per-session data
func (s *Session) SetExtra(key string, value interface{}) {
	if s.Extra == nil {
		s.Extra = make(map[string]interface{})
	}
	s.Extra[key] = value
}

// Details is the caller identity injected into every invocation
type Details struct {
	Username   string `json:"username"`
	AuthRole   string `json:"authrole"`
	AuthMethod string `json:"authmethod"`
	SessionID  string `json:"session,omitempty"`
}

// DetailsOf derives invocation details from an authenticated session
func DetailsOf(s *Session) Details {
	if s == nil {
		return Details{}
	}
	return Details{
		Username:   s.AuthID,
		AuthRole:   s.AuthRole,
		AuthMethod: s.AuthMethod,
		SessionID:  s.ID,
	}
}

// Verdict is the three-valued result of an authorization module.
// The zero value is Abstain, so a module that forgets to decide never allows.
type Verdict int

const (
	Abstain Verdict = iota
	Allow
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "abstain"
	}
}

// Action is what a session is attempting on a URI
type Action string

const (
	ActionCall      Action = "call"
	ActionSubscribe Action = "subscribe"
	ActionPublish   Action = "publish"
	ActionRegister  Action = "register"
)

// AuthResultKind is the outcome of one authentication module
type AuthResultKind int

const (
	AuthAbstain AuthResultKind = iota
	AuthChallenge
	AuthAccept
	AuthDeny
)

func (k AuthResultKind) String() string {
	switch k {
	case AuthChallenge:
		return "challenge"
	case AuthAccept:
		return "accept"
	case AuthDeny:
		return "deny"
	default:
		return "abstain"
	}
}

// AuthResult is returned from the authentication hooks
type AuthResult struct {
	Kind       AuthResultKind
	AuthMethod string
	Extra      map[string]interface{}
	AuthID     string
	AuthRole   string
	Reason     string
}

// Abstained is the result for a module that does not handle the request
func Abstained() AuthResult { return AuthResult{Kind: AuthAbstain} }

// Accepted admits the session with the given identity
func Accepted(method, authID, authRole string) AuthResult {
	return AuthResult{Kind: AuthAccept, AuthMethod: method, AuthID: authID, AuthRole: authRole}
}

// Denied rejects the session, reason is sent to the client
func Denied(reason string) AuthResult {
	return AuthResult{Kind: AuthDeny, Reason: reason}
}

// Challenged asks the client to prove its identity
func Challenged(method string, extra map[string]interface{}) AuthResult {
	return AuthResult{Kind: AuthChallenge, AuthMethod: method, Extra: extra}
}

// Authenticator is implemented by authentication plugins
type Authenticator interface {
	OnHello(ctx context.Context, sess *Session, realm string, details map[string]interface{}) AuthResult
	OnAuthenticate(ctx context.Context, sess *Session, signature string, extra map[string]interface{}) AuthResult
	OnJoin(ctx context.Context, sess *Session, details map[string]interface{}) error
}

// Authorizer is implemented by authorization plugins
type Authorizer interface {
	Authorize(ctx context.Context, sess *Session, uri string, action Action) Verdict
}

// UserHash is the hex SHA-256 of a username, used in per-user feed topics
func UserHash(username string) string {
	h := sha256.Sum256([]byte(username))
	return hex.EncodeToString(h[:])
}
