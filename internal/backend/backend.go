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

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/firefly-exgateway/internal/auth"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/metrics"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	"github.com/tidwall/gjson"
)

// EventBackend is emitted on the runtime for every event a collaborator
// publishes. Handlers receive the topic and the decoded payload.
const EventBackend = "backend.event"

// Client is the contract procedures use to reach the exchange's backend
// collaborators. Every call is bounded by the configured timeout, or the
// context deadline if that is sooner, and is never retried.
type Client interface {
	Call(ctx context.Context, component, procedure string, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
}

// TimeoutError is returned when a collaborator does not reply in time
type TimeoutError struct {
	Component string
	Procedure string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return errors.Errorf(errors.BackendTimeout, e.Component, e.Procedure, e.Timeout).Error()
}

// WireArgs reports the timeout to the caller without internal detail
func (e *TimeoutError) WireArgs() []interface{} {
	return []interface{}{errors.TagBackendTimeout}
}

// RemoteError is a domain error raised by a collaborator. It is passed
// through to the caller as-is.
type RemoteError struct {
	Tag  string
	Args []interface{}
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Tag, e.Args)
}

// WireArgs returns the tag followed by the args
func (e *RemoteError) WireArgs() []interface{} {
	return append([]interface{}{e.Tag}, e.Args...)
}

// Request is the body sent to a collaborator
type Request struct {
	ID        string                 `json:"id"`
	Component string                 `json:"component"`
	Procedure string                 `json:"procedure"`
	Args      []interface{}          `json:"args"`
	Kwargs    map[string]interface{} `json:"kwargs"`
}

func newRequest(id, component, procedure string, args []interface{}, kwargs map[string]interface{}) ([]byte, error) {
	if args == nil {
		args = []interface{}{}
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}
	b, err := json.Marshal(&Request{ID: id, Component: component, Procedure: procedure, Args: args, Kwargs: kwargs})
	if err != nil {
		return nil, errors.Errorf(errors.BackendMarshal, component, procedure, err)
	}
	return b, nil
}

// ParseReply decodes {"result": ...} or {"error": [tag, args...]}
func ParseReply(what string, b []byte) (interface{}, error) {
	if !gjson.ValidBytes(b) {
		return nil, errors.Errorf(errors.BackendReplyParse, what, "invalid JSON")
	}
	if e := gjson.GetBytes(b, "error"); e.Exists() && e.Type != gjson.Null {
		if !e.IsArray() || len(e.Array()) == 0 {
			return nil, errors.Errorf(errors.BackendReplyParse, what, "malformed error")
		}
		parts := e.Array()
		remote := &RemoteError{Tag: parts[0].String(), Args: []interface{}{}}
		for _, a := range parts[1:] {
			remote.Args = append(remote.Args, a.Value())
		}
		return nil, remote
	}
	return gjson.GetBytes(b, "result").Value(), nil
}

// callContext bounds a call by the configured timeout, and returns the
// bound actually in force when the caller's deadline is sooner
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, time.Duration) {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	return callCtx, cancel, timeout
}

// waitError converts the end of a call context into the right error
func waitError(ctx context.Context, component, procedure string, timeout time.Duration) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &TimeoutError{Component: component, Procedure: procedure, Timeout: timeout}
	}
	return ctx.Err()
}

// sessionID is the caller's session, passed on so collaborators can audit
func sessionID(ctx context.Context) string {
	if sess := auth.SessionFrom(ctx); sess != nil {
		return sess.ID
	}
	return ""
}

func outcomeOf(err error) string {
	switch err.(type) {
	case nil:
		return "success"
	case *TimeoutError:
		return "timeout"
	case *RemoteError:
		return "remote_error"
	default:
		return "error"
	}
}

// observed wraps a call with backend latency metrics
func observed(component string, fn func() (interface{}, error)) (interface{}, error) {
	done := metrics.StartBackendCall(component)
	res, err := fn()
	done(outcomeOf(err))
	return res, err
}

// FromHost finds the first loaded backend plugin
func FromHost(host plugins.Host) (Client, error) {
	for _, m := range host.ByService(plugins.KindBackend) {
		if c, ok := m.(Client); ok {
			return c, nil
		}
	}
	return nil, errors.Errorf(errors.PluginRequiredMissing, host.Path(), "backend.*")
}
