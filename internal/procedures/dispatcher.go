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
	"runtime/debug"
	"time"

	"github.com/hyperledger/firefly-exgateway/internal/auth"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/metrics"
	"github.com/hyperledger/firefly-exgateway/internal/schema"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

type ContextKey int

const (
	ContextKeyAPIType ContextKey = iota
)

// detailsKwarg is reserved. A caller cannot supply it, the dispatcher
// derives the details from the session.
const detailsKwarg = "details"

// WithAPIType labels calls made with this context in metrics
func WithAPIType(ctx context.Context, apiType string) context.Context {
	return context.WithValue(ctx, ContextKeyAPIType, apiType)
}

func apiTypeFrom(ctx context.Context) string {
	if s, ok := ctx.Value(ContextKeyAPIType).(string); ok {
		return s
	}
	return "internal"
}

// ArgsValidator checks the named arguments of a call
type ArgsValidator interface {
	Validate(uri string, kwargs map[string]interface{}) error
}

// CallAuthorizer decides whether a session may act on a URI
type CallAuthorizer interface {
	Authorize(ctx context.Context, sess *plugins.Session, uri string, action plugins.Action) bool
}

// Dispatcher is the single path from either gateway to a procedure
type Dispatcher struct {
	table      *Table
	validator  ArgsValidator
	authorizer CallAuthorizer
}

// NewDispatcher constructor. The validator may be nil when schema
// validation is disabled.
func NewDispatcher(table *Table, validator ArgsValidator, authorizer CallAuthorizer) *Dispatcher {
	return &Dispatcher{
		table:      table,
		validator:  validator,
		authorizer: authorizer,
	}
}

// Table returns the procedure table
func (d *Dispatcher) Table() *Table {
	return d.table
}

// Call looks up, validates, authorizes and invokes a procedure. Every
// error returned can be sent to the caller with errors.ToWire.
func (d *Dispatcher) Call(ctx context.Context, sess *plugins.Session, uri string, args []interface{}, kwargs map[string]interface{}) (result interface{}, err error) {
	startTime := time.Now()
	outcome := "error"
	defer func() {
		metrics.CallObserved(apiTypeFrom(ctx), uri, outcome, startTime)
	}()

	proc, ok := d.table.Lookup(uri)
	if !ok {
		outcome = "unknown"
		return nil, errors.NewCallerError(errors.TagNoSuchFunction, uri)
	}

	if _, supplied := kwargs[detailsKwarg]; supplied {
		log.Warnf("Ignoring caller supplied details on %s from session %s", uri, sess.ID)
	}
	cleaned := make(map[string]interface{}, len(kwargs))
	for k, v := range kwargs {
		if k != detailsKwarg {
			cleaned[k] = v
		}
	}
	merged, err := schema.MergeArgs(uri, proc.Params, args, cleaned)
	if err != nil {
		outcome = "invalid"
		return nil, err
	}
	if d.validator != nil {
		if err := d.validator.Validate(uri, merged); err != nil {
			outcome = "invalid"
			return nil, d.sanitize(uri, err)
		}
	}

	if !d.authorizer.Authorize(ctx, sess, uri, plugins.ActionCall) {
		outcome = "denied"
		return nil, errors.NewCallerError(errors.TagNotAuthorized, uri)
	}

	inv := &plugins.Invocation{
		URI:     uri,
		Args:    args,
		Kwargs:  merged,
		Session: sess,
		Details: plugins.DetailsOf(sess),
	}
	result, err = d.invoke(auth.WithSession(ctx, sess), proc, inv)
	if err != nil {
		return nil, d.sanitize(uri, err)
	}
	outcome = "success"
	return result, nil
}

func (d *Dispatcher) invoke(ctx context.Context, proc *Procedure, inv *plugins.Invocation) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Procedure %s panicked: %v\n%s", proc.URI, r, debug.Stack())
			err = errors.NewCallerError(errors.TagInternalError)
		}
	}()
	return proc.Handler(ctx, inv)
}

// sanitize passes caller-visible errors through, and replaces anything else
// with an opaque internal error after logging it
func (d *Dispatcher) sanitize(uri string, err error) error {
	if _, ok := err.(errors.WireError); ok {
		return err
	}
	log.Errorf("Call to %s failed: %s", uri, err)
	return errors.NewCallerError(errors.TagInternalError)
}
