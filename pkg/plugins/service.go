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

import "context"

// Invocation is a single call of a procedure
type Invocation struct {
	URI     string
	Args    []interface{}
	Kwargs  map[string]interface{}
	Session *Session
	Details Details
}

// Arg returns a named argument, which the dispatcher has already bound
// from positional arguments where the procedure declared parameters
func (i *Invocation) Arg(name string) (interface{}, bool) {
	v, ok := i.Kwargs[name]
	return v, ok
}

// StringArg returns a named string argument, or empty
func (i *Invocation) StringArg(name string) string {
	s, _ := i.Kwargs[name].(string)
	return s
}

// Handler implements a procedure
type Handler func(ctx context.Context, inv *Invocation) (interface{}, error)

// ProcedureDef declares one procedure of a service
type ProcedureDef struct {
	Name    string
	Params  []string
	Handler Handler
}

// Service is implemented by service plugins. Every procedure is exposed as
// <namespace>.<name> on both gateways.
type Service interface {
	Namespace() string
	RequiresIdentity() bool
	Procedures() []ProcedureDef
}
