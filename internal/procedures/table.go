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
	"regexp"
	"sort"
	"strings"

	"github.com/hyperledger/firefly-exgateway/internal/errors"
	iplugins "github.com/hyperledger/firefly-exgateway/internal/plugins"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

var nameRegexp = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Procedure is a callable entry in the table
type Procedure struct {
	URI              string
	Params           []string
	Handler          plugins.Handler
	RequiresIdentity bool
	Owner            string
}

// Table maps URIs to procedures. It is built once at boot and never
// changes, so both gateways can read it without locking.
type Table struct {
	procs map[string]*Procedure
	uris  []string
}

// NewTable builds the table from every loaded service plugin
func NewTable(rt *iplugins.Runtime) (*Table, error) {
	return newTable(rt.ByService(plugins.KindService))
}

func newTable(loaded []*iplugins.Plugin) (*Table, error) {
	t := &Table{procs: make(map[string]*Procedure)}
	for _, p := range loaded {
		svc, ok := p.Module.(plugins.Service)
		if !ok {
			return nil, errors.Errorf(errors.PluginWrongType, p.Path, "Service")
		}
		ns := svc.Namespace()
		if !validNamespace(ns) {
			return nil, errors.Errorf(errors.ProcedureInvalidName, ns, p.Path)
		}
		for _, def := range svc.Procedures() {
			if !nameRegexp.MatchString(def.Name) || def.Handler == nil {
				return nil, errors.Errorf(errors.ProcedureInvalidName, def.Name, p.Path)
			}
			uri := ns + "." + def.Name
			if existing, dup := t.procs[uri]; dup {
				return nil, errors.Errorf(errors.ProcedureDuplicateURI, uri, existing.Owner, p.Path)
			}
			t.procs[uri] = &Procedure{
				URI:              uri,
				Params:           def.Params,
				Handler:          def.Handler,
				RequiresIdentity: svc.RequiresIdentity(),
				Owner:            p.Path,
			}
			t.uris = append(t.uris, uri)
		}
	}
	sort.Strings(t.uris)
	log.Infof("Procedure table built with %d procedures", len(t.uris))
	return t, nil
}

func validNamespace(ns string) bool {
	parts := strings.Split(ns, ".")
	if len(parts) != 2 {
		return false
	}
	return nameRegexp.MatchString(parts[0]) && nameRegexp.MatchString(parts[1])
}

// Lookup returns the procedure for a URI
func (t *Table) Lookup(uri string) (*Procedure, bool) {
	p, ok := t.procs[uri]
	return p, ok
}

// RequiresIdentity is true if the URI is in a namespace that needs an authenticated user
func (t *Table) RequiresIdentity(uri string) bool {
	p, ok := t.procs[uri]
	return ok && p.RequiresIdentity
}

// URIs lists every registered URI, sorted
func (t *Table) URIs() []string {
	return append([]string{}, t.uris...)
}
