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
	"crypto/rand"
	"encoding/hex"

	"github.com/hyperledger/firefly-exgateway/internal/backend"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/identity"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

func init() {
	plugins.RegisterFactory("services.registrar", plugins.KindService, func() plugins.Module {
		return &Registrar{}
	})
}

// Registrar creates accounts. When a writable identity store is loaded the
// profile is kept there, otherwise it is sent to the accountant.
type Registrar struct {
	plugins.Base
	host      plugins.Host
	component string
}

func (r *Registrar) Configure(host plugins.Host) error {
	r.host = host
	r.component = host.Config().Backend.Accountant
	return nil
}

func (r *Registrar) Namespace() string { return "rpc.registrar" }

func (r *Registrar) RequiresIdentity() bool { return false }

func (r *Registrar) Procedures() []plugins.ProcedureDef {
	return []plugins.ProcedureDef{
		procedure("make_account", r.makeAccount, "username", "password", "salt", "email"),
	}
}

func (r *Registrar) writer() identity.Writer {
	for _, m := range r.host.ByService(plugins.KindIdentity) {
		if w, ok := m.(identity.Writer); ok {
			return w
		}
	}
	return nil
}

func (r *Registrar) makeAccount(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
	username := inv.StringArg("username")
	password := inv.StringArg("password")
	if username == "" || password == "" {
		return nil, errors.NewCallerError(errors.TagInvalidArgument, "username and password are required")
	}
	salt := inv.StringArg("salt")
	if salt == "" {
		b := make([]byte, 16)
		_, _ = rand.Read(b)
		salt = hex.EncodeToString(b)
	}
	profile := identity.NewProfile(username, password, salt)

	w := r.writer()
	if w == nil {
		client, err := backend.FromHost(r.host)
		if err != nil {
			return nil, err
		}
		return client.Call(ctx, r.component, "make_account", []interface{}{username, inv.StringArg("email")}, map[string]interface{}{
			"password_hash": profile.PasswordHash,
			"salt":          profile.Salt,
			"iterations":    profile.Iterations,
			"keylen":        profile.KeyLen,
		})
	}

	existing, err := identity.FindProfile(ctx, identity.Lookups(r.host.ByService(plugins.KindIdentity)), username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.NewCallerError(errors.TagUsernameTaken, username)
	}
	if err := w.PutProfile(ctx, profile); err != nil {
		return nil, err
	}
	log.Infof("Created account '%s'", username)
	return true, nil
}
