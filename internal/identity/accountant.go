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

package identity

import (
	"context"
	"encoding/json"

	"github.com/hyperledger/firefly-exgateway/internal/backend"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

func init() {
	plugins.RegisterFactory("identity.accountant", plugins.KindIdentity, func() plugins.Module {
		return &AccountantStore{}
	})
}

// AccountantStore proxies lookups and the nonce ledger to the accounting
// collaborator, which owns that state in a full exchange deployment
type AccountantStore struct {
	plugins.Base
	component string
	backend   backend.Client
}

// Configure requires a backend plugin loaded ahead of this one
func (a *AccountantStore) Configure(host plugins.Host) (err error) {
	a.component = host.Config().Backend.Accountant
	a.backend, err = backend.FromHost(host)
	return err
}

func (a *AccountantStore) lookup(ctx context.Context, procedure, kind, id string, v interface{}) (bool, error) {
	res, err := a.backend.Call(ctx, a.component, procedure, []interface{}{id}, nil)
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}
	b, _ := json.Marshal(res)
	if err = json.Unmarshal(b, v); err != nil {
		return false, errors.Errorf(errors.IdentityDecodeFailed, kind, id, err)
	}
	return true, nil
}

// LookupAPIKey calls get_api_credential
func (a *AccountantStore) LookupAPIKey(ctx context.Context, key string) (*APICredential, error) {
	var cred APICredential
	found, err := a.lookup(ctx, "get_api_credential", "api key", key, &cred)
	if !found {
		return nil, err
	}
	return &cred, nil
}

// LookupProfile calls get_profile
func (a *AccountantStore) LookupProfile(ctx context.Context, username string) (*Profile, error) {
	var profile Profile
	found, err := a.lookup(ctx, "get_profile", "profile", username, &profile)
	if !found {
		return nil, err
	}
	return &profile, nil
}

// CheckAndConsume calls check_and_update_api_nonce, which replies true if the
// nonce was accepted
func (a *AccountantStore) CheckAndConsume(ctx context.Context, username string, nonce int64) error {
	res, err := a.backend.Call(ctx, a.component, "check_and_update_api_nonce", []interface{}{username, nonce}, nil)
	if err != nil {
		return err
	}
	if ok, _ := res.(bool); !ok {
		return errors.Errorf(errors.IdentityNonceReplay, nonce, username)
	}
	return nil
}
