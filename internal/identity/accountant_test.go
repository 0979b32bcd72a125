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
	"testing"

	"github.com/hyperledger/firefly-exgateway/internal/backend"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/plugins/pluginstest"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	"github.com/stretchr/testify/assert"
)

func newTestAccountantStore(t *testing.T) (*AccountantStore, *backend.MockClient) {
	mock := backend.NewMockClient()
	host := pluginstest.NewTestHost("identity.accountant")
	host.Add("backend.mock", plugins.KindBackend, mock)
	a := &AccountantStore{}
	assert.NoError(t, a.Configure(host))
	return a, mock
}

func TestAccountantStoreRequiresBackend(t *testing.T) {
	a := &AccountantStore{}
	err := a.Configure(pluginstest.NewTestHost("identity.accountant"))
	assert.True(t, errors.Is(err, errors.PluginRequiredMissing))
}

func TestAccountantStoreLookups(t *testing.T) {
	assert := assert.New(t)
	a, mock := newTestAccountantStore(t)
	mock.Results["accountant.get_api_credential"] = map[string]interface{}{
		"apiKey":    "key1",
		"apiSecret": "secret",
		"username":  "alice",
	}
	cred, err := a.LookupAPIKey(context.Background(), "key1")
	assert.NoError(err)
	assert.Equal("alice", cred.Username)
	assert.Equal([]interface{}{"key1"}, mock.LastCall().Args)

	p, err := a.LookupProfile(context.Background(), "bob")
	assert.NoError(err)
	assert.Nil(p)

	mock.Results["accountant.get_profile"] = map[string]interface{}{"username": []string{"bad"}}
	_, err = a.LookupProfile(context.Background(), "bob")
	assert.True(errors.Is(err, errors.IdentityDecodeFailed))

	mock.Errors["accountant.get_api_credential"] = &backend.TimeoutError{}
	_, err = a.LookupAPIKey(context.Background(), "key1")
	assert.IsType(&backend.TimeoutError{}, err)
}

func TestAccountantStoreCheckAndConsume(t *testing.T) {
	assert := assert.New(t)
	a, mock := newTestAccountantStore(t)
	mock.Results["accountant.check_and_update_api_nonce"] = true
	assert.NoError(a.CheckAndConsume(context.Background(), "alice", 7))
	assert.Equal([]interface{}{"alice", int64(7)}, mock.LastCall().Args)

	mock.Results["accountant.check_and_update_api_nonce"] = false
	err := a.CheckAndConsume(context.Background(), "alice", 7)
	assert.True(errors.Is(err, errors.IdentityNonceReplay))

	mock.Errors["accountant.check_and_update_api_nonce"] = &backend.RemoteError{Tag: "exceptions/accountant/down"}
	err = a.CheckAndConsume(context.Background(), "alice", 8)
	assert.IsType(&backend.RemoteError{}, err)
}
