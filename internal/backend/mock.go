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
	"fmt"
	"sync"

	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

func init() {
	plugins.RegisterFactory("backend.mock", plugins.KindBackend, func() plugins.Module {
		return NewMockClient()
	})
}

// MockCall records a call made to the MockClient
type MockCall struct {
	Component string
	Procedure string
	Args      []interface{}
	Kwargs    map[string]interface{}
}

// MockClient - mock backend, replying from a table keyed by component.procedure.
// It is also a plugin module, so tests can load it as a backend.
type MockClient struct {
	plugins.Base
	mux     sync.Mutex
	Results map[string]interface{}
	Errors  map[string]error
	Calls   []MockCall
}

// NewMockClient - mock
func NewMockClient() *MockClient {
	return &MockClient{
		Results: make(map[string]interface{}),
		Errors:  make(map[string]error),
	}
}

// Call - mock
func (m *MockClient) Call(ctx context.Context, component, procedure string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.Calls = append(m.Calls, MockCall{Component: component, Procedure: procedure, Args: args, Kwargs: kwargs})
	key := fmt.Sprintf("%s.%s", component, procedure)
	if err, ok := m.Errors[key]; ok {
		return nil, err
	}
	return m.Results[key], nil
}

// LastCall - mock
func (m *MockClient) LastCall() MockCall {
	m.mux.Lock()
	defer m.mux.Unlock()
	if len(m.Calls) == 0 {
		return MockCall{}
	}
	return m.Calls[len(m.Calls)-1]
}
