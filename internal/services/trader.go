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
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

func init() {
	plugins.RegisterFactory("services.trader", plugins.KindService, func() plugins.Module {
		return &Trader{}
	})
}

// Trader is the order entry and account API. Every call acts on the
// authenticated user's account.
type Trader struct {
	proxied
}

func (t *Trader) Namespace() string { return "rpc.trader" }

func (t *Trader) RequiresIdentity() bool { return true }

func (t *Trader) Procedures() []plugins.ProcedureDef {
	return []plugins.ProcedureDef{
		procedure("place_order", t.forwardAsUser(t.conf.Engine, "place_order", "order"), "order"),
		procedure("cancel_order", t.forwardAsUser(t.conf.Engine, "cancel_order", "id"), "id"),
		procedure("get_positions", t.forwardAsUser(t.conf.Accountant, "get_positions")),
		procedure("get_open_orders", t.forwardAsUser(t.conf.Accountant, "get_open_orders")),
		procedure("get_transaction_history", t.forwardAsUser(t.conf.Accountant, "get_transaction_history", "from_timestamp", "to_timestamp"),
			"from_timestamp", "to_timestamp"),
		procedure("get_new_address", t.forwardAsUser(t.conf.Accountant, "get_new_address", "ticker"), "ticker"),
		procedure("request_withdrawal", t.forwardAsUser(t.conf.Accountant, "request_withdrawal", "ticker", "amount", "address"),
			"ticker", "amount", "address"),
	}
}
