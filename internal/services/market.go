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
	plugins.RegisterFactory("services.market", plugins.KindService, func() plugins.Module {
		return &Market{}
	})
}

// Market is the public market data API
type Market struct {
	proxied
}

func (m *Market) Namespace() string { return "rpc.market" }

func (m *Market) RequiresIdentity() bool { return false }

func (m *Market) Procedures() []plugins.ProcedureDef {
	return []plugins.ProcedureDef{
		procedure("get_markets", m.forward(m.conf.Accountant, "get_markets")),
		procedure("get_order_book", m.forward(m.conf.Engine, "get_order_book", "ticker"), "ticker"),
		procedure("get_trade_history", m.forward(m.conf.Accountant, "get_trade_history", "ticker", "from_timestamp", "to_timestamp"),
			"ticker", "from_timestamp", "to_timestamp"),
	}
}
