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
	"sync"
	"time"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

func init() {
	plugins.RegisterFactory("services.info", plugins.KindService, func() plugins.Module {
		return &Info{}
	})
}

// Info reports what this gateway is, and how many sessions it holds
type Info struct {
	plugins.Base
	conf     *conf.InfoConf
	mux      sync.Mutex
	sessions map[string]bool
}

func (i *Info) Configure(host plugins.Host) error {
	i.conf = &host.Config().Info
	i.sessions = make(map[string]bool)
	return nil
}

// EventHandlers tracks joined sessions
func (i *Info) EventHandlers() []plugins.EventHandler {
	return []plugins.EventHandler{
		{Event: plugins.EventSessionJoin, Handler: i.sessionEvent(true)},
		{Event: plugins.EventSessionLeave, Handler: i.sessionEvent(false)},
	}
}

func (i *Info) sessionEvent(joined bool) plugins.EventFunc {
	return func(args ...interface{}) error {
		if len(args) == 0 {
			return nil
		}
		sess, ok := args[0].(*plugins.Session)
		if !ok {
			return nil
		}
		i.mux.Lock()
		defer i.mux.Unlock()
		if joined {
			i.sessions[sess.ID] = true
		} else {
			delete(i.sessions, sess.ID)
		}
		return nil
	}
}

func (i *Info) Namespace() string { return "rpc.info" }

func (i *Info) RequiresIdentity() bool { return false }

func (i *Info) Procedures() []plugins.ProcedureDef {
	return []plugins.ProcedureDef{
		procedure("get_exchange_info", i.getExchangeInfo),
	}
}

func (i *Info) getExchangeInfo(ctx context.Context, inv *plugins.Invocation) (interface{}, error) {
	i.mux.Lock()
	online := len(i.sessions)
	i.mux.Unlock()
	return map[string]interface{}{
		"name":            i.conf.Name,
		"version":         i.conf.Version,
		"server_time":     time.Now().UnixNano() / int64(time.Millisecond),
		"sessions_online": online,
	}, nil
}
