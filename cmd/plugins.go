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

package cmd

import (
	"fmt"

	"github.com/hyperledger/firefly-exgateway/internal/auth"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/identity"
	iplugins "github.com/hyperledger/firefly-exgateway/internal/plugins"
	"github.com/hyperledger/firefly-exgateway/internal/procedures"
	"github.com/hyperledger/firefly-exgateway/internal/rest"
	"github.com/hyperledger/firefly-exgateway/internal/schema"
	"github.com/hyperledger/firefly-exgateway/internal/ws"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	// Every plugin compiled into the gateway registers itself here
	_ "github.com/hyperledger/firefly-exgateway/internal/authplugins"
	_ "github.com/hyperledger/firefly-exgateway/internal/backend"
	_ "github.com/hyperledger/firefly-exgateway/internal/services"
)

func initPluginsList() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "Lists the plugin paths that can be named in the configuration",
		Run: func(cmd *cobra.Command, args []string) {
			for _, path := range plugins.RegisteredPaths() {
				fmt.Printf("%-24s %s\n", path, plugins.LookupFactory(path).Service)
			}
		},
	}
}

func modulesOf(loaded []*iplugins.Plugin) []plugins.Module {
	mods := make([]plugins.Module, len(loaded))
	for i, p := range loaded {
		mods[i] = p.Module
	}
	return mods
}

// buildGateway wires the chains, the procedure table and both front-ends
// over the loaded plugins
func buildGateway(rt *iplugins.Runtime) (*rest.RESTGateway, error) {
	c := rt.Config()

	table, err := procedures.NewTable(rt)
	if err != nil {
		return nil, err
	}
	var validator procedures.ArgsValidator
	if c.Schema.Enabled {
		v, err := schema.NewValidator(&c.Schema)
		if err != nil {
			return nil, err
		}
		validator = v
	}

	authn := auth.NewAuthenticator(rt)
	authz := auth.NewAuthorizer(rt)
	log.Infof("Authentication: %s Authorization: %s", authn, authz)
	dispatcher := procedures.NewDispatcher(table, validator, authz)

	wsServer := ws.NewWebSocketServer(&c.Session, authn, authz, dispatcher, func(event string, args ...interface{}) {
		rt.Emit(nil, event, args...)
	})
	rt.SetPublisher(wsServer)

	identityMods := modulesOf(rt.ByService(plugins.KindIdentity))
	ledger, err := nonceLedger(rt, table, identityMods)
	if err != nil {
		return nil, err
	}
	return rest.NewRESTGateway(c, dispatcher, identity.Lookups(identityMods), ledger, wsServer), nil
}

// nonceLedger returns the ledger named in the config, or the first identity
// plugin with one. Having none is only an error if the config names one.
func nonceLedger(rt *iplugins.Runtime, table *procedures.Table, identityMods []plugins.Module) (identity.NonceLedger, error) {
	if path := rt.Config().REST.NonceLedger; path != "" {
		p, err := rt.Require("rest", path)
		if err != nil {
			return nil, err
		}
		ledger, ok := p.Module.(identity.NonceLedger)
		if !ok {
			return nil, errors.Errorf(errors.PluginWrongType, path, "NonceLedger")
		}
		return ledger, nil
	}
	ledger, err := identity.FirstNonceLedger(identityMods)
	if err != nil {
		for _, uri := range table.URIs() {
			if table.RequiresIdentity(uri) {
				log.Warnf("%s. REST calls to %s will fail", err, uri)
				break
			}
		}
		return nil, nil
	}
	return ledger, nil
}
