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
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/metrics"
	iplugins "github.com/hyperledger/firefly-exgateway/internal/plugins"
	"github.com/hyperledger/firefly-exgateway/internal/utils"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	_ "net/http/pprof"
)

func initLogging(debugLevel int) {
	log.SetFormatter(&prefixed.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		DisableSorting:  true,
		ForceFormatting: true,
		FullTimestamp:   true,
	})
	switch debugLevel {
	case 0:
		log.SetLevel(log.ErrorLevel)
	case 1:
		log.SetLevel(log.InfoLevel)
	case 2:
		log.SetLevel(log.DebugLevel)
	case 3:
		log.SetLevel(log.TraceLevel)
	default:
		log.SetLevel(log.DebugLevel)
	}
	log.Debugf("Log level set to %d", debugLevel)
}

var rootConfig struct {
	DebugLevel int
	DebugPort  int
	PrintYAML  bool
}

var serverCmdConfig struct {
	Filename string
	Type     string
}

var rootCmd = &cobra.Command{
	Use:   "exgateway [sub]",
	Short: "Protocol gateway for an exchange",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(rootConfig.DebugLevel)

		if rootConfig.DebugPort > 0 {
			go func() {
				log.Debugf("Debug HTTP endpoint listening on localhost:%d: %s", rootConfig.DebugPort, http.ListenAndServe(fmt.Sprintf("localhost:%d", rootConfig.DebugPort), nil))
			}()
		}
	},
}

func initServer() (serverCmd *cobra.Command) {
	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Runs the gateway with the plugins defined in a YAML config file",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			serverConfig, err := readServerConfig()
			if err != nil {
				return
			}
			if rootConfig.PrintYAML {
				b, err := utils.MarshalToYAML(&serverConfig)
				print("# Full YAML configuration processed from supplied file\n" + string(b))
				return err
			}
			return startServer(context.Background(), serverConfig)
		},
		PreRunE: func(cmd *cobra.Command, args []string) (err error) {
			if serverCmdConfig.Filename == "" {
				err = errors.Errorf(errors.ConfigNoYAML)
				return
			}
			return
		},
	}
	defType := utils.GetenvOrDefaultLowerCase("EXGATEWAY_CONFIGFILE_TYPE", "yaml")
	serverCmd.Flags().StringVarP(&serverCmdConfig.Filename, "filename", "f", os.Getenv("EXGATEWAY_CONFIGFILE"), "Configuration file")
	serverCmd.Flags().StringVarP(&serverCmdConfig.Type, "type", "t", defType, "File type (json/yaml)")
	return
}

func readServerConfig() (serverConfig *conf.ServerConfig, err error) {
	confBytes, err := ioutil.ReadFile(serverCmdConfig.Filename)
	if err != nil {
		err = errors.Errorf(errors.ConfigFileReadFailed, serverCmdConfig.Filename, err)
		return
	}
	if utils.IsYAML(serverCmdConfig.Type) {
		// Convert to JSON first
		if confBytes, err = utils.YAMLToJSON(confBytes); err != nil {
			err = errors.Errorf(errors.ConfigYAMLParseFile, serverCmdConfig.Filename, err)
			return
		}
	}
	serverConfig = &conf.ServerConfig{}
	err = json.Unmarshal(confBytes, serverConfig)
	if err != nil {
		err = errors.Errorf(errors.ConfigYAMLPostParseFile, serverCmdConfig.Filename, err)
		return
	}
	serverConfig.SetDefaults()
	return
}

// startServer boots the plugins in the configured order, serves until the
// context is cancelled or a signal is received, then tears the plugins
// down in reverse order
func startServer(ctx context.Context, serverConfig *conf.ServerConfig) error {
	if serverConfig.Metrics.Enabled {
		metrics.Setup()
	}
	rt := iplugins.NewRuntime(serverConfig)
	return rt.RunWithPlugins(ctx, serverConfig.Plugins, func(ctx context.Context) error {
		gw, err := buildGateway(rt)
		if err != nil {
			return err
		}
		log.Infof("Starting gateway '%s' with plugins %v", serverConfig.Info.Name, serverConfig.Plugins)
		return gw.Start(ctx)
	})
}

func init() {
	utils.LoadDotEnv(".env")

	rootCmd.PersistentFlags().IntVarP(&rootConfig.DebugLevel, "debug", "d", 1, "0=error, 1=info, 2=debug, 3=trace")
	rootCmd.PersistentFlags().IntVarP(&rootConfig.DebugPort, "debugPort", "Z", utils.DefInt("EXGATEWAY_DEBUG_PORT", 6060), "Port for pprof HTTP endpoints (localhost only)")
	rootCmd.PersistentFlags().BoolVarP(&rootConfig.PrintYAML, "print-yaml-confg", "Y", false, "Print YAML config snippet and exit")

	rootCmd.AddCommand(initServer())
	rootCmd.AddCommand(initPluginsList())
}

// Execute is called by the main method of the package
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		return 1
	}
	return 0
}
