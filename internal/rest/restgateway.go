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

package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/identity"
	"github.com/hyperledger/firefly-exgateway/internal/metrics"
	"github.com/hyperledger/firefly-exgateway/internal/procedures"
	"github.com/hyperledger/firefly-exgateway/internal/utils"
	"github.com/hyperledger/firefly-exgateway/internal/ws"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
)

const (
	// MaxHeaderSize max size of content
	MaxHeaderSize = 16 * 1024
)

// RESTGateway is the HTTP front-end. It serves the signed REST API, and
// hosts the session gateway on the same listener.
type RESTGateway struct {
	conf       *conf.ServerConfig
	dispatcher *procedures.Dispatcher
	lookups    []identity.Lookup
	ledger     identity.NonceLedger
	ws         ws.WebSocketServer
	srv        *http.Server
}

// NewRESTGateway constructor. The ledger may be nil if no loaded service
// requires identity. The session gateway may be nil to serve REST only.
func NewRESTGateway(conf *conf.ServerConfig, dispatcher *procedures.Dispatcher, lookups []identity.Lookup, ledger identity.NonceLedger, wsServer ws.WebSocketServer) *RESTGateway {
	return &RESTGateway{
		conf:       conf,
		dispatcher: dispatcher,
		lookups:    lookups,
		ledger:     ledger,
		ws:         wsServer,
	}
}

type statusMsg struct {
	OK         bool `json:"ok"`
	Procedures int  `json:"procedures"`
}

func (g *RESTGateway) statusHandler(res http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	reply, _ := json.Marshal(&statusMsg{OK: true, Procedures: len(g.dispatcher.Table().URIs())})
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(200)
	res.Write(reply)
}

// AddRoutes adds the REST API, status and metrics routes
func (g *RESTGateway) AddRoutes(router *httprouter.Router) {
	router.POST("/api/:section/:method", g.apiHandler)
	router.POST("/api", g.apiHandler)
	router.GET("/status", g.statusHandler)
	if g.conf.Metrics.Enabled {
		metrics.Setup()
		router.Handler(http.MethodGet, g.conf.Metrics.Path, metrics.Handler())
	}
}

// Handler builds the router for every route on the listener, wrapped for CORS
func (g *RESTGateway) Handler() http.Handler {
	router := httprouter.New()
	g.AddRoutes(router)
	if g.ws != nil {
		g.ws.AddRoutes(router)
	}
	allowedHeaders := append([]string{"Authorization", "Content-Type"}, g.conf.CORS.AllowedHeaders...)
	return cors.New(cors.Options{
		AllowedOrigins: g.conf.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: allowedHeaders,
		Debug:          g.conf.CORS.Debug,
	}).Handler(router)
}

// Start listens until the context is cancelled, a signal is received, or
// the listener fails
func (g *RESTGateway) Start(ctx context.Context) (err error) {

	tlsConfig, err := utils.CreateTLSConfiguration(&g.conf.HTTP.TLS)
	if err != nil {
		return
	}

	g.srv = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", g.conf.HTTP.LocalAddr, g.conf.HTTP.Port),
		TLSConfig:      tlsConfig,
		Handler:        g.Handler(),
		MaxHeaderBytes: MaxHeaderSize,
	}

	svrDone := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", g.srv.Addr)
		var err error
		if g.conf.HTTP.CertFile != "" {
			err = g.srv.ListenAndServeTLS(g.conf.HTTP.CertFile, g.conf.HTTP.KeyFile)
		} else {
			err = g.srv.ListenAndServe()
		}
		if err != nil {
			log.Errorf("Listening ended with: %s", err)
		}
		svrDone <- err
	}()

	// Clean up on SIGINT
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(signals)
	// Complete the main routine if the listener ends, or SIGINT
	select {
	case err = <-svrDone:
	case <-signals:
	case <-ctx.Done():
	}

	if g.ws != nil {
		g.ws.Close()
	}
	log.Infof("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.srv.Shutdown(shutdownCtx)

	return
}
