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

package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
)

// SessionAuthenticator runs the handshake
type SessionAuthenticator interface {
	OnHello(ctx context.Context, sess *plugins.Session, realm string, details map[string]interface{}) plugins.AuthResult
	OnAuthenticate(ctx context.Context, sess *plugins.Session, signature string, extra map[string]interface{}) plugins.AuthResult
	OnJoin(ctx context.Context, sess *plugins.Session, details map[string]interface{})
}

// SessionAuthorizer decides subscribe and publish
type SessionAuthorizer interface {
	Authorize(ctx context.Context, sess *plugins.Session, uri string, action plugins.Action) bool
}

// Caller dispatches procedure calls
type Caller interface {
	Call(ctx context.Context, sess *plugins.Session, uri string, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
}

// Emitter raises runtime events
type Emitter func(event string, args ...interface{})

// WebSocketServer terminates the session protocol, and is the broker
// for the feeds sessions subscribe to
type WebSocketServer interface {
	plugins.Publisher
	AddRoutes(r *httprouter.Router)
	Close()
}

type webSocketServer struct {
	conf          *conf.SessionConf
	authn         SessionAuthenticator
	authz         SessionAuthorizer
	caller        Caller
	emit          Emitter
	mux           sync.Mutex
	connections   map[string]*webSocketConnection
	subscriptions map[string]map[string]*webSocketConnection
	upgrader      *websocket.Upgrader
	publications  int64
}

// NewWebSocketServer create a new server
func NewWebSocketServer(conf *conf.SessionConf, authn SessionAuthenticator, authz SessionAuthorizer, caller Caller, emit Emitter) WebSocketServer {
	if emit == nil {
		emit = func(string, ...interface{}) {}
	}
	return &webSocketServer{
		conf:          conf,
		authn:         authn,
		authz:         authz,
		caller:        caller,
		emit:          emit,
		connections:   make(map[string]*webSocketConnection),
		subscriptions: make(map[string]map[string]*webSocketConnection),
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  conf.ReadBufferSize,
			WriteBufferSize: conf.WriteBufferSize,
			Subprotocols:    []string{Subprotocol},
		},
	}
}

func (s *webSocketServer) handler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("WebSocket upgrade failed: %s", err)
		return
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	c := newConnection(s, conn)
	s.connections[c.id] = c
}

func (s *webSocketServer) AddRoutes(r *httprouter.Router) {
	r.GET(s.conf.Path, s.handler)
}

func (s *webSocketServer) Close() {
	s.mux.Lock()
	conns := getConnListFromMap(s.connections)
	s.mux.Unlock()
	for _, c := range conns {
		c.close()
	}
}

func (s *webSocketServer) connectionClosed(c *webSocketConnection) {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.connections, c.id)
	for topic := range c.subscribedTopics() {
		s.removeSubscriber(topic, c)
	}
}

func (s *webSocketServer) subscribe(topic string, c *webSocketConnection) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if c.isClosed() {
		return
	}
	subs, exists := s.subscriptions[topic]
	if !exists {
		subs = make(map[string]*webSocketConnection)
		s.subscriptions[topic] = subs
	}
	subs[c.id] = c
}

func (s *webSocketServer) unsubscribe(topic string, c *webSocketConnection) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.removeSubscriber(topic, c)
}

// removeSubscriber must be called holding the lock
func (s *webSocketServer) removeSubscriber(topic string, c *webSocketConnection) {
	if subs, exists := s.subscriptions[topic]; exists {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(s.subscriptions, topic)
		}
	}
}

// Publish delivers an event to every session subscribed to the topic, and
// returns how many it was queued for. A session too slow to keep up misses
// the event rather than holding up the publisher.
func (s *webSocketServer) Publish(topic string, event interface{}) int {
	_, delivered := s.publish(topic, event)
	return delivered
}

func (s *webSocketServer) publish(topic string, event interface{}) (publication int64, delivered int) {
	s.mux.Lock()
	wsconns := getConnListFromMap(s.subscriptions[topic])
	s.publications++
	publication = s.publications
	s.mux.Unlock()

	var args []interface{}
	if event != nil {
		args = []interface{}{event}
	}
	for _, c := range wsconns {
		if c.deliverEvent(topic, publication, args) {
			delivered++
		}
	}
	return publication, delivered
}

// getConnListFromMap is a simple helper to snapshot a map into a list, which can be called with a short-lived lock
func getConnListFromMap(tm map[string]*webSocketConnection) []*webSocketConnection {
	wsconns := make([]*webSocketConnection, 0, len(tm))
	for _, c := range tm {
		wsconns = append(wsconns, c)
	}
	return wsconns
}
