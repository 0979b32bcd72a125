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
	"fmt"
	"sync"

	ws "github.com/gorilla/websocket"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/metrics"
	"github.com/hyperledger/firefly-exgateway/internal/procedures"
	"github.com/hyperledger/firefly-exgateway/internal/utils"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

const (
	outboundQueueLength = 100
	reasonInvalidURI    = "wamp.error.invalid_uri"
)

type outbound struct {
	f          frame
	closeAfter bool
}

// webSocketConnection is one client session. The listen goroutine handles
// messages strictly in arrival order, and the sender goroutine is the only
// writer to the socket.
type webSocketConnection struct {
	id           string
	server       *webSocketServer
	conn         *ws.Conn
	ctx          context.Context
	cancelCtx    context.CancelFunc
	mux          sync.Mutex
	closed       bool
	sess         *plugins.Session
	helloDetails map[string]interface{}
	joined       bool
	subs         map[string]int64
	subTopics    map[int64]string
	lastSubID    int64
	outbound     chan *outbound
	closing      chan struct{}
}

func newConnection(server *webSocketServer, conn *ws.Conn) *webSocketConnection {
	id := utils.UUIDv4()
	ctx, cancel := context.WithCancel(procedures.WithAPIType(context.Background(), "WS"))
	wsc := &webSocketConnection{
		id:        id,
		server:    server,
		conn:      conn,
		ctx:       ctx,
		cancelCtx: cancel,
		sess:      &plugins.Session{ID: id},
		subs:      make(map[string]int64),
		subTopics: make(map[int64]string),
		outbound:  make(chan *outbound, outboundQueueLength),
		closing:   make(chan struct{}),
	}
	go wsc.listen()
	go wsc.sender()
	return wsc
}

func (c *webSocketConnection) close() {
	c.mux.Lock()
	first := !c.closed
	wasJoined := c.joined
	if first {
		c.closed = true
		c.joined = false
		c.conn.Close()
		close(c.closing)
		c.cancelCtx()
	}
	c.mux.Unlock()
	if !first {
		return
	}

	c.server.connectionClosed(c)
	if wasJoined {
		c.server.emit(plugins.EventSessionLeave, c.sess)
		metrics.SessionGaugeAdd(-1)
	}
	log.Infof("WS/%s: Disconnected", c.id)
}

func (c *webSocketConnection) isJoined() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.joined
}

func (c *webSocketConnection) isClosed() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.closed
}

func (c *webSocketConnection) subscribedTopics() map[string]int64 {
	c.mux.Lock()
	defer c.mux.Unlock()
	topics := make(map[string]int64, len(c.subs))
	for t, id := range c.subs {
		topics[t] = id
	}
	return topics
}

func (c *webSocketConnection) sender() {
	defer c.close()
	for {
		select {
		case o := <-c.outbound:
			if err := c.conn.WriteJSON(o.f); err != nil {
				log.Errorf("WS/%s: Send failed: %s", c.id, err)
				return
			}
			if o.closeAfter {
				return
			}
		case <-c.closing:
			log.Infof("WS/%s: Closing", c.id)
			return
		}
	}
}

func (c *webSocketConnection) send(f frame) {
	select {
	case c.outbound <- &outbound{f: f}:
	case <-c.closing:
	}
}

// sendAndClose ends the session once the frame has been written
func (c *webSocketConnection) sendAndClose(f frame) {
	select {
	case c.outbound <- &outbound{f: f, closeAfter: true}:
	case <-c.closing:
	}
}

// deliverEvent queues an event without blocking, reporting false if the
// session is not subscribed or its queue is full
func (c *webSocketConnection) deliverEvent(topic string, publication int64, args []interface{}) bool {
	c.mux.Lock()
	subID, subscribed := c.subs[topic]
	closed := c.closed
	c.mux.Unlock()
	if !subscribed || closed {
		return false
	}
	f := frame{msgEvent, subID, publication, map[string]interface{}{}}
	if args != nil {
		f = append(f, args)
	}
	select {
	case c.outbound <- &outbound{f: f}:
		return true
	default:
		log.Warnf("WS/%s: Queue full, dropping event %d on '%s'", c.id, publication, topic)
		return false
	}
}

func (c *webSocketConnection) listen() {
	log.Infof("WS/%s: Connected", c.id)
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			log.Debugf("WS/%s: Read ended: %s", c.id, err)
			c.close()
			return
		}
		f, code, err := parseFrame(b)
		if err != nil {
			log.Errorf("WS/%s: %s", c.id, err)
			c.sendAndClose(abortFrame(reasonProtocolViolation, map[string]interface{}{"message": err.Error()}))
			return
		}
		log.Debugf("WS/%s: Received message %d", c.id, code)
		if !c.handle(f, code) {
			return
		}
	}
}

// handle processes one message, returning false once the session is ending
func (c *webSocketConnection) handle(f frame, code int) bool {
	if !c.isJoined() {
		switch code {
		case msgHello:
			return c.handleHello(f)
		case msgAuthenticate:
			return c.handleAuthenticate(f)
		default:
			return c.protocolViolation("message %d before the session was established", code)
		}
	}
	switch code {
	case msgCall:
		c.handleCall(f)
	case msgSubscribe:
		c.handleSubscribe(f)
	case msgUnsubscribe:
		c.handleUnsubscribe(f)
	case msgPublish:
		c.handlePublish(f)
	case msgGoodbye:
		log.Infof("WS/%s: Goodbye: %s", c.id, f.str(2))
		c.sendAndClose(frame{msgGoodbye, map[string]interface{}{}, reasonGoodbyeAndOut})
		return false
	case msgHello, msgAuthenticate:
		return c.protocolViolation("message %d after the session was established", code)
	default:
		log.Warnf("WS/%s: Ignoring unsupported message %d", c.id, code)
	}
	return true
}

func (c *webSocketConnection) protocolViolation(format string, args ...interface{}) bool {
	msg := fmt.Sprintf(format, args...)
	log.Warnf("WS/%s: %s", c.id, errors.Errorf(errors.WebSocketBadMessage, msg))
	c.sendAndClose(abortFrame(reasonProtocolViolation, map[string]interface{}{"message": msg}))
	return false
}

func (c *webSocketConnection) handleHello(f frame) bool {
	if c.helloDetails != nil {
		return c.protocolViolation("duplicate hello")
	}
	realm := f.str(1)
	c.helloDetails = f.dict(2)
	c.sess.Realm = realm
	if realm != c.server.conf.Realm {
		log.Infof("WS/%s: Unknown realm '%s'", c.id, realm)
		c.sendAndClose(abortFrame(reasonNoSuchRealm, map[string]interface{}{"message": "no such realm"}))
		return false
	}
	res := c.server.authn.OnHello(c.ctx, c.sess, realm, c.helloDetails)
	return c.applyAuth(res)
}

func (c *webSocketConnection) handleAuthenticate(f frame) bool {
	if c.sess.Challenge == nil {
		return c.protocolViolation("authenticate without a challenge")
	}
	res := c.server.authn.OnAuthenticate(c.ctx, c.sess, f.str(1), f.dict(2))
	return c.applyAuth(res)
}

func (c *webSocketConnection) applyAuth(res plugins.AuthResult) bool {
	switch res.Kind {
	case plugins.AuthChallenge:
		extra := res.Extra
		if extra == nil {
			extra = map[string]interface{}{}
		}
		c.send(frame{msgChallenge, res.AuthMethod, extra})
		return true
	case plugins.AuthAccept:
		c.welcome()
		return true
	default:
		log.Infof("WS/%s: Session denied: %s", c.id, res.Reason)
		c.sendAndClose(abortFrame(res.Reason, res.Extra))
		return false
	}
}

func (c *webSocketConnection) welcome() {
	c.server.authn.OnJoin(c.ctx, c.sess, c.helloDetails)
	c.mux.Lock()
	c.joined = !c.closed
	joined := c.joined
	c.mux.Unlock()
	if !joined {
		return
	}

	details := map[string]interface{}{
		"realm":      c.sess.Realm,
		"authid":     c.sess.AuthID,
		"authrole":   c.sess.AuthRole,
		"authmethod": c.sess.AuthMethod,
		"roles": map[string]interface{}{
			"broker": map[string]interface{}{},
			"dealer": map[string]interface{}{},
		},
	}
	if c.sess.Extra != nil {
		details["authextra"] = c.sess.Extra
	}
	c.send(frame{msgWelcome, c.sess.ID, details})
	log.Infof("WS/%s: Joined as '%s' (%s/%s)", c.id, c.sess.AuthID, c.sess.AuthRole, c.sess.AuthMethod)
	c.server.emit(plugins.EventSessionJoin, c.sess)
	metrics.SessionGaugeAdd(1)
}

func (c *webSocketConnection) handleCall(f frame) {
	request := f.id(1)
	uri := f.str(3)
	res, err := c.server.caller.Call(c.ctx, c.sess, uri, f.list(4), f.dict(5))
	if err != nil {
		c.send(errorFrame(msgCall, request, err))
		return
	}
	c.send(frame{msgResult, request, map[string]interface{}{}, []interface{}{res}})
}

func (c *webSocketConnection) handleSubscribe(f frame) {
	request := f.id(1)
	topic := f.str(3)
	if topic == "" {
		c.send(errorFrame(msgSubscribe, request, errors.NewCallerError(reasonInvalidURI)))
		return
	}
	if !c.server.authz.Authorize(c.ctx, c.sess, topic, plugins.ActionSubscribe) {
		c.send(errorFrame(msgSubscribe, request, errors.NewCallerError(errors.TagNotAuthorized, topic)))
		return
	}
	c.mux.Lock()
	subID, exists := c.subs[topic]
	if !exists {
		c.lastSubID++
		subID = c.lastSubID
		c.subs[topic] = subID
		c.subTopics[subID] = topic
	}
	c.mux.Unlock()
	c.server.subscribe(topic, c)
	log.Debugf("WS/%s: Subscribed %d to '%s'", c.id, subID, topic)
	c.send(frame{msgSubscribed, request, subID})
}

func (c *webSocketConnection) handleUnsubscribe(f frame) {
	request := f.id(1)
	id, _ := f.id(2).(float64)
	subID := int64(id)
	c.mux.Lock()
	topic, exists := c.subTopics[subID]
	if exists {
		delete(c.subTopics, subID)
		delete(c.subs, topic)
	}
	c.mux.Unlock()
	if !exists {
		c.send(errorFrame(msgUnsubscribe, request, errors.NewCallerError(reasonNoSuchSub)))
		return
	}
	c.server.unsubscribe(topic, c)
	c.send(frame{msgUnsubscribed, request})
}

func (c *webSocketConnection) handlePublish(f frame) {
	request := f.id(1)
	options := f.dict(2)
	topic := f.str(3)
	acknowledge, _ := options["acknowledge"].(bool)
	if topic == "" || !c.server.authz.Authorize(c.ctx, c.sess, topic, plugins.ActionPublish) {
		if acknowledge {
			c.send(errorFrame(msgPublish, request, errors.NewCallerError(errors.TagNotAuthorized, topic)))
		}
		return
	}
	var event interface{}
	if args := f.list(4); len(args) > 0 {
		event = args[0]
	} else if kwargs := f.dict(5); len(kwargs) > 0 {
		event = kwargs
	}
	publication, _ := c.server.publish(topic, event)
	if acknowledge {
		c.send(frame{msgPublished, request, publication})
	}
}
