// Copyright 2020,2021 Kaleido

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
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
)

type testAuthenticator struct {
	hello plugins.AuthResult
	auth  plugins.AuthResult
	joins int
	mux   sync.Mutex
}

func (a *testAuthenticator) record(sess *plugins.Session, res plugins.AuthResult) plugins.AuthResult {
	switch res.Kind {
	case plugins.AuthChallenge:
		sess.AuthMethod = res.AuthMethod
		sess.Challenge = res.Extra
	case plugins.AuthAccept:
		sess.AuthID, sess.AuthRole, sess.AuthMethod = res.AuthID, res.AuthRole, res.AuthMethod
	}
	return res
}

func (a *testAuthenticator) OnHello(ctx context.Context, sess *plugins.Session, realm string, details map[string]interface{}) plugins.AuthResult {
	return a.record(sess, a.hello)
}

func (a *testAuthenticator) OnAuthenticate(ctx context.Context, sess *plugins.Session, signature string, extra map[string]interface{}) plugins.AuthResult {
	if signature != "good" {
		return plugins.Denied(errors.TagAuthFailed)
	}
	return a.record(sess, a.auth)
}

func (a *testAuthenticator) OnJoin(ctx context.Context, sess *plugins.Session, details map[string]interface{}) {
	a.mux.Lock()
	defer a.mux.Unlock()
	a.joins++
}

func (a *testAuthenticator) joined() int {
	a.mux.Lock()
	defer a.mux.Unlock()
	return a.joins
}

type testAuthorizer struct {
	denied map[string]bool
}

func (a *testAuthorizer) Authorize(ctx context.Context, sess *plugins.Session, uri string, action plugins.Action) bool {
	return !a.denied[uri]
}

type testCaller struct{}

func (c *testCaller) Call(ctx context.Context, sess *plugins.Session, uri string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	switch uri {
	case "rpc.market.get_markets":
		return []interface{}{"BTCUSD"}, nil
	case "rpc.info.whoami":
		return sess.AuthID, nil
	default:
		return nil, errors.NewCallerError(errors.TagNoSuchFunction, uri)
	}
}

type testEmitter struct {
	mux    sync.Mutex
	events []string
}

func (e *testEmitter) emit(event string, args ...interface{}) {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.events = append(e.events, event)
}

func (e *testEmitter) get() []string {
	e.mux.Lock()
	defer e.mux.Unlock()
	return append([]string{}, e.events...)
}

func newTestWebSocketServer(authn *testAuthenticator) (*webSocketServer, *testEmitter, *httptest.Server) {
	e := &testEmitter{}
	c := &conf.SessionConf{Realm: "exgateway", Path: "/ws"}
	authz := &testAuthorizer{denied: map[string]bool{"feeds.private": true}}
	s := NewWebSocketServer(c, authn, authz, &testCaller{}, e.emit).(*webSocketServer)
	r := &httprouter.Router{}
	s.AddRoutes(r)
	ts := httptest.NewServer(r)
	return s, e, ts
}

func anonymous() *testAuthenticator {
	return &testAuthenticator{hello: plugins.Accepted("anonymous", "anonymous-1", "anonymous")}
}

func dial(t *testing.T, ts *httptest.Server) *ws.Conn {
	u, _ := url.Parse(ts.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	d := &ws.Dialer{Subprotocols: []string{Subprotocol}}
	c, _, err := d.Dial(u.String(), nil)
	assert.NoError(t, err)
	return c
}

func exchange(t *testing.T, c *ws.Conn, msg ...interface{}) []interface{} {
	if len(msg) > 0 {
		assert.NoError(t, c.WriteJSON(msg))
	}
	return read(t, c)
}

func read(t *testing.T, c *ws.Conn) []interface{} {
	var reply []interface{}
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	assert.NoError(t, c.ReadJSON(&reply))
	return reply
}

func join(t *testing.T, c *ws.Conn) []interface{} {
	return exchange(t, c, msgHello, "exgateway", map[string]interface{}{"authmethods": []string{"anonymous"}})
}

func TestWelcomeCallGoodbye(t *testing.T) {
	assert := assert.New(t)

	authn := anonymous()
	s, e, ts := newTestWebSocketServer(authn)
	defer ts.Close()
	c := dial(t, ts)
	defer c.Close()

	welcome := join(t, c)
	assert.Equal(float64(msgWelcome), welcome[0])
	assert.NotEmpty(welcome[1])
	details := welcome[2].(map[string]interface{})
	assert.Equal("anonymous-1", details["authid"])
	assert.Equal("anonymous", details["authrole"])
	assert.Equal("anonymous", details["authmethod"])
	assert.Equal("exgateway", details["realm"])
	assert.Equal(1, authn.joined())

	result := exchange(t, c, msgCall, 1, map[string]interface{}{}, "rpc.market.get_markets", []interface{}{}, map[string]interface{}{})
	assert.Equal([]interface{}{float64(msgResult), float64(1), map[string]interface{}{}, []interface{}{[]interface{}{"BTCUSD"}}}, result)

	result = exchange(t, c, msgCall, 2, map[string]interface{}{}, "rpc.info.whoami")
	assert.Equal([]interface{}{"anonymous-1"}, result[3])

	errMsg := exchange(t, c, msgCall, 3, map[string]interface{}{}, "rpc.market.nope", []interface{}{})
	assert.Equal([]interface{}{
		float64(msgError), float64(msgCall), float64(3), map[string]interface{}{},
		errors.TagNoSuchFunction, []interface{}{"rpc.market.nope"},
	}, errMsg)

	bye := exchange(t, c, msgGoodbye, map[string]interface{}{}, reasonCloseRealm)
	assert.Equal([]interface{}{float64(msgGoodbye), map[string]interface{}{}, reasonGoodbyeAndOut}, bye)

	assert.Eventually(func() bool {
		return len(e.get()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal([]string{plugins.EventSessionJoin, plugins.EventSessionLeave}, e.get())
	s.mux.Lock()
	assert.Empty(s.connections)
	s.mux.Unlock()
}

func TestChallengeAuthenticate(t *testing.T) {
	assert := assert.New(t)

	authn := &testAuthenticator{
		hello: plugins.Challenged("wampcra", map[string]interface{}{"challenge": "{}"}),
		auth:  plugins.Accepted("wampcra", "alice", "user"),
	}
	_, _, ts := newTestWebSocketServer(authn)
	defer ts.Close()
	c := dial(t, ts)
	defer c.Close()

	challenge := join(t, c)
	assert.Equal([]interface{}{float64(msgChallenge), "wampcra", map[string]interface{}{"challenge": "{}"}}, challenge)

	welcome := exchange(t, c, msgAuthenticate, "good", map[string]interface{}{})
	assert.Equal(float64(msgWelcome), welcome[0])
	assert.Equal("alice", welcome[2].(map[string]interface{})["authid"])
}

func TestChallengeBadSignature(t *testing.T) {
	assert := assert.New(t)

	authn := &testAuthenticator{
		hello: plugins.Challenged("wampcra", map[string]interface{}{"challenge": "{}"}),
	}
	_, e, ts := newTestWebSocketServer(authn)
	defer ts.Close()
	c := dial(t, ts)
	defer c.Close()

	join(t, c)
	abort := exchange(t, c, msgAuthenticate, "bad", map[string]interface{}{})
	assert.Equal([]interface{}{float64(msgAbort), map[string]interface{}{}, errors.TagAuthFailed}, abort)
	_, _, err := c.ReadMessage()
	assert.Error(err)
	assert.Empty(e.get())
}

func TestAuthenticateWithoutChallenge(t *testing.T) {
	assert := assert.New(t)

	_, _, ts := newTestWebSocketServer(anonymous())
	defer ts.Close()
	c := dial(t, ts)
	defer c.Close()

	abort := exchange(t, c, msgAuthenticate, "good", map[string]interface{}{})
	assert.Equal(float64(msgAbort), abort[0])
	assert.Equal(reasonProtocolViolation, abort[2])
}

func TestHelloDenied(t *testing.T) {
	assert := assert.New(t)

	authn := &testAuthenticator{hello: plugins.Denied(errors.TagNoAuthMethod)}
	_, _, ts := newTestWebSocketServer(authn)
	defer ts.Close()
	c := dial(t, ts)
	defer c.Close()

	abort := join(t, c)
	assert.Equal([]interface{}{float64(msgAbort), map[string]interface{}{}, errors.TagNoAuthMethod}, abort)
}

func TestHelloWrongRealm(t *testing.T) {
	assert := assert.New(t)

	_, _, ts := newTestWebSocketServer(anonymous())
	defer ts.Close()
	c := dial(t, ts)
	defer c.Close()

	abort := exchange(t, c, msgHello, "elsewhere", map[string]interface{}{})
	assert.Equal(float64(msgAbort), abort[0])
	assert.Equal(reasonNoSuchRealm, abort[2])
}

func TestCallBeforeWelcome(t *testing.T) {
	assert := assert.New(t)

	_, _, ts := newTestWebSocketServer(anonymous())
	defer ts.Close()
	c := dial(t, ts)
	defer c.Close()

	abort := exchange(t, c, msgCall, 1, map[string]interface{}{}, "rpc.market.get_markets")
	assert.Equal(float64(msgAbort), abort[0])
	assert.Equal(reasonProtocolViolation, abort[2])
}

func TestBadJSON(t *testing.T) {
	assert := assert.New(t)

	_, _, ts := newTestWebSocketServer(anonymous())
	defer ts.Close()
	c := dial(t, ts)
	defer c.Close()

	assert.NoError(c.WriteMessage(ws.TextMessage, []byte(`{"not":"a list"}`)))
	abort := read(t, c)
	assert.Equal(float64(msgAbort), abort[0])
	assert.Equal(reasonProtocolViolation, abort[2])
}

func TestSecondHelloAfterWelcome(t *testing.T) {
	assert := assert.New(t)

	_, _, ts := newTestWebSocketServer(anonymous())
	defer ts.Close()
	c := dial(t, ts)
	defer c.Close()

	join(t, c)
	abort := join(t, c)
	assert.Equal(float64(msgAbort), abort[0])
	assert.Equal(reasonProtocolViolation, abort[2])
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	assert := assert.New(t)

	s, _, ts := newTestWebSocketServer(anonymous())
	defer ts.Close()
	sub := dial(t, ts)
	defer sub.Close()
	pub := dial(t, ts)
	defer pub.Close()
	join(t, sub)
	join(t, pub)

	subscribed := exchange(t, sub, msgSubscribe, 1, map[string]interface{}{}, "feeds.market.BTCUSD")
	assert.Equal(float64(msgSubscribed), subscribed[0])
	assert.Equal(float64(1), subscribed[1])
	subID := subscribed[2]

	// Subscribing again returns the same subscription
	again := exchange(t, sub, msgSubscribe, 2, map[string]interface{}{}, "feeds.market.BTCUSD")
	assert.Equal(subID, again[2])

	published := exchange(t, pub, msgPublish, 7, map[string]interface{}{"acknowledge": true}, "feeds.market.BTCUSD", []interface{}{"tick"})
	assert.Equal(float64(msgPublished), published[0])
	assert.Equal(float64(7), published[1])

	event := read(t, sub)
	assert.Equal([]interface{}{float64(msgEvent), subID, published[2], map[string]interface{}{}, []interface{}{"tick"}}, event)

	assert.Equal(1, s.Publish("feeds.market.BTCUSD", map[string]interface{}{"price": 100}))
	event = read(t, sub)
	assert.Equal([]interface{}{map[string]interface{}{"price": float64(100)}}, event[4])
	assert.Equal(0, s.Publish("feeds.market.ETHUSD", "nobody"))

	unsubscribed := exchange(t, sub, msgUnsubscribe, 3, subID)
	assert.Equal([]interface{}{float64(msgUnsubscribed), float64(3)}, unsubscribed)
	assert.Equal(0, s.Publish("feeds.market.BTCUSD", "gone"))

	errMsg := exchange(t, sub, msgUnsubscribe, 4, subID)
	assert.Equal(float64(msgError), errMsg[0])
	assert.Equal(float64(msgUnsubscribe), errMsg[1])
	assert.Equal(reasonNoSuchSub, errMsg[4])
}

func TestSubscribeNotAuthorized(t *testing.T) {
	assert := assert.New(t)

	s, _, ts := newTestWebSocketServer(anonymous())
	defer ts.Close()
	c := dial(t, ts)
	defer c.Close()
	join(t, c)

	errMsg := exchange(t, c, msgSubscribe, 1, map[string]interface{}{}, "feeds.private")
	assert.Equal([]interface{}{
		float64(msgError), float64(msgSubscribe), float64(1), map[string]interface{}{},
		errors.TagNotAuthorized, []interface{}{"feeds.private"},
	}, errMsg)

	errMsg = exchange(t, c, msgSubscribe, 2, map[string]interface{}{}, "")
	assert.Equal(reasonInvalidURI, errMsg[4])

	errMsg = exchange(t, c, msgPublish, 3, map[string]interface{}{"acknowledge": true}, "feeds.private", []interface{}{"x"})
	assert.Equal(errors.TagNotAuthorized, errMsg[4])
	assert.Equal(0, s.Publish("feeds.private", "x"))
}

func TestCloseDropsSubscriptions(t *testing.T) {
	assert := assert.New(t)

	s, e, ts := newTestWebSocketServer(anonymous())
	defer ts.Close()
	c := dial(t, ts)
	join(t, c)
	exchange(t, c, msgSubscribe, 1, map[string]interface{}{}, "feeds.market.BTCUSD")

	s.Close()
	_, _, err := c.ReadMessage()
	assert.Error(err)

	s.mux.Lock()
	assert.Empty(s.subscriptions)
	assert.Empty(s.connections)
	s.mux.Unlock()
	assert.Equal([]string{plugins.EventSessionJoin, plugins.EventSessionLeave}, e.get())
}

func TestDeliverEventQueueFull(t *testing.T) {
	assert := assert.New(t)

	c := &webSocketConnection{
		id:       "test",
		subs:     map[string]int64{"feeds.market.BTCUSD": 1},
		outbound: make(chan *outbound, 1),
		closing:  make(chan struct{}),
	}
	assert.True(c.deliverEvent("feeds.market.BTCUSD", 1, []interface{}{"a"}))
	assert.False(c.deliverEvent("feeds.market.BTCUSD", 2, []interface{}{"b"}))
	assert.False(c.deliverEvent("feeds.market.ETHUSD", 3, nil))

	o := <-c.outbound
	assert.Equal(frame{msgEvent, int64(1), int64(1), map[string]interface{}{}, []interface{}{"a"}}, o.f)
}

func TestParseFrame(t *testing.T) {
	assert := assert.New(t)

	_, _, err := parseFrame([]byte(`[]`))
	assert.Regexp("FFXG100601", err)
	_, _, err = parseFrame([]byte(`["hello"]`))
	assert.Regexp("no message code", err)
	f, code, err := parseFrame([]byte(`[48, 1, {}, "rpc.x"]`))
	assert.NoError(err)
	assert.Equal(msgCall, code)
	assert.Equal("rpc.x", f.str(3))
	assert.Equal("", f.str(9))
	assert.Nil(f.list(4))
	assert.Equal(map[string]interface{}{}, f.dict(7))
	assert.Nil(f.id(8))
}

func TestErrorFrameOpaque(t *testing.T) {
	assert := assert.New(t)
	f := errorFrame(msgCall, 5, errors.Errorf(errors.BackendShutdown, "x"))
	assert.Equal(frame{msgError, msgCall, 5, map[string]interface{}{}, errors.TagInternalError}, f)
}
