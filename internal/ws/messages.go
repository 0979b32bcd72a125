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
	"encoding/json"

	"github.com/hyperledger/firefly-exgateway/internal/errors"
)

// Session protocol message codes
const (
	msgHello        = 1
	msgWelcome      = 2
	msgAbort        = 3
	msgChallenge    = 4
	msgAuthenticate = 5
	msgGoodbye      = 6
	msgError        = 8
	msgPublish      = 16
	msgPublished    = 17
	msgSubscribe    = 32
	msgSubscribed   = 33
	msgUnsubscribe  = 34
	msgUnsubscribed = 35
	msgEvent        = 36
	msgCall         = 48
	msgResult       = 50
)

// Protocol level reasons
const (
	reasonProtocolViolation = "wamp.error.protocol_violation"
	reasonNoSuchRealm       = "wamp.error.no_such_realm"
	reasonNoSuchSub         = "wamp.error.no_such_subscription"
	reasonGoodbyeAndOut     = "wamp.close.goodbye_and_out"
	reasonCloseRealm        = "wamp.close.close_realm"
)

// Subprotocol is the websocket subprotocol negotiated with clients
const Subprotocol = "wamp.2.json"

// frame is one decoded message: a JSON array with the code first
type frame []interface{}

func parseFrame(b []byte) (frame, int, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, 0, errors.Errorf(errors.WebSocketBadMessage, err)
	}
	if len(f) == 0 {
		return nil, 0, errors.Errorf(errors.WebSocketBadMessage, "empty message")
	}
	code, ok := f[0].(float64)
	if !ok {
		return nil, 0, errors.Errorf(errors.WebSocketBadMessage, "no message code")
	}
	return f, int(code), nil
}

func (f frame) str(i int) string {
	if i < len(f) {
		s, _ := f[i].(string)
		return s
	}
	return ""
}

func (f frame) dict(i int) map[string]interface{} {
	if i < len(f) {
		if m, ok := f[i].(map[string]interface{}); ok {
			return m
		}
	}
	return map[string]interface{}{}
}

func (f frame) list(i int) []interface{} {
	if i < len(f) {
		if l, ok := f[i].([]interface{}); ok {
			return l
		}
	}
	return nil
}

func (f frame) id(i int) interface{} {
	if i < len(f) {
		return f[i]
	}
	return nil
}

// errorFrame reports a failed request, with the tag as the error URI
func errorFrame(requestType int, request interface{}, err error) frame {
	wire := errors.ToWire(err)
	f := frame{msgError, requestType, request, map[string]interface{}{}, wire[0]}
	if len(wire) > 1 {
		f = append(f, wire[1:])
	}
	return f
}

func abortFrame(reason string, details map[string]interface{}) frame {
	if details == nil {
		details = map[string]interface{}{}
	}
	return frame{msgAbort, details, reason}
}
