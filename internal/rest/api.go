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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperledger/firefly-exgateway/internal/authplugins"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/identity"
	"github.com/hyperledger/firefly-exgateway/internal/procedures"
	"github.com/hyperledger/firefly-exgateway/internal/utils"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// restTags maps the session protocol tags to their REST equivalents
var restTags = map[string]string{
	errors.TagNoSuchFunction: errors.TagRESTNoSuchFunc,
	errors.TagNotAuthorized:  errors.TagRESTNotAuth,
}

func restWire(err error) []interface{} {
	wire := errors.ToWire(err)
	if tag, ok := wire[0].(string); ok {
		if mapped, ok := restTags[tag]; ok {
			wire[0] = mapped
		}
	}
	return wire
}

func (g *RESTGateway) sendReply(res http.ResponseWriter, req *http.Request, status int, reply map[string]interface{}) {
	b, _ := json.Marshal(reply)
	log.Infof("<-- %s %s [%d]", req.Method, req.URL.Path, status)
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(status)
	res.Write(b)
}

func (g *RESTGateway) sendResult(res http.ResponseWriter, req *http.Request, result interface{}) {
	g.sendReply(res, req, 200, map[string]interface{}{"success": true, "result": result})
}

func (g *RESTGateway) sendError(res http.ResponseWriter, req *http.Request, status int, err error) {
	g.sendReply(res, req, status, map[string]interface{}{"success": false, "error": restWire(err)})
}

func anonymousSession(realm string) *plugins.Session {
	id := utils.UUIDv4()
	return &plugins.Session{
		ID:         id,
		Realm:      realm,
		AuthID:     "anonymous-" + id,
		AuthRole:   authplugins.RoleAnonymous,
		AuthMethod: authplugins.MethodAnonymous,
	}
}

func userSession(realm, username string) *plugins.Session {
	return &plugins.Session{
		ID:         utils.UUIDv4(),
		Realm:      realm,
		AuthID:     username,
		AuthRole:   authplugins.RoleUser,
		AuthMethod: authplugins.MethodAPIKey,
	}
}

func (g *RESTGateway) apiHandler(res http.ResponseWriter, req *http.Request, params httprouter.Params) {
	log.Infof("--> %s %s", req.Method, req.URL.Path)

	body, err := io.ReadAll(http.MaxBytesReader(res, req.Body, g.conf.REST.MaxBodyBytes))
	if err != nil {
		if _, tooLarge := err.(*http.MaxBytesError); tooLarge {
			g.sendError(res, req, 413, errors.NewCallerError(errors.TagRESTBadRequest, "request body too large"))
		} else {
			g.sendError(res, req, 400, errors.NewCallerError(errors.TagRESTBadRequest, err.Error()))
		}
		return
	}
	if !gjson.ValidBytes(body) {
		g.sendError(res, req, 400, errors.NewCallerError(errors.TagRESTBadRequest, "invalid JSON"))
		return
	}
	envelope := gjson.ParseBytes(body)
	if !envelope.IsObject() {
		g.sendError(res, req, 400, errors.NewCallerError(errors.TagRESTBadRequest, "request must be a JSON object"))
		return
	}

	uri := envelope.Get("uri").String()
	if section := params.ByName("section"); section != "" {
		uri = "rpc." + section + "." + params.ByName("method")
	}

	var kwargs map[string]interface{}
	if payload := envelope.Get("payload"); payload.Exists() && payload.Type != gjson.Null {
		if !payload.IsObject() {
			g.sendError(res, req, 400, errors.NewCallerError(errors.TagRESTBadRequest, "payload must be a JSON object"))
			return
		}
		if err := json.Unmarshal([]byte(payload.Raw), &kwargs); err != nil {
			g.sendError(res, req, 400, errors.NewCallerError(errors.TagRESTBadRequest, err.Error()))
			return
		}
	}

	table := g.dispatcher.Table()
	if _, ok := table.Lookup(uri); !ok {
		g.sendError(res, req, 200, errors.NewCallerError(errors.TagRESTNoSuchFunc, uri))
		return
	}

	ctx := procedures.WithAPIType(req.Context(), "REST")
	sess := anonymousSession(g.conf.Session.Realm)
	if table.RequiresIdentity(uri) {
		username, err := g.authenticate(ctx, req, body, envelope)
		if err != nil {
			g.sendError(res, req, 200, err)
			return
		}
		sess = userSession(g.conf.Session.Realm, username)
	}

	result, err := g.dispatcher.Call(ctx, sess, uri, nil, kwargs)
	if err != nil {
		g.sendError(res, req, 200, err)
		return
	}
	g.sendResult(res, req, result)
}

// authenticate checks the API key, the signature over the raw body, and
// consumes the nonce. It returns the username the key belongs to.
func (g *RESTGateway) authenticate(ctx context.Context, req *http.Request, body []byte, envelope gjson.Result) (string, error) {
	key := envelope.Get("auth.key").String()
	if key == "" {
		return "", errors.NewCallerError(errors.TagRESTInvalidKey)
	}
	cred, err := identity.FindAPICredential(ctx, g.lookups, key)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.APIKey != key {
		log.Warnf("REST call with unknown API key")
		return "", errors.NewCallerError(errors.TagRESTInvalidKey)
	}
	if cred.Expired(time.Now()) {
		return "", errors.NewCallerError(errors.TagRESTKeyExpired)
	}

	signature, err := hex.DecodeString(strings.TrimSpace(req.Header.Get("Authorization")))
	if err != nil {
		return "", errors.NewCallerError(errors.TagRESTInvalidSig)
	}
	expected := digest(cred.APISecret, body)
	if len(signature) != len(expected) || !hmac.Equal(signature, expected) {
		log.Warnf("REST call for '%s' with invalid signature", cred.Username)
		return "", errors.NewCallerError(errors.TagRESTInvalidSig)
	}

	nonce := envelope.Get("auth.nonce")
	if nonce.Type != gjson.Number || float64(nonce.Int()) != nonce.Num {
		return "", errors.NewCallerError(errors.TagRESTInvalidNonce)
	}
	if g.ledger == nil {
		return "", errors.Errorf(errors.ConfigNoNonceLedger)
	}
	if err := g.ledger.CheckAndConsume(ctx, cred.Username, nonce.Int()); err != nil {
		if errors.Is(err, errors.IdentityNonceReplay) {
			log.Warnf("REST call for '%s': %s", cred.Username, err)
			return "", errors.NewCallerError(errors.TagRESTInvalidNonce)
		}
		return "", err
	}
	return cred.Username, nil
}

func digest(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the Authorization header value for a request body
func Sign(secret string, body []byte) string {
	return strings.ToUpper(hex.EncodeToString(digest(secret, body)))
}
