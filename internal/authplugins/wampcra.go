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

package authplugins

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/identity"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

func init() {
	plugins.RegisterFactory("authn.wampcra", plugins.KindAuthentication, func() plugins.Module {
		return &WAMPCRA{}
	})
}

// WAMPCRA is salted challenge/response against the profiles held by the
// identity plugins. The signature is base64(HMAC-SHA256(key, challenge)),
// where key is the base64 PBKDF2 derived key of the password.
type WAMPCRA struct {
	plugins.Base
	host plugins.Host
}

// Configure keeps the host, so identity plugins are resolved at call time
func (w *WAMPCRA) Configure(host plugins.Host) error {
	w.host = host
	return nil
}

func (w *WAMPCRA) profile(ctx context.Context, username string) (*identity.Profile, error) {
	return identity.FindProfile(ctx, identity.Lookups(w.host.ByService(plugins.KindIdentity)), username)
}

// OnHello issues a challenge for any authid. An unknown user gets a decoy
// challenge with random parameters, which no signature can satisfy.
func (w *WAMPCRA) OnHello(ctx context.Context, sess *plugins.Session, realm string, details map[string]interface{}) plugins.AuthResult {
	authID, _ := details["authid"].(string)
	if !offers(details, MethodWAMPCRA) || authID == "" {
		return plugins.Abstained()
	}
	p, err := w.profile(ctx, authID)
	if err != nil {
		log.Errorf("Profile lookup for '%s' failed: %s", authID, err)
		return plugins.Denied(errors.TagInternalError)
	}
	role := RoleUser
	if p == nil {
		p = decoyProfile()
	} else if p.Role != "" {
		role = p.Role
	}

	challenge, _ := json.Marshal(map[string]interface{}{
		"authid":       authID,
		"authrole":     role,
		"authmethod":   MethodWAMPCRA,
		"authprovider": "exgateway",
		"nonce":        randomHex(16),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"session":      sess.ID,
	})
	return plugins.Challenged(MethodWAMPCRA, map[string]interface{}{
		"challenge":  string(challenge),
		"salt":       p.Salt,
		"iterations": p.Iterations,
		"keylen":     p.KeyLen,
	})
}

// OnAuthenticate checks the signature over the challenge this module issued
func (w *WAMPCRA) OnAuthenticate(ctx context.Context, sess *plugins.Session, signature string, extra map[string]interface{}) plugins.AuthResult {
	if sess.AuthMethod != MethodWAMPCRA {
		return plugins.Abstained()
	}
	challenge, _ := sess.Challenge["challenge"].(string)
	authID := gjson.Get(challenge, "authid").String()
	if authID == "" || gjson.Get(challenge, "session").String() != sess.ID {
		return plugins.Denied(errors.TagAuthFailed)
	}
	p, err := w.profile(ctx, authID)
	if err != nil {
		log.Errorf("Profile lookup for '%s' failed: %s", authID, err)
		return plugins.Denied(errors.TagInternalError)
	}
	if p == nil {
		log.Infof("Authentication failed for unknown user '%s'", authID)
		return plugins.Denied(errors.TagAuthFailed)
	}
	key, err := p.SigningKey()
	if err != nil {
		log.Errorf("Stored key for '%s' is corrupt: %s", authID, err)
		return plugins.Denied(errors.TagInternalError)
	}
	expected := Sign(key, challenge)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		log.Infof("Authentication failed for '%s'", authID)
		return plugins.Denied(errors.TagAuthFailed)
	}
	return plugins.Accepted(MethodWAMPCRA, authID, gjson.Get(challenge, "authrole").String())
}

// OnJoin records whether the user must also pass a TOTP check
func (w *WAMPCRA) OnJoin(ctx context.Context, sess *plugins.Session, details map[string]interface{}) error {
	if sess.AuthMethod != MethodWAMPCRA {
		return nil
	}
	p, err := w.profile(ctx, sess.AuthID)
	if err != nil {
		return err
	}
	sess.SetExtra("totp_required", p != nil && p.TOTPEnabled)
	return nil
}

// Sign computes the challenge response for a signing key
func Sign(key []byte, challenge string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(challenge))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func decoyProfile() *identity.Profile {
	return &identity.Profile{
		Salt:       randomHex(16),
		Iterations: identity.DefaultIterations,
		KeyLen:     identity.DefaultKeyLen,
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
