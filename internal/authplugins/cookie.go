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
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

// DefaultCookieCacheSize bounds the number of live cookies
const DefaultCookieCacheSize = 10000

func init() {
	plugins.RegisterFactory("authn.cookie", plugins.KindAuthentication, func() plugins.Module {
		return &Cookie{}
	})
}

type cookieEntry struct {
	username string
	role     string
	expires  time.Time
}

// CookieIssuer is implemented by the cookie authenticator, and used by the
// token service to issue and revoke login cookies
type CookieIssuer interface {
	IssueCookie(username, role string) (string, time.Time)
	RevokeCookies(username string) int
}

// Cookie admits clients presenting a cookie issued earlier to an
// authenticated session. The least recently used cookies are evicted first.
type Cookie struct {
	plugins.Base
	ttl     time.Duration
	cookies *lru.Cache
}

// Configure reads the TTL and creates the cache
func (c *Cookie) Configure(host plugins.Host) (err error) {
	c.ttl = time.Duration(host.Config().Authentication.CookieTTLSeconds) * time.Second
	c.cookies, err = lru.New(DefaultCookieCacheSize)
	return err
}

// IssueCookie creates a new random cookie for the user
func (c *Cookie) IssueCookie(username, role string) (string, time.Time) {
	cookie := randomHex(32)
	expires := time.Now().Add(c.ttl)
	c.cookies.Add(cookie, &cookieEntry{username: username, role: role, expires: expires})
	log.Infof("Issued cookie for '%s' expiring %s", username, expires.UTC().Format(time.RFC3339))
	return cookie, expires
}

// RevokeCookies removes every cookie held by the user
func (c *Cookie) RevokeCookies(username string) int {
	removed := 0
	for _, k := range c.cookies.Keys() {
		if v, ok := c.cookies.Peek(k); ok && v.(*cookieEntry).username == username {
			c.cookies.Remove(k)
			removed++
		}
	}
	log.Infof("Revoked %d cookies for '%s'", removed, username)
	return removed
}

func (c *Cookie) lookup(cookie string) *cookieEntry {
	v, ok := c.cookies.Get(cookie)
	if !ok {
		return nil
	}
	entry := v.(*cookieEntry)
	if !time.Now().Before(entry.expires) {
		c.cookies.Remove(cookie)
		return nil
	}
	return entry
}

// OnHello accepts a known cookie, and abstains otherwise so other methods
// the client offered can be tried
func (c *Cookie) OnHello(ctx context.Context, sess *plugins.Session, realm string, details map[string]interface{}) plugins.AuthResult {
	cookie := authExtra(details, "cookie")
	if !offers(details, MethodCookie) || cookie == "" {
		return plugins.Abstained()
	}
	entry := c.lookup(cookie)
	if entry == nil {
		log.Debugf("Unknown or expired cookie for session %s", sess.ID)
		return plugins.Abstained()
	}
	sess.Cookie = cookie
	return plugins.Accepted(MethodCookie, entry.username, entry.role)
}

// OnAuthenticate never issues a challenge, so always abstains
func (c *Cookie) OnAuthenticate(ctx context.Context, sess *plugins.Session, signature string, extra map[string]interface{}) plugins.AuthResult {
	return plugins.Abstained()
}

// OnJoin no-op
func (c *Cookie) OnJoin(ctx context.Context, sess *plugins.Session, details map[string]interface{}) error {
	return nil
}
