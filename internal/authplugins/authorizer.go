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
	"strings"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

// UserFeedPrefix starts every per-user topic: feeds.user.<hash>.<topic>
const UserFeedPrefix = "feeds.user."

func init() {
	plugins.RegisterFactory("authz.default", plugins.KindAuthorization, func() plugins.Module {
		return &DefaultAuthorizer{}
	})
}

// DefaultAuthorizer is the namespace policy of the exchange
type DefaultAuthorizer struct {
	plugins.Base
	conf *conf.AuthorizationConf
}

// Configure reads the role and prefix lists
func (d *DefaultAuthorizer) Configure(host plugins.Host) error {
	d.conf = &host.Config().Authorization
	return nil
}

func hasPrefix(uri string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(uri, p) {
			return true
		}
	}
	return false
}

// Authorize applies, in order: trusted roles, the call/subscribe restriction,
// public prefixes, user prefixes, then per-user feeds. Anything else abstains.
func (d *DefaultAuthorizer) Authorize(ctx context.Context, sess *plugins.Session, uri string, action plugins.Action) plugins.Verdict {
	for _, r := range d.conf.TrustedRoles {
		if sess.AuthRole == r {
			return plugins.Allow
		}
	}
	if action != plugins.ActionCall && action != plugins.ActionSubscribe {
		return plugins.Deny
	}
	if hasPrefix(uri, d.conf.PublicPrefixes) {
		return plugins.Allow
	}
	if hasPrefix(uri, d.conf.UserPrefixes) {
		if sess.AuthRole == RoleUser {
			return plugins.Allow
		}
		return plugins.Deny
	}
	if strings.HasPrefix(uri, UserFeedPrefix) {
		rest := uri[len(UserFeedPrefix):]
		if i := strings.Index(rest, "."); i > 0 && sess.AuthID != "" && rest[0:i] == plugins.UserHash(sess.AuthID) {
			return plugins.Allow
		}
		return plugins.Deny
	}
	return plugins.Abstain
}
