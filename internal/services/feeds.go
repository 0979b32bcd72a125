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

package services

import (
	"strings"

	"github.com/hyperledger/firefly-exgateway/internal/backend"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

// userTopicPrefix marks a backend event for a single user. The event must
// carry the username, which is replaced by its hash in the feed topic.
const userTopicPrefix = "user."

func init() {
	plugins.RegisterFactory("feeds.relay", plugins.KindFeeds, func() plugins.Module {
		return &FeedsRelay{}
	})
}

// FeedsRelay publishes backend events to subscribed sessions. Market events
// on <topic> go to feeds.<topic>, user events on user.<topic> go to
// feeds.user.<hash>.<topic>.
type FeedsRelay struct {
	plugins.Base
	host plugins.Host
}

func (f *FeedsRelay) Configure(host plugins.Host) error {
	f.host = host
	return nil
}

func (f *FeedsRelay) EventHandlers() []plugins.EventHandler {
	return []plugins.EventHandler{
		{Event: backend.EventBackend, Handler: f.relay},
	}
}

func (f *FeedsRelay) relay(args ...interface{}) error {
	if len(args) < 2 {
		return nil
	}
	topic, _ := args[0].(string)
	event := args[1]
	if topic == "" {
		return nil
	}
	feed := "feeds." + topic
	if strings.HasPrefix(topic, userTopicPrefix) {
		m, _ := event.(map[string]interface{})
		username, _ := m["username"].(string)
		if username == "" {
			log.Warnf("Dropping user event on '%s' with no username", topic)
			return nil
		}
		feed = "feeds.user." + plugins.UserHash(username) + "." + topic[len(userTopicPrefix):]
	}
	pub := f.host.Publisher()
	if pub == nil {
		log.Debugf("No publisher for '%s'", feed)
		return nil
	}
	n := pub.Publish(feed, event)
	log.Tracef("Relayed '%s' to %d subscribers on '%s'", topic, n, feed)
	return nil
}
