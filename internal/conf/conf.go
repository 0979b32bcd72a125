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

package conf

import (
	"time"

	"github.com/hyperledger/firefly-exgateway/internal/utils"
)

const (
	// DefaultSchemaPrefix the only URI prefix the schema validator accepts
	DefaultSchemaPrefix = "rpc"
	// DefaultSchemaCacheSize number of compiled validators held
	DefaultSchemaCacheSize = 256
	// DefaultRealm realm advertised on the session protocol
	DefaultRealm = "exgateway"
	// DefaultSessionPath the websocket route
	DefaultSessionPath = "/ws"
	// DefaultMaxBodyBytes REST bodies larger than this are rejected with 413
	DefaultMaxBodyBytes = 1024 * 1024
	// DefaultBackendTimeoutMS upper bound on every backend call
	DefaultBackendTimeoutMS = 10000
	// DefaultCookieTTLSeconds lifetime of login cookies
	DefaultCookieTTLSeconds = 24 * 60 * 60
	// DefaultMetricsPath the prometheus route
	DefaultMetricsPath = "/metrics"
)

// HTTPConf configures the shared HTTP listener for the REST and session gateways
type HTTPConf struct {
	LocalAddr string          `json:"localAddr"`
	Port      int             `json:"port"`
	CertFile  string          `json:"certFile,omitempty"`
	KeyFile   string          `json:"keyFile,omitempty"`
	TLS       utils.TLSConfig `json:"tls"`
}

// SchemaConf configures argument validation
type SchemaConf struct {
	Enabled   bool   `json:"enabled"`
	Dir       string `json:"dir"`
	Prefix    string `json:"prefix"`
	CacheSize int    `json:"cacheSize"`
	Required  bool   `json:"required"`
}

// SessionConf configures the websocket session gateway
type SessionConf struct {
	Realm           string `json:"realm"`
	Path            string `json:"path"`
	ReadBufferSize  int    `json:"readBufferSize"`
	WriteBufferSize int    `json:"writeBufferSize"`
}

// RESTConf configures the REST gateway
type RESTConf struct {
	MaxBodyBytes int64 `json:"maxBodyBytes"`
	// NonceLedger is the plugin path of the ledger, or empty for the first identity plugin that has one
	NonceLedger string `json:"nonceLedger,omitempty"`
}

// AuthenticationConf configures the authentication plugins
type AuthenticationConf struct {
	CookieTTLSeconds int `json:"cookieTTLSeconds"`
}

// AuthorizationConf configures the default namespace authorizer
type AuthorizationConf struct {
	TrustedRoles   []string `json:"trustedRoles"`
	PublicPrefixes []string `json:"publicPrefixes"`
	UserPrefixes   []string `json:"userPrefixes"`
}

// KafkaConf is the configuration for the Kafka backend proxy
type KafkaConf struct {
	Brokers       []string `json:"brokers"`
	ClientID      string   `json:"clientID"`
	ConsumerGroup string   `json:"consumerGroup"`
	TopicIn       string   `json:"topicIn"`
	TopicOut      string   `json:"topicOut"`
	ProducerFlush struct {
		Frequency int `json:"frequency"`
		Messages  int `json:"messages"`
		Bytes     int `json:"bytes"`
	} `json:"producerFlush"`
	SASL struct {
		Username string
		Password string
	} `json:"sasl"`
	TLS utils.TLSConfig `json:"tls"`
}

// BackendHTTPConf is the configuration for the HTTP backend proxy
type BackendHTTPConf struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	TLS     utils.TLSConfig   `json:"tls"`
}

// BackendConf configures the proxy to the exchange's backend collaborators
type BackendConf struct {
	Kafka      KafkaConf       `json:"kafka"`
	HTTP       BackendHTTPConf `json:"http"`
	TimeoutMS  int             `json:"timeoutMS"`
	Engine     string          `json:"engine"`
	Accountant string          `json:"accountant"`
}

// Timeout returns the configured bound on a backend call
func (c *BackendConf) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// LevelDBConf configures the LevelDB identity store
type LevelDBConf struct {
	Path string `json:"path"`
}

// MongoDBConf configures the MongoDB identity store
type MongoDBConf struct {
	URL              string `json:"url"`
	Database         string `json:"database"`
	ConnectTimeoutMS int    `json:"connectTimeout"`
}

// SQLiteConf configures the SQLite identity store
type SQLiteConf struct {
	Path string `json:"path"`
}

// IdentityConf configures the identity and nonce stores
type IdentityConf struct {
	LevelDB LevelDBConf `json:"leveldb"`
	MongoDB MongoDBConf `json:"mongodb"`
	SQLite  SQLiteConf  `json:"sqlite"`
}

// CORSConf configures cross-origin access to the REST gateway
type CORSConf struct {
	AllowedOrigins []string `json:"allowedOrigins"`
	AllowedHeaders []string `json:"allowedHeaders"`
	Debug          bool     `json:"debug"`
}

// MetricsConf configures the prometheus endpoint
type MetricsConf struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// InfoConf is reported by rpc.info.get_exchange_info
type InfoConf struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerConfig is the parent YAML structure for the gateway. It is passed
// explicitly to every component and plugin.
type ServerConfig struct {
	HTTP           HTTPConf           `json:"http"`
	Plugins        []string           `json:"plugins"`
	Schema         SchemaConf         `json:"schema"`
	Session        SessionConf        `json:"session"`
	REST           RESTConf           `json:"rest"`
	Authentication AuthenticationConf `json:"authentication"`
	Authorization  AuthorizationConf  `json:"authorization"`
	Backend        BackendConf        `json:"backend"`
	Identity       IdentityConf       `json:"identity"`
	CORS           CORSConf           `json:"cors"`
	Metrics        MetricsConf        `json:"metrics"`
	Info           InfoConf           `json:"info"`
}

// SetDefaults fills in anything the file left unset
func (c *ServerConfig) SetDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Schema.Prefix == "" {
		c.Schema.Prefix = DefaultSchemaPrefix
	}
	if c.Schema.CacheSize <= 0 {
		c.Schema.CacheSize = DefaultSchemaCacheSize
	}
	if c.Session.Realm == "" {
		c.Session.Realm = DefaultRealm
	}
	if c.Session.Path == "" {
		c.Session.Path = DefaultSessionPath
	}
	if c.Session.ReadBufferSize <= 0 {
		c.Session.ReadBufferSize = 1024
	}
	if c.Session.WriteBufferSize <= 0 {
		c.Session.WriteBufferSize = 1024
	}
	if c.REST.MaxBodyBytes <= 0 {
		c.REST.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Authentication.CookieTTLSeconds <= 0 {
		c.Authentication.CookieTTLSeconds = DefaultCookieTTLSeconds
	}
	if c.Authorization.TrustedRoles == nil {
		c.Authorization.TrustedRoles = []string{"trusted"}
	}
	if c.Authorization.PublicPrefixes == nil {
		c.Authorization.PublicPrefixes = []string{"rpc.market.", "rpc.info.", "rpc.registrar.", "feeds.market."}
	}
	if c.Authorization.UserPrefixes == nil {
		c.Authorization.UserPrefixes = []string{"rpc.trader.", "rpc.token."}
	}
	if c.Backend.TimeoutMS <= 0 {
		c.Backend.TimeoutMS = DefaultBackendTimeoutMS
	}
	if c.Backend.Engine == "" {
		c.Backend.Engine = "engine"
	}
	if c.Backend.Accountant == "" {
		c.Backend.Accountant = "accountant"
	}
	if c.Identity.MongoDB.ConnectTimeoutMS <= 0 {
		c.Identity.MongoDB.ConnectTimeoutMS = 5000
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Info.Name == "" {
		c.Info.Name = "exgateway"
	}
}

// NewDefaultConfig returns a config with every default applied, used by tests and the CLI
func NewDefaultConfig() *ServerConfig {
	c := &ServerConfig{}
	c.SetDefaults()
	return c
}
