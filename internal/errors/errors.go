// Copyright 2019,2021 Kaleido

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
)

var errDupCheck = map[int]bool{}

type ErrorID interface {
	Code() string
}

type errorID struct {
	code  int
	enMsg string
}

func (e *errorID) Code() string {
	return fmt.Sprintf("FFXG%d", e.code)
}

func e(code int, enMsg string) ErrorID {
	if _, ok := errDupCheck[code]; ok {
		panic(fmt.Sprintf("Duplicate code %d: %s", code, enMsg))
	}
	if code < 100000 || code > 200000 {
		panic(fmt.Sprintf("Invalid code %d: %s", code, enMsg))
	}
	e := &errorID{code, enMsg}
	errDupCheck[code] = true
	return e
}

var (
	// ConfigFileReadFailed failed to read the server config file
	ConfigFileReadFailed = e(100000, "Failed to read %s: %s")
	// ConfigNoYAML missing configuration file on server start
	ConfigNoYAML = e(100001, "No YAML configuration filename specified")
	// ConfigYAMLParseFile failed to parse YAML during server startup
	ConfigYAMLParseFile = e(100002, "Unable to parse %s as YAML: %s")
	// ConfigYAMLPostParseFile failed to process YAML as JSON after parsing
	ConfigYAMLPostParseFile = e(100003, "Failed to process YAML config from %s: %s")
	// ConfigTLSCertOrKey incomplete TLS config
	ConfigTLSCertOrKey = e(100004, "Client private key and certificate must both be provided for mutual auth")
	// ConfigNoPlugins no plugins listed, so nothing could authenticate or serve a call
	ConfigNoPlugins = e(100005, "No plugins configured")
	// ConfigKafkaMissingOutputTopic request topic missing
	ConfigKafkaMissingOutputTopic = e(100006, "No output topic specified for backend requests")
	// ConfigKafkaMissingInputTopic reply topic missing
	ConfigKafkaMissingInputTopic = e(100007, "No input topic specified for backend replies")
	// ConfigKafkaMissingConsumerGroup consumer group missing
	ConfigKafkaMissingConsumerGroup = e(100008, "No consumer group specified")
	// ConfigKafkaMissingBadSASL problem with SASL config
	ConfigKafkaMissingBadSASL = e(100009, "Username and Password must both be provided for SASL")
	// ConfigKafkaMissingBrokers missing/empty brokers
	ConfigKafkaMissingBrokers = e(100010, "No Kafka brokers configured")
	// ConfigBackendHTTPNoURL the HTTP backend has no base URL
	ConfigBackendHTTPNoURL = e(100011, "No base URL configured for the HTTP backend")
	// ConfigIdentityLevelDBNoPath LevelDB identity store without a path
	ConfigIdentityLevelDBNoPath = e(100012, "No path configured for the LevelDB identity store")
	// ConfigIdentityMongoDBIncomplete MongoDB identity store partially configured
	ConfigIdentityMongoDBIncomplete = e(100013, "MongoDB URL and Database must be specified to enable the MongoDB identity store")
	// ConfigIdentitySQLiteNoPath SQLite identity store without a path
	ConfigIdentitySQLiteNoPath = e(100014, "No path configured for the SQLite identity store")
	// ConfigSchemaNoDir schema validation enabled without a directory
	ConfigSchemaNoDir = e(100015, "No schema directory configured")
	// ConfigNoNonceLedger REST gateway has nowhere to consume nonces
	ConfigNoNonceLedger = e(100016, "No nonce ledger available. Load an identity plugin that records nonces")

	// PluginUnknownPath the config names a plugin that is not in the registration table
	PluginUnknownPath = e(100100, "No plugin registered for path '%s'")
	// PluginRequiredMissing a plugin requires another that was not loaded before it
	PluginRequiredMissing = e(100101, "Plugin '%s' requires '%s', which is not loaded")
	// PluginConfigureFailed the synchronous configure hook failed
	PluginConfigureFailed = e(100102, "Failed to configure plugin '%s': %s")
	// PluginInitFailed the asynchronous init hook failed
	PluginInitFailed = e(100103, "Failed to initialize plugin '%s': %s")
	// PluginShutdownFailed the asynchronous shutdown hook failed
	PluginShutdownFailed = e(100104, "Failed to shut down plugin '%s': %s")
	// PluginWrongType a required plugin does not implement the expected interface
	PluginWrongType = e(100105, "Plugin '%s' does not implement %s")
	// PluginNotLoaded a lifecycle call was made for a plugin not in the registry
	PluginNotLoaded = e(100106, "Plugin '%s' is not loaded")
	// PluginBadState a lifecycle call was made in the wrong state
	PluginBadState = e(100107, "Plugin '%s' is %s, expected %s")

	// SchemaInvalidURI the URI cannot be mapped to a schema document safely
	SchemaInvalidURI = e(100200, "Invalid procedure URI '%s'")
	// SchemaLoadFailed the schema document could not be read
	SchemaLoadFailed = e(100201, "Failed to load schema %s: %s")
	// SchemaParseFailed the schema document is not valid JSON
	SchemaParseFailed = e(100202, "Failed to parse schema %s: %s")
	// SchemaFragmentNotFound the document has no schema for the method
	SchemaFragmentNotFound = e(100203, "No schema '%s' in %s")
	// SchemaInvalidSchema the schema is not a well formed draft-04 schema
	SchemaInvalidSchema = e(100204, "Schema %s is not a valid JSON schema: %s")
	// SchemaExpandFailed $ref resolution failed
	SchemaExpandFailed = e(100205, "Failed to resolve references in schema %s: %s")
	// SchemaTooManyArgs more positional args than declared parameters
	SchemaTooManyArgs = e(100206, "%s takes %d positional arguments but %d were given")
	// SchemaDuplicateArg argument supplied both positionally and by name
	SchemaDuplicateArg = e(100207, "%s got multiple values for argument '%s'")
	// SchemaValidationFailed the arguments do not match the schema
	SchemaValidationFailed = e(100208, "Invalid arguments for %s: %s")
	// SchemaArgsNotSerializable the arguments cannot be represented as JSON
	SchemaArgsNotSerializable = e(100209, "Arguments for %s cannot be serialized: %s")

	// ProcedureDuplicateURI two services registered the same URI
	ProcedureDuplicateURI = e(100300, "Procedure '%s' registered by both '%s' and '%s'")
	// ProcedureInvalidName a service declared a procedure with a bad name
	ProcedureInvalidName = e(100301, "Invalid procedure name '%s' in service '%s'")

	// BackendTimeout a backend call exceeded its timeout
	BackendTimeout = e(100400, "Remote call %s.%s timed out after %s")
	// BackendKafkaSendFailed the request could not be produced
	BackendKafkaSendFailed = e(100401, "Failed to send request %s to Kafka: %s")
	// BackendNotStarted a call was attempted before the proxy connected
	BackendNotStarted = e(100402, "Backend proxy '%s' is not started")
	// BackendReplyParse a reply could not be parsed
	BackendReplyParse = e(100403, "Failed to parse reply for %s: %s")
	// BackendHTTPRequestFailed the HTTP request could not be made
	BackendHTTPRequestFailed = e(100404, "Error querying %s")
	// BackendHTTPStatus the HTTP collaborator returned a non-success status
	BackendHTTPStatus = e(100405, "Error querying %s (status=%d)")
	// BackendMarshal the request could not be serialized
	BackendMarshal = e(100406, "Failed to serialize request for %s.%s: %s")
	// BackendShutdown the proxy was shut down with the call in flight
	BackendShutdown = e(100407, "Backend proxy shut down with call %s in flight")
	// BackendKafkaUnexpectedErrFmt delivery report without correlation metadata
	BackendKafkaUnexpectedErrFmt = e(100408, "Error did not contain message and metadata: %+v")

	// IdentityLevelDBOpen failed to open LevelDB
	IdentityLevelDBOpen = e(100500, "Failed to open DB at %s: %s")
	// IdentityMongoDBConnect failed to connect to MongoDB
	IdentityMongoDBConnect = e(100501, "Unable to connect to MongoDB: %s")
	// IdentityMongoDBIndex failed to create MongoDB index
	IdentityMongoDBIndex = e(100502, "Unable to create index: %s")
	// IdentitySQLiteOpen failed to open SQLite
	IdentitySQLiteOpen = e(100503, "Failed to open SQLite DB at %s: %s")
	// IdentitySQLiteMigrate failed to create SQLite tables
	IdentitySQLiteMigrate = e(100504, "Failed to migrate SQLite DB at %s: %s")
	// IdentityStoreFailed the store failed in a way that is not a miss
	IdentityStoreFailed = e(100505, "Identity store '%s' failed: %s")
	// IdentityDecodeFailed a stored record was corrupt
	IdentityDecodeFailed = e(100506, "Failed to decode stored %s '%s': %s")
	// IdentityNonceReplay the nonce was not greater than the last consumed nonce
	IdentityNonceReplay = e(100507, "Nonce %d for '%s' has already been used")

	// WebSocketClosed websocket was closed
	WebSocketClosed = e(100600, "WebSocket '%s' closed")
	// WebSocketBadMessage unparseable session frame
	WebSocketBadMessage = e(100601, "Invalid session message: %s")
)

type GatewayError interface {
	Code() string
	Error() string
	ErrorNoCode() string
	String() string
}

type gatewayError struct {
	msg     *errorID
	inserts []interface{}
}

func (e *gatewayError) ErrorNoCode() string {
	return fmt.Sprintf(e.msg.enMsg, e.inserts...)
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.msg.Code(), e.ErrorNoCode())
}

func (e *gatewayError) Code() string {
	return e.msg.Code()
}

func (e *gatewayError) String() string {
	return e.Error()
}

type RESTError struct {
	Message string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func ToRESTError(err error) *RESTError {
	var errorMessage string
	var errorCode = ""
	switch err := err.(type) {
	case GatewayError:
		errorMessage = err.ErrorNoCode()
		errorCode = err.Code()
	default:
		errorMessage = err.Error()
	}
	return &RESTError{Message: errorMessage, Code: errorCode}
}

// Errorf creates an error (not yet translated, but an extensible interface for that using simple sprintf formatting rather than named i18n inserts)
func Errorf(msg ErrorID, inserts ...interface{}) GatewayError {
	return &gatewayError{msg.(*errorID), inserts}
}

// Is reports whether err was created from the given message ID
func Is(err error, msg ErrorID) bool {
	ge, ok := err.(*gatewayError)
	return ok && ge.msg == msg
}
