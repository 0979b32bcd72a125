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

package errors

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Tags returned to callers over either wire encoding. These are the only
// error strings a client ever sees.
const (
	TagNoSuchFunction   = "exceptions/rpc/no_such_function"
	TagNotAuthorized    = "exceptions/rpc/not_authorized"
	TagSchemaException  = "exceptions/rpc/schema-exception"
	TagInternalError    = "exceptions/server/internal_error"
	TagBackendTimeout   = "exceptions/backend/timeout"
	TagNoAuthMethod     = "wamp.error.no_auth_method"
	TagAuthFailed       = "wamp.error.authentication_failed"
	TagRESTNoSuchFunc   = "exceptions/rest/no_such_function"
	TagRESTNotAuth      = "exceptions/rest/not_authorized"
	TagRESTInvalidKey   = "exceptions/rest/invalid_key"
	TagRESTKeyExpired   = "exceptions/rest/key_expired"
	TagRESTInvalidSig   = "exceptions/rest/invalid_signature"
	TagRESTInvalidNonce = "exceptions/rest/invalid_nonce"
	TagRESTBadRequest   = "exceptions/rest/bad_request"
	TagUsernameTaken    = "exceptions/registrar/username_taken"
	TagInvalidArgument  = "exceptions/rpc/invalid_argument"
)

// WireError is implemented by every error that is safe to show a caller
type WireError interface {
	error
	WireArgs() []interface{}
}

// CallerError is a protocol error: recovered locally and reported with a tag
type CallerError struct {
	Tag  string
	Args []interface{}
}

// NewCallerError constructs a tagged protocol error
func NewCallerError(tag string, args ...interface{}) *CallerError {
	return &CallerError{Tag: tag, Args: args}
}

func (e *CallerError) Error() string {
	if len(e.Args) == 0 {
		return e.Tag
	}
	return fmt.Sprintf("%s: %v", e.Tag, e.Args)
}

// WireArgs returns the tag followed by the args
func (e *CallerError) WireArgs() []interface{} {
	return append([]interface{}{e.Tag}, e.Args...)
}

// ToWire maps any error to the list sent to the caller. Errors that are not
// WireErrors are logged in full and replaced with an opaque tag.
func ToWire(err error) []interface{} {
	if we, ok := err.(WireError); ok {
		return we.WireArgs()
	}
	log.Errorf("Unhandled error: %+v", err)
	return []interface{}{TagInternalError}
}
