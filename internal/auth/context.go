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

package auth

import (
	"context"

	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

type ContextKey int

const (
	ContextKeySession ContextKey = iota
)

// WithSession stores the caller's session on a context
func WithSession(ctx context.Context, sess *plugins.Session) context.Context {
	return context.WithValue(ctx, ContextKeySession, sess)
}

// SessionFrom extracts a previously stored session, or nil
func SessionFrom(ctx context.Context) *plugins.Session {
	sess, _ := ctx.Value(ContextKeySession).(*plugins.Session)
	return sess
}
