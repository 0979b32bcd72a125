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

package identity

import (
	"context"
	"time"

	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
)

// APICredential binds an API key to a user. The secret is the shared HMAC key.
type APICredential struct {
	APIKey        string    `json:"apiKey" bson:"_id"`
	APISecret     string    `json:"apiSecret" bson:"apiSecret"`
	APISecretHash string    `json:"apiSecretHash,omitempty" bson:"apiSecretHash,omitempty"`
	Username      string    `json:"username" bson:"username"`
	Expiration    time.Time `json:"expiration,omitempty" bson:"expiration,omitempty"`
}

// Expired is true if the credential has an expiration in the past
func (c *APICredential) Expired(now time.Time) bool {
	return !c.Expiration.IsZero() && !now.Before(c.Expiration)
}

// Profile is what the challenge/response authenticator needs to know about a user
type Profile struct {
	Username     string `json:"username" bson:"_id"`
	PasswordHash string `json:"passwordHash" bson:"passwordHash"`
	Salt         string `json:"salt" bson:"salt"`
	Iterations   int    `json:"iterations" bson:"iterations"`
	KeyLen       int    `json:"keylen" bson:"keylen"`
	TOTPEnabled  bool   `json:"totpEnabled" bson:"totpEnabled"`
	Role         string `json:"role,omitempty" bson:"role,omitempty"`
}

// Lookup finds credentials and profiles. A miss is (nil, nil).
type Lookup interface {
	LookupAPIKey(ctx context.Context, key string) (*APICredential, error)
	LookupProfile(ctx context.Context, username string) (*Profile, error)
}

// NonceLedger records the last nonce consumed by each user. CheckAndConsume
// succeeds only if nonce is greater than the last one, and records it in the
// same atomic step.
type NonceLedger interface {
	CheckAndConsume(ctx context.Context, username string, nonce int64) error
}

// Writer is implemented by the local stores, which can be seeded directly
type Writer interface {
	PutAPICredential(ctx context.Context, cred *APICredential) error
	PutProfile(ctx context.Context, profile *Profile) error
}

// Lookups returns the modules that implement Lookup, keeping their order
func Lookups(mods []plugins.Module) []Lookup {
	var lookups []Lookup
	for _, m := range mods {
		if l, ok := m.(Lookup); ok {
			lookups = append(lookups, l)
		}
	}
	return lookups
}

// FindAPICredential asks each lookup in turn, returning the first hit
func FindAPICredential(ctx context.Context, lookups []Lookup, key string) (*APICredential, error) {
	for _, l := range lookups {
		cred, err := l.LookupAPIKey(ctx, key)
		if err != nil || cred != nil {
			return cred, err
		}
	}
	return nil, nil
}

// FindProfile asks each lookup in turn, returning the first hit
func FindProfile(ctx context.Context, lookups []Lookup, username string) (*Profile, error) {
	for _, l := range lookups {
		p, err := l.LookupProfile(ctx, username)
		if err != nil || p != nil {
			return p, err
		}
	}
	return nil, nil
}

// FirstNonceLedger returns the first module that keeps a nonce ledger
func FirstNonceLedger(mods []plugins.Module) (NonceLedger, error) {
	for _, m := range mods {
		if nl, ok := m.(NonceLedger); ok {
			return nl, nil
		}
	}
	return nil, errors.Errorf(errors.ConfigNoNonceLedger)
}
