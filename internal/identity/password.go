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
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// Defaults for newly derived password keys
const (
	DefaultIterations = 1000
	DefaultKeyLen     = 32
)

// DeriveKey is PBKDF2-SHA256 of the password, hex encoded as stored in a Profile
func DeriveKey(password, salt string, iterations, keyLen int) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(password), []byte(salt), iterations, keyLen, sha256.New))
}

// SigningKey is the key a challenge/response client signs with: the base64
// encoding of the derived key
func (p *Profile) SigningKey() ([]byte, error) {
	raw, err := hex.DecodeString(p.PasswordHash)
	if err != nil {
		return nil, err
	}
	return []byte(base64.StdEncoding.EncodeToString(raw)), nil
}

// NewProfile derives the password key with the default parameters
func NewProfile(username, password, salt string) *Profile {
	return &Profile{
		Username:     username,
		PasswordHash: DeriveKey(password, salt, DefaultIterations, DefaultKeyLen),
		Salt:         salt,
		Iterations:   DefaultIterations,
		KeyLen:       DefaultKeyLen,
		Role:         "user",
	}
}
