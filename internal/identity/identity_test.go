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
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/plugins/pluginstest"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	"github.com/stretchr/testify/assert"
)

type localStore interface {
	plugins.Module
	Lookup
	NonceLedger
	Writer
}

func newTestLevelDB(t *testing.T) (*LevelDBStore, func()) {
	dir, _ := ioutil.TempDir("", "identity")
	host := pluginstest.NewTestHost("identity.leveldb")
	host.Conf.Identity.LevelDB.Path = path.Join(dir, "db")
	s := &LevelDBStore{}
	assert.NoError(t, s.Configure(host))
	assert.NoError(t, s.Init(context.Background()))
	return s, func() {
		s.Shutdown(context.Background())
		os.RemoveAll(dir)
	}
}

func newTestSQLite(t *testing.T) (*SQLiteStore, func()) {
	dir, _ := ioutil.TempDir("", "identity")
	host := pluginstest.NewTestHost("identity.sqlite")
	host.Conf.Identity.SQLite.Path = path.Join(dir, "identity.db")
	s := &SQLiteStore{}
	assert.NoError(t, s.Configure(host))
	assert.NoError(t, s.Init(context.Background()))
	return s, func() {
		s.Shutdown(context.Background())
		os.RemoveAll(dir)
	}
}

func testLocalStore(t *testing.T, s localStore) {
	assert := assert.New(t)
	ctx := context.Background()

	cred, err := s.LookupAPIKey(ctx, "key1")
	assert.NoError(err)
	assert.Nil(cred)
	p, err := s.LookupProfile(ctx, "alice")
	assert.NoError(err)
	assert.Nil(p)

	exp := time.Unix(2000000000, 0)
	assert.NoError(s.PutAPICredential(ctx, &APICredential{
		APIKey:     "key1",
		APISecret:  "secret1",
		Username:   "alice",
		Expiration: exp,
	}))
	cred, err = s.LookupAPIKey(ctx, "key1")
	assert.NoError(err)
	assert.Equal("alice", cred.Username)
	assert.Equal("secret1", cred.APISecret)
	assert.True(exp.Equal(cred.Expiration))

	assert.NoError(s.PutProfile(ctx, &Profile{
		Username:     "alice",
		PasswordHash: "abcd",
		Salt:         "salt",
		Iterations:   1000,
		KeyLen:       32,
		TOTPEnabled:  true,
		Role:         "user",
	}))
	p, err = s.LookupProfile(ctx, "alice")
	assert.NoError(err)
	assert.Equal(1000, p.Iterations)
	assert.True(p.TOTPEnabled)

	assert.NoError(s.CheckAndConsume(ctx, "alice", 10))
	assert.True(errors.Is(s.CheckAndConsume(ctx, "alice", 10), errors.IdentityNonceReplay))
	assert.True(errors.Is(s.CheckAndConsume(ctx, "alice", 9), errors.IdentityNonceReplay))
	assert.NoError(s.CheckAndConsume(ctx, "alice", 11))
	assert.NoError(s.CheckAndConsume(ctx, "bob", 1))
}

func testConcurrentNonces(t *testing.T, s NonceLedger) {
	var wg sync.WaitGroup
	var mux sync.Mutex
	accepted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.CheckAndConsume(context.Background(), "carol", 100); err == nil {
				mux.Lock()
				accepted++
				mux.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}

func TestLevelDBStore(t *testing.T) {
	s, done := newTestLevelDB(t)
	defer done()
	testLocalStore(t, s)
	testConcurrentNonces(t, s)
}

func TestLevelDBStoreCorruptRecords(t *testing.T) {
	assert := assert.New(t)
	s, done := newTestLevelDB(t)
	defer done()
	s.db.Put([]byte("apikey/bad"), []byte("{!"), nil)
	_, err := s.LookupAPIKey(context.Background(), "bad")
	assert.True(errors.Is(err, errors.IdentityDecodeFailed))
	s.db.Put([]byte("nonce/bad"), []byte("x"), nil)
	err = s.CheckAndConsume(context.Background(), "bad", 1)
	assert.True(errors.Is(err, errors.IdentityDecodeFailed))
}

func TestLevelDBStoreConfig(t *testing.T) {
	assert := assert.New(t)
	host := pluginstest.NewTestHost("identity.leveldb")
	s := &LevelDBStore{}
	assert.Regexp("FFXG100012", s.Configure(host))

	dir, _ := ioutil.TempDir("", "identity")
	defer os.RemoveAll(dir)
	f := path.Join(dir, "file")
	ioutil.WriteFile(f, []byte{}, 0644)
	host.Conf.Identity.LevelDB.Path = f
	assert.NoError(s.Configure(host))
	assert.Regexp("FFXG100500", s.Init(context.Background()))
	assert.NoError(s.Shutdown(context.Background()))
}

func TestSQLiteStore(t *testing.T) {
	s, done := newTestSQLite(t)
	defer done()
	testLocalStore(t, s)
	testConcurrentNonces(t, s)
}

func TestSQLiteStoreConfig(t *testing.T) {
	assert := assert.New(t)
	host := pluginstest.NewTestHost("identity.sqlite")
	s := &SQLiteStore{}
	assert.Regexp("FFXG100014", s.Configure(host))

	host.Conf.Identity.SQLite.Path = "/does/not/exist/identity.db"
	assert.NoError(s.Configure(host))
	assert.Regexp("FFXG100503", s.Init(context.Background()))
}

type stubLookup struct {
	cred    *APICredential
	profile *Profile
	err     error
}

func (s *stubLookup) LookupAPIKey(ctx context.Context, key string) (*APICredential, error) {
	return s.cred, s.err
}

func (s *stubLookup) LookupProfile(ctx context.Context, username string) (*Profile, error) {
	return s.profile, s.err
}

func TestFindAcrossLookups(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	miss := &stubLookup{}
	hit := &stubLookup{cred: &APICredential{Username: "alice"}, profile: &Profile{Username: "alice"}}
	broken := &stubLookup{err: fmt.Errorf("pop")}

	cred, err := FindAPICredential(ctx, []Lookup{miss, hit, broken}, "k")
	assert.NoError(err)
	assert.Equal("alice", cred.Username)
	p, err := FindProfile(ctx, []Lookup{miss, hit}, "alice")
	assert.NoError(err)
	assert.Equal("alice", p.Username)

	_, err = FindAPICredential(ctx, []Lookup{miss, broken, hit}, "k")
	assert.EqualError(err, "pop")
	cred, err = FindAPICredential(ctx, []Lookup{miss}, "k")
	assert.NoError(err)
	assert.Nil(cred)
	p, err = FindProfile(ctx, nil, "alice")
	assert.NoError(err)
	assert.Nil(p)
}

func TestLookupsAndLedgerFromModules(t *testing.T) {
	assert := assert.New(t)
	ldb := &LevelDBStore{}
	mods := []plugins.Module{&plugins.Base{}, ldb}
	assert.Equal([]Lookup{ldb}, Lookups(mods))
	nl, err := FirstNonceLedger(mods)
	assert.NoError(err)
	assert.Equal(ldb, nl)
	_, err = FirstNonceLedger([]plugins.Module{&plugins.Base{}})
	assert.Regexp("FFXG100016", err)
}

func TestCredentialExpired(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()
	assert.False((&APICredential{}).Expired(now))
	assert.False((&APICredential{Expiration: now.Add(time.Hour)}).Expired(now))
	assert.True((&APICredential{Expiration: now}).Expired(now))
}

func TestDeriveKeyAndSigningKey(t *testing.T) {
	assert := assert.New(t)
	p := NewProfile("alice", "password", "salt")
	assert.Len(p.PasswordHash, 64)
	assert.Equal(DeriveKey("password", "salt", 1000, 32), p.PasswordHash)
	assert.NotEqual(DeriveKey("password", "pepper", 1000, 32), p.PasswordHash)
	key, err := p.SigningKey()
	assert.NoError(err)
	assert.Len(key, 44)

	p.PasswordHash = "zz"
	_, err = p.SigningKey()
	assert.Error(err)
}
