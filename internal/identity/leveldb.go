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
	"encoding/json"
	"strconv"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
)

const (
	ldbAPIKeyPrefix  = "apikey/"
	ldbProfilePrefix = "profile/"
	ldbNoncePrefix   = "nonce/"
)

func init() {
	plugins.RegisterFactory("identity.leveldb", plugins.KindIdentity, func() plugins.Module {
		return &LevelDBStore{}
	})
}

// LevelDBStore keeps credentials, profiles and nonces as JSON documents in
// a local LevelDB
type LevelDBStore struct {
	plugins.Base
	conf *conf.LevelDBConf
	db   *leveldb.DB
}

// Configure checks the path is set
func (l *LevelDBStore) Configure(host plugins.Host) error {
	l.conf = &host.Config().Identity.LevelDB
	if l.conf.Path == "" {
		return errors.Errorf(errors.ConfigIdentityLevelDBNoPath)
	}
	return nil
}

// Init opens the database
func (l *LevelDBStore) Init(ctx context.Context) (err error) {
	if l.db, err = leveldb.OpenFile(l.conf.Path, nil); err != nil {
		return errors.Errorf(errors.IdentityLevelDBOpen, l.conf.Path, err)
	}
	log.Infof("Opened LevelDB identity store at %s", l.conf.Path)
	return nil
}

// Shutdown closes the database
func (l *LevelDBStore) Shutdown(ctx context.Context) error {
	if l.db != nil {
		l.db.Close()
		l.db = nil
	}
	return nil
}

func (l *LevelDBStore) warnIfErr(op, key string, err error) {
	if err != nil && err != leveldb.ErrNotFound {
		log.Warnf("LDB %s %s '%s' failed: %s", l.conf.Path, op, key, err)
	}
}

func (l *LevelDBStore) getJSON(kind, key string, v interface{}) (bool, error) {
	b, err := l.db.Get([]byte(key), nil)
	l.warnIfErr("Get", key, err)
	if err == leveldb.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, errors.Errorf(errors.IdentityStoreFailed, "identity.leveldb", err)
	}
	if err = json.Unmarshal(b, v); err != nil {
		return false, errors.Errorf(errors.IdentityDecodeFailed, kind, key, err)
	}
	return true, nil
}

func (l *LevelDBStore) putJSON(key string, v interface{}) error {
	b, _ := json.Marshal(v)
	err := l.db.Put([]byte(key), b, nil)
	l.warnIfErr("Put", key, err)
	if err != nil {
		return errors.Errorf(errors.IdentityStoreFailed, "identity.leveldb", err)
	}
	return nil
}

// LookupAPIKey reads apikey/<key>
func (l *LevelDBStore) LookupAPIKey(ctx context.Context, key string) (*APICredential, error) {
	var cred APICredential
	found, err := l.getJSON("api key", ldbAPIKeyPrefix+key, &cred)
	if !found {
		return nil, err
	}
	return &cred, nil
}

// LookupProfile reads profile/<username>
func (l *LevelDBStore) LookupProfile(ctx context.Context, username string) (*Profile, error) {
	var profile Profile
	found, err := l.getJSON("profile", ldbProfilePrefix+username, &profile)
	if !found {
		return nil, err
	}
	return &profile, nil
}

// PutAPICredential writes apikey/<key>
func (l *LevelDBStore) PutAPICredential(ctx context.Context, cred *APICredential) error {
	return l.putJSON(ldbAPIKeyPrefix+cred.APIKey, cred)
}

// PutProfile writes profile/<username>
func (l *LevelDBStore) PutProfile(ctx context.Context, profile *Profile) error {
	return l.putJSON(ldbProfilePrefix+profile.Username, profile)
}

// CheckAndConsume compares and updates nonce/<username> in one transaction
func (l *LevelDBStore) CheckAndConsume(ctx context.Context, username string, nonce int64) error {
	key := []byte(ldbNoncePrefix + username)
	tr, err := l.db.OpenTransaction()
	if err != nil {
		return errors.Errorf(errors.IdentityStoreFailed, "identity.leveldb", err)
	}
	b, err := tr.Get(key, nil)
	if err != nil && err != leveldb.ErrNotFound {
		tr.Discard()
		return errors.Errorf(errors.IdentityStoreFailed, "identity.leveldb", err)
	}
	if err == nil {
		last, perr := strconv.ParseInt(string(b), 10, 64)
		if perr != nil {
			tr.Discard()
			return errors.Errorf(errors.IdentityDecodeFailed, "nonce", username, perr)
		}
		if nonce <= last {
			tr.Discard()
			return errors.Errorf(errors.IdentityNonceReplay, nonce, username)
		}
	}
	if err = tr.Put(key, []byte(strconv.FormatInt(nonce, 10)), nil); err != nil {
		tr.Discard()
		return errors.Errorf(errors.IdentityStoreFailed, "identity.leveldb", err)
	}
	if err = tr.Commit(); err != nil {
		return errors.Errorf(errors.IdentityStoreFailed, "identity.leveldb", err)
	}
	return nil
}
