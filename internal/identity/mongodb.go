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

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

const (
	mongoAPIKeys  = "apikeys"
	mongoProfiles = "profiles"
	mongoNonces   = "nonces"
)

func init() {
	plugins.RegisterFactory("identity.mongodb", plugins.KindIdentity, func() plugins.Module {
		return newMongoStore()
	})
}

// MongoStore keeps credentials, profiles and nonces in three MongoDB collections
type MongoStore struct {
	plugins.Base
	conf     *conf.MongoDBConf
	mgo      MongoDatabase
	apiKeys  MongoCollection
	profiles MongoCollection
	nonces   MongoCollection
}

func newMongoStore() *MongoStore {
	return &MongoStore{
		mgo: &mgoWrapper{},
	}
}

// Configure checks both the URL and database are set
func (m *MongoStore) Configure(host plugins.Host) error {
	m.conf = &host.Config().Identity.MongoDB
	if m.conf.URL == "" || m.conf.Database == "" {
		return errors.Errorf(errors.ConfigIdentityMongoDBIncomplete)
	}
	return nil
}

// Init connects and ensures the username index on API keys
func (m *MongoStore) Init(ctx context.Context) (err error) {
	err = m.mgo.Connect(m.conf.URL, time.Duration(m.conf.ConnectTimeoutMS)*time.Millisecond)
	if err != nil {
		return errors.Errorf(errors.IdentityMongoDBConnect, err)
	}
	m.apiKeys = m.mgo.GetCollection(m.conf.Database, mongoAPIKeys)
	m.profiles = m.mgo.GetCollection(m.conf.Database, mongoProfiles)
	m.nonces = m.mgo.GetCollection(m.conf.Database, mongoNonces)

	index := mgo.Index{
		Key:        []string{"username"},
		Unique:     false,
		DropDups:   false,
		Background: true,
		Sparse:     true,
	}
	if err = m.apiKeys.EnsureIndex(index); err != nil {
		return errors.Errorf(errors.IdentityMongoDBIndex, err)
	}

	log.Infof("Connected to MongoDB on %s DB=%s", m.conf.URL, m.conf.Database)
	return nil
}

// Shutdown closes the session
func (m *MongoStore) Shutdown(ctx context.Context) error {
	m.mgo.Close()
	return nil
}

func (m *MongoStore) findOne(coll MongoCollection, id string, result interface{}) (bool, error) {
	err := coll.Find(bson.M{"_id": id}).One(result)
	if err == mgo.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, errors.Errorf(errors.IdentityStoreFailed, "identity.mongodb", err)
	}
	return true, nil
}

// LookupAPIKey finds by _id in the apikeys collection
func (m *MongoStore) LookupAPIKey(ctx context.Context, key string) (*APICredential, error) {
	var cred APICredential
	found, err := m.findOne(m.apiKeys, key, &cred)
	if !found {
		return nil, err
	}
	return &cred, nil
}

// LookupProfile finds by _id in the profiles collection
func (m *MongoStore) LookupProfile(ctx context.Context, username string) (*Profile, error) {
	var profile Profile
	found, err := m.findOne(m.profiles, username, &profile)
	if !found {
		return nil, err
	}
	return &profile, nil
}

// PutAPICredential upserts into apikeys
func (m *MongoStore) PutAPICredential(ctx context.Context, cred *APICredential) error {
	if _, err := m.apiKeys.Upsert(bson.M{"_id": cred.APIKey}, cred); err != nil {
		return errors.Errorf(errors.IdentityStoreFailed, "identity.mongodb", err)
	}
	return nil
}

// PutProfile upserts into profiles
func (m *MongoStore) PutProfile(ctx context.Context, profile *Profile) error {
	if _, err := m.profiles.Upsert(bson.M{"_id": profile.Username}, profile); err != nil {
		return errors.Errorf(errors.IdentityStoreFailed, "identity.mongodb", err)
	}
	return nil
}

// CheckAndConsume sets the nonce only where the stored one is lower. If the
// stored one is not lower the filter misses, the upsert collides on _id, and
// that duplicate key is the replay.
func (m *MongoStore) CheckAndConsume(ctx context.Context, username string, nonce int64) error {
	change := mgo.Change{
		Update:    bson.M{"$set": bson.M{"nonce": nonce}},
		Upsert:    true,
		ReturnNew: true,
	}
	var doc bson.M
	_, err := m.nonces.Find(bson.M{"_id": username, "nonce": bson.M{"$lt": nonce}}).Apply(change, &doc)
	if mgo.IsDup(err) {
		return errors.Errorf(errors.IdentityNonceReplay, nonce, username)
	} else if err != nil {
		return errors.Errorf(errors.IdentityStoreFailed, "identity.mongodb", err)
	}
	return nil
}
