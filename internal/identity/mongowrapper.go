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

// The mgo library exposes structs rather than interfaces, so these wrappers
// carry the subset we use and let the store be stubbed in tests.

import (
	"time"

	"github.com/globalsign/mgo"
)

// MongoDatabase is a subset of mgo that we use, allowing stubbing.
type MongoDatabase interface {
	Connect(url string, timeout time.Duration) error
	GetCollection(database string, collection string) MongoCollection
	Close()
}

// MongoCollection is the subset of mgo that we use, allowing stubbing
type MongoCollection interface {
	Upsert(selector interface{}, update interface{}) (*mgo.ChangeInfo, error)
	EnsureIndex(index mgo.Index) error
	Find(query interface{}) MongoQuery
}

// MongoQuery is the subset of mgo that we use, allowing stubbing
type MongoQuery interface {
	One(result interface{}) error
	Apply(change mgo.Change, result interface{}) (*mgo.ChangeInfo, error)
}

type mgoWrapper struct {
	session *mgo.Session
}

func (m *mgoWrapper) Connect(url string, timeout time.Duration) (err error) {
	m.session, err = mgo.DialWithTimeout(url, timeout)
	return
}

func (m *mgoWrapper) GetCollection(database string, collection string) MongoCollection {
	return &collWrapper{coll: m.session.DB(database).C(collection)}
}

func (m *mgoWrapper) Close() {
	if m.session != nil {
		m.session.Close()
	}
}

type collWrapper struct {
	coll *mgo.Collection
}

func (m *collWrapper) Upsert(selector interface{}, update interface{}) (*mgo.ChangeInfo, error) {
	return m.coll.Upsert(selector, update)
}

func (m *collWrapper) EnsureIndex(index mgo.Index) error {
	return m.coll.EnsureIndex(index)
}

func (m *collWrapper) Find(query interface{}) MongoQuery {
	return m.coll.Find(query)
}
