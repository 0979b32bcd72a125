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

package schema

import (
	"encoding/json"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/hyperledger/firefly-exgateway/internal/errors"
	log "github.com/sirupsen/logrus"
)

// countingLoader reads schema documents from below a root directory, and
// counts the reads so cache behaviour can be observed
type countingLoader struct {
	root  string
	loads int64
}

func newCountingLoader(root string) (*countingLoader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &countingLoader{root: filepath.Clean(abs)}, nil
}

// contains is true if the path resolves to a location under the root
func (l *countingLoader) contains(path string) bool {
	clean := filepath.Clean(path)
	return clean == l.root || strings.HasPrefix(clean, l.root+string(os.PathSeparator))
}

// load is handed to $ref expansion, which passes file URLs or plain paths
// that may carry a fragment. References cannot escape the root.
func (l *countingLoader) load(path string) (json.RawMessage, error) {
	if strings.HasPrefix(path, "file://") {
		u, err := url.Parse(path)
		if err != nil {
			return nil, errors.Errorf(errors.SchemaLoadFailed, path, err)
		}
		path = filepath.FromSlash(u.Path)
	} else if i := strings.Index(path, "#"); i >= 0 {
		path = path[0:i]
	}
	return l.read(path)
}

// read loads a document by filesystem path, taken literally
func (l *countingLoader) read(path string) (json.RawMessage, error) {
	if !l.contains(path) {
		return nil, errors.Errorf(errors.SchemaLoadFailed, path, "outside of the schema directory")
	}
	atomic.AddInt64(&l.loads, 1)
	log.Debugf("Loading schema document %s", path)
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func (l *countingLoader) count() int64 {
	return atomic.LoadInt64(&l.loads)
}
