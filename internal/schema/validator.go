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
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-openapi/jsonreference"
	"github.com/go-openapi/spec"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/validate"
	lru "github.com/hashicorp/golang-lru"
	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	log "github.com/sirupsen/logrus"
)

var segmentRegexp = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// cacheEntry is immutable once built. A nil validator means the procedure
// has no schema and validation is skipped.
type cacheEntry struct {
	validator *validate.SchemaValidator
}

// Validator checks procedure arguments against draft-04 JSON schemas held
// in <dir>/<prefix>/<section>.json, one definition per method
type Validator struct {
	conf   *conf.SchemaConf
	loader *countingLoader
	cache  *lru.Cache
	meta   *spec.Schema
}

// NewValidator constructor
func NewValidator(c *conf.SchemaConf) (*Validator, error) {
	if c.Dir == "" {
		return nil, errors.Errorf(errors.ConfigSchemaNoDir)
	}
	loader, err := newCountingLoader(c.Dir)
	if err != nil {
		return nil, errors.Errorf(errors.SchemaLoadFailed, c.Dir, err)
	}
	size := c.CacheSize
	if size <= 0 {
		size = conf.DefaultSchemaCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	prefix := c.Prefix
	if prefix == "" {
		prefix = conf.DefaultSchemaPrefix
	}
	vc := *c
	vc.Prefix = prefix
	return &Validator{
		conf:   &vc,
		loader: loader,
		cache:  cache,
		meta:   spec.MustLoadJSONSchemaDraft04(),
	}, nil
}

// Loads is the number of schema documents read from disk
func (v *Validator) Loads() int64 {
	return v.loader.count()
}

// ParseURI splits prefix.section.method, rejecting anything that could
// not safely name a schema file
func ParseURI(prefix, uri string) (section, method string, err error) {
	parts := strings.Split(uri, ".")
	if len(parts) != 3 || parts[0] != prefix || !segmentRegexp.MatchString(parts[1]) || !segmentRegexp.MatchString(parts[2]) {
		return "", "", errors.Errorf(errors.SchemaInvalidURI, uri)
	}
	return parts[1], parts[2], nil
}

// Ref is the JSON reference of the schema for a URI
func (v *Validator) Ref(uri string) (jsonreference.Ref, error) {
	section, method, err := ParseURI(v.conf.Prefix, uri)
	if err != nil {
		return jsonreference.Ref{}, err
	}
	docURL := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(filepath.Join(v.loader.root, v.conf.Prefix, section+".json")),
		Fragment: "/" + method,
	}
	return jsonreference.New(docURL.String())
}

// Validate checks the named arguments of a call. Arguments that do not
// match the schema are a caller error.
func (v *Validator) Validate(uri string, kwargs map[string]interface{}) error {
	entry, err := v.lookup(uri)
	if err != nil {
		return err
	}
	if entry.validator == nil {
		return nil
	}
	data, err := Normalize(uri, kwargs)
	if err != nil {
		return err
	}
	res := entry.validator.Validate(data)
	if res == nil || res.IsValid() {
		return nil
	}
	msgs := make([]string, len(res.Errors))
	for i, e := range res.Errors {
		msgs[i] = e.Error()
	}
	log.Debugf("Schema validation failed for %s: %v", uri, msgs)
	return errors.NewCallerError(errors.TagSchemaException, errors.Errorf(errors.SchemaValidationFailed, uri, strings.Join(msgs, "; ")).ErrorNoCode())
}

func (v *Validator) lookup(uri string) (*cacheEntry, error) {
	if cached, ok := v.cache.Get(uri); ok {
		return cached.(*cacheEntry), nil
	}
	entry, err := v.build(uri)
	if err != nil {
		return nil, err
	}
	v.cache.Add(uri, entry)
	return entry, nil
}

func (v *Validator) build(uri string) (*cacheEntry, error) {
	ref, err := v.Ref(uri)
	if err != nil {
		return nil, err
	}
	docPath := filepath.FromSlash(ref.GetURL().Path)

	raw, err := v.loader.read(docPath)
	if os.IsNotExist(err) && !v.conf.Required {
		log.Debugf("No schema document for %s, skipping validation", uri)
		return &cacheEntry{}, nil
	}
	if err != nil {
		return nil, errors.Errorf(errors.SchemaLoadFailed, docPath, err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Errorf(errors.SchemaParseFailed, docPath, err)
	}

	fragment, _, err := ref.GetPointer().Get(doc)
	if err != nil || fragment == nil {
		if !v.conf.Required {
			log.Debugf("No schema '%s' in %s, skipping validation", ref.GetPointer().String(), docPath)
			return &cacheEntry{}, nil
		}
		return nil, errors.Errorf(errors.SchemaFragmentNotFound, ref.GetPointer().String(), docPath)
	}

	if err := validate.AgainstSchema(v.meta, fragment, strfmt.Default); err != nil {
		return nil, errors.Errorf(errors.SchemaInvalidSchema, ref.String(), err)
	}

	b, _ := json.Marshal(fragment)
	var schema spec.Schema
	if err := json.Unmarshal(b, &schema); err != nil {
		return nil, errors.Errorf(errors.SchemaParseFailed, ref.String(), err)
	}
	if strings.Contains(string(b), `"$ref"`) {
		err = spec.ExpandSchemaWithBasePath(&schema, nil, &spec.ExpandOptions{
			RelativeBase: docPath,
			PathLoader:   v.loader.load,
		})
		if err != nil {
			return nil, errors.Errorf(errors.SchemaExpandFailed, ref.String(), err)
		}
	}

	log.Infof("Compiled schema validator for %s", uri)
	return &cacheEntry{
		validator: validate.NewSchemaValidator(&schema, nil, "", strfmt.Default),
	}, nil
}
