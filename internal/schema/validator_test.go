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
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/stretchr/testify/assert"
)

const marketSchema = `{
  "get_order_book": {
    "type": "object",
    "properties": {
      "ticker": {"$ref": "common.json#/definitions/ticker"}
    },
    "required": ["ticker"]
  },
  "get_trade_history": {
    "type": "object",
    "properties": {
      "ticker": {"type": "string"},
      "from_timestamp": {"type": "number"},
      "to_timestamp": {"type": "number"}
    },
    "required": ["ticker"],
    "additionalProperties": false
  },
  "get_markets": {"type": "object"},
  "broken": {"type": 12},
  "escapes": {"$ref": "../../outside.json#/definitions/x"}
}`

const commonSchema = `{
  "definitions": {
    "ticker": {"type": "string", "pattern": "^[A-Z]+$"}
  }
}`

func newTestSchemaDir(t *testing.T) string {
	dir := t.TempDir()
	err := os.MkdirAll(filepath.Join(dir, "rpc"), 0755)
	assert.NoError(t, err)
	ioutil.WriteFile(filepath.Join(dir, "rpc", "market.json"), []byte(marketSchema), 0644)
	ioutil.WriteFile(filepath.Join(dir, "rpc", "common.json"), []byte(commonSchema), 0644)
	ioutil.WriteFile(filepath.Join(dir, "rpc", "garbage.json"), []byte(`{!`), 0644)
	ioutil.WriteFile(filepath.Join(dir, "outside.json"), []byte(`{"definitions":{"x":{"type":"string"}}}`), 0644)
	return dir
}

func newTestValidator(t *testing.T, required bool, cacheSize int) *Validator {
	v, err := NewValidator(&conf.SchemaConf{
		Enabled:   true,
		Dir:       newTestSchemaDir(t),
		Required:  required,
		CacheSize: cacheSize,
	})
	assert.NoError(t, err)
	return v
}

func TestNewValidatorNoDir(t *testing.T) {
	_, err := NewValidator(&conf.SchemaConf{Enabled: true})
	assert.Regexp(t, "FFXG100015", err)
}

func TestValidateWithRef(t *testing.T) {
	assert := assert.New(t)
	v := newTestValidator(t, false, 0)

	err := v.Validate("rpc.market.get_order_book", map[string]interface{}{"ticker": "BTCUSD"})
	assert.NoError(err)

	err = v.Validate("rpc.market.get_order_book", map[string]interface{}{"ticker": "not-a-ticker"})
	cerr, ok := err.(*errors.CallerError)
	assert.True(ok)
	assert.Equal(errors.TagSchemaException, cerr.Tag)
	assert.Regexp("Invalid arguments for rpc.market.get_order_book", cerr.Args[0])

	err = v.Validate("rpc.market.get_order_book", map[string]interface{}{})
	assert.IsType(&errors.CallerError{}, err)
}

func TestValidateCachesCompiledSchema(t *testing.T) {
	assert := assert.New(t)
	v := newTestValidator(t, false, 0)

	assert.NoError(v.Validate("rpc.market.get_trade_history", map[string]interface{}{"ticker": "BTC"}))
	loads := v.Loads()
	assert.True(loads > 0)

	err := v.Validate("rpc.market.get_trade_history", map[string]interface{}{"ticker": "BTC", "extra": true})
	assert.IsType(&errors.CallerError{}, err)
	assert.Equal(loads, v.Loads())
}

func TestValidateCacheEviction(t *testing.T) {
	assert := assert.New(t)
	v := newTestValidator(t, false, 1)

	assert.NoError(v.Validate("rpc.market.get_markets", nil))
	loads := v.Loads()
	assert.NoError(v.Validate("rpc.market.get_trade_history", map[string]interface{}{"ticker": "BTC"}))
	assert.NoError(v.Validate("rpc.market.get_markets", nil))
	assert.True(v.Loads() > loads+1)
}

func TestInvalidURIRejectedBeforeFileAccess(t *testing.T) {
	assert := assert.New(t)
	v := newTestValidator(t, true, 0)

	for _, uri := range []string{
		"rpc.market",
		"rpc.market.get_markets.extra",
		"rpc.../etc.passwd",
		"rpc.market.get/../../x",
		"rpc.mar-ket.get_markets",
		"other.market.get_markets",
		"rpc..get_markets",
		"",
	} {
		err := v.Validate(uri, nil)
		assert.True(errors.Is(err, errors.SchemaInvalidURI), uri)
	}
	assert.Equal(int64(0), v.Loads())
}

func TestMissingSchemaNotRequired(t *testing.T) {
	assert := assert.New(t)
	v := newTestValidator(t, false, 0)

	assert.NoError(v.Validate("rpc.trader.place_order", map[string]interface{}{"anything": 1}))
	loads := v.Loads()
	assert.NoError(v.Validate("rpc.trader.place_order", map[string]interface{}{"anything": 1}))
	assert.Equal(loads, v.Loads())

	assert.NoError(v.Validate("rpc.market.not_described", nil))
}

func TestMissingSchemaRequired(t *testing.T) {
	assert := assert.New(t)
	v := newTestValidator(t, true, 0)

	err := v.Validate("rpc.trader.place_order", nil)
	assert.True(errors.Is(err, errors.SchemaLoadFailed))

	err = v.Validate("rpc.market.not_described", nil)
	assert.True(errors.Is(err, errors.SchemaFragmentNotFound))
}

func TestBadSchemas(t *testing.T) {
	assert := assert.New(t)
	v := newTestValidator(t, true, 0)

	err := v.Validate("rpc.market.broken", nil)
	assert.True(errors.Is(err, errors.SchemaInvalidSchema))

	err = v.Validate("rpc.garbage.anything", nil)
	assert.True(errors.Is(err, errors.SchemaParseFailed))

	err = v.Validate("rpc.market.escapes", map[string]interface{}{})
	assert.True(errors.Is(err, errors.SchemaExpandFailed))
}

func TestRef(t *testing.T) {
	assert := assert.New(t)
	v := newTestValidator(t, false, 0)
	ref, err := v.Ref("rpc.market.get_markets")
	assert.NoError(err)
	assert.Equal("/get_markets", ref.GetPointer().String())
	assert.Equal("market.json", filepath.Base(ref.GetURL().Path))
	assert.True(v.loader.contains(ref.GetURL().Path))
	assert.False(v.loader.contains(filepath.Join(v.loader.root, "..", "x.json")))
}

func TestRefEscapesSchemaDir(t *testing.T) {
	assert := assert.New(t)
	dir := filepath.Join(t.TempDir(), "schemas 100% #2")
	assert.NoError(os.MkdirAll(filepath.Join(dir, "rpc"), 0755))
	assert.NoError(ioutil.WriteFile(filepath.Join(dir, "rpc", "market.json"), []byte(marketSchema), 0644))
	v, err := NewValidator(&conf.SchemaConf{Enabled: true, Dir: dir, Required: true})
	assert.NoError(err)

	ref, err := v.Ref("rpc.market.get_trade_history")
	assert.NoError(err)
	assert.Equal("/get_trade_history", ref.GetPointer().String())
	assert.Equal(filepath.Join(v.loader.root, "rpc", "market.json"), filepath.FromSlash(ref.GetURL().Path))

	assert.NoError(v.Validate("rpc.market.get_trade_history", map[string]interface{}{"ticker": "BTCUSD"}))
	err = v.Validate("rpc.market.get_trade_history", map[string]interface{}{"ticker": 12})
	assert.Regexp("schema-exception", err)
	assert.Equal(int64(1), v.Loads())
}

func TestMergeArgs(t *testing.T) {
	assert := assert.New(t)
	params := []string{"ticker", "amount", "address"}

	merged, err := MergeArgs("rpc.trader.request_withdrawal", params, []interface{}{"BTC", 1.5}, map[string]interface{}{"address": "abc"})
	assert.NoError(err)
	assert.Equal(map[string]interface{}{"ticker": "BTC", "amount": 1.5, "address": "abc"}, merged)

	_, err = MergeArgs("rpc.trader.request_withdrawal", params, []interface{}{"BTC", 1, "a", "b"}, nil)
	assert.Regexp("takes 3 positional arguments but 4 were given", err)

	_, err = MergeArgs("rpc.trader.request_withdrawal", params, []interface{}{"BTC"}, map[string]interface{}{"ticker": "ETH"})
	assert.Regexp("multiple values for argument 'ticker'", err)
	assert.IsType(&errors.CallerError{}, err)
}

func TestNormalize(t *testing.T) {
	assert := assert.New(t)
	n, err := Normalize("rpc.x.y", map[string]interface{}{"list": []string{"a"}, "n": 1})
	assert.NoError(err)
	assert.Equal([]interface{}{"a"}, n["list"])
	assert.Equal(float64(1), n["n"])

	n, err = Normalize("rpc.x.y", nil)
	assert.NoError(err)
	assert.Empty(n)

	_, err = Normalize("rpc.x.y", map[string]interface{}{"c": make(chan bool)})
	assert.Regexp("cannot be serialized", err)
}
