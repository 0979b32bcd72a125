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

	"github.com/hyperledger/firefly-exgateway/internal/errors"
)

// MergeArgs binds positional arguments to the declared parameter names
// and merges them with the named arguments
func MergeArgs(uri string, params []string, args []interface{}, kwargs map[string]interface{}) (map[string]interface{}, error) {
	if len(args) > len(params) {
		return nil, errors.NewCallerError(errors.TagSchemaException, errors.Errorf(errors.SchemaTooManyArgs, uri, len(params), len(args)).ErrorNoCode())
	}
	merged := make(map[string]interface{}, len(args)+len(kwargs))
	for k, v := range kwargs {
		merged[k] = v
	}
	for i, a := range args {
		name := params[i]
		if _, dup := kwargs[name]; dup {
			return nil, errors.NewCallerError(errors.TagSchemaException, errors.Errorf(errors.SchemaDuplicateArg, uri, name).ErrorNoCode())
		}
		merged[name] = a
	}
	return merged, nil
}

// Normalize round-trips the arguments through JSON, so that every value
// is in the form the validator expects (slices as []interface{}, numbers
// as float64)
func Normalize(uri string, kwargs map[string]interface{}) (map[string]interface{}, error) {
	if kwargs == nil {
		return map[string]interface{}{}, nil
	}
	b, err := json.Marshal(kwargs)
	if err != nil {
		return nil, errors.NewCallerError(errors.TagSchemaException, errors.Errorf(errors.SchemaArgsNotSerializable, uri, err).ErrorNoCode())
	}
	normalized := map[string]interface{}{}
	_ = json.Unmarshal(b, &normalized)
	return normalized, nil
}
