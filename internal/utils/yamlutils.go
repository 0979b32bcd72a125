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

package utils

import (
	"encoding/json"
	"strings"

	"github.com/icza/dyno"
	yaml "gopkg.in/yaml.v2"
)

// YAMLToJSON converts a YAML document to JSON, so that configuration
// structures need only carry JSON tags
func YAMLToJSON(b []byte) ([]byte, error) {
	yamlGenericPayload := make(map[interface{}]interface{})
	if err := yaml.Unmarshal(b, &yamlGenericPayload); err != nil {
		return nil, err
	}
	genericPayload := dyno.ConvertMapI2MapS(yamlGenericPayload).(map[string]interface{})
	return json.Marshal(&genericPayload)
}

// MarshalToYAML marshals a JSON annotated structure into YAML, by first going to JSON
func MarshalToYAML(conf interface{}) (yamlBytes []byte, err error) {
	jsonBytes, err := json.Marshal(conf)
	if err != nil {
		return
	}
	jsonAsMap := make(map[string]interface{})
	if err = json.Unmarshal(jsonBytes, &jsonAsMap); err != nil {
		return
	}
	yamlBytes, err = yaml.Marshal(&jsonAsMap)
	return
}

// IsYAML reports whether a config type name refers to YAML
func IsYAML(fileType string) bool {
	t := strings.ToLower(fileType)
	return t == "yaml" || t == "yml"
}
