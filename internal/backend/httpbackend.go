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

package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/hyperledger/firefly-exgateway/internal/conf"
	"github.com/hyperledger/firefly-exgateway/internal/errors"
	"github.com/hyperledger/firefly-exgateway/internal/utils"
	"github.com/hyperledger/firefly-exgateway/pkg/plugins"
	log "github.com/sirupsen/logrus"
)

func init() {
	plugins.RegisterFactory("backend.http", plugins.KindBackend, func() plugins.Module {
		return &HTTPBackend{}
	})
}

// HTTPBackend calls collaborators with POST <url>/<component>/<procedure>
type HTTPBackend struct {
	plugins.Base
	conf   *conf.BackendConf
	client *http.Client
}

// Configure reads the HTTP section
func (h *HTTPBackend) Configure(host plugins.Host) (err error) {
	h.conf = &host.Config().Backend
	if h.conf.HTTP.URL == "" {
		return errors.Errorf(errors.ConfigBackendHTTPNoURL)
	}
	var tlsConfig *tls.Config
	if tlsConfig, err = utils.CreateTLSConfiguration(&h.conf.HTTP.TLS); err != nil {
		return err
	}
	h.client = &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
			TLSClientConfig:     tlsConfig,
		},
	}
	return nil
}

// Call performs a single request, bounded by the configured timeout
func (h *HTTPBackend) Call(ctx context.Context, component, procedure string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return observed(component, func() (interface{}, error) {
		return h.call(ctx, component, procedure, args, kwargs)
	})
}

func (h *HTTPBackend) call(ctx context.Context, component, procedure string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	id := utils.NewULID()
	body, err := newRequest(id, component, procedure, args, kwargs)
	if err != nil {
		return nil, err
	}
	ctx, cancel, timeout := callContext(ctx, h.conf.Timeout())
	defer cancel()

	url := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(h.conf.HTTP.URL, "/"), component, procedure)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	for k, v := range h.conf.HTTP.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCorrelationID, id)
	if sid := sessionID(ctx); sid != "" {
		req.Header.Set(HeaderSessionID, sid)
	}

	log.Infof("POST %s -->", url)
	res, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			log.Errorf("POST %s <-- !Timeout after %s", url, timeout)
			return nil, waitError(ctx, component, procedure, timeout)
		}
		log.Errorf("POST %s <-- !Failed: %s", url, err)
		return nil, errors.Errorf(errors.BackendHTTPRequestFailed, component)
	}
	defer res.Body.Close()
	log.Infof("POST %s <-- [%d]", url, res.StatusCode)

	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, waitError(ctx, component, procedure, timeout)
		}
		return nil, errors.Errorf(errors.BackendHTTPRequestFailed, component)
	}
	// a collaborator domain error may come with any status
	result, err := ParseReply(id, resBody)
	if _, remote := err.(*RemoteError); remote {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		log.Errorf("POST %s <-- [%d]: %s", url, res.StatusCode, resBody)
		return nil, errors.Errorf(errors.BackendHTTPStatus, component, res.StatusCode)
	}
	return result, err
}
