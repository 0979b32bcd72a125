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

package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exgateway"

var (
	setupOnce sync.Once
	registry  *prometheus.Registry

	// Calls by front-end, procedure and outcome
	callCounter *prometheus.CounterVec
	// Call latency by front-end and procedure
	callTime *prometheus.HistogramVec
	// Authorizer verdicts by action
	verdictCounter *prometheus.CounterVec
	// Backend round trips by component and outcome
	backendTime *prometheus.HistogramVec
	// Live sessions on the session gateway
	sessionGauge prometheus.Gauge
)

// Setup creates and registers every instrument. Until it is called all the
// recording functions are no-ops.
func Setup() {
	setupOnce.Do(func() {
		registry = prometheus.NewRegistry()
		callCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Count of procedure calls",
		}, []string{"apiType", "procedure", "outcome"})
		callTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_seconds",
			Help:      "Time spent dispatching procedure calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"apiType", "procedure"})
		verdictCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_verdicts_total",
			Help:      "Authorization decisions",
		}, []string{"action", "verdict"})
		backendTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_seconds",
			Help:      "Backend round trip time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component", "outcome"})
		sessionGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of sessions currently joined",
		})
		registry.MustRegister(callCounter, callTime, verdictCounter, backendTime, sessionGauge)
	})
}

// Handler serves the registered instruments
func Handler() http.Handler {
	Setup()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry returns the registry instruments are recorded in, or nil before Setup
func Registry() *prometheus.Registry {
	return registry
}

// CallObserved records one dispatched call
func CallObserved(apiType, procedure, outcome string, startTime time.Time) {
	if callCounter == nil || callTime == nil {
		return
	}
	callCounter.WithLabelValues(apiType, procedure, outcome).Inc()
	callTime.WithLabelValues(apiType, procedure).Observe(time.Since(startTime).Seconds())
}

// VerdictInc counts one authorization decision
func VerdictInc(action, verdict string) {
	if verdictCounter == nil {
		return
	}
	verdictCounter.WithLabelValues(action, verdict).Inc()
}

// StartBackendCall returns a function that records the round trip when called
func StartBackendCall(component string) func(outcome string) {
	startTime := time.Now()
	return func(outcome string) {
		if backendTime == nil {
			return
		}
		backendTime.WithLabelValues(component, outcome).Observe(time.Since(startTime).Seconds())
	}
}

// SessionGaugeAdd moves the live session count
func SessionGaugeAdd(n int) {
	if sessionGauge == nil {
		return
	}
	sessionGauge.Add(float64(n))
}
