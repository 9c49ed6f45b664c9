/*
Copyright 2025 The Hydrosim Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package instrumentation exposes the portal's Prometheus metrics.
package instrumentation

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portal",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	deploysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "deploys_total",
		Help:      "Deploy attempts by outcome.",
	}, []string{"outcome"})

	buildsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "builds_triggered_total",
		Help:      "Build triggers by source.",
	}, []string{"source"})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "webhook_deliveries_total",
		Help:      "Webhook deliveries by result.",
	}, []string{"result"})

	buildsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "builds_completed_total",
		Help:      "Builds reaching a terminal status.",
	}, []string{"status"})

	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "portal",
		Name:      "build_duration_seconds",
		Help:      "Wall-clock duration of completed builds.",
		Buckets:   prometheus.ExponentialBuckets(15, 2, 9),
	})

	clusterRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "kubernetes_retry_attempts_total",
		Help:      "Retries of mutating Kubernetes API calls.",
	})
)

// CountDeploy records one deploy attempt. outcome is created, updated,
// failed or rejected.
func CountDeploy(outcome string) {
	deploysTotal.WithLabelValues(outcome).Inc()
}

// CountBuildTrigger records one build trigger. source is api or
// webhook.
func CountBuildTrigger(source string) {
	buildsTriggered.WithLabelValues(source).Inc()
}

// CountWebhook records one webhook delivery. result is triggered,
// ignored or rejected.
func CountWebhook(result string) {
	webhookDeliveries.WithLabelValues(result).Inc()
}

// CountBuildCompleted records a build reaching a terminal status, with
// its wall-clock duration in seconds.
func CountBuildCompleted(status string, seconds int64) {
	buildsCompleted.WithLabelValues(status).Inc()
	if seconds > 0 {
		buildDuration.Observe(float64(seconds))
	}
}

// CountClusterRetry records one retried Kubernetes mutation.
func CountClusterRetry() {
	clusterRetries.Inc()
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments every request with count and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		httpRequests.WithLabelValues(r.Method, strconv.Itoa(recorder.status)).Inc()
		httpDuration.WithLabelValues(r.Method).Observe(time.Since(started).Seconds())
	})
}
