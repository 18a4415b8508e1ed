/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package metrics holds the gateway's Prometheus collectors and the
// OpenTelemetry tracer used around upstream calls.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Registry is the gateway's private Prometheus registry.
var Registry = prometheus.NewRegistry()

var (
	upstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retool_gateway_upstream_calls_total",
			Help: "Upstream Retool calls by operation, account and HTTP status",
		},
		[]string{"operation", "account", "status"},
	)
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retool_gateway_attempts_total",
			Help: "Session attempts by account and outcome (success, failure)",
		},
		[]string{"account", "outcome"},
	)
	exhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retool_gateway_pool_exhausted_total",
			Help: "Requests that failed on every eligible account, by model",
		},
		[]string{"model"},
	)
	accountValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "retool_gateway_account_valid",
			Help: "1 if the account is selectable, 0 once permanently disabled",
		},
		[]string{"account"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retool_gateway_request_duration_seconds",
			Help:    "Chat completion request duration by model, stream mode and status",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms to ~8.5m
		},
		[]string{"model", "stream", "status"},
	)
)

var tracer = otel.Tracer("hortator.ai/retool-gateway")

func init() {
	Registry.MustRegister(
		upstreamCalls, attemptsTotal, exhaustedTotal, accountValid, requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveUpstream counts one upstream call. status 0 means no HTTP response.
func ObserveUpstream(op, account string, status int) {
	upstreamCalls.WithLabelValues(op, account, strconv.Itoa(status)).Inc()
}

// ObserveAttempt counts one session attempt against an account.
func ObserveAttempt(account string, ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	attemptsTotal.WithLabelValues(account, outcome).Inc()
}

// ObserveExhausted counts a request that ran out of accounts.
func ObserveExhausted(model string) {
	exhaustedTotal.WithLabelValues(model).Inc()
}

// SetAccountValid publishes an account's selectability.
func SetAccountValid(account string, valid bool) {
	v := 0.0
	if valid {
		v = 1
	}
	accountValid.WithLabelValues(account).Set(v)
}

// ObserveRequest records a finished chat completion request.
func ObserveRequest(model string, stream bool, status int, d time.Duration) {
	requestDuration.WithLabelValues(model, strconv.FormatBool(stream), strconv.Itoa(status)).Observe(d.Seconds())
}

// StartSpan starts a span for an upstream step on one account.
func StartSpan(ctx context.Context, name, account string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{attribute.String("retool.account", account)}, attrs...)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
