// Copyright 2025 The Go A2A Authors
// SPDX-License-Identifier: Apache-2.0

package jsonrpc2

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	startedCounter metric.Int64Counter
	latency        metric.Float64Histogram
	metricOnce     sync.Once
)

func initMetrics() {
	metricOnce.Do(func() {
		m := otel.Meter("github.com/go-a2a/agentcore/internal/jsonrpc2")

		var err error
		startedCounter, err = m.Int64Counter("rpc.server.started",
			metric.WithDescription("Count of started RPCs"),
		)
		if err != nil {
			otel.Handle(err)
			startedCounter = noop.Int64Counter{}
		}

		latency, err = m.Float64Histogram("rpc.server.duration",
			metric.WithDescription("RPC latency"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			otel.Handle(err)
			latency = noop.Float64Histogram{}
		}
	})
}

// Started records that a call to method began.
func Started(ctx context.Context, method string) time.Time {
	initMetrics()
	startedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("rpc.method", method)))
	return time.Now()
}

// Finished records the outcome of a call started at start. code is 0 on success.
func Finished(ctx context.Context, method string, code int64, start time.Time) {
	initMetrics()
	latency.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(
			attribute.String("rpc.method", method),
			attribute.String("rpc.jsonrpc.error_code", strconv.FormatInt(code, 10)),
		),
	)
}
