/*
Package monitoring provides Prometheus metrics for the fetch bridge.

# Overview

Metrics are registered on a caller supplied registry so that tests and
multiple servers in one process never collide on the default registry.

# Features

- Bridge API request metrics (count, latency)
- Fetch lifecycle metrics (started, finished by outcome, header latency)
- Live resource gauges by kind
- Streaming event counters
- Cookie jar save results

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
