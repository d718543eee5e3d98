/*
Package metrics provides Prometheus-based metrics collection for the
union filesystem: FUSE operation counts/latency, path routing decisions,
balancer move outcomes, and source health.

# Architecture

	┌─────────────┐
	│  Collector  │  ← Main metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/metrics │
	│ - Histograms │         └─────────────────┘
	│ - Gauges     │
	└──────────────┘

# Core Components

Collector: aggregates and exports metrics. It maintains both Prometheus
metrics (for monitoring systems) and internal operation tracking (for
the /debug/* endpoints).

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9400,
		Path:      "/metrics",
		Namespace: "union",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Operations

	startTime := time.Now()
	data, err := performOperation()
	duration := time.Since(startTime)

	collector.RecordOperation("read", duration, int64(len(data)), err == nil)

# Routing and Balance Metrics

	collector.RecordRoute("existing-entry")
	collector.RecordBalanceMove("moved")
	collector.UpdateActiveSources(reachableSources)

# Prometheus Metrics

Counters:
  - union_operations_total{operation,status}: FUSE operations by type and status
  - union_route_total{rule}: path routing decisions by rule
  - union_balance_moves_total{result}: balancer move attempts by result
  - union_errors_total{operation,type}: errors by operation and classification

Histograms:
  - union_operation_duration_seconds{operation}: operation latency distribution
  - union_operation_size_bytes{operation}: operation size distribution

Gauges:
  - union_active_sources: number of backing sources currently reachable

# HTTP Endpoints

/metrics - Prometheus-formatted metrics (for scraping)

/health - Health check endpoint

	curl http://localhost:9400/health
	{"status":"healthy","service":"unionfs-metrics"}

/debug/metrics - Human-readable metrics summary (JSON)

/debug/operations - Tabular operations summary

# Configuration

	config := &metrics.Config{
		Enabled:        true,
		Port:           9400,
		Path:           "/metrics",
		Namespace:      "union",
		Subsystem:      "",
		UpdateInterval: 30 * time.Second,
		Labels: map[string]string{
			"env": "production",
		},
	}

# Thread Safety

All Collector methods are thread-safe and can be called concurrently
from multiple goroutines.

# See Also

- pkg/health: per-source health tracking
- internal/circuit: circuit breaker for reliability
- pkg/errors: structured error handling
*/
package metrics
