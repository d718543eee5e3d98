/*
Package adapter wires the union filesystem's independent packages --
internal/router, internal/aggregator, internal/fuse, internal/metrics,
pkg/health, pkg/status, and pkg/api -- into the single Adapter type that
cmd/unionfs-mount constructs and drives.

# Lifecycle

New validates the configured sources and mount point, then builds every
component without touching the filesystem. Start performs the
startup duplicate-top-level-name check (internal/aggregator.
CheckDuplicates), mounts the FUSE filesystem, and brings up the metrics
HTTP endpoint, the periodic health checks, and the monitoring API
server in that order. Stop reverses the order: API server, metrics,
mount watcher, unmount.

# Health checks

Each source directory is registered as its own health.Tracker
component; a periodic check re-reads each source's root directory and
records success or failure. The balancer has no independent liveness
signal between runs and is registered only so its manual state (set by
cmd/unionfs-balance) appears alongside the sources in the status API.

# Non-goals

Adapter holds no retry or circuit-breaker logic of its own --
internal/config.ResilienceConfig is carried through to where
internal/balancer's cross-device fallback uses it, not consulted here.
*/
package adapter
