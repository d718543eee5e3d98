// Package types holds the shared data model of the union filesystem core:
// Source, DirEntry, UsageStats, FileInfo, and the HostFS interface that
// internal/router, internal/aggregator, and internal/balancer depend on
// instead of calling os/syscall directly. internal/hostfs implements
// HostFS against the real operating system; internal/testfs implements it
// in memory for unit tests.
package types
