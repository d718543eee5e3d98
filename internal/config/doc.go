/*
Package config provides configuration management for the union
filesystem's mount and balance tools, with YAML file, environment
variable, and CLI `-o` option support.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│          Runtime Overrides                 │ ← Highest Priority
	│        (CLI flags, -o options)             │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │
	│             (UNIONFS_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)              │
	└─────────────────────────────────────────────┘

# Configuration Structure

Global: log level/file, metrics/health ports and bind address.

Sources: the declared-order list of backing directories that form the
union; order is significant (it is the tie-break the router and
aggregator use) and is preserved exactly as given on the command line
or in the config file.

Mount: the `-o key=value,...` mount options (`allow_other`,
`allow_root`, `ro`, `debug`, `default_permissions`, `direct_io`), with
an Extra map carrying any option this tool doesn't interpret through
unmodified to the underlying go-fuse mount options.

Resilience: retry and circuit-breaker tuning applied to balancer moves
and cross-device copy-then-delete fallback.

Monitoring: Prometheus metrics, health-check interval/timeout, and
structured logging format/sampling.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("/etc/unionfs/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	cfg.Sources = flag.Args()[:len(flag.Args())-1]
	cfg.Mount = config.ParseMountOptions(*optionsFlag)
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

# See Also

- internal/router: consumes Sources to resolve logical paths
- internal/balancer: consumes Resilience for move retry/circuit-breaking
- internal/metrics, pkg/health: consume Monitoring
*/
package config
