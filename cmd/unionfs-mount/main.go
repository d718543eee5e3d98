// Command unionfs-mount mounts a union of backing directories at a
// single mount point via FUSE.
//
// Usage:
//
//	unionfs-mount [-o key=value,...] [-metrics-addr addr] <sources-comma-separated> <mountpoint>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/unionfs/unionfs/internal/adapter"
	"github.com/unionfs/unionfs/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("unionfs-mount", flag.ContinueOnError)
	mountOpts := fs.String("o", "", "comma-separated mount options (allow_other,ro,debug,default_permissions,direct_io,key=value,...)")
	metricsAddr := fs.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9400 (empty disables metrics)")
	healthAddr := fs.String("health-addr", "", "address to serve the health/status JSON API on, e.g. :9401 (empty disables it)")
	logLevel := fs.String("log-level", "INFO", "DEBUG, INFO, WARN, or ERROR")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [-o key=value,...] <sources-comma-separated> <mountpoint>\n", fs.Name())
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	positional := fs.Args()
	// Flags may also follow the two positional arguments
	// (<sources> <mountpoint> -o ...); parse whatever comes after them.
	if len(positional) > 2 {
		if err := fs.Parse(positional[2:]); err != nil {
			return 2
		}
		positional = append(positional[:2:2], fs.Args()...)
	}
	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "unionfs-mount: a comma-separated source list and a mount point are required")
		fs.Usage()
		return 2
	}

	sources := strings.Split(positional[0], ",")
	mountPoint := positional[1]

	if len(sources) < 1 {
		fmt.Fprintln(os.Stderr, "unionfs-mount: at least one source is required")
		fs.Usage()
		return 2
	}

	cfg := config.NewDefault()
	cfg.Mount = config.ParseMountOptions(*mountOpts)
	cfg.Global.LogLevel = strings.ToUpper(*logLevel)

	if *metricsAddr != "" {
		cfg.Monitoring.Metrics.Enabled = true
		if port, err := addrPort(*metricsAddr); err == nil {
			cfg.Global.MetricsPort = port
		}
	} else {
		cfg.Monitoring.Metrics.Enabled = false
	}
	if *healthAddr != "" {
		if port, err := addrPort(*healthAddr); err == nil {
			cfg.Global.HealthPort = port
		}
	}

	a, err := adapter.New(sources, mountPoint, cfg)
	if err != nil {
		log.Printf("unionfs-mount: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		log.Printf("unionfs-mount: failed to start: %v", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Printf("unionfs-mount: received shutdown signal, unmounting")
		if err := a.Stop(ctx); err != nil {
			log.Printf("unionfs-mount: error during shutdown: %v", err)
		}
		cancel()
	}()

	a.Wait()
	return 0
}

func addrPort(addr string) (int, error) {
	_, portStr, found := strings.Cut(addr, ":")
	if !found {
		portStr = addr
	}
	return strconv.Atoi(portStr)
}
