package fuse

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/unionfs/unionfs/internal/config"
)

// FilesystemStats mirrors Stats for external callers (the mount tool's
// shutdown summary, the status endpoint) that should not need to
// import the fs package's internal Stats type directly.
type FilesystemStats struct {
	Lookups int64 `json:"lookups"`
	Opens   int64 `json:"opens"`
	Reads   int64 `json:"reads"`
	Writes  int64 `json:"writes"`
	Creates int64 `json:"creates"`
	Deletes int64 `json:"deletes"`
	Errors  int64 `json:"errors"`
}

// MountManager owns the lifecycle of one FUSE mount: mounting,
// unmounting (with a lazy/force fallback when the normal path fails),
// and periodic consistency checks against /proc/mounts.
type MountManager struct {
	filesystem *FS
	server     *fuse.Server
	mountPoint string
	options    *config.MountOptions
	mounted    bool
}

// NewMountManager returns a MountManager that will mount filesystem at
// mountPoint using options. A nil options uses config.MountOptions's
// zero value (no allow_other, not read-only, default permissions off).
func NewMountManager(filesystem *FS, mountPoint string, options *config.MountOptions) *MountManager {
	if options == nil {
		options = &config.MountOptions{}
	}
	return &MountManager{
		filesystem: filesystem,
		mountPoint: mountPoint,
		options:    options,
	}
}

// Mount mounts the filesystem at the configured mount point.
func (m *MountManager) Mount(ctx context.Context) error {
	if m.mounted {
		return fmt.Errorf("filesystem is already mounted")
	}

	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}

	opts := m.buildFUSEOptions()

	server, err := fs.Mount(m.mountPoint, m.filesystem.Root(), opts)
	if err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	m.server = server
	m.mounted = true

	log.Printf("union filesystem mounted at %s", m.mountPoint)

	go func() {
		m.server.Wait()
		log.Printf("FUSE server stopped")
		m.mounted = false
	}()

	return nil
}

// Unmount unmounts the filesystem, falling back to a lazy and then a
// force unmount if the FUSE server's own unmount fails (e.g. a client
// still holds the mount point open).
func (m *MountManager) Unmount() error {
	if !m.mounted {
		return fmt.Errorf("filesystem is not mounted")
	}
	if m.server == nil {
		return fmt.Errorf("no active server to unmount")
	}

	log.Printf("unmounting filesystem at %s", m.mountPoint)

	if err := m.server.Unmount(); err != nil {
		log.Printf("normal unmount failed, trying force unmount: %v", err)
		if forceErr := m.forceUnmount(); forceErr != nil {
			return fmt.Errorf("unmount failed: %w (force unmount also failed: %v)", err, forceErr)
		}
	}

	m.mounted = false
	m.server = nil
	return nil
}

// IsMounted reports whether the filesystem is currently mounted.
func (m *MountManager) IsMounted() bool {
	return m.mounted
}

// GetMountPoint returns the configured mount point.
func (m *MountManager) GetMountPoint() string {
	return m.mountPoint
}

// Wait blocks until the FUSE server stops serving.
func (m *MountManager) Wait() {
	if m.server != nil {
		m.server.Wait()
	}
}

// GetStats returns a snapshot of filesystem operation counters.
func (m *MountManager) GetStats() *FilesystemStats {
	if m.filesystem == nil {
		return &FilesystemStats{}
	}
	stats := m.filesystem.GetStats()
	return &FilesystemStats{
		Lookups: stats.Lookups,
		Opens:   stats.Opens,
		Reads:   stats.Reads,
		Writes:  stats.Writes,
		Creates: stats.Creates,
		Deletes: stats.Deletes,
		Errors:  stats.Errors,
	}
}

// Remount unmounts (if currently mounted) and mounts again, optionally
// with new options.
func (m *MountManager) Remount(newOptions *config.MountOptions) error {
	wasMounted := m.mounted

	if m.mounted {
		if err := m.Unmount(); err != nil {
			return fmt.Errorf("failed to unmount for remount: %w", err)
		}
	}

	if newOptions != nil {
		m.options = newOptions
	}

	if wasMounted {
		return m.Mount(context.Background())
	}
	return nil
}

func (m *MountManager) validateMountPoint() error {
	if m.mountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}

	info, err := os.Stat(m.mountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mount point does not exist: %s", m.mountPoint)
		}
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", m.mountPoint)
	}

	entries, err := os.ReadDir(m.mountPoint)
	if err != nil {
		return fmt.Errorf("cannot read mount point directory: %w", err)
	}
	if len(entries) > 0 {
		log.Printf("warning: mount point %s is not empty", m.mountPoint)
	}

	if m.isAlreadyMounted() {
		return fmt.Errorf("mount point %s is already mounted", m.mountPoint)
	}
	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	attrTimeout := time.Second
	entryTimeout := time.Second

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:        "unionfs",
			FsName:      "unionfs",
			DirectMount: true,
			Debug:       m.options.Debug,
			AllowOther:  m.options.AllowOther,
		},
		AttrTimeout:     &attrTimeout,
		EntryTimeout:    &entryTimeout,
		NullPermissions: !m.options.DefaultPermissions,
	}

	if m.options.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	if m.options.AllowRoot {
		opts.Options = append(opts.Options, "allow_root")
	}
	if m.options.DirectIO {
		opts.DirectMount = true
	}
	// Requests are served one at a time unless -o multithreaded is given;
	// that key is consumed here rather than passed to the kernel.
	_, multithreaded := m.options.Extra["multithreaded"]
	opts.SingleThreaded = !multithreaded
	for k, v := range m.options.Extra {
		if k == "multithreaded" {
			continue
		}
		if v == "" {
			opts.Options = append(opts.Options, k)
		} else {
			opts.Options = append(opts.Options, fmt.Sprintf("%s=%s", k, v))
		}
	}

	return opts
}

func (m *MountManager) isAlreadyMounted() bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	mountPoint := filepath.Clean(m.mountPoint)
	return strings.Contains(string(data), mountPoint)
}

func (m *MountManager) forceUnmount() error {
	if err := syscall.Unmount(m.mountPoint, 2); err == nil {
		return nil
	}
	return syscall.Unmount(m.mountPoint, 1)
}

// MountWatcher periodically checks that the mount's actual /proc/mounts
// state matches the MountManager's believed state, logging a warning on
// mismatch.
type MountWatcher struct {
	manager  *MountManager
	interval time.Duration
	stopCh   chan struct{}
	stopped  chan struct{}
}

// NewMountWatcher returns a MountWatcher checking manager every interval
// (defaulting to 30s).
func NewMountWatcher(manager *MountManager, interval time.Duration) *MountWatcher {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &MountWatcher{
		manager:  manager,
		interval: interval,
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins the watch loop in a background goroutine.
func (w *MountWatcher) Start() {
	go w.run()
}

// Stop ends the watch loop and waits for it to exit.
func (w *MountWatcher) Stop() {
	close(w.stopCh)
	<-w.stopped
}

func (w *MountWatcher) run() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkMount()
		}
	}
}

func (w *MountWatcher) checkMount() {
	expectedMounted := w.manager.IsMounted()
	actuallyMounted := w.manager.isAlreadyMounted()

	if expectedMounted != actuallyMounted {
		if expectedMounted {
			log.Printf("warning: filesystem should be mounted but appears unmounted")
		} else {
			log.Printf("warning: filesystem should be unmounted but appears mounted")
		}
	}
}
