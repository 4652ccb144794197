// Package app wires the kernel to a HAL: console, disk, host directory
// import and the built-in programs.
package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"taskos/hal"
	"taskos/internal/buildinfo"
	"taskos/internal/hostsync"
	"taskos/kernel"
	"taskos/kernel/console"
	"taskos/kernel/fs"
	"taskos/kernel/klog"
	"taskos/user/apps"
)

type Config struct {
	// Init is the init command line. Empty runs apps.DefaultInit.
	Init        []string
	LogLevel    klog.Level
	MemoryBytes uint64
	TimeSlice   time.Duration
	// ImportDir is a host directory mirrored into the disk while the
	// machine runs.
	ImportDir string
}

// Machine is a booted OS ready to run on a host runner.
type Machine struct {
	h    hal.HAL
	log  *klog.Logger
	con  *console.Console
	disk *fs.Disk
	imp  *hostsync.Importer
	sys  *kernel.System
}

var _ hal.Machine = (*Machine)(nil)

// New boots the kernel on h and spawns init.
func New(h hal.HAL, cfg Config) (*Machine, error) {
	m := &Machine{
		h:   h,
		log: klog.New(h.Logger(), cfg.LogLevel),
		con: console.New(h.Serial(), h.Display()),
	}
	installPanicHandler(h)

	disk, err := fs.OpenDisk(h.Flash())
	if err != nil {
		m.log.Warnf("disk unavailable: %v", err)
	} else {
		m.disk = disk
	}
	if cfg.ImportDir != "" {
		if m.disk == nil {
			return nil, errors.New("app: import needs a disk")
		}
		if m.imp, err = hostsync.New(cfg.ImportDir, m.disk, m.log); err != nil {
			return nil, err
		}
		n, err := m.imp.Sync()
		if err != nil {
			m.log.Warnf("%v", err)
		}
		m.log.Infof("imported %d file(s) from %s", n, cfg.ImportDir)
	}

	m.sys, err = kernel.New(kernel.Config{
		MemoryBytes: cfg.MemoryBytes,
		TimeSlice:   cfg.TimeSlice,
		Log:         m.log,
	}, h.Time(), m.con, apps.Table(), m.disk)
	if err != nil {
		return nil, err
	}
	argv := cfg.Init
	if len(argv) == 0 {
		argv = apps.DefaultInit
	}
	if _, err := m.sys.Spawn(argv); err != nil {
		return nil, err
	}
	m.log.Printf("[kernel] %s, init %q", buildinfo.Banner(), argv)
	return m, nil
}

// Run schedules tasks until init exits, then shuts the platform down. A
// non-zero init exit code or a kernel panic is a failed shutdown.
func (m *Machine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var code int
	var runErr error
	g.Go(func() error {
		defer cancel()
		code, runErr = m.sys.Run(ctx)
		return nil
	})
	if m.imp != nil {
		g.Go(func() error { return m.imp.Run(ctx) })
	}
	err := g.Wait()

	_ = m.con.Flush()
	if m.disk != nil {
		if cerr := m.disk.Close(); cerr != nil {
			m.log.Warnf("disk: %v", cerr)
		}
	}
	_ = m.sys.Close()
	if errors.Is(runErr, context.Canceled) {
		return errors.Join(err, runErr)
	}
	m.log.Printf("[kernel] shutdown with exit code %d", code)
	m.h.Platform().Shutdown(runErr != nil || code != 0)
	return errors.Join(err, runErr)
}

// Step presents the console once per host frame.
func (m *Machine) Step() error { return m.con.Flush() }
