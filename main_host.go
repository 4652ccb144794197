//go:build !tinygo

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/shlex"

	"taskos/app"
	"taskos/hal"
	"taskos/kernel/klog"
)

func main() {
	var cfg hal.HeadlessConfig
	var hc hal.HostConfig
	var logLevel, initLine string
	var memMiB uint64
	var slice time.Duration
	var importDir string
	flag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	flag.IntVar(&cfg.Hz, "hz", 60, "Frame rate of the console refresh.")
	flag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N frames in headless mode (0 = run until init exits).")
	flag.StringVar(&logLevel, "log", os.Getenv("LOG"), "Kernel log level: off|error|warn|info|debug|trace (default $LOG).")
	flag.Uint64Var(&memMiB, "mem", 8, "Physical memory (MiB).")
	flag.DurationVar(&slice, "slice", 0, "Preemption time slice (0 = default, negative = off).")
	flag.StringVar(&initLine, "init", "", "Init command line (default: initproc running the built-in tests).")
	flag.StringVar(&hc.FlashPath, "flash", "", "Flash image file (default: in memory).")
	flag.StringVar(&importDir, "import", "", "Host directory mirrored into the disk.")
	flag.BoolVar(&hc.TTY, "tty", false, "Use the terminal in raw mode as the console.")
	flag.BoolVar(&hc.Stdin, "stdin", false, "Feed standard input to the console.")
	flag.Parse()

	level, err := klog.ParseLevel(logLevel)
	if err != nil {
		fatal(err)
	}
	var argv []string
	if initLine != "" {
		if argv, err = shlex.Split(initLine); err != nil {
			fatal(fmt.Errorf("-init: %w", err))
		}
	}
	appCfg := app.Config{
		Init:        argv,
		LogLevel:    level,
		MemoryBytes: memMiB << 20,
		TimeSlice:   slice,
		ImportDir:   importDir,
	}
	newMachine := func(h hal.HAL) (hal.Machine, error) {
		return app.New(h, appCfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if cfg.Enabled {
		err = hal.RunHeadless(ctx, hc, cfg, newMachine)
	} else {
		err = hal.RunWindow(ctx, hc, newMachine)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
