//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled bool
	// Hz is the frame rate Step is called at.
	Hz int
	// Ticks stops the run after that many frames; 0 runs until shutdown.
	Ticks uint64
}

// RunHeadless runs the OS without opening a window.
func RunHeadless(ctx context.Context, hc HostConfig, cfg HeadlessConfig, newMachine func(HAL) (Machine, error)) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}

	h, err := newHost(hc)
	if err != nil {
		return err
	}
	defer h.Close()
	m, err := newMachine(h)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var runErr error
	g.Go(func() error {
		defer cancel()
		runErr = m.Run(ctx)
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(d)
		defer t.Stop()
		var tick uint64
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-h.platform.done:
				return nil
			case <-t.C:
				if err := m.Step(); err != nil {
					return err
				}
				tick++
				if cfg.Ticks > 0 && tick >= cfg.Ticks {
					cancel()
					return nil
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return errors.Join(err, runResult(h, runErr))
	}
	return runResult(h, runErr)
}
