//go:build !tinygo

package hal

import (
	"context"
	"errors"
)

// Machine is what the host runners drive.
type Machine interface {
	// Run executes the OS until it shuts the platform down or ctx ends.
	Run(ctx context.Context) error
	// Step runs once per host frame on the runner goroutine.
	Step() error
}

// runResult folds the machine's return value and the platform state into the
// runner's error.
func runResult(h *hostHAL, err error) error {
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		return err
	}
	return h.platform.result()
}
