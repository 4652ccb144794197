//go:build !tinygo && !cgo

package hal

import (
	"context"
	"errors"
)

func RunWindow(context.Context, HostConfig, func(HAL) (Machine, error)) error {
	return errors.New("window mode requires cgo (build/run with CGO_ENABLED=1)")
}
