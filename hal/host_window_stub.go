//go:build !tinygo && !cgo

package hal

import "errors"

// RunWindow needs ebiten, which needs cgo on most hosts.
func RunWindow(func(HAL) func() error) error {
	return errors.New("window mode needs cgo (CGO_ENABLED=1); run the demo with --headless instead")
}
