//go:build !linux

package tasksched

import "errors"

var errPinUnsupported = errors.New("pool: cpu pinning is only supported on linux")

// PinToCPU is not supported on this platform.
func PinToCPU(cpu int) error {
	return errPinUnsupported
}
