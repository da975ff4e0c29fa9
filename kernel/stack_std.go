//go:build !tinygo

package kernel

import "runtime/debug"

// captureStack returns the failing goroutine's stack. Task bodies run on the
// kernel goroutine, so this is the stack of the task that panicked, seen from
// inside the kernel's recover.
func captureStack() []byte {
	return debug.Stack()
}
