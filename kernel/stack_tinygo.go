//go:build tinygo

package kernel

// TinyGo cannot walk the stack.
func captureStack() []byte {
	return nil
}
