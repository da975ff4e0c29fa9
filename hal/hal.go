package hal

import (
	"context"
	"errors"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// LED is a minimal output pin abstraction.
type LED interface {
	High()
	Low()
}

var ErrNotImplemented = errors.New("not implemented")

// PixelFormat defines the framebuffer pixel encoding.
type PixelFormat uint8

const (
	// PixelFormatRGB565 is 16bpp: rrrrrggggggbbbbb.
	PixelFormatRGB565 PixelFormat = iota + 1
)

// Framebuffer is a simple pixel buffer plus a "present" hook.
type Framebuffer interface {
	Width() int
	Height() int
	Format() PixelFormat
	StrideBytes() int
	Buffer() []byte
	ClearRGB(r, g, b uint8)
	Present() error
}

// Display provides access to the framebuffer (if available).
type Display interface {
	Framebuffer() Framebuffer
}

// Time provides a base tick stream.
//
// The tick duration is platform-defined; the demo system turns ticks into
// timer interrupts.
type Time interface {
	Ticks() <-chan uint64
}

// Line identifies a physical interrupt line.
type Line uint8

// MaxLines is the number of physical lines an IRQ implementation exposes.
const MaxLines = 64

// Physical lines used by the demo system.
const (
	LineTimer Line = iota + 1
	LineUART0
	LineGPIO
)

// IRQ is the interrupt hardware seen by the kernel.
//
// Mask raises the hardware priority threshold to ceiling and Unmask restores the
// threshold that was active before the matching Mask. IsPending and Clear access
// the per-line pending flag. Wait parks the core until a line is raised or ctx
// is done.
type IRQ interface {
	Mask(ceiling uint8)
	Unmask()
	IsPending(line Line) bool
	Clear(line Line)
	Wait(ctx context.Context) error
}

// Raiser is implemented by IRQs whose lines can be asserted from software, such
// as emulated peripherals.
type Raiser interface {
	Raise(line Line)
}

// HAL provides the only contact point between the kernel and the outside world.
type HAL interface {
	Logger() Logger
	LED() LED
	Display() Display
	Time() Time
	IRQ() IRQ
}
