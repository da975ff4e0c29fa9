//go:build tinygo && baremetal

package hal

import (
	"machine"
	"time"
)

type tinyGoDisplay struct {
	fb Framebuffer
}

func (d tinyGoDisplay) Framebuffer() Framebuffer { return d.fb }

// tinyGoTime publishes a 10ms tick stream and asserts LineTimer on every tick.
type tinyGoTime struct {
	ch  chan uint64
	seq uint64
}

func newTinyGoTime(irq *coreIRQ) *tinyGoTime {
	t := &tinyGoTime{ch: make(chan uint64, 16)}
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			t.seq++
			irq.Raise(LineTimer)
			select {
			case t.ch <- t.seq:
			default:
			}
		}
	}()
	return t
}

func (t *tinyGoTime) Ticks() <-chan uint64 { return t.ch }

// pollUART consumes received bytes and asserts LineUART0 once per batch.
func pollUART(uart *machine.UART, irq *coreIRQ) {
	for {
		n := 0
		for uart.Buffered() > 0 {
			if _, err := uart.ReadByte(); err != nil {
				break
			}
			n++
		}
		if n > 0 {
			irq.Raise(LineUART0)
		}
		time.Sleep(time.Millisecond)
	}
}

type uartLogger struct {
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) {
	for i := 0; i < len(s); i++ {
		l.uart.WriteByte(s[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	for i := 0; i < len(b); i++ {
		l.uart.WriteByte(b[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

type pinLED struct {
	pin machine.Pin
}

func (l *pinLED) High() { l.pin.High() }
func (l *pinLED) Low()  { l.pin.Low() }
