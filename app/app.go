package app

import (
	"context"
	"fmt"

	"rtslic/hal"
	"rtslic/kernel"
	"rtslic/services/logger"
	"rtslic/services/term"
)

// Task priorities of the demo system.
const (
	prioLogger kernel.Priority = 1
	prioTerm   kernel.Priority = 1
	prioUART0  kernel.Priority = 1
	prioBlink  kernel.Priority = 2
	prioTimer  kernel.Priority = 3
)

// Config selects the optional parts of the demo system.
type Config struct {
	// Trace renders the kernel trace on the display.
	Trace bool
	// BlinkEvery is the LED period in timer ticks.
	BlinkEvery uint32
	// SerialEvery simulates a byte on UART0 every N timer ticks. Zero
	// disables it.
	SerialEvery uint32
}

func (c Config) withDefaults() Config {
	if c.BlinkEvery == 0 {
		c.BlinkEvery = 50
	}
	return c
}

type system struct {
	h     hal.HAL
	k     *kernel.Kernel
	log   *logger.Service
	term  *term.Service
	ticks *kernel.Shared[uint32]

	uart0, blink kernel.TaskID
}

// New builds the demo system with the default config and returns its step
// function.
func New(h hal.HAL) func() error {
	return NewWithConfig(h, Config{})
}

// NewWithConfig builds the demo system. The returned function services
// everything that is ready; it reports kernel.ErrHalted after a task failure.
func NewWithConfig(h hal.HAL, cfg Config) func() error {
	s, err := newSystem(h, cfg)
	if err != nil {
		return func() error { return err }
	}
	return func() error {
		_, err := s.k.Step()
		return err
	}
}

// Run builds the demo system and parks the core between interrupts. It
// returns only if the kernel halts.
func Run(h hal.HAL, cfg Config) error {
	s, err := newSystem(h, cfg)
	if err != nil {
		return err
	}
	return s.k.Run(context.Background())
}

func newSystem(h hal.HAL, cfg Config) (*system, error) {
	cfg = cfg.withDefaults()
	installPanicHandler(h)

	s := &system{h: h}
	b := kernel.NewBuilder()
	s.log = logger.New(b, h.Logger(), prioLogger)
	s.ticks = kernel.NewShared(b, "ticks", uint32(0))

	port := newSerialPort(h.IRQ())
	b.Bypass(hal.LineUART0, port.ClearInterrupt)

	s.uart0 = b.AddTask(kernel.Task("uart0", prioUART0, uartState{}, s.onUART0).
		Bind(hal.LineUART0).
		Shares(s.log.Resource()))
	s.blink = b.AddTask(kernel.AsyncTask("blink", prioBlink, blinkState{}, s.onBlink).
		Shares(s.ticks, s.log.Resource()))
	b.AddTask(kernel.Task("timer", prioTimer, timerState{cfg: cfg}, s.onTimer).
		Bind(hal.LineTimer).
		Shares(s.ticks, s.log.Resource()))
	if cfg.Trace {
		s.term = term.New(b, h.Display(), prioTerm)
	}

	pendedFromIdle := false
	b.Idle(func(cx *kernel.Context) {
		if pendedFromIdle {
			return
		}
		pendedFromIdle = true
		_ = s.log.Print(cx, "idle")
		s.pend(cx, s.uart0)
	}, s.log.Resource())

	k, err := b.Build(h.IRQ(), h.Logger())
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	s.k = k
	if s.term != nil {
		s.term.Attach(k)
	}

	err = k.Init(func(cx *kernel.Context) {
		_ = s.log.Print(cx, "init")
		// Runs once init returns and the kernel starts dispatching.
		s.pend(cx, s.uart0)
	})
	if err != nil {
		return nil, fmt.Errorf("app: init: %w", err)
	}
	return s, nil
}

// pend reports a rejected request instead of dropping it silently.
func (s *system) pend(cx *kernel.Context, id kernel.TaskID) {
	if err := cx.Pend(id); err != nil {
		_ = s.log.Printf(cx, "%s: pend %s: %v", cx.Name(), s.k.TaskName(id), err)
	}
}

type uartState struct {
	times uint32
}

func (s *system) onUART0(cx *kernel.Context, st *uartState) {
	st.times++
	plural := ""
	if st.times > 1 {
		plural = "s"
	}
	_ = s.log.Printf(cx, "UART0 called %d time%s", st.times, plural)
}

type timerState struct {
	cfg Config
	n   uint32
}

func (s *system) onTimer(cx *kernel.Context, st *timerState) {
	st.n = kernel.LockValue(cx, s.ticks, func(v *uint32) uint32 {
		*v++
		return *v
	})

	if st.n%st.cfg.BlinkEvery == 0 {
		s.pend(cx, s.blink)
	}
	if st.cfg.SerialEvery > 0 && st.n%st.cfg.SerialEvery == 0 {
		if r, ok := s.h.IRQ().(hal.Raiser); ok {
			r.Raise(hal.LineUART0)
		}
	}
	if s.term != nil {
		// A full queue only means a refresh is already due.
		_ = cx.Pend(s.term.Task())
	}
}

type blinkState struct {
	count uint32
}

// onBlink lights the LED and yields so that the timer keeps ticking while
// the LED is on, then turns it off and reports the tick it saw.
func (s *system) onBlink(cx *kernel.Context, st *blinkState, at kernel.ResumePoint) kernel.Poll {
	led := s.h.LED()
	switch at {
	case 0:
		st.count++
		if led != nil {
			led.High()
		}
		return kernel.Yield(1)
	default:
		if led != nil {
			led.Low()
		}
		tick := kernel.LockValue(cx, s.ticks, func(v *uint32) uint32 { return *v })
		_ = s.log.Printf(cx, "blink %d at tick %d", st.count, tick)
		return kernel.Done()
	}
}

// serialPort owns the UART0 interrupt flag.
type serialPort struct {
	irq hal.IRQ
}

func newSerialPort(irq hal.IRQ) *serialPort {
	return &serialPort{irq: irq}
}

// ClearInterrupt deasserts the UART0 flag. It runs before the uart0 task on
// every entry through the bypassed line.
func (p *serialPort) ClearInterrupt() {
	p.irq.Clear(hal.LineUART0)
}
