// Package term renders the kernel trace on the display with tinyterm.
package term

import (
	"fmt"

	"rtslic/hal"
	"rtslic/kernel"

	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"
)

// Service is a low priority task that copies new trace events to a
// terminal. Pend its Task whenever the screen should catch up.
type Service struct {
	disp hal.Display
	k    *kernel.Kernel
	task kernel.TaskID

	fb   hal.Framebuffer
	t    *tinyterm.Terminal
	last uint32
	buf  []kernel.Event
}

// New registers the terminal task at prio.
func New(b *kernel.Builder, disp hal.Display, prio kernel.Priority) *Service {
	s := &Service{disp: disp, buf: make([]kernel.Event, 0, 64)}
	s.task = b.AddTask(kernel.Task("term", prio, struct{}{}, s.refresh))
	return s
}

// Attach hands the built kernel to the service. Refreshes before Attach do
// nothing.
func (s *Service) Attach(k *kernel.Kernel) { s.k = k }

// Task returns the terminal task.
func (s *Service) Task() kernel.TaskID { return s.task }

// Terminal returns the underlying terminal, nil until the first refresh.
func (s *Service) Terminal() *tinyterm.Terminal { return s.t }

func (s *Service) refresh(cx *kernel.Context, _ *struct{}) {
	if s.k == nil || !s.ready() {
		return
	}

	events := s.k.TraceSince(s.last, s.buf[:0])
	if len(events) == 0 {
		return
	}
	if first := events[0].Seq; first > s.last+1 {
		fmt.Fprintf(s.t, "... %d events lost\r\n", first-s.last-1)
	}

	wrote := false
	for _, e := range events {
		if e.Task == s.task || e.Kind == kernel.EvIdle {
			continue
		}
		s.t.Write([]byte(s.k.Format(e)))
		s.t.Write([]byte("\r\n"))
		wrote = true
	}
	s.last = events[len(events)-1].Seq
	s.buf = events[:0]
	if wrote {
		s.t.Display()
	}
}

func (s *Service) ready() bool {
	if s.t != nil {
		return true
	}
	if s.disp == nil {
		return false
	}
	s.fb = s.disp.Framebuffer()
	if s.fb == nil {
		return false
	}

	s.t = tinyterm.NewTerminal(&fbDisplay{fb: s.fb})
	s.t.Configure(&tinyterm.Config{
		Font:              &proggy.TinySZ8pt7b,
		FontHeight:        10,
		FontOffset:        6,
		UseSoftwareScroll: true,
	})
	s.fb.ClearRGB(0, 0, 0)
	_ = s.fb.Present()
	return true
}
