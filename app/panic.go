package app

import (
	"fmt"
	"image/color"
	"strings"

	"rtslic/hal"
	"rtslic/kernel"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

const (
	panicFontHeight = 10
	panicFontOffset = 7
)

func installPanicHandler(h hal.HAL) {
	kernel.SetPanicHandler(func(info kernel.PanicInfo) {
		lines := panicLines(info)
		if l := h.Logger(); l != nil {
			for _, line := range lines {
				l.WriteLineString(line)
			}
		}
		if disp := h.Display(); disp != nil {
			drawPanic(disp.Framebuffer(), lines)
		}
	})
}

func panicLines(info kernel.PanicInfo) []string {
	lines := []string{
		"kernel panic",
		fmt.Sprintf("task: %s (%d)", info.Task, info.TaskID),
		fmt.Sprintf("priority: %d threshold: %d", info.Priority, info.Threshold),
		fmt.Sprintf("panic: %v", info.Value),
	}
	if len(info.Recent) > 0 {
		lines = append(lines, "trace:")
		lines = append(lines, info.Recent...)
	}
	if len(info.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, line := range strings.Split(string(info.Stack), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// drawPanic paints lines black on white, wrapping at the screen edge, and
// stops at the bottom.
func drawPanic(fb hal.Framebuffer, lines []string) {
	if fb == nil {
		return
	}
	font := &proggy.TinySZ8pt7b
	_, w := tinyfont.LineWidth(font, "0")
	if w == 0 {
		return
	}
	cols := fb.Width() / int(w)
	if cols <= 0 {
		return
	}
	d := panicDisplay{fb: fb}
	fg := color.RGBA{A: 0xFF}

	fb.ClearRGB(0xFF, 0xFF, 0xFF)
	y := 0
	for _, line := range lines {
		line = strings.ReplaceAll(line, "\t", "  ")
		for {
			if y+panicFontHeight > fb.Height() {
				_ = fb.Present()
				return
			}
			chunk := line
			if len(chunk) > cols {
				chunk = chunk[:cols]
			}
			tinyfont.WriteLine(d, font, 0, int16(y+panicFontOffset), chunk, fg)
			y += panicFontHeight
			line = line[len(chunk):]
			if line == "" {
				break
			}
		}
	}
	_ = fb.Present()
}

type panicDisplay struct {
	fb hal.Framebuffer
}

func (d panicDisplay) Size() (x, y int16) {
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d panicDisplay) SetPixel(x, y int16, c color.RGBA) {
	hal.SetPixel(d.fb, int(x), int(y), c.R, c.G, c.B)
}

func (d panicDisplay) Display() error { return nil }
