package term

import (
	"image/color"

	"rtslic/hal"

	"tinygo.org/x/drivers"
)

// fbDisplay lets tinyterm draw into a hal.Framebuffer.
type fbDisplay struct {
	fb hal.Framebuffer
}

var _ drivers.Displayer = (*fbDisplay)(nil)

func (d *fbDisplay) Size() (x, y int16) {
	return int16(d.fb.Width()), int16(d.fb.Height())
}

func (d *fbDisplay) SetPixel(x, y int16, c color.RGBA) {
	hal.SetPixel(d.fb, int(x), int(y), c.R, c.G, c.B)
}

func (d *fbDisplay) Display() error { return d.fb.Present() }

func (d *fbDisplay) FillRectangle(x, y, width, height int16, c color.RGBA) error {
	hal.FillRect(d.fb, int(x), int(y), int(width), int(height), c.R, c.G, c.B)
	return nil
}

func (d *fbDisplay) ScrollUp(lines int16, bg color.RGBA) error {
	hal.ScrollUp(d.fb, int(lines), bg.R, bg.G, bg.B)
	return nil
}

// Hardware scrolling does not exist on a plain framebuffer; tinyterm is
// configured for software scrolling.
func (d *fbDisplay) SetScroll(int16) {}

func (d *fbDisplay) SetRotation(drivers.Rotation) error { return nil }
