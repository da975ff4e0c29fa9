package hal

// Drawing helpers shared by everything that renders into an RGB565
// Framebuffer. Coordinates outside the buffer are clipped.

// SetPixel writes one pixel.
func SetPixel(fb Framebuffer, x, y int, r, g, b uint8) {
	if fb == nil || fb.Format() != PixelFormatRGB565 {
		return
	}
	if x < 0 || x >= fb.Width() || y < 0 || y >= fb.Height() {
		return
	}
	buf := fb.Buffer()
	off := y*fb.StrideBytes() + x*2
	if off+1 >= len(buf) {
		return
	}
	p := pack565(r, g, b)
	buf[off] = byte(p)
	buf[off+1] = byte(p >> 8)
}

// FillRect fills the w×h rectangle at (x, y).
func FillRect(fb Framebuffer, x, y, w, h int, r, g, b uint8) {
	if fb == nil || fb.Format() != PixelFormatRGB565 {
		return
	}
	x0, y0 := clamp(x, 0, fb.Width()), clamp(y, 0, fb.Height())
	x1, y1 := clamp(x+w, 0, fb.Width()), clamp(y+h, 0, fb.Height())
	if x0 >= x1 || y0 >= y1 {
		return
	}

	p := pack565(r, g, b)
	lo, hi := byte(p), byte(p>>8)
	buf := fb.Buffer()
	stride := fb.StrideBytes()
	for py := y0; py < y1; py++ {
		row := buf[py*stride:]
		for px := x0; px < x1; px++ {
			if px*2+1 >= len(row) {
				break
			}
			row[px*2] = lo
			row[px*2+1] = hi
		}
	}
}

// ScrollUp moves the content up by rows and fills the exposed band.
func ScrollUp(fb Framebuffer, rows int, r, g, b uint8) {
	if fb == nil || fb.Format() != PixelFormatRGB565 || rows <= 0 {
		return
	}
	h := fb.Height()
	if rows >= h {
		FillRect(fb, 0, 0, fb.Width(), h, r, g, b)
		return
	}
	buf := fb.Buffer()
	stride := fb.StrideBytes()
	if h*stride > len(buf) {
		return
	}
	copy(buf[:(h-rows)*stride], buf[rows*stride:h*stride])
	FillRect(fb, 0, h-rows, fb.Width(), rows, r, g, b)
}

// PixelAt reads one pixel back as 8-bit channels.
func PixelAt(fb Framebuffer, x, y int) (r, g, b uint8, ok bool) {
	if fb == nil || fb.Format() != PixelFormatRGB565 {
		return 0, 0, 0, false
	}
	if x < 0 || x >= fb.Width() || y < 0 || y >= fb.Height() {
		return 0, 0, 0, false
	}
	buf := fb.Buffer()
	off := y*fb.StrideBytes() + x*2
	if off+1 >= len(buf) {
		return 0, 0, 0, false
	}
	r, g, b = unpack565(uint16(buf[off]) | uint16(buf[off+1])<<8)
	return r, g, b, true
}

// pack565 packs 8-bit channels into one RGB565 pixel.
func pack565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// unpack565 widens an RGB565 pixel back to 8-bit channels, replicating the
// high bits so full scale maps to 255.
func unpack565(p uint16) (r, g, b uint8) {
	r5, g6, b5 := uint8(p>>11&0x1F), uint8(p>>5&0x3F), uint8(p&0x1F)
	return r5<<3 | r5>>2, g6<<2 | g6>>4, b5<<3 | b5>>2
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
