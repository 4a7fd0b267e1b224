// Package framebuffer holds the off-screen RGBA composite accumulated for
// one render, plus an optional de-banding post-process.
package framebuffer

import (
	"math/rand"
	"sync"
	"time"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// FrameBuffer is the composite surface the Scheduler writes into and the
// canvas compositor (external) reads from. It is safe for one writer
// (the Scheduler's single task executor) and many concurrent readers of
// Pixels/Presented, guarded by a RWMutex: the terminal compositor and the
// HTTP server can both be reading while the scheduler writes.
type FrameBuffer struct {
	mu sync.RWMutex

	Width, Height int
	Generation    uint64 // set by New from the caller's per-Start counter; used for the stale-result check in scheduler

	pixels    []byte // primary RGBA buffer, len = Width*Height*4
	secondary []byte // de-band buffer, same geometry, nil unless de-band enabled
	deband    bool

	DoneCount  int
	TotalCount int
	StartedAt  time.Time
}

// New creates a Frame Buffer sized to width x height, alpha pre-filled to
// 255. generation should be a value the caller increments once per Start().
func New(width, height int, generation uint64, deband bool) *FrameBuffer {
	fb := &FrameBuffer{
		Width:      width,
		Height:     height,
		Generation: generation,
		pixels:     newOpaqueBuffer(width, height),
	}
	if deband {
		fb.EnableDeband()
	}
	return fb
}

func newOpaqueBuffer(width, height int) []byte {
	buf := make([]byte, width*height*4)
	for i := 3; i < len(buf); i += 4 {
		buf[i] = 255
	}
	return buf
}

// WriteRect composites a packed RGB byte stream (row-major, length 3*w*h)
// into the buffer at (x, y). This is the sole mutation path; it must only
// ever be called from the Scheduler's single task-executor goroutine.
func (fb *FrameBuffer) WriteRect(x, y, w, h int, src []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			destIdx := ((y+j)*fb.Width + (x + i)) * 4
			srcIdx := (j*w + i) * 3

			r, g, b := src[srcIdx], src[srcIdx+1], src[srcIdx+2]
			fb.pixels[destIdx+0] = r
			fb.pixels[destIdx+1] = g
			fb.pixels[destIdx+2] = b
			fb.pixels[destIdx+3] = 255

			if fb.secondary != nil {
				fb.writeDebandPixel(destIdx, r, g, b)
			}
		}
	}
}

// writeDebandPixel applies the per-pixel de-band formula to one destination
// pixel of the secondary buffer.
func (fb *FrameBuffer) writeDebandPixel(destIdx int, r, g, b byte) {
	red, green, blue := float64(r), float64(g), float64(b)

	// denom == 0 means red and blue are both 0: green/denom would be +Inf
	// (or NaN if green is also 0) under plain float division, and clamp01
	// passes NaN through. A pure-green pixel (green > 0) is maximally green,
	// so treat it as greenness 1 directly (black stays at greenness 0)
	// rather than dividing by zero.
	denom := 0.5 * (red + blue)
	var greenness float64
	if denom > 0 {
		greenness = clamp01(green / denom)
	} else if green > 0 {
		greenness = 1
	}

	luminance := (0.2126*red + 0.7152*green + 0.0722*blue) / 255
	darkness := 1 - luminance
	band := greenness * darkness
	scale := 0.08 * band

	out := colorful.Color{
		R: scaledChannel(red, scale),
		G: scaledChannel(green, scale),
		B: scaledChannel(blue, scale),
	}.Clamped()

	fb.secondary[destIdx+0] = byte(out.R * 255)
	fb.secondary[destIdx+1] = byte(out.G * 255)
	fb.secondary[destIdx+2] = byte(out.B * 255)
	fb.secondary[destIdx+3] = 255
}

// scaledChannel computes U*s + (1 - s/2) for one channel, expressed in the
// [0,1] domain colorful.Color operates in, then multiplies by the channel.
func scaledChannel(channel255 float64, scale float64) float64 {
	u := rand.Float64()
	mean := u*scale + (1 - scale/2)
	return (mean * channel255) / 255
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// EnableDeband turns on the de-banding secondary buffer, back-filling it
// from the current primary buffer contents so a buffer already populated
// when de-banding is switched on doesn't present a blank frame.
func (fb *FrameBuffer) EnableDeband() {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.deband {
		return
	}
	fb.deband = true
	fb.secondary = make([]byte, len(fb.pixels))
	copy(fb.secondary, fb.pixels)
	for i := range fb.Height * fb.Width {
		destIdx := i * 4
		r, g, b := fb.pixels[destIdx], fb.pixels[destIdx+1], fb.pixels[destIdx+2]
		fb.writeDebandPixelLocked(destIdx, r, g, b)
	}
}

// writeDebandPixelLocked exists only so EnableDeband's backfill loop can
// reuse the formula without re-acquiring fb.mu (already held by the caller).
func (fb *FrameBuffer) writeDebandPixelLocked(destIdx int, r, g, b byte) {
	fb.writeDebandPixel(destIdx, r, g, b)
}

// DisableDeband turns off de-banding; Presented() will return the primary
// buffer again.
func (fb *FrameBuffer) DisableDeband() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.deband = false
	fb.secondary = nil
}

// Pixels returns a snapshot copy of the primary buffer.
func (fb *FrameBuffer) Pixels() []byte {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	out := make([]byte, len(fb.pixels))
	copy(out, fb.pixels)
	return out
}

// Presented returns a snapshot copy of whichever buffer is the current
// presentation surface: the de-band buffer if enabled, else the primary.
func (fb *FrameBuffer) Presented() []byte {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	src := fb.pixels
	if fb.deband && fb.secondary != nil {
		src = fb.secondary
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}
