// Package sixel renders a Frame Buffer's presentation surface directly to a
// sixel-capable terminal, as an alternative front end to the HTTP server and
// the bubbletea dashboard for watching a render progress live.
package sixel

import (
	"bytes"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-sixel"
	"github.com/pkg/errors"

	"github.com/df07/render-scheduler/pkg/framebuffer"
)

// Compositor owns a tcell screen used only to query terminal cell geometry
// and to poll for key presses; the actual image is written as a raw sixel escape sequence straight to
// the terminal, since tcell has no native cell type for it.
type Compositor struct {
	screen tcell.Screen
	out    *os.File

	buf *bytes.Buffer
	enc *sixel.Encoder

	lastBounds image.Rectangle
}

// New creates a Compositor over a freshly initialized tcell screen. Close
// must be called to restore the terminal.
func New() (*Compositor, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, errors.Wrap(err, "creating terminal screen")
	}
	if err := screen.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing terminal screen")
	}

	buf := &bytes.Buffer{}
	buf.Grow(65536)

	return &Compositor{
		screen: screen,
		out:    os.Stdout,
		buf:    buf,
		enc:    sixel.NewEncoder(buf),
	}, nil
}

// Close restores the terminal to its pre-Compositor state.
func (c *Compositor) Close() {
	c.screen.Fini()
}

// CellPixels reports the terminal's approximate pixel size, derived from
// the screen's character grid and a conservative per-cell pixel estimate
// (tcell does not expose real cell pixel dimensions over most terminals).
func (c *Compositor) CellPixels() (width, height int) {
	cols, rows := c.screen.Size()
	return cols * 8, rows * 16
}

// Present encodes fb's current presentation surface as a sixel image fitted
// to the terminal's pixel bounds and writes it directly to stdout, bypassing
// tcell's normal cell-based Show().
func (c *Compositor) Present(fb *framebuffer.FrameBuffer) error {
	img := &image.RGBA{
		Pix:    fb.Presented(),
		Stride: fb.Width * 4,
		Rect:   image.Rect(0, 0, fb.Width, fb.Height),
	}

	w, h := c.CellPixels()
	fitted := imaging.Fit(img, w, h, imaging.CatmullRom)
	c.lastBounds = fitted.Bounds()

	c.buf.Reset()
	if err := c.enc.Encode(fitted); err != nil {
		return errors.Wrap(err, "encoding sixel frame")
	}

	// Move cursor home, then emit the raw sixel escape sequence.
	fmt.Fprint(c.out, "\x1b[H")
	_, err := c.out.Write(c.buf.Bytes())
	return err
}

// PollQuit blocks until the user presses Escape or 'q', for use as a simple
// "press a key to stop watching" loop alongside a goroutine calling Present
// (cmd/renderd calls it on each progress and done event).
func (c *Compositor) PollQuit() {
	for {
		switch ev := c.screen.PollEvent().(type) {
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
				return
			}
		}
	}
}
