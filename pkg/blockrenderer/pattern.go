package blockrenderer

import (
	"context"
	"math"
	"time"

	"github.com/drhodes/golorem"
)

// Pattern is a deterministic, opaque stand-in for a real raytracing kernel.
// It produces a coordinate gradient overlaid with a checkerboard, with a
// per-pixel cost that varies across the viewport so tests and demos can
// exercise uneven "hot region" load the way a real scene would.
//
// Pattern is not a raytracer: it exists only to give the scheduler, the
// worker pool, and the frame buffer something real to drive in tests and in
// the demo CLI/server.
type Pattern struct {
	width, height int
	sceneLabel    string
	costPerPixel  time.Duration
}

// NewPattern creates a Pattern renderer. costPerPixel scales the simulated
// per-pixel render cost; pass 0 to disable the simulated delay entirely
// (recommended for unit tests).
func NewPattern(costPerPixel time.Duration) *Pattern {
	return &Pattern{costPerPixel: costPerPixel}
}

// SetScene implements blockrenderer.Renderer.
func (p *Pattern) SetScene(ctx context.Context, width, height int, params any) error {
	p.width, p.height = width, height
	p.sceneLabel = lorem.Word(4, 10)
	return nil
}

// RenderBlock implements blockrenderer.Renderer.
func (p *Pattern) RenderBlock(ctx context.Context, x, y, w, h, antiAlias int) ([]byte, error) {
	out := make([]byte, 3*w*h)

	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			px, py := x+i, y+j

			if p.costPerPixel > 0 {
				cost := p.costPerPixel * time.Duration(1+hotness(px, py, p.width, p.height))
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(cost):
				}
			}

			r, g, b := paint(px, py, p.width, p.height, antiAlias)
			off := (j*w + i) * 3
			out[off+0] = r
			out[off+1] = g
			out[off+2] = b
		}
	}

	return out, nil
}

// Terminate implements blockrenderer.Renderer.
func (p *Pattern) Terminate() {}

// hotness returns an integer in [0,3] used to simulate costly regions
// (e.g. glass/caustics) interleaved with cheap ones across the viewport.
func hotness(x, y, width, height int) int {
	if width == 0 || height == 0 {
		return 0
	}
	cx, cy := float64(width)/2, float64(height)/2
	dx, dy := float64(x)-cx, float64(y)-cy
	dist := math.Hypot(dx, dy) / math.Hypot(cx, cy)
	ring := math.Mod(dist*6, 1.0)
	if ring > 0.8 {
		return 3
	}
	return 0
}

// paint computes a deterministic RGB triple: a linear coordinate gradient
// (red along x, green along y, blue falling off along both) checkerboarded
// by 16px squares, softened by antiAlias (higher antiAlias narrows the
// checkerboard edge contrast, standing in for supersampling).
func paint(x, y, width, height, antiAlias int) (byte, byte, byte) {
	if width == 0 {
		width = 1
	}
	if height == 0 {
		height = 1
	}

	u := float64(x) / float64(width)
	v := float64(y) / float64(height)

	checker := (x/16 + y/16) % 2
	soften := 1.0 / float64(max(antiAlias, 1))

	r := clampByte(u*255 + float64(checker)*20*soften)
	g := clampByte(v*255 + float64(checker)*20*soften)
	b := clampByte((1-u)*0.5*255 + (1-v)*0.5*255)

	return r, g, b
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
