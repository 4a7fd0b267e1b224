package framebuffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_OpaqueAlpha(t *testing.T) {
	fb := New(4, 4, 1, false)
	pixels := fb.Pixels()
	require.Len(t, pixels, 4*4*4)
	for i := 3; i < len(pixels); i += 4 {
		require.Equal(t, byte(255), pixels[i], "alpha channel must be opaque before any write")
	}
}

func TestWriteRect_CompositesAtOffset(t *testing.T) {
	fb := New(8, 8, 1, false)
	src := []byte{
		10, 20, 30, 40, 50, 60,
		70, 80, 90, 100, 110, 120,
	}
	fb.WriteRect(2, 3, 2, 2, src)

	pixels := fb.Pixels()
	idx := func(x, y int) int { return ((y)*fb.Width + x) * 4 }

	require.Equal(t, []byte{10, 20, 30, 255}, pixels[idx(2, 3):idx(2, 3)+4])
	require.Equal(t, []byte{40, 50, 60, 255}, pixels[idx(3, 3):idx(3, 3)+4])
	require.Equal(t, []byte{70, 80, 90, 255}, pixels[idx(2, 4):idx(2, 4)+4])
	require.Equal(t, []byte{100, 110, 120, 255}, pixels[idx(3, 4):idx(3, 4)+4])
}

func TestWriteRect_DoesNotTouchOutsideRect(t *testing.T) {
	fb := New(4, 4, 1, false)
	before := fb.Pixels()

	fb.WriteRect(1, 1, 1, 1, []byte{200, 200, 200})

	after := fb.Pixels()
	idx := func(x, y int) int { return (y*fb.Width + x) * 4 }
	require.Equal(t, before[idx(0, 0):idx(0, 0)+4], after[idx(0, 0):idx(0, 0)+4])
	require.Equal(t, []byte{200, 200, 200, 255}, after[idx(1, 1):idx(1, 1)+4])
}

func TestEnableDeband_BackfillsFromPrimary(t *testing.T) {
	fb := New(4, 4, 1, false)
	fb.WriteRect(0, 0, 4, 4, make([]byte, 4*4*3))

	fb.EnableDeband()
	presented := fb.Presented()
	require.Len(t, presented, len(fb.Pixels()))
	// Black pixels de-band to themselves, so a back-filled secondary buffer
	// equals the primary (a blank one would have alpha 0).
	require.Equal(t, fb.Pixels(), presented)
}

func TestDisableDeband_RestoresPrimaryAsPresented(t *testing.T) {
	fb := New(2, 2, 1, true)
	fb.WriteRect(0, 0, 2, 2, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})

	debanded := fb.Presented()
	fb.DisableDeband()
	primary := fb.Pixels()

	require.Equal(t, primary, fb.Presented())
	require.NotNil(t, debanded)
}

func TestEnableDeband_PureGreenBlockIsPerturbedNotLeftExact(t *testing.T) {
	// A pure-green source (R=B=0) makes the de-band formula's denominator
	// (red+blue)/2 zero. Write many such pixels: every one must still land
	// in the spec's worked range, and at least one must land below 255 --
	// if the zero-denominator guard incorrectly suppresses the perturbation,
	// every pixel comes out exactly 255 (i.e. untouched).
	const n = 500
	fb := New(n, 1, 1, true)
	src := make([]byte, 3*n)
	for i := 0; i < n; i++ {
		src[i*3+1] = 255
	}
	fb.WriteRect(0, 0, n, 1, src)

	presented := fb.Presented()
	sawBelow255 := false
	for i := 0; i < n; i++ {
		idx := i * 4
		require.Equal(t, byte(0), presented[idx+0], "red must stay at 0")
		require.Equal(t, byte(0), presented[idx+2], "blue must stay at 0")
		require.GreaterOrEqual(t, presented[idx+1], byte(252))
		require.LessOrEqual(t, presented[idx+1], byte(255))
		if presented[idx+1] < 255 {
			sawBelow255 = true
		}
	}
	require.True(t, sawBelow255, "a pure-green block must be perturbed by de-banding, not left exact")
}

func TestPixels_ReturnsIndependentCopy(t *testing.T) {
	fb := New(2, 2, 1, false)
	snapshot := fb.Pixels()
	fb.WriteRect(0, 0, 2, 2, []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9})

	require.NotEqual(t, snapshot, fb.Pixels(), "mutating the buffer after a snapshot must not affect the snapshot")
}
