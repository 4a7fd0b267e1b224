// Package blockrenderer defines the boundary to the opaque raytracing kernel.
//
// The scheduler never knows how a block is actually rendered; it only ever
// talks to this interface. The real kernel (ray-triangle intersection, BVH
// traversal, material shading) is out of scope for this repository and is
// expected to live behind its own implementation of Renderer.
package blockrenderer

import "context"

// Renderer is one worker's capability to render rectangular blocks of pixels
// for a scene uploaded via SetScene. Implementations are not required to be
// safe for concurrent use by multiple goroutines; the Worker Pool guarantees
// at most one in-flight call per Renderer.
type Renderer interface {
	// SetScene prepares the renderer for the given viewport. It must be
	// awaited before the first RenderBlock call. Safe to call again later;
	// the last call wins.
	SetScene(ctx context.Context, width, height int, params any) error

	// RenderBlock produces 3*w*h bytes in row-major, top-left-origin RGB
	// order for the rectangle at (x, y, w, h). It must not be called again
	// on the same Renderer while a previous call is unresolved.
	RenderBlock(ctx context.Context, x, y, w, h, antiAlias int) ([]byte, error)

	// Terminate releases the renderer. Subsequent calls have no obligation
	// to complete.
	Terminate()
}

// Factory constructs a fresh Renderer for one Worker Slot. The Worker Pool
// calls this once per slot it grows.
type Factory func() Renderer
