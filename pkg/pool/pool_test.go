package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/df07/render-scheduler/pkg/blockrenderer"
)

type fakeRenderer struct {
	terminated int32
}

func (f *fakeRenderer) SetScene(ctx context.Context, width, height int, params any) error {
	return nil
}

func (f *fakeRenderer) RenderBlock(ctx context.Context, x, y, w, h, antiAlias int) ([]byte, error) {
	return make([]byte, 3*w*h), nil
}

func (f *fakeRenderer) Terminate() {
	atomic.AddInt32(&f.terminated, 1)
}

func waitReady(t *testing.T, s *Slot) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("slot never became ready")
	}
}

func TestGrowTo_CreatesSlotsViaFactory(t *testing.T) {
	var built []*fakeRenderer
	factory := func() blockrenderer.Renderer {
		r := &fakeRenderer{}
		built = append(built, r)
		return r
	}

	p := New(factory)
	p.GrowTo(context.Background(), 3, 10, 10, nil)

	require.Equal(t, 3, p.Len())
	require.Len(t, built, 3)

	for _, slot := range p.Slots() {
		waitReady(t, slot)
		require.Equal(t, SlotIdle, slot.State())
	}
}

func TestGrowTo_NoopWhenAlreadyAtSize(t *testing.T) {
	p := New(func() blockrenderer.Renderer { return &fakeRenderer{} })
	p.GrowTo(context.Background(), 2, 10, 10, nil)
	p.GrowTo(context.Background(), 2, 10, 10, nil)
	require.Equal(t, 2, p.Len())
}

func TestShrinkTo_DisposesFromTailAndReportsInFlight(t *testing.T) {
	p := New(func() blockrenderer.Renderer { return &fakeRenderer{} })
	p.GrowTo(context.Background(), 3, 10, 10, nil)

	slots := p.Slots()
	for _, s := range slots {
		waitReady(t, s)
	}
	slots[2].MarkBusy(42)

	reclaimed := p.ShrinkTo(2)
	require.Equal(t, 2, p.Len())
	require.Len(t, reclaimed, 1)
	require.Equal(t, uint64(42), reclaimed[0].BlockID)
	require.Equal(t, SlotDisposed, slots[2].State())
}

func TestShrinkTo_NeverReclaimsTwice(t *testing.T) {
	p := New(func() blockrenderer.Renderer { return &fakeRenderer{} })
	p.GrowTo(context.Background(), 2, 10, 10, nil)
	for _, s := range p.Slots() {
		waitReady(t, s)
	}
	p.Slots()[1].MarkBusy(7)

	first := p.ShrinkTo(1)
	second := p.ShrinkTo(0)

	require.Len(t, first, 1)
	require.Equal(t, uint64(7), first[0].BlockID)
	// The second shrink disposes a slot that never had a block reassigned
	// to it (the one that was already idle), so nothing more is reclaimed.
	require.Len(t, second, 0)
}

func TestMarkIdle_RejectsStaleGeneration(t *testing.T) {
	p := New(func() blockrenderer.Renderer { return &fakeRenderer{} })
	p.GrowTo(context.Background(), 1, 10, 10, nil)
	slot := p.Slots()[0]
	waitReady(t, slot)

	gen := slot.Generation()
	slot.MarkBusy(1)

	p.RecycleAll(context.Background(), 10, 10, nil) // bumps every slot's generation

	require.False(t, slot.MarkIdle(gen), "a result for a superseded generation must be rejected")
}

func TestRecycleAll_TerminatesOldRenderersAndBuildsFresh(t *testing.T) {
	var built []*fakeRenderer
	factory := func() blockrenderer.Renderer {
		r := &fakeRenderer{}
		built = append(built, r)
		return r
	}
	p := New(factory)
	p.GrowTo(context.Background(), 2, 10, 10, nil)
	for _, s := range p.Slots() {
		waitReady(t, s)
	}

	p.RecycleAll(context.Background(), 20, 20, nil)

	require.Equal(t, 2, p.Len())
	require.Len(t, built, 4)
	for _, r := range built[:2] {
		require.Equal(t, int32(1), atomic.LoadInt32(&r.terminated))
	}
	for _, s := range p.Slots() {
		waitReady(t, s)
		require.Equal(t, SlotIdle, s.State())
	}
}

func TestReinitAll_KeepsRendererHandles(t *testing.T) {
	var built []*fakeRenderer
	factory := func() blockrenderer.Renderer {
		r := &fakeRenderer{}
		built = append(built, r)
		return r
	}
	p := New(factory)
	p.GrowTo(context.Background(), 2, 10, 10, nil)
	for _, s := range p.Slots() {
		waitReady(t, s)
	}

	p.ReinitAll(context.Background(), 20, 20, nil)

	require.Len(t, built, 2, "ReinitAll must not call the factory again")
	for _, r := range built {
		require.Equal(t, int32(0), atomic.LoadInt32(&r.terminated))
	}
	for _, s := range p.Slots() {
		waitReady(t, s)
		require.Equal(t, SlotIdle, s.State())
	}
}
