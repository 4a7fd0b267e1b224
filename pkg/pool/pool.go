// Package pool implements a Worker Pool: a mutable, insertion-ordered set
// of Block Renderer instances, each wrapped in a Worker Slot that tracks
// its init-readiness and current in-flight block.
package pool

import (
	"context"
	"sync"

	"github.com/df07/render-scheduler/pkg/blockrenderer"
)

// SlotState is the Worker Slot state machine:
// FRESH -> INITIALIZING -> IDLE <-> BUSY -> DISPOSED.
type SlotState int

const (
	SlotFresh SlotState = iota
	SlotInitializing
	SlotIdle
	SlotBusy
	SlotDisposed
)

func (s SlotState) String() string {
	switch s {
	case SlotFresh:
		return "fresh"
	case SlotInitializing:
		return "initializing"
	case SlotIdle:
		return "idle"
	case SlotBusy:
		return "busy"
	case SlotDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Slot pairs one Block Renderer handle with its init-ready token, current
// in-flight block id, and a generation counter. Generation is bumped every
// time the slot is reclaimed or terminated, so a result arriving for a
// stale generation can always be identified without relying on pointer
// identity.
type Slot struct {
	mu sync.Mutex

	renderer   blockrenderer.Renderer
	state      SlotState
	generation uint64
	inFlight   uint64 // Block.ID currently dispatched, 0 if none
	ready      chan struct{}
}

// State returns the slot's current state machine position.
func (s *Slot) State() SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the slot's current generation counter.
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Ready returns the channel that closes once this slot's current
// initialization has completed. Safe to select on repeatedly.
func (s *Slot) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// InFlight reports the id of the block currently dispatched to this slot,
// and whether one is in fact in flight.
func (s *Slot) InFlight() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight, s.inFlight != 0
}

// Renderer exposes the underlying Block Renderer handle for dispatch.
func (s *Slot) Renderer() blockrenderer.Renderer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderer
}

// beginInit starts (or restarts) initialization against the given viewport.
// It always replaces the ready token, so Ready() called after this point
// returns the new token; a goroutine already holding a previous token still
// sees that token close when the earlier SetScene returns.
func (s *Slot) beginInit(ctx context.Context, width, height int, params any) {
	s.mu.Lock()
	s.state = SlotInitializing
	ready := make(chan struct{})
	s.ready = ready
	renderer := s.renderer
	s.mu.Unlock()

	go func() {
		_ = renderer.SetScene(ctx, width, height, params)

		s.mu.Lock()
		if s.state == SlotInitializing {
			s.state = SlotIdle
		}
		s.mu.Unlock()
		close(ready)
	}()
}

// MarkBusy transitions IDLE -> BUSY and records the dispatched block id.
// Called by the Scheduler immediately after popping a block off the
// pending queue for this slot.
func (s *Slot) MarkBusy(blockID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SlotBusy
	s.inFlight = blockID
}

// MarkIdle transitions BUSY -> IDLE and clears the in-flight block,
// returning false if the slot has since been disposed or regenerated (the
// caller must then treat this as a stale completion, not a live one).
func (s *Slot) MarkIdle(expectGeneration uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != expectGeneration || s.state == SlotDisposed {
		return false
	}
	s.state = SlotIdle
	s.inFlight = 0
	return true
}

// reclaim pulls back whatever block is in flight (if any) and bumps the
// generation so any pending result for it will be recognized as stale. It
// returns the reclaimed block id and whether one existed.
func (s *Slot) reclaim() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, had := s.inFlight, s.inFlight != 0
	s.inFlight = 0
	s.generation++
	return id, had
}

// dispose terminates the underlying renderer and moves the slot to
// DISPOSED, bumping the generation so late results are recognized as stale
// even if they arrive after reclaim already ran.
func (s *Slot) dispose() {
	s.mu.Lock()
	renderer := s.renderer
	s.generation++
	s.state = SlotDisposed
	s.inFlight = 0
	s.mu.Unlock()
	renderer.Terminate()
}

// Pool owns a mutable, insertion-ordered set of Slots, constructed via a
// Factory closure supplied at build time. Iteration order is insertion
// order; shrink always removes from the tail, which is what makes reclaim
// predictable.
type Pool struct {
	mu      sync.Mutex
	factory blockrenderer.Factory
	slots   []*Slot
}

// New creates an empty Pool backed by factory.
func New(factory blockrenderer.Factory) *Pool {
	return &Pool{factory: factory}
}

// Slots returns a snapshot of the current slots in insertion order.
func (p *Pool) Slots() []*Slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Slot, len(p.slots))
	copy(out, p.slots)
	return out
}

// Len reports the current number of slots.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// ReclaimedBlock is one block pulled back from a slot during ShrinkTo,
// RecycleAll or ReinitAll,
// reported to the caller so it can be re-enqueued and a matching unqueued
// event emitted.
type ReclaimedBlock struct {
	SlotIndex int
	BlockID   uint64
}

// GrowTo constructs n-len(p.slots) new slots (no-op if n <= current length),
// each started on a fresh init-ready token for the given viewport.
func (p *Pool) GrowTo(ctx context.Context, n int, width, height int, params any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.slots) < n {
		slot := &Slot{renderer: p.factory(), state: SlotFresh}
		slot.beginInit(ctx, width, height, params)
		p.slots = append(p.slots, slot)
	}
}

// ShrinkTo pops slots from the tail until len(p.slots) == n (no-op if
// n >= current length). Each popped slot's in-flight block (if any) is
// reclaimed and reported before the slot is terminated, in pop order
// (highest index first), so a pool that is shrunk again immediately can
// never reclaim the same block twice.
func (p *Pool) ShrinkTo(n int) []ReclaimedBlock {
	p.mu.Lock()
	defer p.mu.Unlock()

	var reclaimed []ReclaimedBlock
	for len(p.slots) > n {
		lastIdx := len(p.slots) - 1
		slot := p.slots[lastIdx]
		p.slots = p.slots[:lastIdx]

		if id, had := slot.reclaim(); had {
			reclaimed = append(reclaimed, ReclaimedBlock{SlotIndex: lastIdx, BlockID: id})
		}
		slot.dispose()
	}
	return reclaimed
}

// RecycleAll terminates every current slot and replaces them with len(p.slots)
// fresh ones initialized for the given viewport. Used when a new frame
// starts while the previous one is still incomplete: rather than risk an
// in-progress initialization racing the new viewport, every worker is torn
// down and replaced outright. Any in-flight blocks are reclaimed and
// reported the same way ShrinkTo does.
func (p *Pool) RecycleAll(ctx context.Context, width, height int, params any) []ReclaimedBlock {
	p.mu.Lock()
	defer p.mu.Unlock()

	var reclaimed []ReclaimedBlock
	n := len(p.slots)
	for i, slot := range p.slots {
		if id, had := slot.reclaim(); had {
			reclaimed = append(reclaimed, ReclaimedBlock{SlotIndex: i, BlockID: id})
		}
		slot.dispose()
	}

	p.slots = make([]*Slot, 0, n)
	for i := 0; i < n; i++ {
		slot := &Slot{renderer: p.factory(), state: SlotFresh}
		slot.beginInit(ctx, width, height, params)
		p.slots = append(p.slots, slot)
	}
	return reclaimed
}

// ReinitAll re-initializes every existing slot for a new viewport without
// discarding the renderer handles. Used when a new frame starts after the
// previous one finished: the workers are kept, but each is re-initialized
// and its init-ready token reset. Any slot with an in-flight block is
// reclaimed first — this path is only taken when the previous frame was
// complete, so in practice nothing should be in flight, but the reclaim is
// unconditional for safety.
func (p *Pool) ReinitAll(ctx context.Context, width, height int, params any) []ReclaimedBlock {
	p.mu.Lock()
	defer p.mu.Unlock()

	var reclaimed []ReclaimedBlock
	for i, slot := range p.slots {
		if id, had := slot.reclaim(); had {
			reclaimed = append(reclaimed, ReclaimedBlock{SlotIndex: i, BlockID: id})
		}
		slot.beginInit(ctx, width, height, params)
	}
	return reclaimed
}
