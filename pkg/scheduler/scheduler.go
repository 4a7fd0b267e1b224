// Package scheduler implements the Block Scheduler: it converts a
// RenderConfig into an executing frame, dispatches blocks to a Worker Pool,
// composites results into a Frame Buffer, and emits progress events. It is
// the hardest-working component in this module — everything else exists to
// give it a real Block Renderer, a real config surface, and real observers
// to drive.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/df07/render-scheduler/pkg/blockrenderer"
	"github.com/df07/render-scheduler/pkg/framebuffer"
	"github.com/df07/render-scheduler/pkg/logging"
	"github.com/df07/render-scheduler/pkg/pool"
	"github.com/df07/render-scheduler/pkg/renderconfig"
)

// MetricsSink receives every emitted Event for observability (pkg/metrics
// implements this); it must never block or panic.
type MetricsSink interface {
	Observe(Event)
}

// workerResult is what a dispatched block's async chain reports back to
// the scheduler's single task-executor goroutine.
type workerResult struct {
	slot       *pool.Slot
	blockID    uint64
	generation uint64
	frameGen   uint64
	pixels     []byte
	err        error
}

// Scheduler owns the Worker Pool, Pending Queue, Frame Buffer, and Event
// Sinks for one render at a time. All state transitions happen on a single
// goroutine (the run loop below) in a single-threaded cooperative model;
// only the Block Renderers themselves run in parallel.
type Scheduler struct {
	pool   *pool.Pool
	logger logging.Logger

	subMu sync.RWMutex
	subs  []subscription

	metrics MetricsSink

	fbMu sync.RWMutex
	fb   *framebuffer.FrameBuffer

	cmds    chan func()
	results chan workerResult

	// run-loop-owned state; never touched outside the loop goroutine.
	frameCtx    context.Context
	cfg         renderconfig.Config
	pending     []Block
	nextBlockID uint64
	frameGen    uint64
	frameComplete bool
	doneCount   int
	totalCount  int
	startedAt   time.Time
	rnd         *rand.Rand

	// inFlightBlocks tracks the id -> Block of every block currently
	// dispatched to a slot in the current frame. pool.Slot only tracks
	// the id (it has no notion of a Block); this map is the scheduler's
	// authoritative record used to reconstruct the Block for queued,
	// unqueued, and progress events.
	inFlightBlocks map[uint64]Block
}

// New creates a Scheduler with no workers and no active frame. factory is
// called once per Worker Slot the pool grows.
func New(factory blockrenderer.Factory, logger logging.Logger, metrics MetricsSink) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Scheduler{
		pool:          pool.New(factory),
		logger:        logger,
		metrics:       metrics,
		cmds:          make(chan func(), 16),
		results:       make(chan workerResult, 256),
		nextBlockID:   1, // 0 is pool.Slot's "no block in flight" marker
		rnd:            rand.New(rand.NewSource(1)),
		frameComplete:  true,
		inFlightBlocks: make(map[uint64]Block),
		frameCtx:       context.Background(),
	}
	go s.loop()
	return s
}

// loop is the scheduler's single task executor. Every mutation of pending,
// pool composition, frame buffer pointer, and the done/total counters
// happens here, and only here.
func (s *Scheduler) loop() {
	for {
		select {
		case cmd, ok := <-s.cmds:
			if !ok {
				return
			}
			cmd()
		case res := <-s.results:
			s.onResult(res)
		}
	}
}

// run submits fn to the loop goroutine and blocks until it has executed,
// giving external callers (Start, ResizePool) linearizable access to the
// run-loop-owned state without a second lock.
func (s *Scheduler) run(fn func()) {
	done := make(chan struct{})
	s.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// Target returns the Frame Buffer for the most recent Start call, or nil
// if Start has never been called.
func (s *Scheduler) Target() *framebuffer.FrameBuffer {
	s.fbMu.RLock()
	defer s.fbMu.RUnlock()
	return s.fb
}

func (s *Scheduler) setTarget(fb *framebuffer.FrameBuffer) {
	s.fbMu.Lock()
	s.fb = fb
	s.fbMu.Unlock()
}

// Start begins a new frame for cfg. Configuration errors are rejected
// synchronously, before anything else is touched: no frame begins, no
// events are emitted.
//
// A start() called while a previous start is still initializing workers
// is resolved by always terminating and replacing rather than interleaving
// the two in-flight initializations.
func (s *Scheduler) Start(ctx context.Context, cfg renderconfig.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.run(func() {
		s.startLocked(ctx, cfg)
	})
	return nil
}

func (s *Scheduler) startLocked(ctx context.Context, cfg renderconfig.Config) {
	wasComplete := s.frameComplete

	var reclaimed []pool.ReclaimedBlock
	if wasComplete {
		// Previous frame fully drained: keep workers, just re-init them.
		reclaimed = s.pool.ReinitAll(ctx, cfg.Width, cfg.Height, cfg.Params)
	} else {
		// Previous frame incomplete: the caller has moved on. Terminate and
		// replace rather than risk a new initialization racing an old one
		// still in flight.
		reclaimed = s.pool.RecycleAll(ctx, cfg.Width, cfg.Height, cfg.Params)
	}
	// Any blocks reclaimed from the previous frame belonged to a frame
	// buffer we are about to replace; their results will be discarded by
	// the frame-generation check in onResult regardless, so there is
	// nothing further to do with `reclaimed` here beyond the implicit
	// drop — no unqueued event is owed because that frame is gone, not
	// merely resized (only resize_pool's reclaim is reported as unqueued).
	_ = reclaimed
	s.inFlightBlocks = make(map[uint64]Block)
	s.frameCtx = ctx

	s.frameGen++
	s.cfg = cfg
	s.pending = buildBlockGrid(cfg.Width, cfg.Height, cfg.BlockSize, s.nextBlockID)
	s.nextBlockID += uint64(len(s.pending))
	shuffle(s.pending, s.rnd)

	s.doneCount = 0
	s.totalCount = len(s.pending)
	s.startedAt = time.Now()
	s.frameComplete = s.totalCount == 0

	fb := framebuffer.New(cfg.Width, cfg.Height, s.frameGen, cfg.DeBand)
	s.setTarget(fb)

	s.logger.Infof("frame %d started: %dx%d, %d blocks, block_size=%d", s.frameGen, cfg.Width, cfg.Height, s.totalCount, cfg.BlockSize)

	s.dispatch(fb)
}

// ResizePool grows or shrinks the worker pool to n workers.
func (s *Scheduler) ResizePool(ctx context.Context, n int) {
	s.run(func() {
		s.resizePoolLocked(ctx, n)
	})
}

func (s *Scheduler) resizePoolLocked(ctx context.Context, n int) {
	current := s.pool.Len()

	if n < current {
		reclaimed := s.pool.ShrinkTo(n)
		for _, r := range reclaimed {
			blk := s.removeInFlightRecord(r.BlockID)
			s.pending = append(s.pending, blk)
			s.emit(Event{Kind: EventUnqueued, Block: blk})
		}
	} else if n > current {
		s.pool.GrowTo(ctx, n, s.cfg.Width, s.cfg.Height, s.cfg.Params)
	}

	s.dispatch(s.Target())
}

// trackInFlight records that block has been dispatched, so a later
// completion, reclaim, or unqueue can recover its full rectangle from just
// the id the Worker Slot tracks.
func (s *Scheduler) trackInFlight(block Block) {
	s.inFlightBlocks[block.ID] = block
}

// removeInFlightRecord reconstructs the Block for a reclaimed id. Blocks
// dispatched to a slot are tracked by id only (pool.Slot never stores the
// full Block, just its id) so the scheduler keeps the authoritative id ->
// Block mapping for the current frame's in-flight set.
func (s *Scheduler) removeInFlightRecord(id uint64) Block {
	if blk, ok := s.inFlightBlocks[id]; ok {
		delete(s.inFlightBlocks, id)
		return blk
	}
	return Block{ID: id}
}

// dispatch assigns pending blocks to idle slots: for every slot whose
// in-flight block is empty, pop one pending block, mark it busy, emit
// queued, and schedule init_ready -> render(block) -> on_result.
func (s *Scheduler) dispatch(fb *framebuffer.FrameBuffer) {
	if fb == nil {
		return
	}
	ctx := s.frameCtx
	frameGen := s.frameGen
	cfg := s.cfg

	for _, slot := range s.pool.Slots() {
		if len(s.pending) == 0 {
			return
		}
		if _, busy := slot.InFlight(); busy {
			continue
		}
		if slot.State() == pool.SlotDisposed {
			continue
		}

		block := s.pending[0]
		s.pending = s.pending[1:]
		s.trackInFlight(block)

		slot.MarkBusy(block.ID)
		generation := slot.Generation()
		s.emit(Event{Kind: EventQueued, Block: block})

		go s.runBlock(ctx, slot, block, generation, frameGen, cfg, fb)
	}
}

// runBlock is the async chain: wait for the slot's init to be ready, render
// the block, then report the result back to the loop goroutine.
func (s *Scheduler) runBlock(ctx context.Context, slot *pool.Slot, block Block, generation, frameGen uint64, cfg renderconfig.Config, fb *framebuffer.FrameBuffer) {
	select {
	case <-slot.Ready():
	case <-ctx.Done():
		s.results <- workerResult{slot: slot, blockID: block.ID, generation: generation, frameGen: frameGen, err: ctx.Err()}
		return
	}

	pixels, err := slot.Renderer().RenderBlock(ctx, block.X, block.Y, block.W, block.H, cfg.AntiAlias)
	s.results <- workerResult{slot: slot, blockID: block.ID, generation: generation, frameGen: frameGen, pixels: pixels, err: err}
}

// onResult reconciles one worker result against current scheduler state.
// It always runs on the single loop goroutine.
func (s *Scheduler) onResult(res workerResult) {
	fb := s.Target()
	if fb == nil || res.frameGen != fb.Generation {
		// The Frame Buffer referenced at dispatch time has been replaced
		// by a subsequent Start(); discard silently.
		s.noteStale()
		return
	}

	block, tracked := s.inFlightBlocks[res.blockID]
	if !tracked || res.err != nil {
		// Slot was reclaimed/terminated since dispatch, or the render
		// itself failed: either way this is not a live completion.
		s.noteStale()
		return
	}

	if res.slot == nil || !res.slot.MarkIdle(res.generation) {
		// The slot captured at dispatch time rejected this generation:
		// it was recycled/reinitialized (or disposed) since this block
		// was handed out.
		s.noteStale()
		return
	}

	delete(s.inFlightBlocks, res.blockID)
	s.doneCount++
	fb.WriteRect(block.X, block.Y, block.W, block.H, res.pixels)

	s.emit(Event{Kind: EventProgress, Block: block, Done: s.doneCount, Total: s.totalCount})

	if s.doneCount == s.totalCount {
		s.frameComplete = true
		s.emit(Event{Kind: EventDone, DurationMS: time.Since(s.startedAt).Milliseconds()})
	}

	// This slot may now be idle; pick up more work.
	s.dispatch(fb)
}

func (s *Scheduler) noteStale() {
	if s.metrics != nil {
		s.metrics.Observe(Event{Kind: staleResultEventKind})
	}
}

// staleResultEventKind is an internal-only marker, never delivered to a
// public Subscribe channel (emit() would need a matching subscription kind,
// and nothing ever subscribes to it) — it exists purely so MetricsSink
// implementations can count stale results without a second sink method.
const staleResultEventKind EventKind = -1
