// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gc is the managed heap: it owns the spaces, allocates objects
// for mutator threads and decides when and how to collect.
//
// A Heap is built from Options. The collector family picked by
// Options.ForegroundCollector fixes the space layout:
//
//	MS, CMS  one malloc space, which is also the non-moving space
//	SS       a non-moving malloc space and two bump pointer semi-spaces
//	CC       a non-moving malloc space and a region space
//
// plus an optional image space below and a large object space above.
// Mutators attach as Threads and pass themselves to every entry point.
package gc

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aclements/go-moremath/stats"
	"golang.org/x/sys/cpu"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	imath "github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

const (
	// minConcurrentRemainingBytes and maxConcurrentRemainingBytes bound
	// how early before the footprint target a concurrent GC starts.
	minConcurrentRemainingBytes = 128 * KB
	maxConcurrentRemainingBytes = 512 * KB

	// defaultTLABSize is what a bump pointer TLAB holds beyond the
	// allocation that asked for it.
	defaultTLABSize = 32 * KB

	gcCountRateWindow     = 10 * time.Second
	gcCountRateMaxWindows = 100
)

// counters are updated by every allocation. Each group gets its own
// cache line.
type counters struct {
	numBytesAllocated atomic.Int64
	_                 cpu.CacheLinePad

	maxAllowedFootprint  atomic.Uint64
	concurrentStartBytes atomic.Uint64
	_                    cpu.CacheLinePad

	nativeBytesRegistered atomic.Uint64
	nativeObjectsNotified atomic.Uint32
	_                     cpu.CacheLinePad

	objectsAllocated atomic.Uint64 // instrumentation only
	bytesAllocated   atomic.Uint64
	gcForAlloc       atomic.Uint64
	ooms             atomic.Uint64
	_                cpu.CacheLinePad
}

// spaceSet is an immutable snapshot of the heap's spaces.
type spaceSet struct {
	continuous []space.ContinuousSpace // sorted by address
	los        *space.LargeObjectSpace
}

// A Heap owns the spaces, the heap-wide bitmaps, the card table and the
// allocation stacks. It is safe for concurrent use by attached threads.
type Heap struct {
	counters

	opts    Options
	log     *slog.Logger
	classes *mirror.ClassTable
	mem     space.Memory

	mutatorLock    sync.RWMutex
	suspendPending atomic.Int32

	threadsMu    sync.Mutex
	threads      []*Thread
	nextThreadID int

	globalsMu   sync.Mutex
	globals     []mirror.Address
	freeGlobals []int

	spaces           atomic.Pointer[spaceSet]
	imageSpace       *space.ImageSpace
	mainSpace        *space.MallocSpace // nil for moving collectors
	nonMovingSpace   *space.MallocSpace
	rosAllocSpace    *space.MallocSpace // owner of the threads' run caches
	bumpPointerSpace *space.BumpPointerSpace
	tempSpace        *space.BumpPointerSpace
	regionSpace      *space.RegionSpace
	largeObjectSpace *space.LargeObjectSpace
	zygoteSpace      *space.ZygoteSpace
	hasZygoteSpace   atomic.Bool
	zygoteMu         sync.Mutex

	cards      *accounting.CardTable
	live, mark accounting.HeapBitmap
	allocStack *accounting.ObjectStack
	liveStack  *accounting.ObjectStack

	currentAllocator          atomic.Uint32
	currentNonMovingAllocator atomic.Uint32

	growthLimit       atomic.Uint64
	capacity          atomic.Uint64
	targetUtilization atomic.Uint64 // float64 bits
	processState      atomic.Uint32
	concurrentGC      atomic.Bool
	concurrentPending atomic.Bool

	// Everything below up to the GC histograms is guarded by gcMu.
	gcMu                        sync.Mutex
	gcCond                      *sync.Cond
	collectorType               collector.CollectorType
	foregroundCollector         collector.CollectorType
	backgroundCollector         collector.CollectorType
	gcPlan                      []collector.GcType
	nextGcType                  collector.GcType
	collectorTypeRunning        collector.CollectorType
	lastGcType                  collector.GcType
	lastGcCause                 collector.GcCause
	gcRunningThread             *Thread
	runningCollectionIsBlocking bool
	blockingGcCount             uint64
	blockingGcTime              time.Duration
	totalWaitTime               time.Duration
	gcCountLastWindow           uint64
	blockingGcCountLastWindow   uint64
	lastGcCountRateUpdate       time.Time
	gcCountRateHist             *stats.LinearHist
	blockingGcCountRateHist     *stats.LinearHist
	lastGcIteration             collector.Iteration

	gcsCompleted          atomic.Uint32
	totalBytesFreedEver   atomic.Uint64
	totalObjectsFreedEver atomic.Uint64
	bytesAliveAfterGC     atomic.Uint64
	oldNativeBytes        atomic.Uint64

	markSweeps      [6]*collector.MarkSweep
	semiSpace       *collector.SemiSpace
	ccFull, ccYoung *collector.ConcurrentCopying
	zygoteCompactor *collector.ZygoteCompactor
	collectors      []collector.GarbageCollector

	tasks *taskProcessor

	transaction atomic.Pointer[Transaction]
}

// New builds a heap. classes resolves the class words of the heap's
// objects and may be shared with an image builder.
func New(opts Options, classes *mirror.ClassTable) (h *Heap, err error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	h = &Heap{
		opts:                    opts,
		log:                     opts.Logger,
		classes:                 classes,
		foregroundCollector:     opts.ForegroundCollector,
		backgroundCollector:     opts.BackgroundCollector,
		nextGcType:              collector.GcTypePartial,
		gcCountRateHist:         stats.NewLinearHist(0, 200, 200),
		blockingGcCountRateHist: stats.NewLinearHist(0, 200, 200),
		lastGcCountRateUpdate:   time.Now().Truncate(gcCountRateWindow),
	}
	h.gcCond = sync.NewCond(&h.gcMu)
	h.mem = space.NewMemory(h.findSpace)
	h.growthLimit.Store(uint64(opts.GrowthLimit))
	h.capacity.Store(uint64(opts.Capacity))
	h.maxAllowedFootprint.Store(uint64(opts.InitialSize))
	h.concurrentStartBytes.Store(math.MaxUint64)
	h.setTargetUtilization(opts.TargetUtilization)
	h.processState.Store(uint32(ProcessStateJankPerceptible))
	defer func() {
		if err != nil {
			h.release()
		}
	}()

	if err := h.createSpaces(); err != nil {
		return nil, err
	}
	h.allocStack = accounting.NewObjectStack("allocation stack", opts.AllocationStackSize, false)
	h.liveStack = accounting.NewObjectStack("live stack", opts.AllocationStackSize, false)
	h.createCollectors()
	h.changeCollector(opts.ForegroundCollector)
	if opts.IgnoreMaxFootprint {
		h.maxAllowedFootprint.Store(uint64(opts.GrowthLimit))
		h.concurrentStartBytes.Store(math.MaxUint64)
	}
	h.tasks = newTaskProcessor(h)
	h.log.Debug("heap created", "options", opts.String(), "spaces", len(h.ContinuousSpaces()))
	return h, nil
}

func (h *Heap) createSpaces() error {
	o := &h.opts
	if o.ImageFile != "" {
		img, err := space.OpenImageSpace(o.ImageFile)
		if err != nil {
			return &ConfigError{Option: "ImageFile", Err: err}
		}
		h.imageSpace = img
	}
	begin, err := o.heapBegin(h.imageSpace)
	if err != nil {
		return err
	}
	next := begin
	reserve := func(n uintptr) mirror.Address {
		a := next
		next += mirror.Address(imath.AlignUp(n, mem.PageSize))
		return a
	}
	newMalloc := func(name string, initial, growth, capacity uintptr, rosAlloc bool) (*space.MallocSpace, error) {
		s, err := space.CreateMallocSpace(space.MallocSpaceConfig{
			Name:        name,
			Begin:       reserve(capacity),
			InitialSize: initial,
			GrowthLimit: growth,
			Capacity:    capacity,
			RosAlloc:    rosAlloc,
		})
		if err != nil {
			return nil, &ConfigError{Option: name, Err: err}
		}
		// Growth is decided by the heap, not the allocator.
		s.SetFootprintLimit(s.Capacity())
		return s, nil
	}

	switch {
	case o.ForegroundCollector.IsMoving():
		n := o.NonMovingSpaceCapacity
		if h.nonMovingSpace, err = newMalloc("non moving space", min(o.InitialSize, n), n, n, false); err != nil {
			return err
		}
		if o.ForegroundCollector == collector.CollectorTypeSS {
			if h.bumpPointerSpace, err = space.CreateBumpPointerSpace("bump pointer space 1", reserve(o.Capacity), o.Capacity); err != nil {
				return &ConfigError{Option: "Capacity", Err: err}
			}
			if h.tempSpace, err = space.CreateBumpPointerSpace("bump pointer space 2", reserve(o.Capacity), o.Capacity); err != nil {
				return &ConfigError{Option: "Capacity", Err: err}
			}
		} else {
			// Evacuation needs as much to-space as from-space.
			rsCap := imath.AlignUp(2*o.Capacity, space.RegionSize)
			if h.regionSpace, err = space.CreateRegionSpace("main space (region space)", reserve(rsCap), rsCap); err != nil {
				return &ConfigError{Option: "Capacity", Err: err}
			}
		}
	default:
		name := "main dlmalloc space"
		if o.UseRosAlloc {
			name = "main rosalloc space"
		}
		if h.mainSpace, err = newMalloc(name, o.InitialSize, o.GrowthLimit, o.Capacity, o.UseRosAlloc); err != nil {
			return err
		}
		h.nonMovingSpace = h.mainSpace
		if o.UseRosAlloc {
			h.rosAllocSpace = h.mainSpace
		}
	}
	continuousEnd := next
	if o.LargeObjectSpace != LargeObjectSpaceDisabled {
		if h.largeObjectSpace, err = space.CreateLargeObjectSpace("large object space", reserve(o.Capacity), o.Capacity); err != nil {
			return &ConfigError{Option: "LargeObjectSpace", Err: err}
		}
	}

	cardsBegin := begin
	if h.imageSpace != nil {
		cardsBegin = min(cardsBegin, h.imageSpace.Begin())
	}
	if h.cards, err = accounting.CreateCardTable(cardsBegin, uintptr(continuousEnd-cardsBegin)); err != nil {
		return &ConfigError{Option: "HeapBegin", Err: err}
	}

	for _, s := range []space.ContinuousSpace{h.imageSpace, h.nonMovingSpace, h.bumpPointerSpace, h.tempSpace, h.regionSpace} {
		if s != nil && !isNilSpace(s) {
			h.addContinuousSpace(s)
		}
	}
	if h.largeObjectSpace != nil {
		h.live.AddLargeObjectBitmap(h.largeObjectSpace.LiveBitmap())
		h.mark.AddLargeObjectBitmap(h.largeObjectSpace.MarkBitmap())
		h.updateSpaceSet(func(set *spaceSet) { set.los = h.largeObjectSpace })
	}
	return nil
}

// isNilSpace catches typed nil pointers stored in the interface.
func isNilSpace(s space.ContinuousSpace) bool {
	switch s := s.(type) {
	case *space.ImageSpace:
		return s == nil
	case *space.MallocSpace:
		return s == nil
	case *space.BumpPointerSpace:
		return s == nil
	case *space.RegionSpace:
		return s == nil
	case *space.ZygoteSpace:
		return s == nil
	}
	return false
}

// addContinuousSpace publishes s and adds its bitmaps to the heap's.
// Mutators must be suspended unless the heap is not yet shared.
func (h *Heap) addContinuousSpace(s space.ContinuousSpace) {
	// The region space keeps its mark bitmap to itself.
	if live := s.LiveBitmap(); live != nil {
		h.live.AddContinuousSpaceBitmap(live)
		h.mark.AddContinuousSpaceBitmap(s.MarkBitmap())
	}
	h.updateSpaceSet(func(set *spaceSet) {
		set.continuous = append(set.continuous, s)
		sort.Slice(set.continuous, func(i, j int) bool { return set.continuous[i].Begin() < set.continuous[j].Begin() })
	})
}

func (h *Heap) removeContinuousSpace(s space.ContinuousSpace) {
	if live := s.LiveBitmap(); live != nil {
		h.live.RemoveContinuousSpaceBitmap(live)
		h.mark.RemoveContinuousSpaceBitmap(s.MarkBitmap())
	}
	h.updateSpaceSet(func(set *spaceSet) {
		out := set.continuous[:0]
		for _, o := range set.continuous {
			if o != s {
				out = append(out, o)
			}
		}
		set.continuous = out
	})
}

func (h *Heap) updateSpaceSet(fn func(set *spaceSet)) {
	next := &spaceSet{}
	if old := h.spaces.Load(); old != nil {
		next.continuous = append([]space.ContinuousSpace(nil), old.continuous...)
		next.los = old.los
	}
	fn(next)
	h.spaces.Store(next)
}

// findSpace maps an address to the space holding it.
func (h *Heap) findSpace(a mirror.Address) space.Space {
	set := h.spaces.Load()
	if set == nil {
		return nil
	}
	cs := set.continuous
	i := sort.Search(len(cs), func(i int) bool { return cs[i].Limit() > a })
	if i < len(cs) && cs[i].Begin() <= a {
		return cs[i]
	}
	if set.los != nil && set.los.Contains(a) {
		return set.los
	}
	return nil
}

// FindContinuousSpaceFromAddress returns the continuous space whose
// range holds a, or nil.
func (h *Heap) FindContinuousSpaceFromAddress(a mirror.Address) space.ContinuousSpace {
	s, _ := h.findSpace(a).(space.ContinuousSpace)
	return s
}

// FindSpaceFromAddress returns the space holding a, or nil.
func (h *Heap) FindSpaceFromAddress(a mirror.Address) space.Space { return h.findSpace(a) }

func (h *Heap) createCollectors() {
	switch h.opts.ForegroundCollector {
	case collector.CollectorTypeSS:
		h.semiSpace = collector.NewSemiSpace(h)
		h.collectors = append(h.collectors, h.semiSpace)
	case collector.CollectorTypeCC:
		h.ccFull = collector.NewConcurrentCopying(h, false)
		h.collectors = append(h.collectors, h.ccFull)
		if h.opts.UseGenerationalCC {
			h.ccYoung = collector.NewConcurrentCopying(h, true)
			h.collectors = append(h.collectors, h.ccYoung)
		}
	default:
		// Both variants, so the heap can switch between them.
		for i, concurrent := range []bool{false, true} {
			for j, t := range []collector.GcType{collector.GcTypeSticky, collector.GcTypePartial, collector.GcTypeFull} {
				ms := collector.NewMarkSweep(h, t, concurrent)
				h.markSweeps[i*3+j] = ms
				h.collectors = append(h.collectors, ms)
			}
		}
	}
	if h.opts.ForegroundCollector.IsMoving() {
		h.zygoteCompactor = collector.NewZygoteCompactor(h)
	}
}

// Close stops the heap daemon and unmaps every space. The heap must not
// be used afterwards.
func (h *Heap) Close() error {
	if h.tasks != nil {
		h.tasks.stop()
	}
	return h.release()
}

func (h *Heap) release() error {
	var errs []error
	type releaser interface{ Release() error }
	rel := []releaser{}
	if set := h.spaces.Load(); set != nil {
		for _, s := range set.continuous {
			if r, ok := s.(releaser); ok {
				rel = append(rel, r)
			}
		}
	} else {
		// Spaces created before the failure are not published yet.
		for _, s := range []space.ContinuousSpace{h.imageSpace, h.nonMovingSpace, h.bumpPointerSpace, h.tempSpace, h.regionSpace} {
			if s != nil && !isNilSpace(s) {
				rel = append(rel, s.(releaser))
			}
		}
	}
	if h.largeObjectSpace != nil {
		rel = append(rel, h.largeObjectSpace)
	}
	if h.cards != nil {
		rel = append(rel, h.cards)
	}
	for _, r := range rel {
		if err := r.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Heap) Options() Options { return h.opts }

// The methods below let the collectors see the heap.

func (h *Heap) Logger() *slog.Logger                      { return h.log }
func (h *Heap) Classes() *mirror.ClassTable               { return h.classes }
func (h *Heap) Memory() space.Memory                      { return h.mem }
func (h *Heap) LargeObjectSpace() *space.LargeObjectSpace { return h.largeObjectSpace }
func (h *Heap) NonMovingSpace() *space.MallocSpace        { return h.nonMovingSpace }
func (h *Heap) MainSpace() *space.MallocSpace             { return h.mainSpace }
func (h *Heap) BumpPointerSpace() *space.BumpPointerSpace { return h.bumpPointerSpace }
func (h *Heap) TempSpace() *space.BumpPointerSpace        { return h.tempSpace }
func (h *Heap) RegionSpace() *space.RegionSpace           { return h.regionSpace }
func (h *Heap) ImageSpace() *space.ImageSpace             { return h.imageSpace }
func (h *Heap) ZygoteSpace() *space.ZygoteSpace           { return h.zygoteSpace }
func (h *Heap) CardTable() *accounting.CardTable          { return h.cards }
func (h *Heap) LiveBitmap() *accounting.HeapBitmap        { return &h.live }
func (h *Heap) MarkBitmap() *accounting.HeapBitmap        { return &h.mark }
func (h *Heap) AllocationStack() *accounting.ObjectStack  { return h.allocStack }
func (h *Heap) LiveStack() *accounting.ObjectStack        { return h.liveStack }
func (h *Heap) ParallelGCThreads() int                    { return h.opts.ParallelGCThreads }
func (h *Heap) ConcGCThreads() int                        { return h.opts.ConcGCThreads }

func (h *Heap) ContinuousSpaces() []space.ContinuousSpace {
	return h.spaces.Load().continuous
}

func (h *Heap) SwapStacks() { h.allocStack, h.liveStack = h.liveStack, h.allocStack }

func (h *Heap) SwapSemiSpaces() {
	h.bumpPointerSpace, h.tempSpace = h.tempSpace, h.bumpPointerSpace
}

func (h *Heap) MarkAllocStackAsLive(stack *accounting.ObjectStack) {
	for _, obj := range stack.Objects() {
		if obj != 0 {
			h.live.Set(obj)
		}
	}
}

// VisitRoots visits every thread's handles, the global references, the
// class objects and the values held by an open transaction.
func (h *Heap) VisitRoots(fn func(root *mirror.Address)) {
	h.threadsMu.Lock()
	for _, t := range h.threads {
		t.visitRoots(fn)
	}
	h.threadsMu.Unlock()
	h.globalsMu.Lock()
	for i := range h.globals {
		if h.globals[i] != 0 {
			fn(&h.globals[i])
		}
	}
	h.globalsMu.Unlock()
	h.classes.VisitRoots(fn)
	if tx := h.transaction.Load(); tx != nil {
		tx.visitRoots(fn)
	}
}

// SuspendAll stops every mutator at its next safepoint and returns with
// the mutator lock held exclusively.
func (h *Heap) SuspendAll(cause string) {
	h.suspendPending.Add(1)
	h.mutatorLock.Lock()
	h.suspendPending.Add(-1)
}

func (h *Heap) ResumeAll() { h.mutatorLock.Unlock() }

// RevokeAllThreadLocalBuffers folds every thread's buffers back into the
// spaces. Mutators must be suspended.
func (h *Heap) RevokeAllThreadLocalBuffers() {
	h.threadsMu.Lock()
	defer h.threadsMu.Unlock()
	for _, t := range h.threads {
		h.revokeThreadLocalBuffers(t)
	}
}

// revokeThreadLocalBuffers is idempotent.
func (h *Heap) revokeThreadLocalBuffers(t *Thread) {
	tl := &t.tl
	// Unused buffer bytes stay counted as allocated until the next GC
	// reconciles them, so the counts returned below are dropped.
	if h.bumpPointerSpace != nil {
		h.bumpPointerSpace.RevokeThreadLocalBuffers(tl)
	}
	if h.regionSpace != nil {
		h.regionSpace.RevokeThreadLocalBuffers(tl)
	}
	if h.rosAllocSpace != nil && tl.Runs != nil {
		h.rosAllocSpace.RevokeThreadLocalBuffers(tl)
	}
}

func (h *Heap) RecordFree(objects, bytes int64) {
	h.numBytesAllocated.Add(-bytes)
	if h.opts.Instrumentation {
		h.objectsAllocated.Add(^uint64(objects - 1))
		h.bytesAllocated.Add(^uint64(bytes - 1))
	}
}

func (h *Heap) getTargetUtilization() float64 {
	return math.Float64frombits(h.targetUtilization.Load())
}

func (h *Heap) setTargetUtilization(f float64) {
	h.targetUtilization.Store(math.Float64bits(f))
}

// SetTargetHeapUtilization changes the share of the footprint that
// should be live after a GC.
func (h *Heap) SetTargetHeapUtilization(f float64) {
	if f <= 0 || f >= 1 {
		panic(fmt.Sprintf("gc: target heap utilization %v is not in (0, 1)", f))
	}
	h.setTargetUtilization(f)
}

func (h *Heap) GetTargetHeapUtilization() float64 { return h.getTargetUtilization() }

var _ collector.Heap = (*Heap)(nil)
