// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

const (
	KB = 1 << 10
	MB = 1 << 20
	GB = 1 << 30
)

// DefaultHeapBegin is where the heap's first space starts when neither
// Options.HeapBegin nor an image says otherwise.
const DefaultHeapBegin mirror.Address = 0x12c00000

// LargeObjectSpaceType selects the large object space implementation.
type LargeObjectSpaceType uint8

const (
	LargeObjectSpaceMap LargeObjectSpaceType = iota
	LargeObjectSpaceDisabled
)

func (t LargeObjectSpaceType) String() string {
	if t == LargeObjectSpaceDisabled {
		return "disabled"
	}
	return "map"
}

// Options configures a Heap. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	InitialSize            uintptr
	GrowthLimit            uintptr // 0 means Capacity
	Capacity               uintptr
	NonMovingSpaceCapacity uintptr
	MinFree                uintptr
	MaxFree                uintptr
	TargetUtilization      float64

	// ForegroundHeapGrowthMultiplier scales the free space left after
	// a GC while the process state is jank perceptible.
	ForegroundHeapGrowthMultiplier float64

	ForegroundCollector collector.CollectorType
	// BackgroundCollector is used while the process is in the
	// background. CollectorTypeNone means the foreground collector.
	BackgroundCollector collector.CollectorType

	LargeObjectSpace     LargeObjectSpaceType
	LargeObjectThreshold uintptr

	ParallelGCThreads int // 0 means one per CPU but one
	ConcGCThreads     int

	LowMemoryMode      bool
	UseTLAB            bool
	UseGenerationalCC  bool
	UseRosAlloc        bool
	IgnoreMaxFootprint bool

	LongPauseLogThreshold time.Duration
	LongGCLogThreshold    time.Duration
	// AlwaysLogExplicitGCs logs every explicit GC whatever its length.
	AlwaysLogExplicitGCs bool

	// StopForNativeAllocs is the native byte count above which
	// registering native allocations blocks until a GC has run.
	StopForNativeAllocs uint64

	// AllocationStackSize is the capacity, in objects, of the
	// allocation and live stacks.
	AllocationStackSize int

	MeasureGCPerformance bool
	// Instrumentation keeps per-thread and global allocation counts.
	Instrumentation bool

	VerifyPreGcHeap           bool
	VerifyPreSweepingHeap     bool
	VerifyPostGcHeap          bool
	VerifyPreGcRosAlloc       bool
	VerifyPreSweepingRosAlloc bool
	VerifyPostGcRosAlloc      bool

	// ImageFile, if set, is mapped as the boot image space.
	ImageFile string
	// HeapBegin is the address of the first space after the image. Zero
	// means DefaultHeapBegin, or the page after the image if there is
	// one.
	HeapBegin mirror.Address

	Logger   *slog.Logger
	Observer Observer
}

// DefaultOptions returns the options the runtime starts with.
func DefaultOptions() Options {
	return Options{
		InitialSize:                    2 * MB,
		Capacity:                       256 * MB,
		NonMovingSpaceCapacity:         64 * MB,
		MinFree:                        512 * KB,
		MaxFree:                        2 * MB,
		TargetUtilization:              0.5,
		ForegroundHeapGrowthMultiplier: 2.0,
		ForegroundCollector:            collector.CollectorTypeCMS,
		LargeObjectSpace:               LargeObjectSpaceMap,
		LargeObjectThreshold:           3 * mem.PageSize,
		UseTLAB:                        true,
		UseGenerationalCC:              true,
		UseRosAlloc:                    true,
		LongPauseLogThreshold:          5 * time.Millisecond,
		LongGCLogThreshold:             100 * time.Millisecond,
		AlwaysLogExplicitGCs:           true,
		StopForNativeAllocs:            1 * GB,
		AllocationStackSize:            1 << 18,
	}
}

// validate fills in derived defaults and rejects inconsistent sizes.
func (o *Options) validate() error {
	if o.Capacity == 0 {
		return configErrorf("Capacity", "must be positive")
	}
	if o.GrowthLimit == 0 {
		o.GrowthLimit = o.Capacity
	}
	switch {
	case o.InitialSize > o.GrowthLimit:
		return configErrorf("InitialSize", "initial size %d exceeds growth limit %d", o.InitialSize, o.GrowthLimit)
	case o.GrowthLimit > o.Capacity:
		return configErrorf("GrowthLimit", "growth limit %d exceeds capacity %d", o.GrowthLimit, o.Capacity)
	case o.MinFree > o.MaxFree:
		return configErrorf("MinFree", "min free %d exceeds max free %d", o.MinFree, o.MaxFree)
	case o.TargetUtilization <= 0 || o.TargetUtilization >= 1:
		return configErrorf("TargetUtilization", "%v is not in (0, 1)", o.TargetUtilization)
	case o.ForegroundHeapGrowthMultiplier <= 0:
		return configErrorf("ForegroundHeapGrowthMultiplier", "%v is not positive", o.ForegroundHeapGrowthMultiplier)
	case o.AllocationStackSize <= 0:
		return configErrorf("AllocationStackSize", "must be positive")
	case o.HeapBegin%mem.PageSize != 0:
		return configErrorf("HeapBegin", "%v is not page aligned", o.HeapBegin)
	}
	switch o.ForegroundCollector {
	case collector.CollectorTypeMS, collector.CollectorTypeCMS, collector.CollectorTypeSS, collector.CollectorTypeCC:
	default:
		return configErrorf("ForegroundCollector", "%v cannot run as the heap's collector", o.ForegroundCollector)
	}
	if o.BackgroundCollector == collector.CollectorTypeNone {
		o.BackgroundCollector = o.ForegroundCollector
	}
	if o.BackgroundCollector != o.ForegroundCollector && !compatibleCollectors(o.ForegroundCollector, o.BackgroundCollector) {
		return configErrorf("BackgroundCollector", "cannot transition between %v and %v", o.ForegroundCollector, o.BackgroundCollector)
	}
	if o.ForegroundCollector.IsMoving() && o.NonMovingSpaceCapacity == 0 {
		return configErrorf("NonMovingSpaceCapacity", "a moving collector needs a non-moving space")
	}
	if o.ParallelGCThreads <= 0 {
		o.ParallelGCThreads = max(runtime.NumCPU()-1, 1)
	}
	if o.ConcGCThreads <= 0 {
		o.ConcGCThreads = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// compatibleCollectors reports whether the heap can switch between a
// and b in place. Only the mark-sweep pair shares a space layout.
func compatibleCollectors(a, b collector.CollectorType) bool {
	ms := func(t collector.CollectorType) bool {
		return t == collector.CollectorTypeMS || t == collector.CollectorTypeCMS
	}
	return ms(a) && ms(b)
}

// ParseOptions applies runtime option strings to DefaultOptions.
//
//	-Xms<size>                     initial size
//	-Xmx<size>                     capacity
//	-XX:HeapGrowthLimit=<size>
//	-XX:HeapMinFree=<size>
//	-XX:HeapMaxFree=<size>
//	-XX:NonMovingSpaceCapacity=<size>
//	-XX:HeapTargetUtilization=<f>
//	-XX:ForegroundHeapGrowthMultiplier=<f>
//	-Xgc:<collector>,[no]preverify,[no]presweepingverify,[no]postverify,
//	     [no]preverify_rosalloc,[no]presweepingverify_rosalloc,
//	     [no]postverify_rosalloc,[no]measure,[no]generational_cc
//	-XX:BackgroundGC=<collector>
//	-XX:LargeObjectSpace=map|disabled
//	-XX:LargeObjectThreshold=<size>
//	-XX:ParallelGCThreads=<n>
//	-XX:ConcGCThreads=<n>
//	-XX:LongPauseLogThreshold=<ms>
//	-XX:LongGCLogThreshold=<ms>
//	-XX:LowMemoryMode, -XX:UseTLAB, -XX:UseGenerationalCC,
//	-XX:IgnoreMaxFootprint, -XX:UseRosAlloc  with optional =true|false
//	-Ximage:<file>
//
// Sizes take an optional k, m or g suffix and must be multiples of 1 KiB.
func ParseOptions(args []string) (Options, error) {
	o := DefaultOptions()
	for _, arg := range args {
		if err := o.parse(arg); err != nil {
			return Options{}, err
		}
	}
	if err := o.validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

func (o *Options) parse(arg string) error {
	switch {
	case strings.HasPrefix(arg, "-Xms"):
		return parseSize(arg, arg[len("-Xms"):], &o.InitialSize)
	case strings.HasPrefix(arg, "-Xmx"):
		return parseSize(arg, arg[len("-Xmx"):], &o.Capacity)
	case strings.HasPrefix(arg, "-Xgc:"):
		return o.parseGC(arg[len("-Xgc:"):])
	case strings.HasPrefix(arg, "-Ximage:"):
		o.ImageFile = arg[len("-Ximage:"):]
		return nil
	case !strings.HasPrefix(arg, "-XX:"):
		return configErrorf(arg, "unrecognized option")
	}
	name, value, hasValue := strings.Cut(arg[len("-XX:"):], "=")
	switch name {
	case "HeapGrowthLimit":
		return parseSize(arg, value, &o.GrowthLimit)
	case "HeapMinFree":
		return parseSize(arg, value, &o.MinFree)
	case "HeapMaxFree":
		return parseSize(arg, value, &o.MaxFree)
	case "NonMovingSpaceCapacity":
		return parseSize(arg, value, &o.NonMovingSpaceCapacity)
	case "LargeObjectThreshold":
		return parseSize(arg, value, &o.LargeObjectThreshold)
	case "HeapTargetUtilization":
		return parseFloat(arg, value, &o.TargetUtilization)
	case "ForegroundHeapGrowthMultiplier":
		return parseFloat(arg, value, &o.ForegroundHeapGrowthMultiplier)
	case "ParallelGCThreads":
		return parseInt(arg, value, &o.ParallelGCThreads)
	case "ConcGCThreads":
		return parseInt(arg, value, &o.ConcGCThreads)
	case "LongPauseLogThreshold":
		return parseMillis(arg, value, &o.LongPauseLogThreshold)
	case "LongGCLogThreshold":
		return parseMillis(arg, value, &o.LongGCLogThreshold)
	case "BackgroundGC":
		t, ok := collector.ParseCollectorType(value)
		if !ok {
			return configErrorf(arg, "unknown collector %q", value)
		}
		o.BackgroundCollector = t
		return nil
	case "LargeObjectSpace":
		switch value {
		case "map":
			o.LargeObjectSpace = LargeObjectSpaceMap
		case "disabled":
			o.LargeObjectSpace = LargeObjectSpaceDisabled
		default:
			return configErrorf(arg, "unknown large object space %q", value)
		}
		return nil
	}
	flags := map[string]*bool{
		"LowMemoryMode":      &o.LowMemoryMode,
		"UseTLAB":            &o.UseTLAB,
		"UseGenerationalCC":  &o.UseGenerationalCC,
		"IgnoreMaxFootprint": &o.IgnoreMaxFootprint,
		"UseRosAlloc":        &o.UseRosAlloc,
	}
	p, ok := flags[name]
	if !ok {
		return configErrorf(arg, "unrecognized option")
	}
	if !hasValue {
		*p = true
		return nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return &ConfigError{Option: arg, Err: err}
	}
	*p = v
	return nil
}

func (o *Options) parseGC(list string) error {
	for _, opt := range strings.Split(list, ",") {
		if t, ok := collector.ParseCollectorType(opt); ok {
			o.ForegroundCollector = t
			continue
		}
		on := true
		name := opt
		if rest, ok := strings.CutPrefix(opt, "no"); ok {
			on, name = false, rest
		}
		switch name {
		case "preverify":
			o.VerifyPreGcHeap = on
		case "presweepingverify":
			o.VerifyPreSweepingHeap = on
		case "postverify":
			o.VerifyPostGcHeap = on
		case "preverify_rosalloc":
			o.VerifyPreGcRosAlloc = on
		case "presweepingverify_rosalloc":
			o.VerifyPreSweepingRosAlloc = on
		case "postverify_rosalloc":
			o.VerifyPostGcRosAlloc = on
		case "measure":
			o.MeasureGCPerformance = on
		case "generational_cc":
			o.UseGenerationalCC = on
		default:
			return configErrorf("-Xgc:"+opt, "unknown garbage collector option")
		}
	}
	return nil
}

// parseSize parses a byte count such as 512k or 16m.
func parseSize(arg, s string, dst *uintptr) error {
	if s == "" {
		return configErrorf(arg, "missing size")
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = KB
	case 'm', 'M':
		mult = MB
	case 'g', 'G':
		mult = GB
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return &ConfigError{Option: arg, Err: err}
	}
	if n != 0 && n*mult/mult != n {
		return configErrorf(arg, "size overflows")
	}
	n *= mult
	if n%KB != 0 {
		return configErrorf(arg, "%d is not a multiple of 1024", n)
	}
	*dst = uintptr(n)
	return nil
}

func parseFloat(arg, s string, dst *float64) error {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return &ConfigError{Option: arg, Err: err}
	}
	*dst = f
	return nil
}

func parseInt(arg, s string, dst *int) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return &ConfigError{Option: arg, Err: err}
	}
	if n < 0 {
		return configErrorf(arg, "%d is negative", n)
	}
	*dst = n
	return nil
}

func parseMillis(arg, s string, dst *time.Duration) error {
	var ms int
	if err := parseInt(arg, s, &ms); err != nil {
		return err
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

// heapBegin picks where the first non-image space goes.
func (o *Options) heapBegin(image *space.ImageSpace) (mirror.Address, error) {
	begin := o.HeapBegin
	if image == nil {
		if begin == 0 {
			begin = DefaultHeapBegin
		}
		return begin, nil
	}
	if begin == 0 {
		return mirror.Address(math.AlignUp(uintptr(image.Limit()), mem.PageSize)), nil
	}
	if begin < image.Limit() && image.Begin() < begin+mirror.Address(o.Capacity) {
		return 0, configErrorf("HeapBegin", "heap at %v overlaps image %s [%v, %v)", begin, o.ImageFile, image.Begin(), image.Limit())
	}
	return begin, nil
}

func (o Options) String() string {
	return fmt.Sprintf("initial=%d growth=%d capacity=%d collector=%v/%v los=%v threshold=%d",
		o.InitialSize, o.GrowthLimit, o.Capacity, o.ForegroundCollector, o.BackgroundCollector,
		o.LargeObjectSpace, o.LargeObjectThreshold)
}
