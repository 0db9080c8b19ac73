// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collector

import "fmt"

// GcType says how much of the heap a collection looks at. The order
// matters: a larger type collects a superset of a smaller one.
type GcType uint8

const (
	GcTypeNone GcType = iota
	// Sticky collects only objects allocated since the last GC.
	GcTypeSticky
	// Partial collects everything except the image and zygote spaces.
	GcTypePartial
	// Full collects everything except the image spaces.
	GcTypeFull
)

func (t GcType) String() string {
	switch t {
	case GcTypeNone:
		return "none"
	case GcTypeSticky:
		return "sticky"
	case GcTypePartial:
		return "partial"
	case GcTypeFull:
		return "full"
	}
	return fmt.Sprintf("GcType(%d)", t)
}

// GcCause is why a collection ran.
type GcCause uint8

const (
	GcCauseNone GcCause = iota
	GcCauseForAlloc
	GcCauseBackground
	GcCauseExplicit
	GcCauseForNativeAlloc
	GcCauseCollectorTransition
	GcCauseHomogeneousSpaceCompact
	GcCauseTrim
	GcCauseZygote
)

var causeNames = [...]string{
	GcCauseNone:                    "None",
	GcCauseForAlloc:                "Alloc",
	GcCauseBackground:              "Background",
	GcCauseExplicit:                "Explicit",
	GcCauseForNativeAlloc:          "NativeAlloc",
	GcCauseCollectorTransition:     "CollectorTransition",
	GcCauseHomogeneousSpaceCompact: "HomogeneousSpaceCompact",
	GcCauseTrim:                    "HeapTrim",
	GcCauseZygote:                  "Zygote",
}

func (c GcCause) String() string {
	if int(c) < len(causeNames) {
		return causeNames[c]
	}
	return fmt.Sprintf("GcCause(%d)", c)
}

// CollectorType names a collector, or a heap operation that must not
// overlap a collection.
type CollectorType uint8

const (
	CollectorTypeNone CollectorType = iota
	CollectorTypeMS                 // non-concurrent mark-sweep
	CollectorTypeCMS                // concurrent mark-sweep
	CollectorTypeSS                 // semi-space
	CollectorTypeCC                 // concurrent copying
	CollectorTypeZygote             // zygote compaction
	CollectorTypeHeapTrim
	// CriticalSection blocks collections while the heap is inspected with
	// mutators suspended.
	CollectorTypeCriticalSection
)

var collectorNames = [...]string{
	CollectorTypeNone:     "None",
	CollectorTypeMS:       "MS",
	CollectorTypeCMS:      "CMS",
	CollectorTypeSS:       "SS",
	CollectorTypeCC:       "CC",
	CollectorTypeZygote:   "Zygote",
	CollectorTypeHeapTrim: "HeapTrim",

	CollectorTypeCriticalSection: "CriticalSection",
}

func (t CollectorType) String() string {
	if int(t) < len(collectorNames) {
		return collectorNames[t]
	}
	return fmt.Sprintf("CollectorType(%d)", t)
}

// IsMoving reports whether the collector relocates objects.
func (t CollectorType) IsMoving() bool {
	return t == CollectorTypeSS || t == CollectorTypeCC
}

// ParseCollectorType maps the runtime option names to a collector.
func ParseCollectorType(s string) (CollectorType, bool) {
	switch s {
	case "MS":
		return CollectorTypeMS, true
	case "CMS":
		return CollectorTypeCMS, true
	case "SS":
		return CollectorTypeSS, true
	case "CC":
		return CollectorTypeCC, true
	}
	return CollectorTypeNone, false
}
