// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"errors"
	"testing"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

func TestVerifiedCollections(t *testing.T) {
	for _, ct := range allCollectorTypes {
		o := testOptions(ct)
		o.VerifyPreGcHeap = true
		o.VerifyPreSweepingHeap = true
		o.VerifyPostGcHeap = true
		o.VerifyPreGcRosAlloc = true
		o.VerifyPreSweepingRosAlloc = true
		o.VerifyPostGcRosAlloc = true
		h := newTestHeap(t, o)
		root := h.self.NewHandle(h.newPair(0, 0))
		for i := 0; i < 100; i++ {
			h.self.Runnable(func() {
				p := h.newPair(0, 0)
				h.SetFieldObject(h.self, p, pairFirst, h.field(root.Get(), pairFirst))
				if i%2 == 0 {
					h.SetFieldObject(h.self, root.Get(), pairFirst, p)
				}
			})
		}
		h.CollectGarbage(h.self, false)
		h.CollectGarbage(h.self, false)
		h.VerifyHeap(h.self)
	}
}

func TestVerifyHeapFindsBadReference(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeMS))
	a := h.self.NewHandle(h.newPair(0, 0))
	h.SetFieldObject(h.self, a.Get(), pairFirst, a.Get()+mirror.ObjectAlignment)

	func() {
		defer func() {
			var ve *VerificationError
			err, _ := recover().(error)
			if !errors.As(err, &ve) {
				t.Fatalf("VerifyHeap recovered %v, want a *VerificationError", err)
			}
			if ve.Failures != 1 || ve.Phase != "explicit" {
				t.Errorf("VerificationError = %+v", ve)
			}
		}()
		h.VerifyHeap(h.self)
	}()

	h.SetFieldObject(h.self, a.Get(), pairFirst, 0)
	h.VerifyHeap(h.self)
}
