// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"testing"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

func TestTransactionRollback(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeMS))
	b := h.self.NewHandle(h.newPair(0, 0))
	a := h.self.NewHandle(h.newPair(b.Get(), 0))
	h.SetField64(h.self, a.Get(), pairValue, 1)

	tx, err := h.StartTransaction()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.StartTransaction(); err != ErrTransactionActive {
		t.Fatalf("second StartTransaction: %v, want ErrTransactionActive", err)
	}
	if h.ActiveTransaction() != tx {
		t.Fatal("ActiveTransaction is not the open transaction")
	}

	h.SetField64(h.self, a.Get(), pairValue, 2)
	h.SetField64(h.self, a.Get(), pairValue, 3)
	h.SetFieldObject(h.self, a.Get(), pairFirst, 0)
	h.SetFieldObject(h.self, a.Get(), pairSecond, a.Get())
	tx.RecordClassStatus(h.c.pair)
	h.c.pair.SetStatus(mirror.StatusVerified)
	tx.RecordClassStatus(h.c.pair)
	h.c.pair.SetStatus(mirror.StatusInitialized)

	// b is only reachable through the overwritten field.
	b.Set(0)
	h.CollectGarbage(h.self, false)

	tx.Abort("first")
	tx.Abort("second")
	if !tx.IsAborted() || tx.AbortMessage() != "first" {
		t.Errorf("abort message %q, want %q", tx.AbortMessage(), "first")
	}
	tx.Rollback(h.self)

	if h.ActiveTransaction() != nil {
		t.Error("transaction still active after Rollback")
	}
	if v := h.GetField64(h.self, a.Get(), pairValue); v != 1 {
		t.Errorf("value = %d after rollback, want 1", v)
	}
	first := h.field(a.Get(), pairFirst)
	if first == 0 || mirror.ClassOf(h.Memory(), h.c.ct, first) != h.c.pair {
		t.Errorf("first = %v after rollback, want the old pair", first)
	}
	if second := h.field(a.Get(), pairSecond); second != 0 {
		t.Errorf("second = %v after rollback, want null", second)
	}
	if s := h.c.pair.Status(); s != mirror.StatusNotReady {
		t.Errorf("class status %v after rollback, want %v", s, mirror.StatusNotReady)
	}
}

func TestTransactionCommit(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeMS))
	a := h.self.NewHandle(h.newPair(0, 0))
	tx, err := h.StartTransaction()
	if err != nil {
		t.Fatal(err)
	}
	h.SetField64(h.self, a.Get(), pairValue, 7)
	tx.Commit()
	if h.ActiveTransaction() != nil {
		t.Fatal("transaction still active after Commit")
	}
	if v := h.GetField64(h.self, a.Get(), pairValue); v != 7 {
		t.Errorf("value = %d after commit, want 7", v)
	}
	// Writes after the commit are not recorded.
	h.SetField64(h.self, a.Get(), pairValue, 8)
	tx.Rollback(h.self)
	if v := h.GetField64(h.self, a.Get(), pairValue); v != 8 {
		t.Errorf("value = %d after a late rollback, want 8", v)
	}
	if _, err := h.StartTransaction(); err != nil {
		t.Errorf("StartTransaction after commit: %v", err)
	}
}
