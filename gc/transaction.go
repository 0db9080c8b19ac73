// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"errors"
	"sync"

	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// ErrTransactionActive is returned when a transaction is started while
// another one is open.
var ErrTransactionActive = errors.New("gc: a transaction is already active")

// A Transaction records heap field writes and class status changes so
// they can be undone, as done while initializing classes ahead of time.
// While a transaction is open the objects it wrote to and the references
// it overwrote stay reachable.
type Transaction struct {
	h *Heap

	mu       sync.Mutex
	fields   []fieldRecord
	seen     map[fieldKey]bool
	classes  []classRecord
	aborted  bool
	abortMsg string
}

type fieldKey struct {
	obj    mirror.Address
	offset uintptr
}

type fieldRecord struct {
	obj    mirror.Address
	offset uintptr
	isRef  bool
	ref    mirror.Address // old value of a reference field
	prim   uint64
}

type classRecord struct {
	c   *mirror.Class
	old mirror.ClassStatus
}

// StartTransaction opens a transaction on the heap.
func (h *Heap) StartTransaction() (*Transaction, error) {
	tx := &Transaction{h: h, seen: make(map[fieldKey]bool)}
	if !h.transaction.CompareAndSwap(nil, tx) {
		return nil, ErrTransactionActive
	}
	return tx, nil
}

// ActiveTransaction returns the open transaction or nil.
func (h *Heap) ActiveTransaction() *Transaction { return h.transaction.Load() }

// recordField keeps the first value seen at obj+offset.
func (tx *Transaction) recordField(obj mirror.Address, offset uintptr, old uint64, isRef bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	k := fieldKey{obj, offset}
	if tx.seen[k] {
		return
	}
	tx.seen[k] = true
	r := fieldRecord{obj: obj, offset: offset, isRef: isRef}
	if isRef {
		r.ref = mirror.Address(old)
	} else {
		r.prim = old
	}
	tx.fields = append(tx.fields, r)
}

// RecordClassStatus remembers the status of c before the transaction
// first changes it.
func (tx *Transaction) RecordClassStatus(c *mirror.Class) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, r := range tx.classes {
		if r.c == c {
			return
		}
	}
	tx.classes = append(tx.classes, classRecord{c, c.Status()})
}

// Abort marks the transaction as failed. The first message is kept.
func (tx *Transaction) Abort(msg string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.aborted {
		tx.aborted = true
		tx.abortMsg = msg
	}
}

func (tx *Transaction) IsAborted() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.aborted
}

func (tx *Transaction) AbortMessage() string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.abortMsg
}

// Commit closes the transaction and keeps its writes.
func (tx *Transaction) Commit() {
	tx.h.transaction.CompareAndSwap(tx, nil)
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.fields = nil
	clear(tx.seen)
	tx.classes = nil
}

// Rollback closes the transaction and restores every field and class
// status it recorded, newest class change last.
func (tx *Transaction) Rollback(self *Thread) {
	h := tx.h
	self.enter()
	defer self.leave()
	// Close first so the restoring stores are not recorded.
	h.transaction.CompareAndSwap(tx, nil)
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i := len(tx.fields) - 1; i >= 0; i-- {
		r := &tx.fields[i]
		slot := r.obj + mirror.Address(r.offset)
		if r.isRef {
			h.mem.Store(slot, uint64(r.ref))
			h.WriteBarrier(r.obj)
		} else {
			h.mem.Store(slot, r.prim)
		}
	}
	for _, r := range tx.classes {
		r.c.RestoreStatus(r.old)
	}
	tx.fields = nil
	clear(tx.seen)
	tx.classes = nil
}

// visitRoots reports the written objects and the overwritten references.
// Mutators are suspended, so tx.mu is free.
func (tx *Transaction) visitRoots(fn func(root *mirror.Address)) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	moved := false
	for i := range tx.fields {
		r := &tx.fields[i]
		before := r.obj
		fn(&r.obj)
		moved = moved || r.obj != before
		if r.isRef && r.ref != 0 {
			fn(&r.ref)
		}
	}
	if moved {
		clear(tx.seen)
		for _, r := range tx.fields {
			tx.seen[fieldKey{r.obj, r.offset}] = true
		}
	}
}
