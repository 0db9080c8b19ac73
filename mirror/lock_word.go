// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mirror

// A LockWord is the second header word of an object. The top two bits
// hold the state; a moving collector stores the forwarding address of an
// evacuated object in it.
type LockWord uint64

type LockState uint8

const (
	LockStateUnlocked LockState = iota
	LockStateThinLocked
	LockStateHash
	LockStateForwardingAddress
)

const (
	lockStateShift = 62
	lockValueMask  = 1<<lockStateShift - 1
)

func (lw LockWord) State() LockState { return LockState(lw >> lockStateShift) }

// ForwardingAddress returns the new location of a moved object.
func (lw LockWord) ForwardingAddress() Address {
	if lw.State() != LockStateForwardingAddress {
		panic("mirror: lock word holds no forwarding address")
	}
	return Address(lw & lockValueMask)
}

// ForwardingLockWord returns the lock word recording that an object
// moved to a.
func ForwardingLockWord(a Address) LockWord {
	return LockWord(LockStateForwardingAddress)<<lockStateShift | LockWord(a)&lockValueMask
}

func GetLockWord(m Memory, obj Address) LockWord {
	return LockWord(m.Load(obj + LockWordOffset))
}

func SetLockWord(m Memory, obj Address, lw LockWord) {
	m.Store(obj+LockWordOffset, uint64(lw))
}

// CasLockWord installs lw if the lock word still holds old.
func CasLockWord(m Memory, obj Address, old, lw LockWord) bool {
	return m.CompareAndSwap(obj+LockWordOffset, uint64(old), uint64(lw))
}
