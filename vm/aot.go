// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import (
	"errors"
	"fmt"

	"github.com/MotorolaMobilityLLC/art-sub006/gc"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// ErrTransactionAborted is returned for an initializer that aborted its
// transaction.
var ErrTransactionAborted = errors.New("vm: transaction aborted")

// An AotClassLinker initializes classes ahead of time. Each
// initialization runs inside a heap transaction. When the initializer
// fails or aborts, every field it wrote and every class status it
// changed are rolled back and the class stays uninitialized, to be
// initialized again at run time.
type AotClassLinker struct {
	*ClassLinker
}

func NewAotClassLinker() *AotClassLinker {
	return &AotClassLinker{NewClassLinker()}
}

// InitializeClass runs init for c inside a transaction.
func (l *AotClassLinker) InitializeClass(self *gc.Thread, c *mirror.Class, init Initializer) error {
	if l.h == nil {
		return ErrNotLinked
	}
	l.initMu.Lock()
	defer l.initMu.Unlock()
	if c.Status() == mirror.StatusInitialized {
		return nil
	}
	tx, err := l.h.StartTransaction()
	if err != nil {
		return err
	}
	err = l.initializeLocked(self, c, init, false)
	if err == nil && tx.IsAborted() {
		err = fmt.Errorf("%w: %s", ErrTransactionAborted, tx.AbortMessage())
	}
	if err != nil {
		tx.Rollback(self)
		l.h.Logger().Debug("class initialization rolled back", "class", c.Descriptor(), "err", err)
		return err
	}
	tx.Commit()
	return nil
}

// AbortTransaction aborts the open transaction, if any. Initializers
// call it when they reach something that cannot run ahead of time.
func (l *AotClassLinker) AbortTransaction(msg string) {
	if tx := l.h.ActiveTransaction(); tx != nil {
		tx.Abort(msg)
	}
}
