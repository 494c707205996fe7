/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package primitives

import "sync/atomic"

// Lock is a single-owner exclusivity flag built on an atomic int32, the
// idiomatic Go reading of the teacher's atomicBool (src/http/atomic_bool.go)
// generalized to a non-reentrant try-lock: a goroutine that already
// holds it must not attempt to acquire it again (spec.md §5 "a small
// lock type built on atomics for single-owner exclusivity without
// re-entrancy"). It is not a sync.Mutex substitute — TryAcquire never
// blocks.
type Lock struct {
	held int32
}

// TryAcquire attempts to take exclusive ownership, returning true on
// success. It never blocks.
func (l *Lock) TryAcquire() bool {
	return atomic.CompareAndSwapInt32(&l.held, 0, 1)
}

// Release gives up ownership. Calling Release without a matching
// successful TryAcquire is a caller bug and is not detected at runtime,
// matching the teacher's bare atomicBool.setTrue/isSet pairing.
func (l *Lock) Release() {
	atomic.StoreInt32(&l.held, 0)
}

// Held reports whether the lock is currently owned by someone.
func (l *Lock) Held() bool {
	return atomic.LoadInt32(&l.held) != 0
}
