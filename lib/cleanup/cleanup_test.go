// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package cleanup

import (
	"sync/atomic"
	"testing"
)

func TestRegisterReplacesHook(t *testing.T) {
	var calls int32

	Register(func() { atomic.AddInt32(&calls, 1) })
	Register(func() { atomic.AddInt32(&calls, 10) })

	h.mu.Lock()
	fn := h.teardown
	h.mu.Unlock()
	if fn == nil {
		t.Fatal("expected a registered teardown hook")
	}
	fn()

	if got := atomic.LoadInt32(&calls); got != 10 {
		t.Errorf("calls = %d, want 10 (only the latest registration should fire)", got)
	}
}

func TestClearRemovesHook(t *testing.T) {
	Register(func() {})
	Clear()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.teardown != nil {
		t.Error("expected teardown to be nil after Clear")
	}
}

func TestTeardownSafeToCallTwice(t *testing.T) {
	var calls int32
	fn := func() { atomic.AddInt32(&calls, 1) }

	fn()
	fn()

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}
