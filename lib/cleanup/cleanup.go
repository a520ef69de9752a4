// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cleanup is the signal-safe teardown path (C5): exactly one
// registration slot per process, installed once, that runs a teardown
// hook before re-raising the received signal so the parent shell still
// sees the ordinary termination status.
//
// The original C source stashes the "current worker" in a process
// global so its async-signal-unsafe handler can find it; this package
// keeps that same one-slot-per-process shape (per the design notes) but
// exposes it through a typed holder with explicit Register/Clear instead
// of ambient global state.
package cleanup

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/filepump/filepump/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("cleanup", "signal-safe teardown")

// Teardown is a caller-supplied function that releases whatever
// resources this process owns: closing a channel, removing its files,
// restoring a working directory. It must be safe to call more than once
// (the exit path and a concurrent signal may both invoke it).
type Teardown func()

type holder struct {
	mu       sync.Mutex
	teardown Teardown
	sigCh    chan os.Signal
	started  bool
}

var h holder

// Register installs fn as this process's single teardown hook and, on
// first call, starts the signal-handling goroutine. Calling Register
// again replaces the hook (a worker that moves from "enumerating" to
// "idling" to a new channel generation re-registers as its held
// resources change).
func Register(fn Teardown) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.teardown = fn

	if !h.started {
		h.started = true
		h.sigCh = make(chan os.Signal, 1)
		signal.Notify(h.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
		go h.loop()
	}
}

// Clear removes the registered teardown hook without stopping the
// signal-handling goroutine (a later Register can reinstall one).
func Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardown = nil
}

func (h *holder) loop() {
	for sig := range h.sigCh {
		h.mu.Lock()
		fn := h.teardown
		h.mu.Unlock()

		l.Infof("received signal %v, tearing down", sig)
		if fn != nil {
			fn()
		}

		signal.Stop(h.sigCh)
		signal.Reset(sig)

		unixSig, ok := sig.(syscall.Signal)
		if !ok {
			os.Exit(1)
		}
		// Re-raise so the parent shell observes the normal
		// termination status for this signal, rather than the process
		// merely calling os.Exit with an unrelated code.
		_ = syscall.Kill(os.Getpid(), unixSig)

		// Give the re-raised signal a moment to land before falling
		// back to a plain exit.
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}
}
