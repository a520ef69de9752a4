// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"os"
	"testing"
	"time"

	"github.com/filepump/filepump/lib/locations"
)

func TestReadPidRoundTrips(t *testing.T) {
	locations.SetHome(t.TempDir())
	if err := os.MkdirAll(locations.StateDirectory(), 0o700); err != nil {
		t.Fatalf("mkdir state dir: %v", err)
	}

	if err := writePidFile(); err != nil {
		t.Fatalf("writePidFile: %v", err)
	}

	pid, err := readPid()
	if err != nil {
		t.Fatalf("readPid: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestReadPidMissingFile(t *testing.T) {
	locations.SetHome(t.TempDir())

	if _, err := readPid(); err != errNotRunning {
		t.Errorf("readPid with no pid file = %v, want errNotRunning", err)
	}
}

func TestWaitForPidFileSucceedsOnceWritten(t *testing.T) {
	locations.SetHome(t.TempDir())
	if err := os.MkdirAll(locations.StateDirectory(), 0o700); err != nil {
		t.Fatalf("mkdir state dir: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = writePidFile()
	}()

	if err := waitForPidFile(os.Getpid(), time.Second); err != nil {
		t.Fatalf("waitForPidFile: %v", err)
	}
}

func TestWaitForPidFileTimesOutOnMismatch(t *testing.T) {
	locations.SetHome(t.TempDir())
	if err := os.MkdirAll(locations.StateDirectory(), 0o700); err != nil {
		t.Fatalf("mkdir state dir: %v", err)
	}
	if err := writePidFile(); err != nil {
		t.Fatalf("writePidFile: %v", err)
	}

	if err := waitForPidFile(os.Getpid()+1, 100*time.Millisecond); err == nil {
		t.Fatal("expected a timeout error waiting for a pid that never appears")
	}
}
