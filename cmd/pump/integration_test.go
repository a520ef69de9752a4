// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/filepump/filepump/lib/broker"
	"github.com/filepump/filepump/lib/channel"
	"github.com/filepump/filepump/lib/locations"
)

// TestRunWatchStreamsThenEndsWhenBrokerStops drives the whole stack from
// the runner's own entry point: a real broker, a real goroutine-worker,
// and runWatch's channel-handshake-then-stream path, ending the stream
// by stopping the broker, which closes the worker's end of the channel.
func TestRunWatchStreamsThenEndsWhenBrokerStops(t *testing.T) {
	home := t.TempDir()
	locations.SetHome(home)

	target := t.TempDir()
	if err := os.WriteFile(filepath.Join(target, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// broker.New opens the control channel in Publisher role, which
	// blocks until a client opens the other end, so it runs alongside
	// runWatch rather than before it.
	brokerReady := make(chan *broker.Broker, 1)
	newErr := make(chan error, 1)
	serveDone := make(chan error, 1)
	go func() {
		b, err := broker.New(locations.ControlChannelPath(), locations.WorkerChannelPath)
		if err != nil {
			newErr <- err
			return
		}
		brokerReady <- b
		serveDone <- b.Serve(ctx)
	}()

	// runWatch must not try to open the control channel before its
	// FIFO files exist.
	for !channel.Exists(locations.ControlChannelPath()) {
		time.Sleep(5 * time.Millisecond)
	}

	watchDone := make(chan error, 1)
	go func() { watchDone <- runWatch(target, "") }()

	var b *broker.Broker
	select {
	case b = <-brokerReady:
	case err := <-newErr:
		t.Fatalf("broker.New: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("broker.New did not return once the runner connected")
	}

	// Give the worker time to start, hand a name to the client, and then
	// stop the broker so the worker's channel files go away underneath
	// runWatch's blocking Read, which must surface as a clean end rather
	// than an error.
	time.Sleep(200 * time.Millisecond)
	b.Stop()

	select {
	case err := <-watchDone:
		if err != nil {
			t.Fatalf("runWatch returned error = %v, want nil on peer hangup", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runWatch did not return after the broker stopped")
	}

	// b.Serve may still be blocked in its own control-channel Read
	// waiting for a second request that will never arrive (the design's
	// documented limitation: an in-flight blocking Read is not itself
	// interruptible by context cancellation, only by the process
	// exiting through the real signal-driven teardown path). Best effort
	// only, matching lib/broker's own tests.
	select {
	case <-serveDone:
	case <-time.After(500 * time.Millisecond):
	}
}
