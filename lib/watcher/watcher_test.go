// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/filepump/filepump/lib/channel"
)

func openPair(t *testing.T, base string) (*channel.Channel, *channel.Channel) {
	t.Helper()
	type result struct {
		ch  *channel.Channel
		err error
	}
	pubCh := make(chan result, 1)
	go func() {
		c, err := channel.Open(base, channel.OpenFlags{Role: channel.Publisher, Create: true, Permission: 0o600})
		pubCh <- result{c, err}
	}()

	sub, err := channel.Open(base, channel.OpenFlags{Role: channel.Subscriber})
	if err != nil {
		t.Fatalf("open subscriber: %v", err)
	}
	r := <-pubCh
	if r.err != nil {
		t.Fatalf("open publisher: %v", r.err)
	}
	return r.ch, sub
}

func TestScanEmitsNewFilesOnce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	base := filepath.Join(t.TempDir(), "chan")
	pub, sub := openPair(t, base)
	defer pub.Close()
	defer sub.Close()
	defer channel.Remove(base)

	wctx, err := NewContext(dir, pub)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wctx.Run(ctx) }()

	if err := sub.Read(); err != nil {
		t.Fatalf("read name: %v", err)
	}
	if got := sub.Payload(); got != "a.txt" {
		t.Errorf("first emitted name = %q, want a.txt (hidden file must be skipped)", got)
	}

	if err := sub.Read(); err != nil {
		t.Fatalf("read DONE: %v", err)
	}
	if got := sub.Payload(); got != channel.TokenDone {
		t.Fatalf("payload = %q, want DONE", got)
	}

	if err := sub.Send(channel.TokenStop); err != nil {
		t.Fatalf("send STOP: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after STOP")
	}
	cancel()
}

func TestResetFilterReemitsNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	base := filepath.Join(t.TempDir(), "chan")
	pub, sub := openPair(t, base)
	defer pub.Close()
	defer sub.Close()
	defer channel.Remove(base)

	wctx, err := NewContext(dir, pub)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if seen := wctx.seen("a.txt"); seen {
		t.Fatal("a.txt should not be seen yet")
	}
	if !wctx.seen("a.txt") {
		t.Fatal("a.txt should now be marked seen")
	}

	wctx.ResetFilter()
	if wctx.seen("a.txt") {
		t.Error("after ResetFilter, a.txt should be reported unseen again")
	}
}

func TestNewContextRejectsSubscriberRole(t *testing.T) {
	base := filepath.Join(t.TempDir(), "chan")
	pub, sub := openPair(t, base)
	defer pub.Close()
	defer sub.Close()
	defer channel.Remove(base)

	if _, err := NewContext(t.TempDir(), sub); err == nil {
		t.Fatal("expected NewContext to reject a Subscriber-role channel")
	}
}
