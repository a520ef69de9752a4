// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package broker implements the control plane (C4): the long-lived
// daemon that accepts "watch this directory" requests on a well-known
// control channel, mints a fresh per-watch channel identifier, and
// starts a worker to serve it.
//
// The design's worker is a forked, double-forked-to-reparent OS
// process; Go has no fork(), so this reimplementation runs each worker
// as a goroutine instead, supervised by a thejerf/suture tree the same
// way the teacher wraps its long-running components (see
// lib/suturewrap) so a worker's panic or returned error is isolated and
// logged rather than taking the daemon down — the crash-isolation
// property process-per-worker gave the original.
package broker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/thejerf/suture/v4"

	"github.com/filepump/filepump/lib/channel"
	"github.com/filepump/filepump/lib/logger"
	"github.com/filepump/filepump/lib/metrics"
	"github.com/filepump/filepump/lib/rand"
	"github.com/filepump/filepump/lib/watcher"
)

var l = logger.DefaultLogger.NewFacility("broker", "control plane and worker lifecycle")

// mintedCacheSize bounds the collision-memory LRU; identifiers are
// six hex characters (24 bits) derived from a monotonic counter, the
// daemon's own pid and a random value, so two identifiers can collide
// at any time, which this cache exists to catch.
const mintedCacheSize = 4096

// Broker is the control-channel endpoint and worker registry for one
// daemon process.
type Broker struct {
	sup     *suture.Supervisor
	ctl     *channel.Channel
	resolve func(id string) string
	cancel  context.CancelFunc

	seq    uint64
	minted *lru.Cache[string, struct{}]
	active *xsync.MapOf[string, suture.ServiceToken]
}

// New constructs a Broker whose control channel lives at controlPath.
// The channel's files are created if absent, per spec.md §4.4 step 1.
// resolve computes the on-disk base directory for a minted worker
// identifier; callers (cmd/pumpd) wire this to
// lib/locations.WorkerChannelPath.
func New(controlPath string, resolve func(id string) string) (*Broker, error) {
	ctl, err := channel.Open(controlPath, channel.OpenFlags{
		Role:       channel.Publisher,
		Create:     true,
		Permission: 0o600,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: open control channel: %w", err)
	}

	minted, err := lru.New[string, struct{}](mintedCacheSize)
	if err != nil {
		ctl.Close()
		return nil, fmt.Errorf("broker: minted cache: %w", err)
	}

	return &Broker{
		sup:     suture.NewSimple("filepump-broker"),
		ctl:     ctl,
		resolve: resolve,
		minted:  minted,
		active:  xsync.NewMapOf[string, suture.ServiceToken](),
	}, nil
}

// ControlChannel returns the broker's control-channel endpoint, for the
// daemon's teardown path to close and remove.
func (b *Broker) ControlChannel() *channel.Channel { return b.ctl }

// Serve runs the control loop until ctx is canceled: read one request,
// mint an identifier, start its worker, busy-wait for the worker's
// channel files to exist, and reply — never multiplexing more than one
// request at a time on the control channel, per spec.md §4.4's
// invariant.
func (b *Broker) Serve(ctx context.Context) error {
	supCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	defer cancel()

	supDone := make(chan error, 1)
	go func() { supDone <- b.sup.Serve(supCtx) }()

	for {
		if ctx.Err() != nil {
			<-supDone
			return nil
		}

		if err := b.ctl.Read(); err != nil {
			return fmt.Errorf("broker: control read: %w", err)
		}

		target := b.ctl.Payload()
		if target == "" {
			continue
		}
		metrics.ControlRequestsTotal.Inc()

		id, err := b.startWorker(target)
		if err != nil {
			l.Warnf("starting worker for %s: %v", target, err)
			if sendErr := b.ctl.Send(""); sendErr != nil {
				return fmt.Errorf("broker: control reply: %w", sendErr)
			}
			continue
		}

		if err := b.ctl.Send(id); err != nil {
			return fmt.Errorf("broker: control reply: %w", err)
		}
	}
}

// worker is a single watch, wired into the supervisor tree as a
// suture.Service. Unlike the design's forked child, which opens its
// channel end (and so blocks until a consumer connects) in its own OS
// process without affecting the broker, a worker here must do that
// Open inside its own Serve call — never in startWorker — so the
// control loop is free to reply with the minted identifier the moment
// the channel's files exist, exactly as spec.md §4.4.e requires,
// instead of blocking the whole broker on a client that may not open
// its end for some time.
type worker struct {
	id     string
	base   string
	target string
	done   func()
}

// Serve satisfies suture.Service: open the channel in Publisher role
// (blocking here, in this worker's own goroutine, until the runner
// connects as Subscriber), run the watch engine until it exits, then
// tear down the channel's files unconditionally.
func (w *worker) Serve(ctx context.Context) error {
	defer w.done()

	ch, err := channel.Open(w.base, channel.OpenFlags{Role: channel.Publisher})
	if err != nil {
		channel.Remove(w.base)
		return fmt.Errorf("broker: worker %s: open channel: %w", w.id, err)
	}
	defer func() {
		ch.Close()
		if err := channel.Remove(w.base); err != nil {
			l.Warnf("removing channel files for %s: %v", w.id, err)
		}
	}()

	if err := ch.Link(); err != nil {
		return fmt.Errorf("broker: worker %s: handshake: %w", w.id, err)
	}

	wctx, err := watcher.NewContext(w.target, ch)
	if err != nil {
		return fmt.Errorf("broker: worker %s: %w", w.id, err)
	}

	if err := wctx.Run(ctx); err != nil {
		return fmt.Errorf("broker: worker %s: %w", w.id, err)
	}
	return nil
}

// startWorker mints an identifier, creates its channel's FIFO files, and
// registers a worker service in the supervisor tree. It returns once
// the files exist on disk — the design's required synchronization so
// the broker never hands a client an identifier that isn't yet
// openable — without waiting for a consumer to actually open them,
// which happens asynchronously inside the worker's own Serve call.
func (b *Broker) startWorker(target string) (string, error) {
	id := b.mintID()
	base := b.resolve(id)

	if err := channel.Create(base, 0o600); err != nil {
		return "", fmt.Errorf("create worker channel: %w", err)
	}
	if !channel.Exists(base) {
		channel.Remove(base)
		return "", fmt.Errorf("worker channel %s did not materialize", id)
	}

	var once sync.Once
	w := &worker{id: id, base: base, target: target}
	w.done = func() {
		once.Do(func() {
			b.active.Delete(id)
			metrics.WorkersActive.Dec()
		})
	}

	metrics.WorkersActive.Inc()
	token := b.sup.Add(w)
	b.active.Store(id, token)

	l.Infof("started worker %s for %s", id, target)
	return id, nil
}

// mintID derives a six-character identifier from the daemon's pid, a
// monotonic per-broker counter, and a fresh random value, retrying on
// the (vanishingly unlikely) event of a collision against the minted
// cache — the goroutine-per-worker analog of the design's "derive from
// the fresh worker's pid" uniqueness rule, since every worker here
// shares one OS pid. The random component additionally guards against
// two successive broker processes (restarted with the same pid reused
// by the OS) minting identical identifiers for leftover channel
// directories a crashed prior run never cleaned up.
func (b *Broker) mintID() string {
	for {
		n := atomic.AddUint64(&b.seq, 1)
		mix := uint64(os.Getpid())*2654435761 + n + rand.Uint64()
		id := fmt.Sprintf("%06x", mix&0xFFFFFF)

		if _, collided := b.minted.Get(id); !collided {
			b.minted.Add(id, struct{}{})
			return id
		}
	}
}

// Stop cancels the supervisor tree, unwinding every active worker. It
// does not touch the control channel's files; that is the daemon's own
// teardown responsibility (spec.md §4.4 step 3), since a blocking
// control-channel Read cannot itself be interrupted by context
// cancellation (per the design's no-read-timeouts rule, cancellation of
// an in-flight Read is only ever achieved by the process exiting).
func (b *Broker) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// ActiveWorkers reports the identifiers of currently running workers.
// cmd/pumpd's `stat` command does not use it: it runs in a separate
// process and only reads the pid file.
func (b *Broker) ActiveWorkers() []string {
	var ids []string
	b.active.Range(func(id string, _ suture.ServiceToken) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}
