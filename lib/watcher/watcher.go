// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package watcher is the watch engine (C3): given a target directory and
// an open duplex channel endpoint in Publisher role, it streams the name
// of every regular file that appears in the directory, at most once per
// worker lifetime, indefinitely across scans.
//
// The scan/idle state machine and the enumeration rules below are
// modeled in shape on the teacher's directory-watching package,
// lib/fswatcher — a stat-driven watch loop with an explicit idle
// interval — adapted here from an fsnotify-event model to the polling
// model the design requires, with a Bloom filter standing in for the
// teacher's exact-membership ignore cache (lib/ignore) because exact
// tracking is unaffordable over a worker's unbounded lifetime.
package watcher

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/greatroar/blobloom"
	"golang.org/x/time/rate"

	"github.com/filepump/filepump/lib/channel"
	"github.com/filepump/filepump/lib/logger"
	"github.com/filepump/filepump/lib/metrics"
)

var l = logger.DefaultLogger.NewFacility("watcher", "directory watch engine")

// filterCapacity and filterFPRate size the Bloom filter for roughly
// 250,000 expected names at a low single-digit-percent false-positive
// rate, per the design's stated trade-off: an occasional silently
// skipped new file is preferable to exact tracking over a long-lived
// worker.
const (
	filterCapacity = 250_000
	filterFPRate   = 0.02
)

// idleInterval is the idle loop's stat-poll period. The design only
// requires "~100µs granularity is sufficient; the exact interval is an
// implementation choice" — polling the filesystem every 100µs would
// burn a core for no benefit, so this picks a coarser, still-responsive
// interval.
const idleInterval = 50 * time.Millisecond

// Context is one worker's watch-engine state: the target directory, its
// publisher-role channel endpoint, and the duplicate-suppression
// filter.
type Context struct {
	target string
	ch     *channel.Channel

	mu     sync.Mutex
	filter *blobloom.Filter

	lastScan time.Time
	savedCwd string
}

// NewContext builds a watch context for target, streaming names over ch.
// ch must already be open in Publisher role.
func NewContext(target string, ch *channel.Channel) (*Context, error) {
	if ch.Role() != channel.Publisher {
		return nil, errNotPublisher
	}
	return &Context{
		target: target,
		ch:     ch,
		filter: newFilter(),
	}, nil
}

func newFilter() *blobloom.Filter {
	return blobloom.NewOptimized(blobloom.Config{
		Capacity: filterCapacity,
		FPRate:   filterFPRate,
	})
}

// ResetFilter replaces the context's duplicate-suppression filter with a
// fresh, empty one, so every currently-present name will be re-emitted
// on the worker's next scan. This answers Open Question 1 (spec.md §8):
// reset is administrative only, triggered by an explicit RESET token
// read from the channel's subscriber direction, never automatic.
func (c *Context) ResetFilter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = newFilter()
	l.Infof("filter reset for %s", c.target)
}

func (c *Context) seen(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := xxhash.Sum64String(name)
	if c.filter.Has(h) {
		return true
	}
	c.filter.Add(h)
	return false
}

// errNotPublisher is returned by NewContext when given a channel that
// isn't in Publisher role; the watch engine only ever produces names, it
// never consumes them from the subscriber side.
var errNotPublisher = watchErr("watcher: channel must be opened in Publisher role")

type watchErr string

func (e watchErr) Error() string { return string(e) }

// Run drives the worker's state machine until it receives STOP from its
// peer, hits a fatal channel I/O error, or ctx is canceled. It saves and
// restores the caller's working directory around the target directory
// (the current-directory discipline the design requires so the `stat`
// used to classify entries resolves against the target, not the
// caller's cwd).
func (c *Context) Run(ctx context.Context) error {
	if err := c.chdirIn(); err != nil {
		return err
	}
	defer c.chdirOut()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		scanStart := time.Now()
		if err := c.scanOnce(); err != nil {
			return err
		}

		done, err := c.ch.Ping(channel.TokenDone)
		if err != nil {
			return err
		}
		if done == channel.TokenStop {
			l.Infof("stop received for %s", c.target)
			return nil
		}
		if done == channel.TokenReset {
			c.ResetFilter()
		}

		c.lastScan = scanStart
		if err := c.idleUntilModified(ctx); err != nil {
			return err
		}
	}
}

// chdirIn saves the caller's working directory and changes into the
// target.
func (c *Context) chdirIn() error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	c.savedCwd = cwd
	return os.Chdir(c.target)
}

// chdirOut restores the working directory saved by chdirIn. It is
// idempotent: calling it more than once, or calling it when chdirIn
// never succeeded, is harmless.
func (c *Context) chdirOut() {
	if c.savedCwd == "" {
		return
	}
	if err := os.Chdir(c.savedCwd); err != nil {
		l.Warnf("restoring working directory %s: %v", c.savedCwd, err)
	}
}

// scanOnce enumerates the target directory once, emitting every
// previously-unseen regular file's name over the channel.
func (c *Context) scanOnce() error {
	entries, err := os.ReadDir(".")
	if err != nil {
		return err
	}
	metrics.ScansTotal.Inc()

	for _, entry := range entries {
		name := entry.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Transient directory-entry race: the entry existed at
			// ReadDir time but stat failed (e.g. just unlinked).
			// Skip and keep enumerating.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if c.seen(name) {
			continue
		}

		if err := c.ch.Send(name); err != nil {
			return err
		}
		metrics.NamesEmittedTotal.Inc()
	}
	return nil
}

// idleUntilModified polls the target directory's modification time
// until it advances past lastScan, or ctx is canceled.
func (c *Context) idleUntilModified(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(idleInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		info, err := os.Stat(".")
		if err != nil {
			// The directory handle has become invalid; idle returns
			// immediately per the design so the caller's exit path runs.
			return err
		}
		if info.ModTime().After(c.lastScan) {
			return nil
		}
	}
}
