// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pipeline is the runner-side half of the channel protocol: it
// turns a Subscriber-role channel into the single interface the core
// actually needs to satisfy, `nextfile(target) -> name | end` (spec.md
// §6). The reserved-sigil pipeline expression language that would
// consume that stream (filters, transforms, sinks chained with the
// runner's own operators) is out of scope for this module; Source is
// the documented seam a real interpreter would be built against.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/filepump/filepump/lib/channel"
	"github.com/filepump/filepump/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("pipeline", "runner-side file stream")

// Source is the one interface a pipeline interpreter is built against:
// repeatedly call Next to obtain the next filename the watch engine has
// produced. end is true once the stream is definitively over (the
// worker is gone); it never means "no file available right now" — the
// watch engine streams indefinitely across scans, so Next blocks for as
// long as the target directory is idle.
type Source interface {
	Next() (name string, end bool, err error)
	// Close tells the upstream worker to stop and releases the
	// underlying channel endpoint.
	Close() error
}

// ChannelSource adapts an open Subscriber-role channel into a Source,
// handling the DONE/ack scan-resumption exchange (spec.md §4.3) so a
// caller only ever sees filenames.
type ChannelSource struct {
	ch *channel.Channel
}

// NewChannelSource wraps ch, which must already be open in Subscriber
// role.
func NewChannelSource(ch *channel.Channel) (*ChannelSource, error) {
	if ch.Role() != channel.Subscriber {
		return nil, fmt.Errorf("pipeline: channel must be opened in Subscriber role")
	}
	return &ChannelSource{ch: ch}, nil
}

// Next implements Source.
func (s *ChannelSource) Next() (string, bool, error) {
	for {
		if err := s.ch.Read(); err != nil {
			if errors.Is(err, channel.ErrClosed) {
				return "", true, nil
			}
			return "", false, fmt.Errorf("pipeline: read: %w", err)
		}

		switch payload := s.ch.Payload(); payload {
		case channel.TokenDone:
			// The worker has emitted everything new from this scan and
			// is waiting to hear whether to keep going. Any non-STOP
			// reply does; the actual next name (if any) arrives once
			// the target directory is modified again.
			if err := s.ch.Send(channel.TokenAck); err != nil {
				return "", false, fmt.Errorf("pipeline: ack: %w", err)
			}
		default:
			return payload, false, nil
		}
	}
}

// Close sends STOP so the upstream worker tears itself down, then
// closes the local channel endpoint. It does not remove the channel's
// files — those belong to the worker, which removes them itself on
// exit (spec.md §4.4 invariants).
func (s *ChannelSource) Close() error {
	if err := s.ch.Send(channel.TokenStop); err != nil {
		l.Warnf("sending STOP: %v", err)
	}
	return s.ch.Close()
}
