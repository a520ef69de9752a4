// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/filepump/filepump/lib/channel"
	"github.com/filepump/filepump/lib/cleanup"
	"github.com/filepump/filepump/lib/locations"
	"github.com/filepump/filepump/lib/pipeline"
)

// PipelineSource is the one interface a pipeline-expression interpreter
// would be built against: repeatedly call Next for the next streamed
// filename. The lexer/parser/operators a real expression language needs
// are out of scope here; applyExpr below is the placeholder a future
// interpreter replaces, and it is written against exactly this
// interface so that replacement doesn't touch runWatch at all.
type PipelineSource = pipeline.Source

// runWatch is the bare positional form: connect to a running broker,
// request a watch on target, and stream the resulting names through
// expr (currently just printed; see PipelineSource).
func runWatch(target, expr string) error {
	if target == "" {
		return errors.New("pump: missing target directory")
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return errors.Wrap(err, "pump: resolve target")
	}

	ctl, err := channel.Open(locations.ControlChannelPath(), channel.OpenFlags{Role: channel.Subscriber})
	if err != nil {
		return errors.Wrap(err, "pump: connect to broker")
	}
	defer ctl.Close()

	id, err := ctl.Ping(abs)
	if err != nil {
		return errors.Wrap(err, "pump: request watch")
	}
	if id == "" {
		return errors.New("pump: broker declined the watch request")
	}

	ch, err := channel.Open(locations.WorkerChannelPath(id), channel.OpenFlags{Role: channel.Subscriber})
	if err != nil {
		return errors.Wrap(err, "pump: open worker channel")
	}
	if err := ch.Link(); err != nil {
		return errors.Wrap(err, "pump: handshake")
	}

	var src PipelineSource
	src, err = pipeline.NewChannelSource(ch)
	if err != nil {
		return errors.Wrap(err, "pump: pipeline source")
	}

	// If we're torn down by a signal mid-stream, tell the worker to stop
	// by closing the pipeline source, which sends STOP down the worker's
	// own channel rather than signaling it directly: every worker in this
	// goroutine-per-worker reimplementation shares the broker's single
	// OS pid, so a pid-targeted Kill would land on the broker process
	// itself (and tear down every other active watch with it) instead of
	// just this one worker.
	cleanup.Register(func() {
		if err := src.Close(); err != nil {
			l.Warnf("closing pipeline source for worker %s: %v", id, err)
		}
	})
	defer cleanup.Clear()

	for {
		name, end, err := src.Next()
		if err != nil {
			return errors.Wrap(err, "pump: stream")
		}
		if end {
			break
		}
		applyExpr(expr, name)
	}
	return src.Close()
}

// applyExpr is the placeholder pipeline-expression evaluator: every
// streamed name is printed, optionally annotated with the raw
// expression string a real interpreter would compile and run instead.
func applyExpr(expr, name string) {
	if expr == "" {
		fmt.Println(name)
		return
	}
	fmt.Printf("%s\t%s\n", name, expr)
}
