// Copyright (C) 2019 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package crashreport turns an unexpected panic into a readable
// goroutine dump and, if the operator opted in, forwards it to a
// Sentry-compatible endpoint.
//
// Modeled on the teacher's crash_reporting.go/traceback.go (the daemon
// side: capture and format) plus cmd/stcrashreceiver/sentry.go (the
// receiving side, which is what fixes the panicparse usage this package
// mirrors for formatting). Unlike the teacher's own upload path — a
// bespoke HEAD-then-PUT HTTP protocol against its own crash-report
// server — this reimplementation reports through
// github.com/getsentry/raven-go, a real teacher dependency the
// original crash-reporting code never itself exercises but that the
// module's go.mod carries; wiring it here gives it the home
// SPEC_FULL.md's domain stack promises it.
package crashreport

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/getsentry/raven-go"
	"github.com/maruel/panicparse/v2/stack"

	"github.com/filepump/filepump/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("crashreport", "panic capture and reporting")

// DSNEnvVar is the environment variable that opts a process into crash
// reporting. Unset (the default) means no network calls are ever made.
const DSNEnvVar = "PUMPD_CRASH_REPORT_DSN"

func init() {
	// Every goroutine's stack in a panic trace, matching the teacher's
	// traceback.go.
	debug.SetTraceback("all")
}

// FormatGoroutines renders raw (as produced by runtime/debug.Stack or a
// SIGQUIT dump) into a deduplicated, human-scannable summary: goroutines
// with identical stacks are grouped into a single bucket.
func FormatGoroutines(raw []byte) (string, error) {
	snapshot, _, err := stack.ScanSnapshot(bytes.NewReader(raw), io.Discard, stack.DefaultOpts())
	if err != nil && snapshot == nil {
		return "", fmt.Errorf("crashreport: parse snapshot: %w", err)
	}

	var buf bytes.Buffer
	for _, bucket := range snapshot.Aggregate(stack.AnyValue).Buckets {
		fmt.Fprintf(&buf, "%d goroutine(s) in state %s:\n%s\n\n",
			len(bucket.IDs), bucket.Signature.State, bucket.Signature.Stack.String())
	}
	return buf.String(), nil
}

// Report sends a captured panic to the Sentry-compatible endpoint named
// by DSNEnvVar, if set. It is a no-op, returning nil immediately, when
// the variable is unset — purely diagnostic, and never on the critical
// teardown path (see lib/cleanup).
func Report(recovered interface{}, goroutines []byte) error {
	dsn := os.Getenv(DSNEnvVar)
	if dsn == "" {
		return nil
	}

	client, err := raven.New(dsn)
	if err != nil {
		return fmt.Errorf("crashreport: client: %w", err)
	}

	formatted, err := FormatGoroutines(goroutines)
	if err != nil {
		l.Warnf("formatting goroutine dump: %v", err)
		formatted = string(goroutines)
	}

	packet := raven.NewPacket(fmt.Sprintf("%v", recovered), &raven.Message{
		Message: formatted,
	})
	_, errCh := client.Capture(packet, nil)
	if err := <-errCh; err != nil {
		return fmt.Errorf("crashreport: capture: %w", err)
	}
	return nil
}

// Recover is installed via `defer crashreport.Recover()` at the top of a
// process's main goroutine. On panic it captures the goroutine dump,
// reports it (if configured), logs a one-line diagnostic, and
// re-panics so the process still exits with the usual non-zero status.
func Recover() {
	if r := recover(); r != nil {
		dump := debug.Stack()
		if err := Report(r, dump); err != nil {
			l.Warnf("reporting crash: %v", err)
		}
		l.Warnf("panic: %v", r)
		panic(r)
	}
}
