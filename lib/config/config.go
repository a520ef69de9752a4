// Copyright (C) 2015 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config parses and serializes the per-watched-directory
// metadata record described in the design: a flat, line-oriented
// key/value file living at "<target>/<hidden>/config".
//
// This is deliberately not the teacher's XML config tree — the grammar
// here is the one the design specifies, a plain "key value" pair per
// line with "#" comments — but the load/atomic-save shape (read whole
// file, parse into a typed struct, rewrite atomically on save) follows
// the same pattern as the teacher's lib/config.
package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Record is the six-field flat configuration record from the design.
// Wait is parsed and preserved per the design's answer to Open Question
// 2, but its semantics are not consumed by the watch engine.
type Record struct {
	Name string
	Desc string
	Base string
	Sha2 string
	Link string
	Wait string
}

// recognizedKeys lists the keys the grammar assigns meaning to; any
// other key parses without error and is simply discarded, per spec.
var recognizedKeys = map[string]func(*Record, string){
	"name": func(r *Record, v string) { r.Name = v },
	"desc": func(r *Record, v string) { r.Desc = v },
	"base": func(r *Record, v string) { r.Base = v },
	"sha2": func(r *Record, v string) { r.Sha2 = v },
	"link": func(r *Record, v string) { r.Link = v },
	"wait": func(r *Record, v string) { r.Wait = v },
}

// Parse reads the line-oriented grammar from data: "#" comment lines are
// skipped, blank lines are skipped, and every other line is split on the
// first space into "<key> <value>" with trailing whitespace trimmed
// from the value.
func Parse(data []byte) (Record, error) {
	var rec Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		idx := strings.IndexByte(line, ' ')
		if idx < 0 {
			// A bare key with no value is tolerated; value is empty.
			key := strings.TrimSpace(line)
			if set, ok := recognizedKeys[key]; ok {
				set(&rec, "")
			}
			continue
		}

		key := line[:idx]
		value := strings.TrimRight(line[idx+1:], " \t\r\n")
		if set, ok := recognizedKeys[key]; ok {
			set(&rec, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return Record{}, errors.Wrap(err, "config: parse")
	}
	return rec, nil
}

// Serialize renders a Record back into the grammar Parse accepts.
// Serialize followed by Parse round-trips every field unchanged, as long
// as no value ends in whitespace (Parse trims it) or contains a newline
// (which would split it across lines).
func Serialize(rec Record) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "name %s\n", rec.Name)
	fmt.Fprintf(&buf, "desc %s\n", rec.Desc)
	fmt.Fprintf(&buf, "base %s\n", rec.Base)
	fmt.Fprintf(&buf, "sha2 %s\n", rec.Sha2)
	fmt.Fprintf(&buf, "link %s\n", rec.Link)
	fmt.Fprintf(&buf, "wait %s\n", rec.Wait)
	return buf.Bytes()
}

// Load reads and parses the config file at path.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, errors.Wrap(err, "config: load")
	}
	return Parse(data)
}

// Save atomically rewrites the config file at path: write to a temp
// file in the same directory, then rename over the target, so a reader
// never observes a half-written file.
func Save(path string, rec Record) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return errors.Wrap(err, "config: save")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(Serialize(rec)); err != nil {
		tmp.Close()
		return errors.Wrap(err, "config: save")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "config: save")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "config: save")
	}
	return nil
}
