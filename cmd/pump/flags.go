// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"io"
	"strings"

	"github.com/alecthomas/kong"
)

// preCli holds the global flags recognized before any subcommand or
// positional argument, mirroring cmd/syncthing/cli/main.go's preCli.
type preCli struct {
	Home string `name:"home" help:"Override the runner's state directory."`
}

// parseGlobalFlags consumes the leading run of "--flag"-shaped tokens
// (each with its value, given either as "--flag=value" or as the next
// token) from args with kong, returning the parsed globals and whatever
// remains (a subcommand name, a bare target directory, or nothing) for
// urfave/cli to interpret on its own terms.
func parseGlobalFlags(args []string) (preCli, []string) {
	end := 0
	for end < len(args) && strings.HasPrefix(args[end], "--") {
		if !strings.Contains(args[end], "=") && end+1 < len(args) {
			end++ // the flag's value
		}
		end++
	}

	var c preCli
	k, err := kong.New(&c, kong.Writers(io.Discard, io.Discard), kong.Exit(func(int) {}))
	if err != nil {
		return c, args
	}
	if _, err := k.Parse(args[:end]); err != nil {
		// A malformed global flag is reported by urfave/cli instead, once
		// it tries (and fails) to make sense of the same token as a
		// subcommand or argument.
		return preCli{}, args
	}
	return c, args[end:]
}
