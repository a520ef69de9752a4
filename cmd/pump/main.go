// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command pump is the runner (C2 client side): it asks a running pumpd
// for a watch on a directory, then streams the filenames the watch
// engine produces to a pipeline expression.
//
// Global flags are pre-parsed with alecthomas/kong before the
// urfave/cli app is constructed, the same split cmd/syncthing/cli's
// preCli/parseFlags perform so a flag like --home can precede any
// subcommand (or the bare positional form) without urfave/cli needing
// to know about it.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/filepump/filepump/lib/locations"
	"github.com/filepump/filepump/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("pump", "runner command surface")

func main() {
	pre, rest := parseGlobalFlags(os.Args[1:])
	if pre.Home != "" {
		locations.SetHome(pre.Home)
	}

	app := cli.NewApp()
	app.Name = "pump"
	app.Usage = "filepump runner"
	app.HideVersion = true
	app.ArgsUsage = "<directory> [pipeline-expression]"

	app.Commands = []cli.Command{
		{
			Name:      "init",
			Usage:     "write a configuration record for a watched directory",
			ArgsUsage: "<directory>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "name", Usage: "short name for this target"},
				cli.StringFlag{Name: "desc", Usage: "human description"},
				cli.StringFlag{Name: "base", Usage: "base path recorded alongside the target"},
				cli.StringFlag{Name: "sha2", Usage: "recorded SHA-256 reference"},
				cli.StringFlag{Name: "link", Usage: "command run against each streamed name"},
				cli.StringFlag{Name: "wait", Usage: "recorded wait value (opaque to the watch engine)"},
			},
			Action: func(c *cli.Context) error {
				return cliErr(runInit(c))
			},
		},
		{
			Name:      "stat",
			Aliases:   []string{"status"},
			Usage:     "print a watched directory's configuration record",
			ArgsUsage: "<directory>",
			Action: func(c *cli.Context) error {
				return cliErr(runStat(c))
			},
		},
	}

	app.Action = func(c *cli.Context) error {
		return cliErr(runWatch(c.Args().Get(0), c.Args().Get(1)))
	}

	argv := append([]string{os.Args[0]}, rest...)
	if err := app.Run(argv); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliErr wraps err (if any) so urfave/cli prints a one-line diagnostic
// and exits non-zero.
func cliErr(err error) error {
	if err == nil {
		return nil
	}
	return cli.NewExitError(err.Error(), 1)
}
