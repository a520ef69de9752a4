// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command pumpd is the broker daemon (C4): it accepts watch requests on
// a well-known control channel and starts a worker goroutine per
// request.
//
// The command surface and its re-exec-under-supervision daemonization
// are modeled on cmd/syncthing's own main.go/monitor.go split: a
// lightweight urfave/cli front end picks the subcommand, and "start"
// re-execs itself into a detached child rather than relying on a
// fork() Go does not have.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	_ "github.com/filepump/filepump/lib/automaxprocs"
	"github.com/filepump/filepump/lib/locations"
	"github.com/filepump/filepump/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("pumpd", "broker daemon command surface")

func main() {
	app := cli.NewApp()
	app.Name = "pumpd"
	app.Usage = "filepump broker daemon"
	app.HideVersion = true

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "home",
			Usage: "override the broker's state directory",
		},
	}

	app.Before = func(c *cli.Context) error {
		if home := c.String("home"); home != "" {
			locations.SetHome(home)
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:  "start",
			Usage: "daemonize and start accepting watch requests",
			Action: func(c *cli.Context) error {
				return cliErr(runStart())
			},
		},
		{
			Name:  "debug",
			Usage: "run in the foreground with the metrics endpoint bound",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "listen",
					Value: "127.0.0.1:8222",
					Usage: "address for the debug/metrics HTTP endpoint",
				},
			},
			Action: func(c *cli.Context) error {
				return cliErr(runForeground(c.String("listen")))
			},
		},
		{
			Name:  "stop",
			Usage: "stop a running broker",
			Action: func(c *cli.Context) error {
				return cliErr(runStop())
			},
		},
		{
			Name:    "stat",
			Aliases: []string{"status"},
			Usage:   "report whether the broker is running",
			Action: func(c *cli.Context) error {
				return cliErr(runStat())
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliErr wraps err (if any) so urfave/cli prints a one-line diagnostic
// and exits non-zero, per spec.md §7's "user-visible failures" policy.
func cliErr(err error) error {
	if err == nil {
		return nil
	}
	return cli.NewExitError(err.Error(), 1)
}

var errNotRunning = errors.New("pumpd: broker is not running")

func readPid() (int, error) {
	data, err := os.ReadFile(locations.PidFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errNotRunning
		}
		return 0, errors.Wrap(err, "pumpd: read pid file")
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, errors.Wrap(err, "pumpd: parse pid file")
	}
	return pid, nil
}
