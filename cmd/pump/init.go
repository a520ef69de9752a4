// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/filepump/filepump/lib/config"
	"github.com/filepump/filepump/lib/locations"
)

// runInit writes a configuration record for the directory named by the
// command's sole positional argument, creating the hidden config
// directory if needed.
func runInit(c *cli.Context) error {
	target := c.Args().First()
	if target == "" {
		return errors.New("pump: init requires a target directory")
	}

	rec := config.Record{
		Name: c.String("name"),
		Desc: c.String("desc"),
		Base: c.String("base"),
		Sha2: c.String("sha2"),
		Link: c.String("link"),
		Wait: c.String("wait"),
	}

	if err := writeConfigRecord(target, rec); err != nil {
		return errors.Wrap(err, "pump: init")
	}

	fmt.Printf("wrote configuration for %s\n", target)
	return nil
}

// runStat prints the configuration record for the directory named by
// the command's sole positional argument.
func runStat(c *cli.Context) error {
	target := c.Args().First()
	if target == "" {
		return errors.New("pump: stat requires a target directory")
	}

	rec, err := loadConfigRecord(target)
	if err != nil {
		return errors.Wrap(err, "pump: stat")
	}

	fmt.Printf("name: %s\n", rec.Name)
	fmt.Printf("desc: %s\n", rec.Desc)
	fmt.Printf("base: %s\n", rec.Base)
	fmt.Printf("sha2: %s\n", rec.Sha2)
	fmt.Printf("link: %s\n", rec.Link)
	fmt.Printf("wait: %s\n", rec.Wait)
	return nil
}

// writeConfigRecord and loadConfigRecord hold the actual filesystem
// logic apart from urfave/cli's *cli.Context so they can be exercised
// directly in tests.
func writeConfigRecord(target string, rec config.Record) error {
	if err := os.MkdirAll(locations.TargetConfigDir(target), 0o755); err != nil {
		return err
	}
	return config.Save(locations.TargetConfigPath(target), rec)
}

func loadConfigRecord(target string) (config.Record, error) {
	return config.Load(locations.TargetConfigPath(target))
}
