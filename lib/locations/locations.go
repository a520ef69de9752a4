// Copyright (C) 2015 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package locations centralizes every on-disk path the broker and
// runner touch, modeled on the teacher's cmd/syncthing/locations.go: a
// ${var}-templated map resolved once, instead of path concatenation
// scattered through the tree.
package locations

import (
	"os"
	"path/filepath"
	"strings"
)

type locationEnum string

const (
	StateDir    locationEnum = "stateDir"
	PidFile     locationEnum = "pidFile"
	ControlChan locationEnum = "controlChan"
	WorkerDir   locationEnum = "workerDir"
	ConfigBase  locationEnum = "configBase" // per-target hidden config dir, relative
	ConfigFile  locationEnum = "configFile" // file name within ConfigBase
)

var baseDirs = map[string]string{
	"home": homeDir(),
}

var locations = map[locationEnum]string{
	StateDir:    "${home}/.filepump",
	PidFile:     "${home}/.filepump/pumpd.pid",
	ControlChan: "${home}/.filepump/control",
	WorkerDir:   "${home}/.filepump/${id}",
	ConfigBase:  ".filepump",
	ConfigFile:  "config",
}

func homeDir() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return h
}

// SetHome overrides the base "home" directory, used by the -home flag
// (and by tests) the same way cmd/syncthing/locations.go lets -home
// override defaultConfigDir.
func SetHome(dir string) {
	baseDirs["home"] = dir
}

// expand replaces ${var} placeholders in tpl using baseDirs.
func expand(tpl string) string {
	s := tpl
	for k, v := range baseDirs {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}

// StateDirectory is the per-user broker state directory,
// "$HOME/.filepump".
func StateDirectory() string { return expand(locations[StateDir]) }

// PidFilePath is the broker's pid file.
func PidFilePath() string { return expand(locations[PidFile]) }

// ControlChannelPath is the broker's well-known control channel base
// directory.
func ControlChannelPath() string { return expand(locations[ControlChan]) }

// WorkerChannelPath is the per-watch channel base directory for the
// given minted identifier.
func WorkerChannelPath(id string) string {
	return strings.ReplaceAll(expand(locations[WorkerDir]), "${id}", id)
}

// TargetConfigPath is the path of the per-watched-directory configuration
// file (spec.md §6): "<target>/<hidden>/config".
func TargetConfigPath(target string) string {
	return filepath.Join(target, locations[ConfigBase], locations[ConfigFile])
}

// TargetConfigDir is the hidden config directory within a watched
// target, e.g. for Init to mkdir before writing the config file.
func TargetConfigDir(target string) string {
	return filepath.Join(target, locations[ConfigBase])
}
