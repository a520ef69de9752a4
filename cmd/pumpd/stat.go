// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// runStat reports whether the daemon named by the pid file is actually
// alive and, if so, a few vitals a human checking on a long-running
// watcher cares about: uptime and resident memory.
func runStat() error {
	pid, err := readPid()
	if err != nil {
		if err == errNotRunning {
			fmt.Println("pumpd: not running")
			return nil
		}
		return err
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		fmt.Println("pumpd: not running (stale pid file)")
		return nil
	}

	createdMs, err := proc.CreateTime()
	if err != nil {
		return fmt.Errorf("pumpd: process create time: %w", err)
	}
	started := time.UnixMilli(createdMs)
	uptime := time.Since(started).Round(time.Second)

	mem, err := proc.MemoryInfo()
	var rss uint64
	if err == nil && mem != nil {
		rss = mem.RSS
	}

	fmt.Printf("pumpd: running (pid %d, uptime %s, rss %d KiB)\n", pid, uptime, rss/1024)
	return nil
}
