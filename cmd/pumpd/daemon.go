// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/filepump/filepump/lib/broker"
	"github.com/filepump/filepump/lib/channel"
	"github.com/filepump/filepump/lib/cleanup"
	"github.com/filepump/filepump/lib/crashreport"
	"github.com/filepump/filepump/lib/locations"
	"github.com/filepump/filepump/lib/metrics"
)

// daemonizedEnv marks the re-exec'd child so it knows to become the
// actual daemon instead of spawning another generation. Go has no
// fork(); cmd/syncthing/monitor.go solves the same problem by re-exec'ing
// itself under a supervising parent, which is the shape this mirrors —
// shrunk to a single spawn-and-detach instead of monitor.go's full
// crash-loop-restart supervisor, since nothing in the design calls for
// the daemon to survive its own panic by restarting.
const daemonizedEnv = "PUMPD_DAEMONIZED"

// runStart is the "start" subcommand: daemonize unless we are already
// the re-exec'd child, in which case become the broker.
func runStart() error {
	if os.Getenv(daemonizedEnv) == "1" {
		return runDaemon(context.Background(), "")
	}
	return spawnDaemon()
}

// runForeground runs the broker without daemonizing, with the debug
// metrics endpoint bound at listen. Intended for interactive
// troubleshooting, not for the usual start/stop lifecycle.
func runForeground(listen string) error {
	return runDaemon(context.Background(), listen)
}

// spawnDaemon re-execs the current binary with daemonizedEnv set,
// detaches it into its own session so it survives the parent shell
// exiting, and returns once the child's pid file names it, matching the
// design's "fork, parent exits" framing without Go ever literally
// forking. The child writes that file before it opens the control
// channel, so the broker may not yet be accepting requests.
func spawnDaemon() error {
	if err := os.MkdirAll(locations.StateDirectory(), 0o700); err != nil {
		return errors.Wrap(err, "pumpd: create state directory")
	}

	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "pumpd: resolve own executable")
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "pumpd: open /dev/null")
	}
	defer devnull.Close()

	cmd := exec.Command(exe, "start")
	cmd.Env = append(os.Environ(), daemonizedEnv+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "pumpd: spawn daemon")
	}
	// Detach fully: we don't want the child to become a zombie waiting
	// on us, nor do we want to hold its process handle open.
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		l.Warnf("releasing daemon process handle: %v", err)
	}

	if err := waitForPidFile(pid, 5*time.Second); err != nil {
		return err
	}
	fmt.Printf("pumpd started (pid %d)\n", pid)
	return nil
}

// waitForPidFile polls for the daemon's pid file to appear and contain
// wantPid, giving the "start" command a synchronous signal that the
// child got as far as writing its pid file (after creating the state
// directory, before opening the control channel) instead of returning
// the instant the child process exists.
func waitForPidFile(wantPid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pid, err := readPid()
		if err == nil && pid == wantPid {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.Errorf("pumpd: daemon did not report ready within %s", timeout)
}

// runStop signals a running daemon to shut down via its normal
// signal-safe teardown path (lib/cleanup), rather than killing it.
func runStop() error {
	pid, err := readPid()
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrap(err, "pumpd: find process")
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return errors.Wrap(err, "pumpd: signal daemon")
	}
	fmt.Printf("sent SIGTERM to pumpd (pid %d)\n", pid)
	return nil
}

// runDaemon is the actual broker lifetime: umask, pid file, control
// channel, and (if listen is non-empty) the debug metrics endpoint, all
// torn down together by the signal-safe path in lib/cleanup.
func runDaemon(ctx context.Context, listen string) error {
	defer crashreport.Recover()

	unix.Umask(0o022)

	if err := os.MkdirAll(locations.StateDirectory(), 0o700); err != nil {
		return errors.Wrap(err, "pumpd: create state directory")
	}
	if err := writePidFile(); err != nil {
		return err
	}

	b, err := broker.New(locations.ControlChannelPath(), locations.WorkerChannelPath)
	if err != nil {
		return errors.Wrap(err, "pumpd: start broker")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cleanup.Register(func() {
		b.Stop()
		cancel()
		b.ControlChannel().Close()
		channel.Remove(locations.ControlChannelPath())
		os.Remove(locations.PidFilePath())
	})
	defer cleanup.Clear()

	if listen != "" {
		srv, err := metrics.NewServer(listen)
		if err != nil {
			return errors.Wrap(err, "pumpd: start debug endpoint")
		}
		go func() {
			if err := srv.Serve(runCtx); err != nil {
				l.Warnf("debug endpoint stopped: %v", err)
			}
		}()
		l.Infof("debug endpoint listening on %s", listen)
	}

	l.Infof("broker serving, pid %d", os.Getpid())
	return b.Serve(runCtx)
}

func writePidFile() error {
	return os.WriteFile(locations.PidFilePath(), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600)
}
