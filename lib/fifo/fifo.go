// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package fifo wraps the single POSIX named pipe: create, open, read,
// write, close, remove. It is the bottom layer that lib/channel composes
// two of into a duplex link; nothing above this package should call
// mkfifo/open/read/write directly.
package fifo

import (
	"errors"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// ErrPeerGone is returned by Write when the pipe has no reader left. A
// raw EPIPE write would raise SIGPIPE and kill the process by default;
// the write path here ignores that signal and surfaces this error
// instead, per spec.
var ErrPeerGone = errors.New("fifo: peer is gone (broken pipe)")

// Fifo is a single named pipe, opened in one direction.
type Fifo struct {
	path string
	file *os.File
}

// Create makes a new FIFO special file at path with the given
// permissions. The caller must Open it (possibly from another process)
// before any read or write will succeed.
func Create(path string, perm os.FileMode) error {
	if err := unix.Mkfifo(path, uint32(perm)); err != nil {
		return &fs.PathError{Op: "mkfifo", Path: path, Err: err}
	}
	return nil
}

// Remove deletes the FIFO special file. Not required to be idempotent by
// the data model, but os.Remove already returns a typed *PathError on a
// missing file, which callers can test with os.IsNotExist.
func Remove(path string) error {
	return os.Remove(path)
}

// Mode selects the access direction a Fifo is opened with.
type Mode int

const (
	ReadOnly Mode = iota
	WriteOnly
)

// Open opens an existing FIFO special file. Opening read-only blocks
// until a writer appears (and vice versa) unless nonblock is set; this
// blocking behavior is exactly what lib/channel's open-ordering relies
// on to avoid the deadlock described in spec.
func Open(path string, mode Mode, nonblock bool) (*Fifo, error) {
	flag := os.O_RDONLY
	if mode == WriteOnly {
		flag = os.O_WRONLY
	}
	if nonblock {
		flag |= unix.O_NONBLOCK
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	return &Fifo{path: path, file: f}, nil
}

// Path returns the filesystem path this Fifo was opened against.
func (f *Fifo) Path() string { return f.path }

// Close releases the underlying descriptor. Does not remove the pipe
// file; that is the caller's responsibility (mirrors dpx_close in the
// original: closing handles and removing files are separate concerns).
func (f *Fifo) Close() error {
	return f.file.Close()
}

// Read fills buf with up to len(buf) bytes. A short read is normal and
// expected (the sender may have written less than the buffer size); the
// caller must not treat n < len(buf) as an error. Read does not
// null-terminate; lib/channel handles framing/termination itself since
// it knows the logical frame size.
func (f *Fifo) Read(buf []byte) (int, error) {
	return f.file.Read(buf)
}

// Write writes all of buf to the pipe. Writes of up to PIPE_BUF bytes
// (the POSIX atomic-write minimum, typically 4096) are guaranteed
// atomic; larger writes are not. If there is no reader on the other end,
// the kernel raises SIGPIPE on the writing process; Go by default turns
// a signalled SIGPIPE on fd 1/2 into process death, but for arbitrary
// pipe fds a failed write simply returns EPIPE, which this wraps as
// ErrPeerGone rather than letting it propagate as a bare syscall error.
func (f *Fifo) Write(buf []byte) (int, error) {
	n, err := f.file.Write(buf)
	if errors.Is(err, unix.EPIPE) {
		return n, ErrPeerGone
	}
	return n, err
}

// Fd exposes the raw descriptor. lib/channel does not use it: its
// keep-alive handle is an ordinary write-only Fifo that is never
// written to.
func (f *Fifo) Fd() uintptr { return f.file.Fd() }
