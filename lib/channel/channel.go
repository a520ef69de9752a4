// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package channel implements the duplex channel described in the design:
// two named pipes, "pub" and "sub", composed into a bidirectional,
// framed, ordered link between two unrelated processes.
//
// The type intentionally exposes no way to reach the underlying pipe
// handles — role, open order and the keep-alive handle are all decided
// inside Open, so a caller cannot construct a channel that deadlocks or
// loses its keep-alive (see the package comment in the original C
// channel.c for the Stevens[90] reasoning this reproduces).
package channel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/filepump/filepump/lib/fifo"
	"github.com/filepump/filepump/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("channel", "duplex channel transport")

// FrameSize is the fixed size of every channel read/write, one byte
// short of the common 4096-byte PIPE_BUF so every frame is guaranteed
// to transfer atomically on the underlying pipe.
const FrameSize = 4095

// Reserved control tokens recognized by a string compare against the
// null-terminated frame payload.
const (
	TokenAck   = "ack"
	TokenDone  = "DONE"
	TokenStop  = "STOP"
	TokenReset = "RESET"
)

// Role is one of the two endpoint roles of a channel.
type Role int

const (
	// Publisher reads requests on "sub" and writes replies on "pub". It
	// also holds a never-used write handle on "sub" as a keep-alive.
	Publisher Role = iota
	// Subscriber writes requests on "sub" and reads replies on "pub".
	Subscriber
)

func (r Role) String() string {
	if r == Publisher {
		return "publisher"
	}
	return "subscriber"
}

// OpenFlags controls Open's behavior.
type OpenFlags struct {
	Role       Role
	Create     bool        // create the FIFO files before opening them
	Permission os.FileMode // permission bits used when Create is set
}

// Channel is one endpoint of a duplex link rooted at a base directory
// containing "pub" and "sub" FIFOs.
type Channel struct {
	role Role
	path string

	// Publisher: read on sub, write on sub (keep-alive), write on pub.
	// Subscriber: write on sub, read on pub.
	fdSub     *fifo.Fifo // read side for Publisher, write side for Subscriber
	fdKeepalive *fifo.Fifo // Publisher-only never-read write handle on sub
	fdPub     *fifo.Fifo // write side for Publisher, read side for Subscriber

	buf [FrameSize]byte

	remotePID int
}

// subPath and pubPath are the two FIFO files making up a channel rooted
// at base.
func subPath(base string) string { return base + "/sub" }
func pubPath(base string) string { return base + "/pub" }

// Create makes the channel's backing directory and both FIFOs.
func Create(base string, perm os.FileMode) error {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("channel: create dir %s: %w", base, err)
	}
	if err := fifo.Create(subPath(base), perm); err != nil {
		return fmt.Errorf("channel: create sub: %w", err)
	}
	if err := fifo.Create(pubPath(base), perm); err != nil {
		return fmt.Errorf("channel: create pub: %w", err)
	}
	return nil
}

// Remove destroys both FIFOs and the channel's directory.
func Remove(base string) error {
	if err := os.Remove(subPath(base)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("channel: remove sub: %w", err)
	}
	if err := os.Remove(pubPath(base)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("channel: remove pub: %w", err)
	}
	if err := os.Remove(base); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("channel: remove dir: %w", err)
	}
	return nil
}

// Exists reports whether both FIFO files are present on disk, which is
// what the broker control loop checks before announcing a freshly
// minted channel identifier to a client.
func Exists(base string) bool {
	if _, err := os.Stat(subPath(base)); err != nil {
		return false
	}
	if _, err := os.Stat(pubPath(base)); err != nil {
		return false
	}
	return true
}

// Open opens a channel endpoint at base in the requested role, following
// the mandatory open order from the design: a deviation here either
// deadlocks (opening the wrong FIFO first blocks forever waiting for a
// peer that's waiting on the other FIFO) or silently loses the
// keep-alive property.
func Open(base string, flags OpenFlags) (*Channel, error) {
	if flags.Create {
		if err := Create(base, flags.Permission); err != nil {
			return nil, err
		}
	}

	c := &Channel{role: flags.Role, path: base}

	switch flags.Role {
	case Publisher:
		var err error
		if c.fdSub, err = fifo.Open(subPath(base), fifo.ReadOnly, false); err != nil {
			return nil, fmt.Errorf("channel: open read sub: %w", err)
		}
		if c.fdKeepalive, err = fifo.Open(subPath(base), fifo.WriteOnly, false); err != nil {
			c.fdSub.Close()
			return nil, fmt.Errorf("channel: open keep-alive sub: %w", err)
		}
		if c.fdPub, err = fifo.Open(pubPath(base), fifo.WriteOnly, false); err != nil {
			c.fdSub.Close()
			c.fdKeepalive.Close()
			return nil, fmt.Errorf("channel: open write pub: %w", err)
		}
	case Subscriber:
		var err error
		if c.fdSub, err = fifo.Open(subPath(base), fifo.WriteOnly, false); err != nil {
			return nil, fmt.Errorf("channel: open write sub: %w", err)
		}
		if c.fdPub, err = fifo.Open(pubPath(base), fifo.ReadOnly, false); err != nil {
			c.fdSub.Close()
			return nil, fmt.Errorf("channel: open read pub: %w", err)
		}
	default:
		return nil, fmt.Errorf("channel: invalid role %v", flags.Role)
	}

	l.Debugf("opened %s channel at %s", flags.Role, base)
	return c, nil
}

// Close releases the endpoint's handles. It does not remove the channel
// files from disk — that remains the caller's (or the cleanup path's)
// responsibility.
func (c *Channel) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	switch c.role {
	case Publisher:
		record(c.fdSub.Close())
		record(c.fdKeepalive.Close())
		record(c.fdPub.Close())
	case Subscriber:
		record(c.fdPub.Close())
		record(c.fdSub.Close())
	}
	return firstErr
}

// Path returns the channel's base directory.
func (c *Channel) Path() string { return c.path }

// Role returns the endpoint's role.
func (c *Channel) Role() Role { return c.role }

// RemotePID returns the peer's process id, learned via Link. Zero if
// Link has not yet been called.
func (c *Channel) RemotePID() int { return c.remotePID }

// readFifo/writeFifo pick the correct underlying handle for this
// endpoint's incoming/outgoing direction.
func (c *Channel) readFifo() *fifo.Fifo {
	if c.role == Publisher {
		return c.fdSub
	}
	return c.fdPub
}

func (c *Channel) writeFifo() *fifo.Fifo {
	if c.role == Publisher {
		return c.fdPub
	}
	return c.fdSub
}

// Read blocks until a full frame is available and loads it into the
// endpoint's buffer. The byte immediately following the payload is
// zeroed so callers can treat the buffer as a C-style string; the rest
// of the frame is unspecified padding.
func (c *Channel) Read() error {
	for i := range c.buf {
		c.buf[i] = 0
	}
	total := 0
	for total < FrameSize {
		n, err := c.readFifo().Read(c.buf[total:])
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("channel: read: %w", err)
		}
		if n == 0 {
			// All writers closed and nothing buffered: end of stream.
			// A Publisher never sees this because of its keep-alive
			// handle; a Subscriber legitimately can if its peer is gone.
			return fmt.Errorf("channel: read: %w", ErrClosed)
		}
		total += n
		// A frame may legitimately arrive in more than one short read
		// even though the sender always writes FrameSize bytes in a
		// single call; the kernel is free to deliver them to the reader
		// in pieces. We must keep reading until the full FrameSize has
		// been consumed, or trailing padding from this frame would be
		// misread as the start of the next one.
	}
	return nil
}

// Write blocks until the full frame buffer has been written.
func (c *Channel) Write() error {
	_, err := c.writeFifo().Write(c.buf[:])
	if err != nil {
		return fmt.Errorf("channel: write: %w", err)
	}
	return nil
}

// Load copies msg into the frame buffer, truncating if it doesn't fit,
// and null-terminating the payload.
func (c *Channel) Load(msg string) {
	for i := range c.buf {
		c.buf[i] = 0
	}
	n := copy(c.buf[:FrameSize-1], msg)
	c.buf[n] = 0
}

// Flush zeroes the frame buffer.
func (c *Channel) Flush() {
	for i := range c.buf {
		c.buf[i] = 0
	}
}

// Payload returns the null-terminated prefix of the frame buffer as a
// string.
func (c *Channel) Payload() string {
	for i, b := range c.buf {
		if b == 0 {
			return string(c.buf[:i])
		}
	}
	return string(c.buf[:])
}

// Send loads msg into the buffer and writes it.
func (c *Channel) Send(msg string) error {
	c.Load(msg)
	return c.Write()
}

// Sendf formats into the buffer and writes it.
func (c *Channel) Sendf(format string, args ...interface{}) error {
	return c.Send(fmt.Sprintf(format, args...))
}

// Ping sends msg then blocks for a reply, returning the reply's payload.
func (c *Channel) Ping(msg string) (string, error) {
	if err := c.Send(msg); err != nil {
		return "", err
	}
	if err := c.Read(); err != nil {
		return "", err
	}
	return c.Payload(), nil
}

// Pingf formats and sends, then blocks for a reply.
func (c *Channel) Pingf(format string, args ...interface{}) (string, error) {
	return c.Ping(fmt.Sprintf(format, args...))
}

// Link performs the three-message handshake that trades process ids,
// after which both sides may Kill the other.
func (c *Channel) Link() error {
	pid := os.Getpid()

	switch c.role {
	case Publisher:
		if err := c.Read(); err != nil {
			return fmt.Errorf("channel: link: %w", err)
		}
		remote, err := strconv.Atoi(strings.TrimSpace(c.Payload()))
		if err != nil {
			return fmt.Errorf("channel: link: bad peer pid %q: %w", c.Payload(), err)
		}
		c.remotePID = remote

		if err := c.Sendf("%d", pid); err != nil {
			return fmt.Errorf("channel: link: %w", err)
		}
		if err := c.Read(); err != nil {
			return fmt.Errorf("channel: link: %w", err)
		}
		if c.Payload() != TokenAck {
			return fmt.Errorf("channel: link: expected %q, got %q", TokenAck, c.Payload())
		}

	case Subscriber:
		if err := c.Sendf("%d", pid); err != nil {
			return fmt.Errorf("channel: link: %w", err)
		}
		if err := c.Read(); err != nil {
			return fmt.Errorf("channel: link: %w", err)
		}
		remote, err := strconv.Atoi(strings.TrimSpace(c.Payload()))
		if err != nil {
			return fmt.Errorf("channel: link: bad peer pid %q: %w", c.Payload(), err)
		}
		c.remotePID = remote

		if err := c.Send(TokenAck); err != nil {
			return fmt.Errorf("channel: link: %w", err)
		}
	}

	l.Debugf("linked with peer pid %d", c.remotePID)
	return nil
}

// Kill signals the peer endpoint using the pid learned during Link.
func (c *Channel) Kill(sig syscall.Signal) error {
	if c.remotePID == 0 {
		return fmt.Errorf("channel: kill: no remote pid (Link not called?)")
	}
	return syscall.Kill(c.remotePID, sig)
}

// ErrClosed indicates the channel's read direction hit end-of-stream: no
// writer remains and nothing was buffered. For a Publisher this should
// never happen thanks to the keep-alive handle; seeing it there
// indicates a bug in Open.
var ErrClosed = errClosed{}

type errClosed struct{}

func (errClosed) Error() string { return "channel closed (peer gone)" }
