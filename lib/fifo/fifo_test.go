// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package fifo

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")

	require.NoError(t, Create(path, 0o600))
	require.NoError(t, Remove(path))
}

func TestReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	require.NoError(t, Create(path, 0o600))

	done := make(chan struct{})
	var readBuf [64]byte
	var n int
	var readErr error

	go func() {
		r, err := Open(path, ReadOnly, false)
		require.NoError(t, err)
		defer r.Close()
		n, readErr = r.Read(readBuf[:])
		close(done)
	}()

	// Give the reader a moment to block in open, matching how a real
	// reader blocks until a writer shows up.
	time.Sleep(10 * time.Millisecond)

	w, err := Open(path, WriteOnly, false)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read never completed")
	}

	require.NoError(t, readErr)
	require.Equal(t, "hello", string(readBuf[:n]))
}

func TestShortReadReturnsWhatIsBuffered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p")
	require.NoError(t, Create(path, 0o600))

	block := make(chan struct{})
	go func() {
		w, err := Open(path, WriteOnly, false)
		require.NoError(t, err)
		_, _ = w.Write([]byte("ab"))
		<-block // keep the writer's fd open so the reader doesn't see EOF
		w.Close()
	}()
	defer close(block)

	r, err := Open(path, ReadOnly, false)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ab", string(buf[:n]))
}
