// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rand provides the small helpers the rest of the tree needs
// from a PRNG: random strings for temp names, and small integers. It
// wraps crypto/rand rather than math/rand so that two channel
// identifiers minted in the same process tick can never collide.
package rand

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

const letters = "abcdefghijklmnopqrstuvwxyz0123456789"

// String returns a random string of length n drawn from a lowercase
// alphanumeric alphabet, suitable for channel identifiers and temp file
// names.
func String(n int) string {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic("rand: failed to read randomness: " + err.Error())
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = letters[int(v)%len(letters)]
	}
	return string(out)
}

// Uint64 returns a random uint64.
func Uint64() uint64 {
	var b [8]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		panic("rand: failed to read randomness: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}

// Intn returns a random integer in [0, n).
func Intn(n int) int {
	if n <= 0 {
		panic("rand: Intn called with n <= 0")
	}
	return int(Uint64() % uint64(n))
}
