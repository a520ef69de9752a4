// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package metrics

import "testing"

func TestAddressIsLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:8080": true,
		"[::1]:8080":     true,
		"0.0.0.0:8080":   false,
		"10.0.0.5:8080":  false,
		"example.com:80": false,
	}
	for addr, want := range cases {
		if got := addressIsLoopback(addr); got != want {
			t.Errorf("addressIsLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestNewServerRejectsNonLoopback(t *testing.T) {
	if _, err := NewServer("0.0.0.0:8080"); err == nil {
		t.Error("expected NewServer to reject a non-loopback address")
	}
}

func TestNewServerAcceptsLoopback(t *testing.T) {
	s, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if s == nil {
		t.Fatal("expected a non-nil server")
	}
}
