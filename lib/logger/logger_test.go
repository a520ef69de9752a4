// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerFanout(t *testing.T) {
	l := New()
	l.SetFlags(0)

	var debug, info, warn int
	l.AddHandler(LevelDebug, func(LogLevel, string) { debug++ })
	l.AddHandler(LevelInfo, func(LogLevel, string) { info++ })
	l.AddHandler(LevelWarn, func(LogLevel, string) { warn++ })

	l.Debugln("x")
	l.Infoln("y")
	l.Warnln("z")

	require.Equal(t, 3, debug) // debug handler sees everything at or above debug
	require.Equal(t, 2, info)
	require.Equal(t, 1, warn)
}

func TestFacilityDebugGate(t *testing.T) {
	t.Setenv("PUMPTRACE", "")
	l := New()
	l.SetFlags(0)

	var seen int
	l.AddHandler(LevelDebug, func(_ LogLevel, msg string) {
		seen++
	})

	f0 := l.NewFacility("f0", "")
	f1 := l.NewFacility("f1", "")

	l.SetDebug("f0", true)
	l.SetDebug("f1", false)

	f0.Debugln("from f0")
	f1.Debugln("from f1")

	require.Equal(t, 1, seen)
}

func TestEffectiveLevelDefault(t *testing.T) {
	t.Setenv("PUMPTRACE", "")
	l := New()
	f := l.NewFacility("unconfigured", "").(*facilityLogger)
	require.Equal(t, LevelError, f.EffectiveLevel("unconfigured"))
}
