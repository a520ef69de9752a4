// Copyright (C) 2015 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"path/filepath"
	"testing"

	"github.com/d4l3k/messagediff"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	rec := Record{
		Name: `Test Alpha`,
		Desc: `a test`,
		Base: `/tmp/x`,
		Sha2: `abc123`,
		Link: `./run.sh`,
		Wait: `10`,
	}

	got, err := Parse(Serialize(rec))
	require.NoError(t, err)

	if diff, equal := messagediff.PrettyDiff(rec, got); !equal {
		t.Fatalf("round trip not identical:\n%s", diff)
	}
}

func TestCommentsAndBlankLinesIgnored(t *testing.T) {
	data := []byte("# a comment\n\nname hello\n# another\ndesc world\n")
	rec, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "hello", rec.Name)
	require.Equal(t, "world", rec.Desc)
}

func TestUnknownKeysIgnored(t *testing.T) {
	data := []byte("bogus value\nname x\n")
	rec, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, "x", rec.Name)
}

func TestLoadSaveFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	rec := Record{Name: "n", Desc: "d", Base: "/b", Sha2: "s", Link: "l", Wait: "1"}

	require.NoError(t, Save(path, rec))
	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}
