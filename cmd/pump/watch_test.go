// Copyright (C) 2014 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import "testing"

func TestApplyExprWithoutExpression(t *testing.T) {
	// applyExpr never errors and is safe to call with an empty
	// expression; this just guards against a panic regression since its
	// output goes straight to stdout and isn't otherwise observable
	// from a unit test.
	applyExpr("", "somefile.txt")
	applyExpr("upper|sink", "somefile.txt")
}
