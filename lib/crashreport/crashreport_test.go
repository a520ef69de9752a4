// Copyright (C) 2019 The filepump Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package crashreport

import (
	"os"
	"runtime/debug"
	"testing"
)

func TestReportNoOpWithoutDSN(t *testing.T) {
	os.Unsetenv(DSNEnvVar)
	if err := Report("boom", debug.Stack()); err != nil {
		t.Errorf("Report without DSN should be a no-op, got %v", err)
	}
}

func TestFormatGoroutinesParsesRealDump(t *testing.T) {
	out, err := FormatGoroutines(debug.Stack())
	if err != nil {
		t.Fatalf("FormatGoroutines: %v", err)
	}
	if out == "" {
		t.Error("expected a non-empty formatted dump")
	}
}

func TestRecoverRepanics(t *testing.T) {
	os.Unsetenv(DSNEnvVar)

	defer func() {
		r := recover()
		if r != "boom" {
			t.Errorf("recover() = %v, want %q", r, "boom")
		}
	}()

	func() {
		defer Recover()
		panic("boom")
	}()
}
