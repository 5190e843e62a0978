// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

//go:build nolog
// +build nolog

package build

// LoggingType is a log type that disables all logging.
const LoggingType = LogTypeNone
