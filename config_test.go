// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/dashevo/dashcw/wallet"
	"github.com/stretchr/testify/require"
)

func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		wantErr bool
	}{
		{name: "all subsystems", level: "debug"},
		{name: "pairs", level: "WLLT=trace,FNLT=info"},
		{name: "invalid level", level: "verbose", wantErr: true},
		{name: "invalid pair", level: "WLLT", wantErr: true},
		{name: "missing separator", level: "WLLT=debug,FNLT", wantErr: true},
		{name: "unknown subsystem", level: "NOPE=debug", wantErr: true},
		{name: "invalid pair level", level: "WLLT=loud", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := parseAndSetDebugLevels(tc.level)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestFundingTarget(t *testing.T) {
	t.Parallel()

	c := &config{Identity: 3, TopUp: -1, TopUpIndex: 9}
	require.Equal(t, wallet.Registration{IdentityIndex: 3},
		c.fundingTarget())

	c.TopUp = 2
	require.Equal(t, wallet.TopUp{IdentityIndex: 2, TopUpIndex: 9},
		c.fundingTarget())
}

func TestSupportedSubsystems(t *testing.T) {
	t.Parallel()

	subsystems := supportedSubsystems()
	require.Len(t, subsystems, len(subsystemLoggers))
	require.IsIncreasing(t, subsystems)
}
