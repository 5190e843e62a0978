// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestAmountFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    btcutil.Amount
		wantErr bool
	}{
		{in: "100000000", want: 100_000_000},
		{in: "1.03 DASH", want: 103_000_000},
		{in: "0", want: 0},
		{in: "-5", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, test := range tests {
		var a AmountFlag
		err := a.UnmarshalFlag(test.in)
		if test.wantErr {
			require.Error(t, err, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		require.Equal(t, test.want, a.Amount, test.in)
	}
}

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	addr, err := NormalizeAddress("localhost", "19998")
	require.NoError(t, err)
	require.Equal(t, "localhost:19998", addr)

	addr, err = NormalizeAddress("127.0.0.1:9998", "19998")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9998", addr)
}

func TestExplicitString(t *testing.T) {
	t.Parallel()

	s := NewExplicitString("default")
	require.False(t, s.ExplicitlySet())
	require.NoError(t, s.UnmarshalFlag("default"))
	require.True(t, s.ExplicitlySet())
	require.Equal(t, "default", s.Value)
}
