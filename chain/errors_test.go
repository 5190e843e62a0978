// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/stretchr/testify/require"
)

// TestMatchErrStr checks that `matchErrStr` can correctly replace the dashes
// with spaces and turn title cases into lowercases for a given error and match
// it against the specified string pattern.
func TestMatchErrStr(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		nodeErr  error
		matchStr string
		matched  bool
	}{
		{
			name:     "error without dashes",
			nodeErr:  errors.New("already known"),
			matchStr: "already known",
			matched:  true,
		},
		{
			name:     "match str without dashes",
			nodeErr:  errors.New("txn-already-known"),
			matchStr: "txn already known",
			matched:  true,
		},
		{
			name:     "error with title case and dash",
			nodeErr:  errors.New("Txn-Already-In-Mempool"),
			matchStr: "txn already in mempool",
			matched:  true,
		},
		{
			name:     "unmatched error",
			nodeErr:  errors.New("missing input"),
			matchStr: "missingorspent",
			matched:  false,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			matched := matchErrStr(tc.nodeErr, tc.matchStr)
			require.Equal(t, tc.matched, matched)
		})
	}
}

// TestRPCErrorSentinel checks that all defined RPCErr errors are added to
// the method `Error`.
func TestRPCErrorSentinel(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	for i := uint32(0); i < uint32(errSentinel); i++ {
		err := RPCErr(i)
		rt.NotEqualf(err.Error(), "unknown error", "error code %d is "+
			"not defined, make sure to update it inside the Error "+
			"method", i)
	}
}

// TestMapRPCErr checks that duplicate broadcasts map to ErrTxAlreadyKnown
// and other errors don't.
func TestMapRPCErr(t *testing.T) {
	t.Parallel()

	known := []error{
		&btcjson.RPCError{
			Code:    -27,
			Message: "transaction already in block chain",
		},
		errors.New("-26: txn-already-in-mempool"),
		errors.New("-26: txn-already-known"),
	}
	for _, err := range known {
		require.ErrorIs(t, MapRPCErr(err), ErrTxAlreadyKnown, err)
	}

	missing := MapRPCErr(errors.New("-25: bad-txns-inputs-missingorspent"))
	require.ErrorIs(t, missing, ErrMissingInputs)
	require.NotErrorIs(t, missing, ErrTxAlreadyKnown)

	other := errors.New("connection refused")
	require.Equal(t, other, MapRPCErr(other))
	require.NoError(t, MapRPCErr(nil))
}
