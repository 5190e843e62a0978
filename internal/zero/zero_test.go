// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zero_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/dashevo/dashcw/internal/zero"
	"github.com/stretchr/testify/require"
)

func makeOneBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 1
	}
	return b
}

func TestBytes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 31, 32, 33, 64, 127, 4096} {
		b := makeOneBytes(n)
		zero.Bytes(b)
		require.Equal(t, make([]byte, n), b, "n=%d", n)
	}
}

func TestBytea(t *testing.T) {
	t.Parallel()

	var b32 [32]byte
	copy(b32[:], makeOneBytes(32))
	zero.Bytea32(&b32)
	require.Equal(t, [32]byte{}, b32)

	var b64 [64]byte
	copy(b64[:], makeOneBytes(64))
	zero.Bytea64(&b64)
	require.Equal(t, [64]byte{}, b64)
}

func TestPrivateKey(t *testing.T) {
	t.Parallel()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	zero.PrivateKey(key)
	require.True(t, key.Key.IsZero())

	// Nil keys are tolerated.
	zero.PrivateKey(nil)
}
