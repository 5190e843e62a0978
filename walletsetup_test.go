// Copyright (c) 2014-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"path/filepath"
	"testing"

	"github.com/dashevo/dashcw/netparams"
	"github.com/dashevo/dashcw/wallet"
	"github.com/stretchr/testify/require"
)

// TestOpenRegistry checks that the registry the daemon opens finds its
// database driver without the caller registering one, and that the
// database opens again after a restart.
func TestOpenRegistry(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "testnet")
	cfg := &wallet.Config{ChainParams: netparams.TestNetParams.Params}

	r := wallet.NewRegistry(cfg, dir, false, wallet.DefaultDBTimeout)
	require.NoError(t, r.Open())
	require.NoError(t, r.Close())

	r = wallet.NewRegistry(cfg, dir, false, wallet.DefaultDBTimeout)
	require.NoError(t, r.Open())
	require.NoError(t, r.Close())
}
