// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/dashevo/dashcw/netparams"
	"github.com/stretchr/testify/require"
)

var (
	// seed is the master seed used throughout the tests.
	seed = bytes.Repeat([]byte{0x2a}, 64)

	// otherSeed is a second, unrelated seed.
	otherSeed = bytes.Repeat([]byte{0x07}, 64)

	// namespaceKey is the top level bucket the tests use.
	namespaceKey = []byte("waddrmgr")

	testParams = netparams.TestNetParams.Params
)

const defaultDBTimeout = 10 * time.Second

// setupDB creates an empty database with the manager namespace created.
func setupDB(t *testing.T) walletdb.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "mgrtest.db")
	db, err := walletdb.Create(
		"bdb", dbPath, true, defaultDBTimeout, false,
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(namespaceKey)
		return err
	})
	require.NoError(t, err)

	return db
}

// setupManager creates and opens a locked manager for seed.
func setupManager(t *testing.T, watch WatchFunc) (walletdb.DB, *Manager) {
	t.Helper()

	db := setupDB(t)
	var mgr *Manager
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)
		if err := Create(ns, seed, testParams); err != nil {
			return err
		}

		var err error
		mgr, err = Open(ns, testParams, watch)
		return err
	})
	require.NoError(t, err)

	return db, mgr
}

// nextAddress allocates an address for the role in its own transaction.
func nextAddress(t *testing.T, db walletdb.DB, mgr *Manager,
	role Role) (*AddressRecord, error) {

	t.Helper()

	var rec *AddressRecord
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		var err error
		rec, err = mgr.NextUnusedAddress(
			tx.ReadWriteBucket(namespaceKey), role,
		)
		return err
	})
	return rec, err
}
