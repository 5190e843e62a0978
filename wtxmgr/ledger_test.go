// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/dashevo/dashcw/netparams"
	"github.com/stretchr/testify/require"
)

var (
	namespaceKey = []byte("wtxmgr")
	testParams   = netparams.TestNetParams.Params
)

func testStore(t *testing.T) (walletdb.DB, *Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "txstore.db")
	db, err := walletdb.Create("bdb", dbPath, true, 10*time.Second, false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var s *Store
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(namespaceKey)
		if err != nil {
			return err
		}
		s, err = Open(ns, testParams)
		return err
	})
	require.NoError(t, err)

	return db, s
}

func testAddress(t *testing.T, b byte) btcutil.Address {
	t.Helper()

	hash := make([]byte, 20)
	hash[0] = b
	addr, err := btcutil.NewAddressPubKeyHash(hash, testParams)
	require.NoError(t, err)
	return addr
}

func testUtxo(t *testing.T, seed string, index uint32,
	value btcutil.Amount) *Utxo {

	t.Helper()

	return &Utxo{
		OutPoint: wire.OutPoint{
			Hash:  chainhash.HashH([]byte(seed)),
			Index: index,
		},
		Address:  testAddress(t, byte(index)),
		Value:    value,
		PkScript: []byte{0x76, 0xa9, byte(index)},
		Height:   100,
	}
}

func record(t *testing.T, db walletdb.DB, s *Store, u *Utxo) bool {
	t.Helper()

	var added bool
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		var err error
		added, err = s.Record(tx.ReadWriteBucket(namespaceKey), u)
		return err
	})
	require.NoError(t, err)
	return added
}

func remove(t *testing.T, db walletdb.DB, s *Store, op wire.OutPoint) bool {
	t.Helper()

	var removed bool
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		var err error
		removed, err = s.Remove(tx.ReadWriteBucket(namespaceKey), op)
		return err
	})
	require.NoError(t, err)
	return removed
}

// TestRecordRemoveIdempotent checks that duplicate records and removals are
// no-ops and that the ledger survives a reopen.
func TestRecordRemoveIdempotent(t *testing.T) {
	t.Parallel()

	db, s := testStore(t)
	u1 := testUtxo(t, "a", 0, 1000)
	u2 := testUtxo(t, "b", 1, 2000)

	require.True(t, record(t, db, s, u1))
	require.False(t, record(t, db, s, u1))
	require.True(t, record(t, db, s, u2))
	require.Equal(t, btcutil.Amount(3000), s.Balance())

	require.True(t, remove(t, db, s, u1.OutPoint))
	require.False(t, remove(t, db, s, u1.OutPoint))
	require.Equal(t, btcutil.Amount(2000), s.Balance())

	var reopened *Store
	err := walletdb.View(db, func(tx walletdb.ReadTx) error {
		var err error
		reopened, err = Open(tx.ReadBucket(namespaceKey), testParams)
		return err
	})
	require.NoError(t, err)

	got := reopened.List()
	require.Len(t, got, 1)
	require.Equal(t, u2.OutPoint, got[0].OutPoint)
	require.Equal(t, u2.Value, got[0].Value)
	require.Equal(t, u2.PkScript, got[0].PkScript)
	require.Equal(t, u2.Height, got[0].Height)
	require.Equal(t, u2.Address.EncodeAddress(),
		got[0].Address.EncodeAddress())
}

func TestRecordInvalid(t *testing.T) {
	t.Parallel()

	db, s := testStore(t)
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)

		u := testUtxo(t, "a", 0, -1)
		_, err := s.Record(ns, u)
		require.True(t, IsError(err, ErrInput))

		u = testUtxo(t, "a", 0, 1)
		u.Address = nil
		_, err = s.Record(ns, u)
		require.True(t, IsError(err, ErrInput))
		return nil
	})
	require.NoError(t, err)
}

// TestSelectForScenario funds 1 dash from a single 1.03 dash output.
func TestSelectForScenario(t *testing.T) {
	t.Parallel()

	db, s := testStore(t)
	u := testUtxo(t, "x", 0, 103_000_000)
	record(t, db, s, u)

	sel, err := s.SelectFor(100_000_000).UnwrapOrErr(errNoSelection)
	require.NoError(t, err)
	require.Len(t, sel.Utxos, 1)
	require.Equal(t, u.OutPoint, sel.Utxos[0].OutPoint)
	require.Equal(t, btcutil.Amount(100_000_000), sel.Amount)
	require.Equal(t, FixedFee, sel.Fee)
	require.Equal(t, btcutil.Amount(2_997_000), sel.Change)

	// Not enough for amount plus fee.
	require.True(t, s.SelectFor(103_000_000).IsNone())

	// Unless the fee may come out of the amount.
	sel, err = s.SelectFor(103_000_000, WithFeeFromAmount()).
		UnwrapOrErr(errNoSelection)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(103_000_000-3000), sel.Amount)
	require.Zero(t, sel.Change)

	// Still nothing when even the amount isn't covered.
	require.True(t, s.SelectFor(
		103_000_001, WithFeeFromAmount(),
	).IsNone())

	require.True(t, s.SelectFor(0).IsNone())
}

// TestSelectForLeases checks that leased outputs are never selected.
func TestSelectForLeases(t *testing.T) {
	t.Parallel()

	db, s := testStore(t)
	big := testUtxo(t, "a", 0, 50_000)
	small := testUtxo(t, "b", 1, 20_000)
	record(t, db, s, big)
	record(t, db, s, small)

	require.NoError(t, s.LockOutPoints(big.OutPoint))
	require.True(t, s.IsLocked(big.OutPoint))
	require.Error(t, s.LockOutPoints(big.OutPoint))
	require.Error(t, s.LockOutPoints(wire.OutPoint{Index: 9}))

	sel, err := s.SelectFor(10_000).UnwrapOrErr(errNoSelection)
	require.NoError(t, err)
	require.Len(t, sel.Utxos, 1)
	require.Equal(t, small.OutPoint, sel.Utxos[0].OutPoint)

	require.True(t, s.SelectFor(30_000).IsNone())

	s.UnlockOutPoints(big.OutPoint)
	require.True(t, s.SelectFor(30_000).IsSome())

	// Removing an output drops its lease.
	require.NoError(t, s.LockOutPoints(small.OutPoint))
	remove(t, db, s, small.OutPoint)
	require.False(t, s.IsLocked(small.OutPoint))
}

// TestSelectForProperties checks the selection invariants over random
// ledgers.
func TestSelectForProperties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 25; round++ {
		db, s := testStore(t)

		var total btcutil.Amount
		n := rng.Intn(8)
		for i := 0; i < n; i++ {
			v := btcutil.Amount(rng.Int63n(100_000) + 1)
			record(t, db, s, testUtxo(t, "p", uint32(i), v))
			total += v
		}

		for j := 0; j < 10; j++ {
			amount := btcutil.Amount(rng.Int63n(400_000) + 1)
			opt := s.SelectFor(amount)
			if opt.IsNone() {
				require.Less(t, total, amount+FixedFee)
				continue
			}

			sel := opt.UnsafeFromSome()
			var sum btcutil.Amount
			for _, u := range sel.Utxos {
				sum += u.Value
			}
			require.Equal(t, sum, sel.Total)
			require.Equal(t, amount+FixedFee+sel.Change, sum)
			require.GreaterOrEqual(t, sel.Change, btcutil.Amount(0))

			// Same ledger, same selection.
			again := s.SelectFor(amount).UnsafeFromSome()
			require.Equal(t, sel, again)
		}
	}
}

// TestReconcile checks that the ledger converges to the backend view while
// leased outputs stay put.
func TestReconcile(t *testing.T) {
	t.Parallel()

	db, s := testStore(t)
	stale := testUtxo(t, "stale", 0, 1000)
	leased := testUtxo(t, "leased", 1, 2000)
	kept := testUtxo(t, "kept", 2, 3000)
	fresh := testUtxo(t, "fresh", 3, 4000)
	for _, u := range []*Utxo{stale, leased, kept} {
		record(t, db, s, u)
	}
	require.NoError(t, s.LockOutPoints(leased.OutPoint))

	var added, removed []wire.OutPoint
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		var err error
		added, removed, err = s.Reconcile(
			tx.ReadWriteBucket(namespaceKey), []*Utxo{kept, fresh},
		)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []wire.OutPoint{fresh.OutPoint}, added)
	require.Equal(t, []wire.OutPoint{stale.OutPoint}, removed)

	_, ok := s.Get(leased.OutPoint)
	require.True(t, ok)
	require.Equal(t, btcutil.Amount(9000), s.Balance())

	balances := s.BalanceByAddress()
	require.Equal(t, btcutil.Amount(4000),
		balances[fresh.Address.EncodeAddress()])
}

// TestRolledBackChanges checks that records and removals of a transaction
// that doesn't commit leave the ledger and its leases untouched.
func TestRolledBackChanges(t *testing.T) {
	t.Parallel()

	db, s := testStore(t)
	kept := testUtxo(t, "kept", 0, 1000)
	record(t, db, s, kept)
	require.NoError(t, s.LockOutPoints(kept.OutPoint))

	fresh := testUtxo(t, "fresh", 1, 2000)
	errAbort := errors.New("abort")
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(namespaceKey)

		added, err := s.Record(ns, fresh)
		require.NoError(t, err)
		require.True(t, added)

		// The transaction sees its own changes.
		added, err = s.Record(ns, fresh)
		require.NoError(t, err)
		require.False(t, added)

		removed, err := s.Remove(ns, kept.OutPoint)
		require.NoError(t, err)
		require.True(t, removed)
		removed, err = s.Remove(ns, kept.OutPoint)
		require.NoError(t, err)
		require.False(t, removed)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	require.Equal(t, btcutil.Amount(1000), s.Balance())
	require.True(t, s.IsLocked(kept.OutPoint))
	_, ok := s.Get(fresh.OutPoint)
	require.False(t, ok)

	// The next transaction starts from the committed state.
	require.True(t, record(t, db, s, fresh))
	require.True(t, remove(t, db, s, kept.OutPoint))
	require.False(t, s.IsLocked(kept.OutPoint))
	require.Equal(t, btcutil.Amount(2000), s.Balance())
}
