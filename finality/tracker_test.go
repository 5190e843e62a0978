// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finality

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

// mockTxInfo serves transaction info from a map.
type mockTxInfo struct {
	mtx   sync.Mutex
	infos map[chainhash.Hash]*TxInfo
	err   error
}

func newMockTxInfo() *mockTxInfo {
	return &mockTxInfo{infos: make(map[chainhash.Hash]*TxInfo)}
}

func (m *mockTxInfo) set(txid chainhash.Hash, info TxInfo) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.infos[txid] = &info
}

func (m *mockTxInfo) TxInfo(_ context.Context,
	txid *chainhash.Hash) (*TxInfo, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	info, ok := m.infos[*txid]
	if !ok {
		return &TxInfo{}, nil
	}
	c := *info
	return &c, nil
}

// testLock returns an asset lock transaction and an instant lock for it.
func testLock(t *testing.T, seed byte) (*dashwire.MsgTx,
	*dashwire.InstantLock) {

	t.Helper()

	burn, err := txscript.NullDataScript(nil)
	require.NoError(t, err)

	tx := dashwire.NewMsgTx(dashwire.TxTypeAssetLock)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: chainhash.HashH([]byte{seed}),
	}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, burn))
	require.NoError(t, tx.SetAssetLockPayload(dashwire.NewAssetLockPayload(
		wire.NewTxOut(1000, []byte{txscript.OP_TRUE}),
	)))

	islock := &dashwire.InstantLock{
		Version:   1,
		Inputs:    []wire.OutPoint{tx.TxIn[0].PreviousOutPoint},
		TxID:      tx.TxHash(),
		CycleHash: chainhash.HashH([]byte("cycle")),
	}
	copy(islock.Signature[:], bytes.Repeat([]byte{seed}, 96))

	return tx, islock
}

func TestRegisterIdempotent(t *testing.T) {
	t.Parallel()

	tracker := New(Config{})
	tx, islock := testLock(t, 1)
	txid := tx.TxHash()

	require.False(t, tracker.IsRegistered(txid))
	tracker.Register(txid)
	tracker.Register(txid)
	require.True(t, tracker.IsRegistered(txid))
	require.Len(t, tracker.Pending(), 1)

	require.True(t, tracker.OnInstantLock(
		context.Background(), txid, islock, tx,
	))

	// Registering again must not reset the resolved entry.
	tracker.Register(txid)
	require.True(t, tracker.Proof(txid).IsSome())
	require.Empty(t, tracker.Pending())
}

// TestAwaitTimeoutThenChainAdvance waits for an unresolved entry, then
// resolves it with a chain lock.
func TestAwaitTimeoutThenChainAdvance(t *testing.T) {
	t.Parallel()

	infos := newMockTxInfo()
	tracker := New(Config{TxInfo: infos})
	txid := chainhash.HashH([]byte("T"))
	tracker.Register(txid)

	ctx := context.Background()
	_, err := tracker.AwaitProof(ctx, txid, time.Second)
	require.ErrorIs(t, err, ErrTimeout)
	require.True(t, tracker.IsRegistered(txid))

	infos.set(txid, TxInfo{Height: 90, Confirmations: 11, ChainLock: true})
	require.True(t, tracker.OnChainAdvance(ctx, txid, 100))

	start := time.Now()
	proof, err := tracker.AwaitProof(ctx, txid, time.Second)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 500*time.Millisecond)

	chainProof, ok := proof.(*ChainProof)
	require.True(t, ok)
	require.EqualValues(t, 100, chainProof.Height)
	require.Equal(t, wire.OutPoint{Hash: txid}, chainProof.OutPoint)
}

func TestOnChainAdvanceRequiresChainLock(t *testing.T) {
	t.Parallel()

	infos := newMockTxInfo()
	tracker := New(Config{TxInfo: infos})
	ctx := context.Background()
	txid := chainhash.HashH([]byte("T"))

	// Unregistered transactions are never resolved.
	infos.set(txid, TxInfo{Height: 90, ChainLock: true})
	require.False(t, tracker.OnChainAdvance(ctx, txid, 100))

	tracker.Register(txid)

	infos.set(txid, TxInfo{Height: 90})
	require.False(t, tracker.OnChainAdvance(ctx, txid, 100))

	infos.set(txid, TxInfo{Height: 101, ChainLock: true})
	require.False(t, tracker.OnChainAdvance(ctx, txid, 100))

	infos.set(txid, TxInfo{ChainLock: true})
	require.False(t, tracker.OnChainAdvance(ctx, txid, 100))

	infos.err = errors.New("rpc down")
	require.False(t, tracker.OnChainAdvance(ctx, txid, 200))
	infos.err = nil

	infos.set(txid, TxInfo{Height: 101, ChainLock: true})
	require.True(t, tracker.OnChainAdvance(ctx, txid, 101))
	require.False(t, tracker.OnChainAdvance(ctx, txid, 102))

	proof := tracker.Proof(txid).UnwrapOrFail(t)
	require.EqualValues(t, 101, proof.(*ChainProof).Height)
}

// TestInstantLockIdempotent ensures the first instant lock wins and later
// evidence leaves the proof untouched.
func TestInstantLockIdempotent(t *testing.T) {
	t.Parallel()

	tracker := New(Config{})
	ctx := context.Background()
	tx, islock := testLock(t, 1)
	txid := tx.TxHash()
	tracker.Register(txid)

	require.True(t, tracker.OnInstantLock(ctx, txid, islock, tx))
	first := tracker.Proof(txid).UnwrapOrFail(t)

	require.False(t, tracker.OnInstantLock(ctx, txid, islock, tx))
	require.Same(t, first, tracker.Proof(txid).UnwrapOrFail(t))

	conflicting := *islock
	conflicting.Signature[0] ^= 0xff
	require.False(t, tracker.OnInstantLock(ctx, txid, &conflicting, tx))
	require.Same(t, first, tracker.Proof(txid).UnwrapOrFail(t))

	instant, ok := first.(*InstantProof)
	require.True(t, ok)
	require.Same(t, islock, instant.InstantLock)
	require.Zero(t, instant.OutputIndex)
	require.Equal(t, wire.OutPoint{Hash: txid}, instant.LockedOutPoint())
}

func TestInstantLockMismatch(t *testing.T) {
	t.Parallel()

	tracker := New(Config{})
	tx, _ := testLock(t, 1)
	_, otherLock := testLock(t, 2)
	txid := tx.TxHash()
	tracker.Register(txid)

	require.False(t, tracker.OnInstantLock(
		context.Background(), txid, otherLock, tx,
	))
	require.True(t, tracker.Proof(txid).IsNone())
}

// TestDeepConfirmationUpgrade checks that a deeply chain locked transaction
// is proven by its chain lock even when an instant lock arrives.
func TestDeepConfirmationUpgrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		deep          uint32
		confirmations uint32
		chainLock     bool
		wantChain     bool
	}{
		{"default depth reached", 0, 9, true, true},
		{"default depth not reached", 0, 8, true, false},
		{"no chain lock", 0, 20, false, false},
		{"configured depth", 3, 4, true, true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			infos := newMockTxInfo()
			tracker := New(Config{
				DeepConfirmations: test.deep,
				TxInfo:            infos,
			})
			tx, islock := testLock(t, 3)
			txid := tx.TxHash()
			infos.set(txid, TxInfo{
				Height:        50,
				Confirmations: test.confirmations,
				ChainLock:     test.chainLock,
			})
			tracker.Register(txid)

			require.True(t, tracker.OnInstantLock(
				context.Background(), txid, islock, tx,
			))
			proof := tracker.Proof(txid).UnwrapOrFail(t)

			_, isChain := proof.(*ChainProof)
			require.Equal(t, test.wantChain, isChain)
		})
	}
}

func TestAwaitProofWakes(t *testing.T) {
	t.Parallel()

	tracker := New(Config{})
	tx, islock := testLock(t, 4)
	txid := tx.TxHash()
	tracker.Register(txid)

	type result struct {
		proof Proof
		err   error
	}
	results := make(chan result, 1)
	go func() {
		proof, err := tracker.AwaitProof(
			context.Background(), txid, time.Minute,
		)
		results <- result{proof, err}
	}()

	require.True(t, tracker.OnInstantLock(
		context.Background(), txid, islock, tx,
	))

	select {
	case res := <-results:
		require.NoError(t, res.err)
		require.IsType(t, &InstantProof{}, res.proof)
	case <-time.After(5 * time.Second):
		t.Fatal("await did not return after resolution")
	}
}

func TestAwaitProofPolling(t *testing.T) {
	t.Parallel()

	mock := ticker.NewForce(time.Hour)
	tracker := New(Config{
		NewTicker: func(time.Duration) ticker.Ticker {
			return mock
		},
	})
	tx, islock := testLock(t, 5)
	txid := tx.TxHash()
	tracker.Register(txid)

	_, err := tracker.AwaitProofPolling(
		context.Background(), txid, 50*time.Millisecond,
	)
	require.ErrorIs(t, err, ErrTimeout)

	mock = ticker.NewForce(time.Hour)
	results := make(chan error, 1)
	go func() {
		_, err := tracker.AwaitProofPolling(
			context.Background(), txid, time.Minute,
		)
		results <- err
	}()

	require.True(t, tracker.OnInstantLock(
		context.Background(), txid, islock, tx,
	))

	for {
		select {
		case mock.Force <- time.Now():
			continue
		case err := <-results:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("polling await did not return")
		}
		break
	}
}

// TestAwaitCancelKeepsRegistration ensures an abandoned await leaves the
// entry in place for later callers.
func TestAwaitCancelKeepsRegistration(t *testing.T) {
	t.Parallel()

	tracker := New(Config{})
	tx, islock := testLock(t, 6)
	txid := tx.TxHash()
	tracker.Register(txid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tracker.AwaitProof(ctx, txid, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, tracker.IsRegistered(txid))

	require.True(t, tracker.OnInstantLock(
		context.Background(), txid, islock, tx,
	))
	_, err = tracker.AwaitProof(context.Background(), txid, time.Second)
	require.NoError(t, err)
}

func TestForgetAndInvalidate(t *testing.T) {
	t.Parallel()

	tracker := New(Config{})
	ctx := context.Background()
	tx, islock := testLock(t, 7)
	txid := tx.TxHash()

	_, err := tracker.AwaitProof(ctx, txid, time.Second)
	require.ErrorIs(t, err, ErrNotRegistered)

	tracker.Register(txid)
	results := make(chan error, 1)
	go func() {
		_, err := tracker.AwaitProof(ctx, txid, time.Minute)
		results <- err
	}()

	// Give the waiter a chance to block before forgetting.
	time.Sleep(50 * time.Millisecond)
	tracker.Forget(txid)
	select {
	case err := <-results:
		require.ErrorIs(t, err, ErrNotRegistered)
	case <-time.After(5 * time.Second):
		t.Fatal("forget did not wake waiter")
	}
	require.False(t, tracker.IsRegistered(txid))

	tracker.Register(txid)
	require.True(t, tracker.OnInstantLock(ctx, txid, islock, tx))
	tracker.Invalidate(txid)
	require.True(t, tracker.IsRegistered(txid))
	require.True(t, tracker.Proof(txid).IsNone())

	require.True(t, tracker.OnInstantLock(ctx, txid, islock, tx))
	require.True(t, tracker.Proof(txid).IsSome())
}

func TestOnChainLock(t *testing.T) {
	t.Parallel()

	infos := newMockTxInfo()
	tracker := New(Config{TxInfo: infos})

	var txids []chainhash.Hash
	for i := byte(0); i < 3; i++ {
		txid := chainhash.HashH([]byte{i})
		txids = append(txids, txid)
		tracker.Register(txid)
	}
	infos.set(txids[0], TxInfo{Height: 10, ChainLock: true})
	infos.set(txids[1], TxInfo{Height: 12, ChainLock: true})
	infos.set(txids[2], TxInfo{Height: 30, ChainLock: true})

	require.Equal(t, 2, tracker.OnChainLock(context.Background(), 20))
	require.Equal(t, []chainhash.Hash{txids[2]}, tracker.Pending())
}

func TestProofEncoding(t *testing.T) {
	t.Parallel()

	tx, islock := testLock(t, 8)
	proofs := []Proof{
		&InstantProof{InstantLock: islock, Tx: tx, OutputIndex: 0},
		&ChainProof{
			Height:   1234,
			OutPoint: wire.OutPoint{Hash: tx.TxHash(), Index: 0},
		},
	}
	for _, proof := range proofs {
		b, err := ProofBytes(proof)
		require.NoError(t, err)

		decoded, err := DecodeProof(bytes.NewReader(b))
		require.NoError(t, err)
		require.IsType(t, proof, decoded)
		require.Equal(t, proof.LockedOutPoint(), decoded.LockedOutPoint())
		require.Equal(t, proof.IdentityID(), decoded.IdentityID())
		require.True(t, sameProof(proof, decoded))
	}

	// Both proofs of the same lock name the same identity.
	require.Equal(t, proofs[0].IdentityID(), proofs[1].IdentityID())
	op := proofs[0].LockedOutPoint()
	require.Equal(t, dashwire.OutPointHash(&op), proofs[0].IdentityID())
}
