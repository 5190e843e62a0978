// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	tx := testTx(t)
	txBytes := mustBytes(t, tx)

	ntfn, err := decodeMessage(rawTxZMQCommand, txBytes)
	require.NoError(t, err)
	txNtfn, ok := ntfn.(*TxNotification)
	require.True(t, ok)
	require.Equal(t, tx.TxHash(), txNtfn.Tx.TxHash())

	lock := &dashwire.InstantLock{
		Version:   1,
		Inputs:    []wire.OutPoint{tx.TxIn[0].PreviousOutPoint},
		TxID:      tx.TxHash(),
		CycleHash: chainhash.HashH([]byte("cycle")),
	}
	lockSig := append(append([]byte(nil), txBytes...), lock.Bytes()...)
	ntfn, err = decodeMessage(rawTxLockSigZMQCommand, lockSig)
	require.NoError(t, err)
	lockNtfn, ok := ntfn.(*InstantLockNotification)
	require.True(t, ok)
	require.Equal(t, tx.TxHash(), lockNtfn.Lock.TxID)
	require.Equal(t, tx.TxHash(), lockNtfn.Tx.TxHash())

	// Chain lock hashes arrive in display order.
	hash := chainhash.HashH([]byte("block"))
	reversed := make([]byte, chainhash.HashSize)
	for i := range reversed {
		reversed[i] = hash[chainhash.HashSize-1-i]
	}
	ntfn, err = decodeMessage(hashChainLockZMQCommand, reversed)
	require.NoError(t, err)
	require.Equal(t, hash, ntfn.(*ChainLockNotification).Hash)

	_, err = decodeMessage(hashChainLockZMQCommand, reversed[:31])
	require.Error(t, err)
	_, err = decodeMessage("rawblock", txBytes)
	require.Error(t, err)
	_, err = decodeMessage(rawTxZMQCommand, bytes.Repeat([]byte{0xff}, 3))
	require.Error(t, err)
}

// TestIdleLogThrottle checks that read timeouts are logged at most once
// per interval.
func TestIdleLogThrottle(t *testing.T) {
	t.Parallel()

	start := time.Unix(1700000000, 0)
	clk := clock.NewTestClock(start)
	s := NewZMQSubscriber(ZMQConfig{
		TxHost:          "tcp://127.0.0.1:29998",
		IdleLogInterval: time.Minute,
		Clock:           clk,
	})

	require.True(t, s.shouldLogIdle())
	require.False(t, s.shouldLogIdle())

	clk.SetTime(start.Add(59 * time.Second))
	require.False(t, s.shouldLogIdle())

	clk.SetTime(start.Add(time.Minute))
	require.True(t, s.shouldLogIdle())
	require.False(t, s.shouldLogIdle())

	// Each subscriber throttles on its own.
	other := NewZMQSubscriber(ZMQConfig{Clock: clk})
	require.True(t, other.shouldLogIdle())
}

func TestTopicsByHost(t *testing.T) {
	t.Parallel()

	s := NewZMQSubscriber(ZMQConfig{
		TxHost:          "tcp://127.0.0.1:29998",
		InstantLockHost: "tcp://127.0.0.1:29998",
		ChainLockHost:   "tcp://127.0.0.1:29999",
	})
	require.Equal(t, map[string][]string{
		"tcp://127.0.0.1:29998": {
			rawTxZMQCommand, rawTxLockSigZMQCommand,
		},
		"tcp://127.0.0.1:29999": {hashChainLockZMQCommand},
	}, s.topicsByHost())

	require.Error(t, NewZMQSubscriber(ZMQConfig{}).Start())
}
