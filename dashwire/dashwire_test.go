// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dashwire

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testAssetLockTx(t *testing.T) *MsgTx {
	t.Helper()

	tx := NewMsgTx(TxTypeAssetLock)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash:  chainhash.HashH([]byte("funding")),
		Index: 1,
	}, nil, nil))

	burn, err := txscript.NullDataScript(nil)
	require.NoError(t, err)
	tx.AddTxOut(wire.NewTxOut(100_000_000, burn))

	credit := make([]byte, 25)
	credit[0] = txscript.OP_DUP
	payload := NewAssetLockPayload(wire.NewTxOut(100_000_000, credit))
	require.NoError(t, tx.SetAssetLockPayload(payload))

	return tx
}

// TestSpecialTxRoundTrip checks that the version field packs the type and
// that the payload survives serialization.
func TestSpecialTxRoundTrip(t *testing.T) {
	t.Parallel()

	tx := testAssetLockTx(t)
	require.Equal(t, int32(0x00080003), tx.Version)
	require.Equal(t, uint16(3), tx.TxVersion())
	require.Equal(t, TxTypeAssetLock, tx.Type())
	require.True(t, tx.IsSpecial())

	b, err := tx.Bytes()
	require.NoError(t, err)
	require.Len(t, b, tx.SerializeSize())

	decoded, err := DecodeTx(b)
	require.NoError(t, err)
	require.Equal(t, tx.Payload, decoded.Payload)
	require.Equal(t, tx.TxHash(), decoded.TxHash())

	p, err := decoded.AssetLockPayload()
	require.NoError(t, err)
	require.Equal(t, uint8(AssetLockPayloadVersion), p.Version)
	require.Equal(t, btcutil.Amount(100_000_000), p.CreditAmount())

	// The payload is committed to by the txid.
	require.NotEqual(t, tx.MsgTx.TxHash(), tx.TxHash())
}

// TestNormalTxMatchesBtcd checks that a classical transaction hashes and
// serializes exactly like btcd does.
func TestNormalTxMatchesBtcd(t *testing.T) {
	t.Parallel()

	msg := wire.NewMsgTx(2)
	msg.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 7}, []byte{1, 2}, nil))
	msg.AddTxOut(wire.NewTxOut(5000, []byte{txscript.OP_TRUE}))

	tx := FromWire(msg)
	require.False(t, tx.IsSpecial())
	require.Equal(t, TxTypeNormal, tx.Type())
	require.Equal(t, msg.TxHash(), tx.TxHash())

	var want bytes.Buffer
	require.NoError(t, msg.SerializeNoWitness(&want))
	got, err := tx.Bytes()
	require.NoError(t, err)
	require.Equal(t, want.Bytes(), got)

	_, err = tx.AssetLockPayload()
	require.Error(t, err)
}

// TestCalcSignatureHash checks the legacy sighash against btcd for a
// classical transaction and that the payload is covered for special ones.
func TestCalcSignatureHash(t *testing.T) {
	t.Parallel()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pkHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	prevScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
		AddData(pkHash).AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).Script()
	require.NoError(t, err)

	msg := wire.NewMsgTx(2)
	msg.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil))
	msg.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	msg.AddTxOut(wire.NewTxOut(5000, prevScript))

	for idx := range msg.TxIn {
		want, err := txscript.CalcSignatureHash(
			prevScript, txscript.SigHashAll, msg, idx,
		)
		require.NoError(t, err)

		got, err := CalcSignatureHash(
			prevScript, txscript.SigHashAll, FromWire(msg), idx,
		)
		require.NoError(t, err)
		require.Equal(t, want, got[:])
	}

	tx := testAssetLockTx(t)
	h1, err := CalcSignatureHash(prevScript, txscript.SigHashAll, tx, 0)
	require.NoError(t, err)

	sig := ecdsa.Sign(key, h1[:])
	require.True(t, sig.Verify(h1[:], key.PubKey()))

	tx.Payload[len(tx.Payload)-1] ^= 0xff
	h2, err := CalcSignatureHash(prevScript, txscript.SigHashAll, tx, 0)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	_, err = CalcSignatureHash(prevScript, txscript.SigHashSingle, tx, 0)
	require.Error(t, err)
	_, err = CalcSignatureHash(prevScript, txscript.SigHashAll, tx, 1)
	require.Error(t, err)
}

// TestInstantLock checks decoding of a rawtxlocksig notification body.
func TestInstantLock(t *testing.T) {
	t.Parallel()

	tx := testAssetLockTx(t)
	lock := &InstantLock{
		Version:   1,
		Inputs:    []wire.OutPoint{tx.TxIn[0].PreviousOutPoint},
		TxID:      tx.TxHash(),
		CycleHash: chainhash.HashH([]byte("cycle")),
	}
	lock.Signature[0] = 0x8f

	decodedLock, err := DecodeInstantLock(lock.Bytes())
	require.NoError(t, err)
	require.Equal(t, lock, decodedLock)

	txBytes, err := tx.Bytes()
	require.NoError(t, err)
	body := append(txBytes, lock.Bytes()...)

	gotTx, gotLock, err := DecodeTxLockSig(body)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), gotTx.TxHash())
	require.Equal(t, lock, gotLock)

	// A lock for some other transaction is rejected.
	lock.TxID = chainhash.Hash{}
	body = append(txBytes[:len(txBytes):len(txBytes)], lock.Bytes()...)
	_, _, err = DecodeTxLockSig(body)
	require.Error(t, err)

	// Truncated bodies are rejected.
	_, _, err = DecodeTxLockSig(txBytes)
	require.Error(t, err)
}

func TestOutPointHash(t *testing.T) {
	t.Parallel()

	op := wire.OutPoint{Hash: chainhash.HashH([]byte("a")), Index: 0}
	h1 := OutPointHash(&op)
	op.Index = 1
	require.NotEqual(t, h1, OutPointHash(&op))
}
