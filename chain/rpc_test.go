// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/dashevo/dashcw/netparams"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testParams = netparams.TestNetParams.Params

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) RawRequest(method string,
	params []json.RawMessage) (json.RawMessage, error) {

	args := m.Called(method, params)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

// params matches a request whose parameters encode to want.
func params(want ...string) interface{} {
	return mock.MatchedBy(func(got []json.RawMessage) bool {
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if string(got[i]) != want[i] {
				return false
			}
		}
		return true
	})
}

func newTestClient() (*RPCClient, *mockRequester) {
	m := &mockRequester{}
	return NewRPCClientWithRequester(m, testParams), m
}

func testTx(t *testing.T) *dashwire.MsgTx {
	t.Helper()

	burn, err := txscript.NullDataScript(nil)
	require.NoError(t, err)

	tx := dashwire.NewMsgTx(dashwire.TxTypeAssetLock)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: chainhash.HashH([]byte("in")),
	}, []byte{0x01}, nil))
	tx.AddTxOut(wire.NewTxOut(5000, burn))
	require.NoError(t, tx.SetAssetLockPayload(dashwire.NewAssetLockPayload(
		wire.NewTxOut(5000, []byte{txscript.OP_TRUE}),
	)))
	return tx
}

func TestStartChecksNetwork(t *testing.T) {
	t.Parallel()

	c, m := newTestClient()
	m.On("RawRequest", "getblockchaininfo", params()).Return(
		json.RawMessage(`{"chain":"test","blocks":1000}`), nil,
	).Once()
	require.NoError(t, c.Start(context.Background()))

	m.On("RawRequest", "getblockchaininfo", params()).Return(
		json.RawMessage(`{"chain":"main","blocks":1000}`), nil,
	).Once()
	require.Error(t, c.Start(context.Background()))

	m.AssertExpectations(t)
}

func TestSendRawTransaction(t *testing.T) {
	t.Parallel()

	c, m := newTestClient()
	tx := testTx(t)
	b, err := tx.Bytes()
	require.NoError(t, err)
	txHex := `"` + hex.EncodeToString(b) + `"`

	m.On("RawRequest", "sendrawtransaction", params(txHex)).Return(
		json.RawMessage(`"`+tx.TxHash().String()+`"`), nil,
	).Once()
	txid, err := c.SendRawTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), txid)

	m.On("RawRequest", "sendrawtransaction", params(txHex)).Return(
		nil, errors.New("-26: txn-already-in-mempool"),
	).Once()
	txid, err = c.SendRawTransaction(context.Background(), tx)
	require.ErrorIs(t, err, ErrTxAlreadyKnown)
	require.Equal(t, tx.TxHash(), txid)

	m.On("RawRequest", "sendrawtransaction", params(txHex)).Return(
		nil, errors.New("-26: bad-txns-inputs-missingorspent"),
	).Once()
	_, err = c.SendRawTransaction(context.Background(), tx)
	require.ErrorIs(t, err, ErrMissingInputs)
	require.NotErrorIs(t, err, ErrTxAlreadyKnown)

	m.AssertExpectations(t)
}

func TestGetRawTransactionInfo(t *testing.T) {
	t.Parallel()

	c, m := newTestClient()
	tx := testTx(t)
	txid := tx.TxHash()
	b, err := tx.Bytes()
	require.NoError(t, err)

	reply, err := json.Marshal(map[string]interface{}{
		"hex":           hex.EncodeToString(b),
		"txid":          txid.String(),
		"height":        100,
		"confirmations": 3,
		"instantlock":   true,
		"chainlock":     true,
	})
	require.NoError(t, err)
	m.On("RawRequest", "getrawtransaction",
		params(`"`+txid.String()+`"`, "1")).Return(
		json.RawMessage(reply), nil,
	)

	info, err := c.GetRawTransactionInfo(context.Background(), &txid)
	require.NoError(t, err)
	require.EqualValues(t, 100, info.Height)
	require.EqualValues(t, 3, info.Confirmations)
	require.True(t, info.ChainLock)
	require.True(t, info.InstantLock)
	require.Equal(t, txid, info.Tx.TxHash())
	require.Equal(t, b, mustBytes(t, info.Tx))
}

func mustBytes(t *testing.T, tx *dashwire.MsgTx) []byte {
	t.Helper()

	b, err := tx.Bytes()
	require.NoError(t, err)
	return b
}

func TestListUnspentAndReceived(t *testing.T) {
	t.Parallel()

	c, m := newTestClient()
	addr, err := btcutil.NewAddressPubKeyHash(make([]byte, 20), testParams)
	require.NoError(t, err)
	pkScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	txid := chainhash.HashH([]byte("funding"))

	reply, err := json.Marshal([]map[string]interface{}{{
		"txid":          txid.String(),
		"vout":          1,
		"address":       addr.EncodeAddress(),
		"scriptPubKey":  hex.EncodeToString(pkScript),
		"amount":        1.03,
		"confirmations": 6,
		"spendable":     false,
	}})
	require.NoError(t, err)

	addrParam := `["` + addr.EncodeAddress() + `"]`
	m.On("RawRequest", "listunspent",
		params("0", "9999999", addrParam)).Return(
		json.RawMessage(reply), nil,
	)
	m.On("RawRequest", "getreceivedbyaddress",
		params(`"`+addr.EncodeAddress()+`"`, "0")).Return(
		json.RawMessage(`1.5`), nil,
	)
	m.On("RawRequest", "importaddress",
		params(`"`+addr.EncodeAddress()+`"`, `""`, "false")).Return(
		json.RawMessage(`null`), nil,
	)

	ctx := context.Background()
	unspent, err := c.ListUnspent(ctx, []btcutil.Address{addr})
	require.NoError(t, err)
	require.Len(t, unspent, 1)
	require.Equal(t, wire.OutPoint{Hash: txid, Index: 1},
		unspent[0].OutPoint)
	require.EqualValues(t, 103_000_000, unspent[0].Amount)
	require.Equal(t, pkScript, unspent[0].PkScript)
	require.Equal(t, addr.EncodeAddress(), unspent[0].Address)

	received, err := c.GetReceivedByAddress(ctx, addr)
	require.NoError(t, err)
	require.EqualValues(t, 150_000_000, received)

	require.NoError(t, c.ImportAddress(ctx, addr))
	m.AssertExpectations(t)
}

// blockingRequester doesn't answer until done is closed.
type blockingRequester struct {
	done chan struct{}
}

func (b blockingRequester) RawRequest(string, []json.RawMessage) (
	json.RawMessage, error) {

	<-b.done
	return nil, errors.New("closed")
}

func TestCallHonorsContext(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	c := NewRPCClientWithRequester(blockingRequester{done}, testParams)

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()

	hash := chainhash.HashH([]byte("block"))
	_, err := c.GetBlockHeight(ctx, &hash)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
