// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/dashevo/dashcw/chain"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/stretchr/testify/mock"
)

// mockChainClient is a mock implementation of the ChainClient interface.
type mockChainClient struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockChainClient implements the
// ChainClient interface.
var _ ChainClient = (*mockChainClient)(nil)

// SendRawTransaction implements the ChainClient interface.
func (m *mockChainClient) SendRawTransaction(ctx context.Context,
	tx *dashwire.MsgTx) (chainhash.Hash, error) {

	args := m.Called(ctx, tx)
	return tx.TxHash(), args.Error(0)
}

// GetRawTransactionInfo implements the ChainClient interface.
func (m *mockChainClient) GetRawTransactionInfo(ctx context.Context,
	txid *chainhash.Hash) (*chain.TxInfo, error) {

	args := m.Called(ctx, txid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*chain.TxInfo), args.Error(1)
}

// GetReceivedByAddress implements the ChainClient interface.
func (m *mockChainClient) GetReceivedByAddress(ctx context.Context,
	addr btcutil.Address) (btcutil.Amount, error) {

	args := m.Called(ctx, addr.EncodeAddress())
	return args.Get(0).(btcutil.Amount), args.Error(1)
}

// ListUnspent implements the ChainClient interface.
func (m *mockChainClient) ListUnspent(ctx context.Context,
	addrs []btcutil.Address) ([]*chain.Unspent, error) {

	args := m.Called(ctx, addrs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*chain.Unspent), args.Error(1)
}

// ImportAddress implements the ChainClient interface.
func (m *mockChainClient) ImportAddress(ctx context.Context,
	addr btcutil.Address) error {

	args := m.Called(ctx, addr)
	return args.Error(0)
}

// GetBlockHeight implements the ChainClient interface.
func (m *mockChainClient) GetBlockHeight(ctx context.Context,
	hash *chainhash.Hash) (int32, error) {

	args := m.Called(ctx, hash)
	return args.Get(0).(int32), args.Error(1)
}
