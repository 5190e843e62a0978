// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/dashevo/dashcw/chain"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/dashevo/dashcw/finality"
)

// ChainClient is the node backend the wallet broadcasts to and queries.
// chain.RPCClient implements it.
type ChainClient interface {
	SendRawTransaction(ctx context.Context,
		tx *dashwire.MsgTx) (chainhash.Hash, error)

	GetRawTransactionInfo(ctx context.Context,
		txid *chainhash.Hash) (*chain.TxInfo, error)

	GetReceivedByAddress(ctx context.Context,
		addr btcutil.Address) (btcutil.Amount, error)

	ListUnspent(ctx context.Context,
		addrs []btcutil.Address) ([]*chain.Unspent, error)

	ImportAddress(ctx context.Context, addr btcutil.Address) error

	GetBlockHeight(ctx context.Context, hash *chainhash.Hash) (int32, error)
}

// A compile-time assertion to ensure that chain.RPCClient implements the
// ChainClient interface.
var _ ChainClient = (*chain.RPCClient)(nil)

// txInfoSource feeds the finality tracker from the chain backend.
type txInfoSource struct {
	chain ChainClient
}

// TxInfo implements finality.TxInfoSource.
func (s txInfoSource) TxInfo(ctx context.Context,
	txid *chainhash.Hash) (*finality.TxInfo, error) {

	info, err := s.chain.GetRawTransactionInfo(ctx, txid)
	if err != nil {
		return nil, err
	}

	res := &finality.TxInfo{
		Confirmations: info.Confirmations,
		ChainLock:     info.ChainLock,
		InstantLock:   info.InstantLock,
	}
	if info.Height > 0 {
		res.Height = uint32(info.Height)
	}
	return res, nil
}
