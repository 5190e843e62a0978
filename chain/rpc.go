// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/dashevo/dashcw/dashwire"
)

// RawRequester performs JSON-RPC calls.  *rpcclient.Client implements it.
type RawRequester interface {
	RawRequest(method string, params []json.RawMessage) (json.RawMessage,
		error)
}

// RPCConfig holds the parameters of a connection to a Dash Core node.
type RPCConfig struct {
	// ChainParams are the parameters of the network the node must run.
	ChainParams *chaincfg.Params

	// Host is the address and port of the node's RPC server.
	Host string

	// User and Pass authenticate to the RPC server.
	User string
	Pass string

	// DisableTLS connects without TLS.
	DisableTLS bool
}

// TxInfo is the verbose form of a transaction known to the node.
type TxInfo struct {
	Tx            *dashwire.MsgTx
	Height        int32
	Confirmations uint32
	InstantLock   bool
	ChainLock     bool
}

// Unspent is an unspent output reported by the node.
type Unspent struct {
	OutPoint      wire.OutPoint
	Address       string
	Amount        btcutil.Amount
	PkScript      []byte
	Confirmations int64
}

// RPCClient talks to a Dash Core node over HTTP POST JSON-RPC.  Dash Core
// has no websocket notifications, so events come from ZMQSubscriber.
type RPCClient struct {
	client      RawRequester
	shutdown    func()
	chainParams *chaincfg.Params
}

// NewRPCClient returns a client of the node described by cfg.  No request
// is made until Start.
func NewRPCClient(cfg *RPCConfig) (*RPCClient, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:                 cfg.Host,
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		DisableAutoReconnect: false,
		DisableConnectOnNew:  true,
		DisableTLS:           cfg.DisableTLS,
		HTTPPostMode:         true,
	}, nil)
	if err != nil {
		return nil, err
	}

	return &RPCClient{
		client:      client,
		shutdown:    client.Shutdown,
		chainParams: cfg.ChainParams,
	}, nil
}

// NewRPCClientWithRequester returns a client that sends its calls through
// r.
func NewRPCClientWithRequester(r RawRequester,
	chainParams *chaincfg.Params) *RPCClient {

	return &RPCClient{
		client:      r,
		shutdown:    func() {},
		chainParams: chainParams,
	}
}

// Start verifies that the node runs on the configured network.
func (c *RPCClient) Start(ctx context.Context) error {
	var info struct {
		Chain  string `json:"chain"`
		Blocks int32  `json:"blocks"`
	}
	if err := c.call(ctx, "getblockchaininfo", &info); err != nil {
		return err
	}

	var net string
	switch info.Chain {
	case "main":
		net = "mainnet"
	case "test":
		net = "testnet"
	default:
		net = info.Chain
	}
	if net != c.chainParams.Name {
		return fmt.Errorf("expected network %v, got %v",
			c.chainParams.Name, info.Chain)
	}

	log.Infof("Connected to %v node at height %d", net, info.Blocks)
	return nil
}

// Stop shuts down the client.
func (c *RPCClient) Stop() {
	c.shutdown()
}

// call runs method with params and decodes the reply into result unless it
// is nil.  The request itself can't be canceled, but the call returns as
// soon as ctx is done.
func (c *RPCClient) call(ctx context.Context, method string,
	result interface{}, params ...interface{}) error {

	rawParams := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		rawParams = append(rawParams, b)
	}

	type reply struct {
		raw json.RawMessage
		err error
	}
	replies := make(chan reply, 1)
	go func() {
		raw, err := c.client.RawRequest(method, rawParams)
		replies <- reply{raw, err}
	}()

	var r reply
	select {
	case r = <-replies:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.err != nil {
		return r.err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(r.raw, result); err != nil {
		return fmt.Errorf("unable to decode %v reply: %w", method, err)
	}
	return nil
}

// SendRawTransaction broadcasts tx.  It returns ErrTxAlreadyKnown when the
// node already has the transaction.
func (c *RPCClient) SendRawTransaction(ctx context.Context,
	tx *dashwire.MsgTx) (chainhash.Hash, error) {

	b, err := tx.Bytes()
	if err != nil {
		return chainhash.Hash{}, err
	}
	txid := tx.TxHash()

	var reply string
	err = c.call(ctx, "sendrawtransaction", &reply, hex.EncodeToString(b))
	if err != nil {
		return txid, MapRPCErr(err)
	}

	log.Debugf("Broadcast transaction %v", txid)
	return txid, nil
}

// GetRawTransactionInfo returns the transaction txid with its chain state.
func (c *RPCClient) GetRawTransactionInfo(ctx context.Context,
	txid *chainhash.Hash) (*TxInfo, error) {

	var reply struct {
		Hex           string `json:"hex"`
		Height        *int32 `json:"height"`
		Confirmations uint32 `json:"confirmations"`
		InstantLock   bool   `json:"instantlock"`
		ChainLock     bool   `json:"chainlock"`
	}
	err := c.call(ctx, "getrawtransaction", &reply, txid.String(), 1)
	if err != nil {
		return nil, err
	}

	b, err := hex.DecodeString(reply.Hex)
	if err != nil {
		return nil, err
	}
	tx, err := dashwire.DecodeTx(b)
	if err != nil {
		return nil, err
	}

	info := &TxInfo{
		Tx:            tx,
		Confirmations: reply.Confirmations,
		InstantLock:   reply.InstantLock,
		ChainLock:     reply.ChainLock,
	}
	if reply.Height != nil && *reply.Height > 0 {
		info.Height = *reply.Height
	}
	return info, nil
}

// GetReceivedByAddress returns the total received by a watched address.
func (c *RPCClient) GetReceivedByAddress(ctx context.Context,
	addr btcutil.Address) (btcutil.Amount, error) {

	var reply float64
	err := c.call(
		ctx, "getreceivedbyaddress", &reply, addr.EncodeAddress(), 0,
	)
	if err != nil {
		return 0, err
	}
	return btcutil.NewAmount(reply)
}

// ListUnspent returns the unspent outputs paying addrs.
func (c *RPCClient) ListUnspent(ctx context.Context,
	addrs []btcutil.Address) ([]*Unspent, error) {

	encoded := make([]string, len(addrs))
	for i, addr := range addrs {
		encoded[i] = addr.EncodeAddress()
	}

	var reply []btcjson.ListUnspentResult
	err := c.call(ctx, "listunspent", &reply, 0, 9999999, encoded)
	if err != nil {
		return nil, err
	}

	unspent := make([]*Unspent, 0, len(reply))
	for _, r := range reply {
		hash, err := chainhash.NewHashFromStr(r.TxID)
		if err != nil {
			return nil, err
		}
		pkScript, err := hex.DecodeString(r.ScriptPubKey)
		if err != nil {
			return nil, err
		}
		amount, err := btcutil.NewAmount(r.Amount)
		if err != nil {
			return nil, err
		}
		unspent = append(unspent, &Unspent{
			OutPoint:      wire.OutPoint{Hash: *hash, Index: r.Vout},
			Address:       r.Address,
			Amount:        amount,
			PkScript:      pkScript,
			Confirmations: r.Confirmations,
		})
	}
	return unspent, nil
}

// ImportAddress makes the node watch addr without rescanning.
func (c *RPCClient) ImportAddress(ctx context.Context,
	addr btcutil.Address) error {

	return c.call(
		ctx, "importaddress", nil, addr.EncodeAddress(), "", false,
	)
}

// GetBlockHeight returns the height of the block hash.
func (c *RPCClient) GetBlockHeight(ctx context.Context,
	hash *chainhash.Hash) (int32, error) {

	var reply btcjson.GetBlockHeaderVerboseResult
	err := c.call(ctx, "getblockheader", &reply, hash.String(), true)
	if err != nil {
		return 0, err
	}
	return reply.Height, nil
}
