// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTxAlreadyKnown is returned by SendRawTransaction when the node already
// has the transaction in its mempool or chain.  Callers broadcasting the
// same transaction again treat it as success.
var ErrTxAlreadyKnown = errors.New("transaction already known")

// RPCErr represents an error returned by the node's RPC server that the
// wallet reacts to.
type RPCErr uint32

const (
	// ErrTxAlreadyInMempool is returned when a transaction is already in
	// the mempool.
	ErrTxAlreadyInMempool RPCErr = iota

	// ErrTxAlreadyConfirmed is returned when a transaction is already
	// mined.
	ErrTxAlreadyConfirmed

	// ErrTxAlreadyKnownByNode is returned when the node has seen the
	// transaction, for example through an instant lock, without keeping
	// it in its mempool.
	ErrTxAlreadyKnownByNode

	// ErrMissingInputs is returned when a transaction spends unknown or
	// spent outputs.
	ErrMissingInputs

	// ErrInsufficientFee is returned when the fee is below the relay fee.
	ErrInsufficientFee

	// ErrNonFinal is returned when the transaction's lock time is in the
	// future.
	ErrNonFinal

	// errSentinel is used to indicate the end of the error list.  This
	// should always be the last error code.
	errSentinel
)

// Error implements the error interface.
func (r RPCErr) Error() string {
	switch r {
	case ErrTxAlreadyInMempool:
		return "txn-already-in-mempool"
	case ErrTxAlreadyConfirmed:
		return "transaction already in block chain"
	case ErrTxAlreadyKnownByNode:
		return "txn-already-known"
	case ErrMissingInputs:
		return "bad-txns-inputs-missingorspent"
	case ErrInsufficientFee:
		return "min relay fee not met"
	case ErrNonFinal:
		return "non-final"
	}

	return "unknown error"
}

// Is makes the duplicate broadcast errors match ErrTxAlreadyKnown.
func (r RPCErr) Is(target error) bool {
	if target != ErrTxAlreadyKnown {
		return false
	}
	switch r {
	case ErrTxAlreadyInMempool, ErrTxAlreadyConfirmed,
		ErrTxAlreadyKnownByNode:

		return true
	}
	return false
}

// matchErrStr takes an error returned from the RPC server and matches it
// against the specified string.  Dashes are replaced with spaces and the
// match is case insensitive, since the node isn't consistent in its error
// spelling.
func matchErrStr(err error, s string) bool {
	errStr := strings.ReplaceAll(err.Error(), "-", " ")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Contains(strings.ToLower(errStr), strings.ToLower(s))
}

// MapRPCErr maps an error returned by the node to an RPCErr.  Unknown
// errors are returned unchanged.
func MapRPCErr(rpcErr error) error {
	if rpcErr == nil {
		return nil
	}
	for code := RPCErr(0); code < errSentinel; code++ {
		if matchErrStr(rpcErr, code.Error()) {
			return fmt.Errorf("%w: %v", code, rpcErr)
		}
	}
	return rpcErr
}
