// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txauthor

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrInsufficientFunds is matched by errors.Is when the wallet can't
	// fund a transaction.  The caller may retry after funding the wallet
	// or reloading its outputs.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvariantViolation is matched by errors.Is when the ledger and
	// the address book disagree, or an authored transaction doesn't
	// balance.  It must be treated as fatal.
	ErrInvariantViolation = errors.New("wallet invariant violation")
)

// InsufficientFundsError describes a selection that could not cover the
// target.
type InsufficientFundsError struct {
	Amount btcutil.Amount
	Fee    btcutil.Amount
}

// Error implements the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds available to lock %v plus "+
		"fee %v", e.Amount, e.Fee)
}

// Is makes the error match ErrInsufficientFunds.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// MissingKeyError is returned when a selected output pays an address the
// signer has no key for.
type MissingKeyError struct {
	OutPoint wire.OutPoint
	Address  btcutil.Address
	Err      error
}

// Error implements the error interface.
func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("no key for %v spending %v: %v", e.Address,
		e.OutPoint, e.Err)
}

// Unwrap returns the lookup error.
func (e *MissingKeyError) Unwrap() error {
	return e.Err
}

// Is makes the error match ErrInvariantViolation.
func (e *MissingKeyError) Is(target error) bool {
	return target == ErrInvariantViolation
}
