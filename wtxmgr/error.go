// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific TxStoreError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the TxStoreError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrData describes an error where data stored in the ledger is
	// incorrect.  This may be due to missing values, values of wrong
	// sizes, or data from different buckets that is inconsistent with
	// itself.
	ErrData

	// ErrInput describes an error where the variables passed into this
	// function by the caller are obviously incorrect.  Examples include
	// outputs without an address or with a negative value.
	ErrInput
)

var errStrs = [...]string{
	ErrDatabase: "ErrDatabase",
	ErrData:     "ErrData",
	ErrInput:    "ErrInput",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if e < ErrorCode(len(errStrs)) {
		return errStrs[e]
	}
	return fmt.Sprintf("ErrorCode(%d)", int(e))
}

// TxStoreError provides a single type for errors that can happen during
// ledger operation.  It is similar to waddrmgr.ManagerError.
type TxStoreError struct {
	Code ErrorCode // Describes the kind of error
	Desc string    // Human readable description of the issue
	Err  error     // Underlying error, optional
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxStoreError) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}
	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e TxStoreError) Unwrap() error {
	return e.Err
}

func storeError(code ErrorCode, str string, err error) error {
	return TxStoreError{code, str, err}
}

// IsError returns whether err is a TxStoreError with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e TxStoreError
	return errors.As(err, &e) && e.Code == code
}
