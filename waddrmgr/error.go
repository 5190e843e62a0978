// Copyright (c) 2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

var (
	// errAlreadyExists is the common error description used for the
	// ErrAlreadyExists error code.
	errAlreadyExists = "the specified address manager already exists"

	// errLocked is the common error description used for the ErrLocked
	// error code.
	errLocked = "address manager is locked"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific ManagerError.
const (
	// ErrDatabase indicates an error with the underlying database.  When
	// this error code is set, the Err field of the ManagerError will be
	// set to the underlying error returned from the database.
	ErrDatabase ErrorCode = iota

	// ErrAlreadyExists indicates that the specified database already
	// exists.
	ErrAlreadyExists

	// ErrNoExist indicates that the specified database does not exist.
	ErrNoExist

	// ErrLocked indicates that an operation, which requires the seed to be
	// present, was requested on a locked address manager.
	ErrLocked

	// ErrWrongSeed indicates the seed passed to Unlock does not derive
	// the account key stored in the database.
	ErrWrongSeed

	// ErrInvalidPath indicates a derivation path was requested with an
	// index outside the range allowed at that level.  This is always a
	// programming error.
	ErrInvalidPath

	// ErrKeyChain indicates an error with the key chain typically either
	// due to the inability to create an extended key or deriving a child
	// extended key.  When this error code is set, the Err field of the
	// ManagerError will be set to the underlying error.
	ErrKeyChain

	// ErrAddressNotFound indicates that the requested address is not known
	// to the address manager.
	ErrAddressNotFound

	// ErrUnsupportedRole indicates addresses can't be allocated for the
	// requested role.
	ErrUnsupportedRole
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:        "ErrDatabase",
	ErrAlreadyExists:   "ErrAlreadyExists",
	ErrNoExist:         "ErrNoExist",
	ErrLocked:          "ErrLocked",
	ErrWrongSeed:       "ErrWrongSeed",
	ErrInvalidPath:     "ErrInvalidPath",
	ErrKeyChain:        "ErrKeyChain",
	ErrAddressNotFound: "ErrAddressNotFound",
	ErrUnsupportedRole: "ErrUnsupportedRole",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// ManagerError provides a single type for errors that can happen during
// address manager operation.  It is used to indicate several types of
// failures including errors with caller requests such as invalid paths or
// attempting to derive identity keys while locked, errors with the database
// (ErrDatabase), and errors with key chain derivation (ErrKeyChain).
//
// The caller can use type assertions to determine if an error is a
// ManagerError and access the ErrorCode field to ascertain the specific
// reason for the failure.
//
// The ErrDatabase and ErrKeyChain error codes will also have the Err field
// set with the underlying error.
type ManagerError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e ManagerError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error, if any.
func (e ManagerError) Unwrap() error {
	return e.Err
}

// managerError creates a ManagerError given a set of arguments.
func managerError(c ErrorCode, desc string, err error) ManagerError {
	return ManagerError{ErrorCode: c, Description: desc, Err: err}
}

// IsError returns whether the error is a ManagerError with a matching error
// code.
func IsError(err error, code ErrorCode) bool {
	var e ManagerError
	return errors.As(err, &e) && e.ErrorCode == code
}

// pathError returns an ErrInvalidPath error for an index that doesn't fit the
// named level.
func pathError(level string, index uint32) ManagerError {
	str := "index " + strconv.FormatUint(uint64(index), 10) +
		" is not a valid " + level + " index"
	if index >= hdkeychain.HardenedKeyStart {
		str += " (hardened bit set)"
	}
	return managerError(ErrInvalidPath, str, nil)
}
