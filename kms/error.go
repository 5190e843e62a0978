// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kms

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.  Every code is itself an error so
// that it can be matched with errors.Is.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrData describes an error where the stored data is corrupt.
	ErrData

	// ErrInvalidSalt indicates an empty key derivation salt.
	ErrInvalidSalt

	// ErrTooLarge indicates a secret above MaxSecretSize.
	ErrTooLarge

	// ErrEncryption indicates that a secret could not be encrypted.
	ErrEncryption

	// ErrDecryption indicates that a blob failed authentication.  It is
	// fatal for the affected record.
	ErrDecryption

	// ErrInvalidCredentials indicates a wrong user or password while
	// unlocking.  The caller may prompt again.
	ErrInvalidCredentials

	// ErrLocked indicates an operation that needs an unlocked vault.
	ErrLocked

	// ErrNoVault indicates that no vault has been created.
	ErrNoVault

	// ErrAlreadyExists indicates a vault, user or wallet that already
	// exists.
	ErrAlreadyExists

	// ErrNotFound indicates a missing user, record or wallet.
	ErrNotFound

	// ErrLastUser indicates an attempt to remove the only vault user.
	ErrLastUser
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:           "ErrDatabase",
	ErrData:               "ErrData",
	ErrInvalidSalt:        "ErrInvalidSalt",
	ErrTooLarge:           "ErrTooLarge",
	ErrEncryption:         "ErrEncryption",
	ErrDecryption:         "ErrDecryption",
	ErrInvalidCredentials: "ErrInvalidCredentials",
	ErrLocked:             "ErrLocked",
	ErrNoVault:            "ErrNoVault",
	ErrAlreadyExists:      "ErrAlreadyExists",
	ErrNotFound:           "ErrNotFound",
	ErrLastUser:           "ErrLastUser",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error implements the error interface.
func (e ErrorCode) Error() string {
	return e.String()
}

// Error provides a single type for errors that can happen during key
// vault operation.
type Error struct {
	Code ErrorCode // Describes the kind of error
	Desc string    // Human readable description of the issue
	Err  error     // Underlying error, optional
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}
	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// Is matches the error against its code.
func (e Error) Is(target error) bool {
	code, ok := target.(ErrorCode)
	return ok && code == e.Code
}

func vaultError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsError returns whether err is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e Error
	return errors.As(err, &e) && e.Code == code
}
