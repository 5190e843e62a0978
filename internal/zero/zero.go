// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zero contains functions to clear seeds, derived keys and other
// secret material from memory.
package zero

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// Bytes sets all bytes in the passed slice to zero.  This is used to
// explicitly clear seeds, passwords and encryption keys from memory.
func Bytes(b []byte) {
	clear(b)
}

// Bytea32 clears the 32-byte array by filling it with the zero value.
// This is used to explicitly clear private key material from memory.
func Bytea32(b *[32]byte) {
	*b = [32]byte{}
}

// Bytea64 clears the 64-byte array by filling it with the zero value.
// This is used to explicitly clear wallet seeds from memory.
func Bytea64(b *[64]byte) {
	*b = [64]byte{}
}

// PrivateKey clears the scalar backing the passed private key.  A nil key
// is ignored.
func PrivateKey(k *btcec.PrivateKey) {
	if k == nil {
		return
	}
	k.Zero()
}
