// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dashwire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// CalcSignatureHash computes the legacy signature hash of input idx for the
// given hash type.  The previous output script is substituted for the
// signature script of the input being signed and every other signature
// script is emptied.  The extra payload is part of the hashed serialization,
// which is why txscript.CalcSignatureHash can't be used for special
// transactions.
//
// Only SigHashAll is supported, optionally combined with
// SigHashAnyOneCanPay.
func CalcSignatureHash(prevScript []byte, hashType txscript.SigHashType,
	tx *MsgTx, idx int) (chainhash.Hash, error) {

	if idx < 0 || idx >= len(tx.TxIn) {
		return chainhash.Hash{}, fmt.Errorf("input index %d out of "+
			"range for tx with %d inputs", idx, len(tx.TxIn))
	}
	if hashType&^txscript.SigHashAnyOneCanPay != txscript.SigHashAll {
		return chainhash.Hash{}, fmt.Errorf("unsupported sighash "+
			"type %v", hashType)
	}

	txCopy := tx.Copy()
	for i, txIn := range txCopy.TxIn {
		if i == idx {
			txIn.SignatureScript = prevScript
		} else {
			txIn.SignatureScript = nil
		}
	}
	if hashType&txscript.SigHashAnyOneCanPay != 0 {
		txCopy.TxIn = txCopy.TxIn[idx : idx+1]
	}

	var buf bytes.Buffer
	buf.Grow(txCopy.SerializeSize() + 4)
	if err := txCopy.Serialize(&buf); err != nil {
		return chainhash.Hash{}, err
	}

	var ht [4]byte
	binary.LittleEndian.PutUint32(ht[:], uint32(hashType))
	buf.Write(ht[:])

	return chainhash.DoubleHashH(buf.Bytes()), nil
}
