// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dashwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// BLSSignatureSize is the size of a serialized BLS signature.
	BLSSignatureSize = 96

	// maxLockedInputs bounds the outpoint count read from the wire.
	maxLockedInputs = 10000
)

// InstantLock is a deterministic instant send lock (ISDLOCK).  A quorum
// signs it to attest that the inputs of TxID can't be double spent.
type InstantLock struct {
	Version   uint8
	Inputs    []wire.OutPoint
	TxID      chainhash.Hash
	CycleHash chainhash.Hash
	Signature [BLSSignatureSize]byte
}

// Serialize writes the lock to w.
func (l *InstantLock) Serialize(w io.Writer) error {
	if _, err := w.Write([]byte{l.Version}); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, 0, uint64(len(l.Inputs))); err != nil {
		return err
	}
	for i := range l.Inputs {
		if err := writeOutPoint(w, &l.Inputs[i]); err != nil {
			return err
		}
	}
	for _, b := range [][]byte{l.TxID[:], l.CycleHash[:], l.Signature[:]} {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize reads a lock from r.
func (l *InstantLock) Deserialize(r io.Reader) error {
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return err
	}
	l.Version = version[0]

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxLockedInputs {
		return fmt.Errorf("too many locked inputs: %d", count)
	}
	l.Inputs = make([]wire.OutPoint, count)
	for i := range l.Inputs {
		if err := readOutPoint(r, &l.Inputs[i]); err != nil {
			return err
		}
	}

	for _, b := range [][]byte{l.TxID[:], l.CycleHash[:], l.Signature[:]} {
		if _, err := io.ReadFull(r, b); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns the serialized lock.
func (l *InstantLock) Bytes() []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer don't fail.
	_ = l.Serialize(&buf)
	return buf.Bytes()
}

// DecodeInstantLock parses a serialized lock.
func DecodeInstantLock(b []byte) (*InstantLock, error) {
	var l InstantLock
	if err := l.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &l, nil
}

// DecodeTxLockSig parses the body of a dashd rawtxlocksig notification,
// which is a transaction immediately followed by the lock that covers it.
func DecodeTxLockSig(b []byte) (*MsgTx, *InstantLock, error) {
	r := bytes.NewReader(b)

	var tx MsgTx
	if err := tx.Deserialize(r); err != nil {
		return nil, nil, fmt.Errorf("unable to decode tx: %w", err)
	}

	var lock InstantLock
	if err := lock.Deserialize(r); err != nil {
		return nil, nil, fmt.Errorf("unable to decode islock: %w", err)
	}

	txHash := tx.TxHash()
	if lock.TxID != txHash {
		return nil, nil, fmt.Errorf("islock for %v delivered with tx %v",
			lock.TxID, txHash)
	}
	return &tx, &lock, nil
}

// OutPointHash returns the double SHA-256 of the serialized outpoint.  This
// is the identifier platform assigns to an identity created from the asset
// lock spent at op.
func OutPointHash(op *wire.OutPoint) chainhash.Hash {
	var buf bytes.Buffer
	_ = writeOutPoint(&buf, op)
	return chainhash.DoubleHashH(buf.Bytes())
}

func writeOutPoint(w io.Writer, op *wire.OutPoint) error {
	if _, err := w.Write(op.Hash[:]); err != nil {
		return err
	}
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], op.Index)
	_, err := w.Write(idx[:])
	return err
}

func readOutPoint(r io.Reader, op *wire.OutPoint) error {
	if _, err := io.ReadFull(r, op.Hash[:]); err != nil {
		return err
	}
	var idx [4]byte
	if _, err := io.ReadFull(r, idx[:]); err != nil {
		return err
	}
	op.Index = binary.LittleEndian.Uint32(idx[:])
	return nil
}
