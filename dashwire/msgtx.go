// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dashwire implements the parts of the dash wire protocol that differ
// from bitcoin and that the wallet needs: DIP2 special transactions with an
// extra payload, the asset lock payload, and instant send lock messages.
//
// Ordinary transaction fields are encoded with btcd's wire package.  A dash
// special transaction is a version 3 transaction whose upper 16 version bits
// carry the transaction type, and whose serialization is followed by the
// extra payload as variable length bytes.
package dashwire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TxType identifies the kind of special transaction.
type TxType uint16

const (
	// TxTypeNormal is a classical transaction without an extra payload.
	TxTypeNormal TxType = 0

	// TxTypeAssetLock moves duffs into platform credits.
	TxTypeAssetLock TxType = 8

	// TxTypeAssetUnlock moves platform credits back into duffs.
	TxTypeAssetUnlock TxType = 9
)

// String returns the type name.
func (t TxType) String() string {
	switch t {
	case TxTypeNormal:
		return "normal"
	case TxTypeAssetLock:
		return "assetlock"
	case TxTypeAssetUnlock:
		return "assetunlock"
	default:
		return fmt.Sprintf("type(%d)", uint16(t))
	}
}

const (
	// SpecialTxVersion is the lowest transaction version that may carry
	// a special transaction type and payload.
	SpecialTxVersion = 3

	// MaxPayloadSize is the largest extra payload accepted by dashd.
	MaxPayloadSize = 10000
)

// MsgTx is a dash transaction.  The embedded btcd transaction holds the
// inputs, outputs and lock time.  Its Version field holds the combined
// 32-bit value, so use TxVersion and Type rather than reading it directly.
type MsgTx struct {
	wire.MsgTx

	// Payload is the raw extra payload.  It is only serialized when the
	// transaction is a special transaction.
	Payload []byte
}

// NewMsgTx returns a new special transaction of the given type with no
// inputs or outputs.
func NewMsgTx(txType TxType) *MsgTx {
	tx := &MsgTx{MsgTx: *wire.NewMsgTx(SpecialTxVersion)}
	tx.SetType(SpecialTxVersion, txType)
	return tx
}

// FromWire wraps a classical btcd transaction.  The transaction is not
// copied.
func FromWire(msg *wire.MsgTx) *MsgTx {
	return &MsgTx{MsgTx: *msg}
}

// TxVersion returns the lower 16 bits of the version field.
func (tx *MsgTx) TxVersion() uint16 {
	return uint16(uint32(tx.Version))
}

// Type returns the special transaction type.
func (tx *MsgTx) Type() TxType {
	if tx.TxVersion() < SpecialTxVersion {
		return TxTypeNormal
	}
	return TxType(uint32(tx.Version) >> 16)
}

// SetType sets both halves of the version field.
func (tx *MsgTx) SetType(version uint16, txType TxType) {
	tx.Version = int32(uint32(version) | uint32(txType)<<16)
}

// IsSpecial returns whether the transaction carries an extra payload.
func (tx *MsgTx) IsSpecial() bool {
	return tx.TxVersion() >= SpecialTxVersion && tx.Type() != TxTypeNormal
}

// Serialize encodes the transaction to w, followed by the extra payload for
// special transactions.
func (tx *MsgTx) Serialize(w io.Writer) error {
	if err := tx.MsgTx.SerializeNoWitness(w); err != nil {
		return err
	}
	if !tx.IsSpecial() {
		return nil
	}
	return wire.WriteVarBytes(w, 0, tx.Payload)
}

// Deserialize decodes a transaction from r into the receiver.
func (tx *MsgTx) Deserialize(r io.Reader) error {
	if err := tx.MsgTx.DeserializeNoWitness(r); err != nil {
		return err
	}
	tx.Payload = nil
	if !tx.IsSpecial() {
		return nil
	}

	payload, err := wire.ReadVarBytes(r, 0, MaxPayloadSize, "payload")
	if err != nil {
		return err
	}
	tx.Payload = payload
	return nil
}

// Bytes returns the serialized transaction.
func (tx *MsgTx) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializeSize returns the number of bytes Serialize writes.
func (tx *MsgTx) SerializeSize() int {
	n := tx.MsgTx.SerializeSizeStripped()
	if tx.IsSpecial() {
		n += wire.VarIntSerializeSize(uint64(len(tx.Payload))) +
			len(tx.Payload)
	}
	return n
}

// TxHash returns the transaction id.  It shadows the embedded method since
// dash hashes the payload as well.
func (tx *MsgTx) TxHash() chainhash.Hash {
	b, err := tx.Bytes()
	if err != nil {
		// Serialization into a bytes.Buffer only fails for oversized
		// fields, which Deserialize and the builders never produce.
		panic(fmt.Sprintf("unable to serialize tx: %v", err))
	}
	return chainhash.DoubleHashH(b)
}

// Copy returns a deep copy of the transaction.
func (tx *MsgTx) Copy() *MsgTx {
	c := &MsgTx{MsgTx: *tx.MsgTx.Copy()}
	if tx.Payload != nil {
		c.Payload = append([]byte(nil), tx.Payload...)
	}
	return c
}

// AssetLockPayload decodes the payload of an asset lock transaction.
func (tx *MsgTx) AssetLockPayload() (*AssetLockPayload, error) {
	if tx.Type() != TxTypeAssetLock {
		return nil, fmt.Errorf("tx %v is a %v transaction, not an "+
			"asset lock", tx.TxHash(), tx.Type())
	}

	var p AssetLockPayload
	if err := p.Deserialize(bytes.NewReader(tx.Payload)); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetAssetLockPayload encodes p as the payload and marks the transaction as
// an asset lock.
func (tx *MsgTx) SetAssetLockPayload(p *AssetLockPayload) error {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return err
	}
	tx.SetType(SpecialTxVersion, TxTypeAssetLock)
	tx.Payload = buf.Bytes()
	return nil
}

// DecodeTx parses a serialized dash transaction.
func DecodeTx(b []byte) (*MsgTx, error) {
	var tx MsgTx
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return &tx, nil
}
