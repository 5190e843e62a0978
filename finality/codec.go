// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finality

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	proofKindInstant uint8 = 0
	proofKindChain   uint8 = 1
)

const (
	typeProofKind   tlv.Type = 0
	typeInstantLock tlv.Type = 1
	typeTx          tlv.Type = 2
	typeOutputIndex tlv.Type = 3
	typeHeight      tlv.Type = 4
	typeTxID        tlv.Type = 5
	typeVout        tlv.Type = 6
)

// ErrUnknownProof is returned when decoding a proof of an unknown kind.
var ErrUnknownProof = errors.New("unknown asset lock proof kind")

// EncodeProof writes p to w as a TLV stream.
func EncodeProof(w io.Writer, p Proof) error {
	var records []tlv.Record

	switch p := p.(type) {
	case *InstantProof:
		kind := proofKindInstant
		lock := p.InstantLock.Bytes()
		tx, err := p.Tx.Bytes()
		if err != nil {
			return err
		}
		index := p.OutputIndex
		records = []tlv.Record{
			tlv.MakePrimitiveRecord(typeProofKind, &kind),
			tlv.MakePrimitiveRecord(typeInstantLock, &lock),
			tlv.MakePrimitiveRecord(typeTx, &tx),
			tlv.MakePrimitiveRecord(typeOutputIndex, &index),
		}

	case *ChainProof:
		kind := proofKindChain
		height := p.Height
		txid := [32]byte(p.OutPoint.Hash)
		vout := p.OutPoint.Index
		records = []tlv.Record{
			tlv.MakePrimitiveRecord(typeProofKind, &kind),
			tlv.MakePrimitiveRecord(typeHeight, &height),
			tlv.MakePrimitiveRecord(typeTxID, &txid),
			tlv.MakePrimitiveRecord(typeVout, &vout),
		}

	default:
		return fmt.Errorf("%w: %T", ErrUnknownProof, p)
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}
	return stream.Encode(w)
}

// DecodeProof reads a proof written by EncodeProof.
func DecodeProof(r io.Reader) (Proof, error) {
	var (
		kind   uint8
		lock   []byte
		tx     []byte
		index  uint32
		height uint32
		txid   [32]byte
		vout   uint32
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeProofKind, &kind),
		tlv.MakePrimitiveRecord(typeInstantLock, &lock),
		tlv.MakePrimitiveRecord(typeTx, &tx),
		tlv.MakePrimitiveRecord(typeOutputIndex, &index),
		tlv.MakePrimitiveRecord(typeHeight, &height),
		tlv.MakePrimitiveRecord(typeTxID, &txid),
		tlv.MakePrimitiveRecord(typeVout, &vout),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(r); err != nil {
		return nil, err
	}

	switch kind {
	case proofKindInstant:
		islock, err := dashwire.DecodeInstantLock(lock)
		if err != nil {
			return nil, err
		}
		msgTx, err := dashwire.DecodeTx(tx)
		if err != nil {
			return nil, err
		}
		return &InstantProof{
			InstantLock: islock,
			Tx:          msgTx,
			OutputIndex: index,
		}, nil

	case proofKindChain:
		return &ChainProof{
			Height: height,
			OutPoint: wire.OutPoint{
				Hash:  chainhash.Hash(txid),
				Index: vout,
			},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownProof, kind)
	}
}

// ProofBytes returns the encoded proof.
func ProofBytes(p Proof) ([]byte, error) {
	var b bytes.Buffer
	if err := EncodeProof(&b, p); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
