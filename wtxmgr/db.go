// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/tlv"
)

// Big endian is the preferred byte order, due to cursor scans over integer
// keys iterating in order.
var byteOrder = binary.BigEndian

// bucketUnspent is the name of the bucket holding unspent outputs keyed by
// outpoint.
var bucketUnspent = []byte("u")

const (
	typeUtxoAddress  tlv.Type = 0
	typeUtxoValue    tlv.Type = 1
	typeUtxoPkScript tlv.Type = 2
	typeUtxoHeight   tlv.Type = 3
)

// canonicalOutPoint serializes an outpoint as the 32-byte hash followed by
// the big endian output index.
func canonicalOutPoint(op *wire.OutPoint) []byte {
	k := make([]byte, 36)
	copy(k, op.Hash[:])
	byteOrder.PutUint32(k[32:36], op.Index)
	return k
}

func readCanonicalOutPoint(k []byte, op *wire.OutPoint) error {
	if len(k) != 36 {
		return storeError(ErrData, "short canonical outpoint", nil)
	}
	copy(op.Hash[:], k[:chainhash.HashSize])
	op.Index = byteOrder.Uint32(k[32:36])
	return nil
}

// dbUtxo is the stored form of a Utxo.
type dbUtxo struct {
	address  []byte
	value    uint64
	pkScript []byte
	height   uint32
}

func (u *dbUtxo) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeUtxoAddress, &u.address),
		tlv.MakePrimitiveRecord(typeUtxoValue, &u.value),
		tlv.MakePrimitiveRecord(typeUtxoPkScript, &u.pkScript),
		tlv.MakePrimitiveRecord(typeUtxoHeight, &u.height),
	}
}

func valueUnspent(u *Utxo) ([]byte, error) {
	d := dbUtxo{
		address:  []byte(u.Address.EncodeAddress()),
		value:    uint64(u.Value),
		pkScript: u.PkScript,
		height:   uint32(u.Height),
	}
	stream, err := tlv.NewStream(d.records()...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readUnspent(k, v []byte, params *chaincfg.Params) (*Utxo, error) {
	var u Utxo
	if err := readCanonicalOutPoint(k, &u.OutPoint); err != nil {
		return nil, err
	}

	var d dbUtxo
	stream, err := tlv.NewStream(d.records()...)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(v)); err != nil {
		return nil, storeError(ErrData, "corrupt unspent output", err)
	}

	addr, err := btcutil.DecodeAddress(string(d.address), params)
	if err != nil {
		return nil, storeError(ErrData, "corrupt unspent output "+
			"address", err)
	}
	u.Address = addr
	u.Value = btcutil.Amount(d.value)
	u.PkScript = d.pkScript
	u.Height = int32(d.height)
	return &u, nil
}

func putUnspent(ns walletdb.ReadWriteBucket, u *Utxo) error {
	bucket, err := ns.CreateBucketIfNotExists(bucketUnspent)
	if err != nil {
		return storeError(ErrDatabase, "failed to create unspent "+
			"bucket", err)
	}
	v, err := valueUnspent(u)
	if err != nil {
		return storeError(ErrInput, "failed to serialize unspent "+
			"output", err)
	}
	if err := bucket.Put(canonicalOutPoint(&u.OutPoint), v); err != nil {
		return storeError(ErrDatabase, "failed to put unspent output",
			err)
	}
	return nil
}

func deleteUnspent(ns walletdb.ReadWriteBucket, op *wire.OutPoint) error {
	bucket := ns.NestedReadWriteBucket(bucketUnspent)
	if bucket == nil {
		return nil
	}
	if err := bucket.Delete(canonicalOutPoint(op)); err != nil {
		return storeError(ErrDatabase, "failed to delete unspent "+
			"output", err)
	}
	return nil
}

func forEachUnspent(ns walletdb.ReadBucket, params *chaincfg.Params,
	fn func(*Utxo) error) error {

	bucket := ns.NestedReadBucket(bucketUnspent)
	if bucket == nil {
		return nil
	}
	return bucket.ForEach(func(k, v []byte) error {
		u, err := readUnspent(k, v, params)
		if err != nil {
			return err
		}
		return fn(u)
	})
}
