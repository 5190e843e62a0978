// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/dashevo/dashcw/finality"
	"github.com/lightningnetwork/lnd/tlv"
)

// assetLocksBucketName holds asset lock records keyed by txid.
var assetLocksBucketName = []byte("assetlocks")

const (
	typeLockTx       tlv.Type = 0
	typeLockAmount   tlv.Type = 1
	typeLockAddress  tlv.Type = 2
	typeLockTarget   tlv.Type = 3
	typeLockIdentity tlv.Type = 4
	typeLockTopUp    tlv.Type = 5
	typeLockProof    tlv.Type = 6
	typeLockCreated  tlv.Type = 7
)

const (
	targetRegistration uint8 = iota
	targetTopUp
)

// AssetLockRecord is a broadcast asset lock the wallet funded.  Records are
// kept until the lock is redeemed so that an unused lock can be funded into
// an identity with UseAssetLock.
type AssetLockRecord struct {
	TxID    chainhash.Hash
	Tx      *dashwire.MsgTx
	Amount  btcutil.Amount
	Address btcutil.Address
	Target  Target

	// Proof is nil until the lock is final.
	Proof finality.Proof

	Created time.Time
}

type dbAssetLock struct {
	tx       []byte
	amount   uint64
	address  []byte
	target   uint8
	identity uint32
	topUp    uint32
	proof    []byte
	created  uint64
}

func (d *dbAssetLock) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeLockTx, &d.tx),
		tlv.MakePrimitiveRecord(typeLockAmount, &d.amount),
		tlv.MakePrimitiveRecord(typeLockAddress, &d.address),
		tlv.MakePrimitiveRecord(typeLockTarget, &d.target),
		tlv.MakePrimitiveRecord(typeLockIdentity, &d.identity),
		tlv.MakePrimitiveRecord(typeLockTopUp, &d.topUp),
		tlv.MakePrimitiveRecord(typeLockProof, &d.proof),
		tlv.MakePrimitiveRecord(typeLockCreated, &d.created),
	}
}

func serializeAssetLock(rec *AssetLockRecord) ([]byte, error) {
	txBytes, err := rec.Tx.Bytes()
	if err != nil {
		return nil, err
	}
	d := dbAssetLock{
		tx:      txBytes,
		amount:  uint64(rec.Amount),
		address: []byte(rec.Address.EncodeAddress()),
		created: uint64(rec.Created.Unix()),
	}
	switch t := rec.Target.(type) {
	case Registration:
		d.target = targetRegistration
		d.identity = t.IdentityIndex
	case TopUp:
		d.target = targetTopUp
		d.identity = t.IdentityIndex
		d.topUp = t.TopUpIndex
	default:
		return nil, fmt.Errorf("unknown funding target %T", rec.Target)
	}
	if rec.Proof != nil {
		d.proof, err = finality.ProofBytes(rec.Proof)
		if err != nil {
			return nil, err
		}
	}

	stream, err := tlv.NewStream(d.records()...)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func deserializeAssetLock(k, v []byte,
	params *chaincfg.Params) (*AssetLockRecord, error) {

	var d dbAssetLock
	stream, err := tlv.NewStream(d.records()...)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(v)); err != nil {
		return nil, err
	}

	rec := AssetLockRecord{
		Amount:  btcutil.Amount(d.amount),
		Created: time.Unix(int64(d.created), 0),
	}
	copy(rec.TxID[:], k)

	rec.Tx, err = dashwire.DecodeTx(d.tx)
	if err != nil {
		return nil, err
	}
	if rec.Tx.TxHash() != rec.TxID {
		return nil, fmt.Errorf("asset lock %v holds transaction %v",
			rec.TxID, rec.Tx.TxHash())
	}
	rec.Address, err = btcutil.DecodeAddress(string(d.address), params)
	if err != nil {
		return nil, err
	}

	switch d.target {
	case targetRegistration:
		rec.Target = Registration{IdentityIndex: d.identity}
	case targetTopUp:
		rec.Target = TopUp{
			IdentityIndex: d.identity,
			TopUpIndex:    d.topUp,
		}
	default:
		return nil, fmt.Errorf("unknown funding target %d", d.target)
	}

	if len(d.proof) > 0 {
		rec.Proof, err = finality.DecodeProof(bytes.NewReader(d.proof))
		if err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func putAssetLock(ns walletdb.ReadWriteBucket, rec *AssetLockRecord) error {
	bucket, err := ns.CreateBucketIfNotExists(assetLocksBucketName)
	if err != nil {
		return err
	}
	v, err := serializeAssetLock(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize asset lock %v: %w",
			rec.TxID, err)
	}
	return bucket.Put(rec.TxID[:], v)
}

func fetchAssetLock(ns walletdb.ReadBucket, txid *chainhash.Hash,
	params *chaincfg.Params) (*AssetLockRecord, error) {

	bucket := ns.NestedReadBucket(assetLocksBucketName)
	if bucket == nil {
		return nil, nil
	}
	v := bucket.Get(txid[:])
	if v == nil {
		return nil, nil
	}
	return deserializeAssetLock(txid[:], v, params)
}

func forEachAssetLock(ns walletdb.ReadBucket, params *chaincfg.Params,
	f func(*AssetLockRecord) error) error {

	bucket := ns.NestedReadBucket(assetLocksBucketName)
	if bucket == nil {
		return nil
	}
	return bucket.ForEach(func(k, v []byte) error {
		rec, err := deserializeAssetLock(k, v, params)
		if err != nil {
			return fmt.Errorf("failed to deserialize asset lock "+
				"%x: %w", k, err)
		}
		return f(rec)
	})
}

// clearProof drops the stored proof of txid.
func clearProof(ns walletdb.ReadWriteBucket, txid chainhash.Hash,
	params *chaincfg.Params) error {

	lock, err := fetchAssetLock(ns, &txid, params)
	if err != nil || lock == nil || lock.Proof == nil {
		return err
	}
	lock.Proof = nil
	return putAssetLock(ns, lock)
}

func deleteAssetLock(ns walletdb.ReadWriteBucket, txid *chainhash.Hash) error {
	bucket := ns.NestedReadWriteBucket(assetLocksBucketName)
	if bucket == nil {
		return nil
	}
	return bucket.Delete(txid[:])
}
