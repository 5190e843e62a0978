// Copyright (c) 2014-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// acctPubKeyName is the key of the serialized BIP44 account 0
	// extended public key.
	acctPubKeyName = []byte("acctpub")

	// addrBucketName is the name of the bucket that stores address
	// records keyed by their encoded address.
	addrBucketName = []byte("addrs")
)

const (
	typeAddrPath    tlv.Type = 0
	typeAddrPurpose tlv.Type = 1
	typeAddrMajor   tlv.Type = 2
	typeAddrMinor   tlv.Type = 3
	typeAddrBalance tlv.Type = 4
)

// dbAddress is the stored form of an AddressRecord.
type dbAddress struct {
	path    []byte
	purpose uint8
	major   uint32
	minor   uint32
	balance uint64
}

func (a *dbAddress) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeAddrPath, &a.path),
		tlv.MakePrimitiveRecord(typeAddrPurpose, &a.purpose),
		tlv.MakePrimitiveRecord(typeAddrMajor, &a.major),
		tlv.MakePrimitiveRecord(typeAddrMinor, &a.minor),
		tlv.MakePrimitiveRecord(typeAddrBalance, &a.balance),
	}
}

func serializePath(p DerivationPath) []byte {
	b := make([]byte, 4*len(p))
	for i, idx := range p {
		binary.BigEndian.PutUint32(b[i*4:], idx)
	}
	return b
}

func deserializePath(b []byte) (DerivationPath, error) {
	if len(b)%4 != 0 {
		return nil, managerError(ErrDatabase, "malformed derivation "+
			"path", nil)
	}
	p := make(DerivationPath, len(b)/4)
	for i := range p {
		p[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return p, nil
}

func serializeAddress(rec *AddressRecord) ([]byte, error) {
	a := dbAddress{
		path:    serializePath(rec.Path),
		purpose: uint8(rec.Purpose),
		major:   rec.Major,
		minor:   rec.Minor,
		balance: uint64(rec.Balance),
	}
	stream, err := tlv.NewStream(a.records()...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deserializeAddress(key, value []byte,
	params *chaincfg.Params) (*AddressRecord, error) {

	var a dbAddress
	stream, err := tlv.NewStream(a.records()...)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(value)); err != nil {
		return nil, err
	}

	addr, err := btcutil.DecodeAddress(string(key), params)
	if err != nil {
		return nil, err
	}
	path, err := deserializePath(a.path)
	if err != nil {
		return nil, err
	}

	purpose := Purpose(a.purpose)
	return &AddressRecord{
		Address: addr,
		Path:    path,
		Purpose: purpose,
		Role:    purpose.Role(),
		Major:   a.major,
		Minor:   a.minor,
		Balance: btcutil.Amount(a.balance),
	}, nil
}

// putAddress stores the record, replacing any previous one for the same
// address.
func putAddress(ns walletdb.ReadWriteBucket, rec *AddressRecord) error {
	bucket, err := ns.CreateBucketIfNotExists(addrBucketName)
	if err != nil {
		return managerError(ErrDatabase, "failed to create address "+
			"bucket", err)
	}

	value, err := serializeAddress(rec)
	if err != nil {
		return managerError(ErrDatabase, "failed to serialize address",
			err)
	}

	err = bucket.Put([]byte(rec.Address.EncodeAddress()), value)
	if err != nil {
		str := "failed to store address " + rec.Address.EncodeAddress()
		return managerError(ErrDatabase, str, err)
	}
	return nil
}

// forEachAddress calls fn for every stored address record.
func forEachAddress(ns walletdb.ReadBucket, params *chaincfg.Params,
	fn func(*AddressRecord) error) error {

	bucket := ns.NestedReadBucket(addrBucketName)
	if bucket == nil {
		return nil
	}
	return bucket.ForEach(func(k, v []byte) error {
		rec, err := deserializeAddress(k, v, params)
		if err != nil {
			str := "failed to deserialize address " + string(k)
			return managerError(ErrDatabase, str, err)
		}
		return fn(rec)
	})
}

func putAccountPubKey(ns walletdb.ReadWriteBucket, xpub string) error {
	if err := ns.Put(acctPubKeyName, []byte(xpub)); err != nil {
		return managerError(ErrDatabase, "failed to store account "+
			"public key", err)
	}
	return nil
}

func fetchAccountPubKey(ns walletdb.ReadBucket) (string, bool) {
	v := ns.Get(acctPubKeyName)
	if v == nil {
		return "", false
	}
	return string(v), true
}
