// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kms

import (
	"bytes"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/tlv"
)

var (
	// metaBucketName holds vault wide settings.
	metaBucketName = []byte("meta")

	// usersBucketName holds the master key wrapped for each user, keyed
	// by user id.
	usersBucketName = []byte("users")

	// recordsBucketName holds secrets sealed under the master key, keyed
	// by record name.
	recordsBucketName = []byte("records")

	// walletsBucketName holds wallet records keyed by seed hash.
	walletsBucketName = []byte("wallets")

	usesPasswordKey = []byte("usespw")
	createdKey      = []byte("created")
)

const (
	typeBlobCiphertext tlv.Type = 0
	typeBlobNonce      tlv.Type = 1
	typeBlobSalt       tlv.Type = 2
	typeCreated        tlv.Type = 3
)

const (
	typeWalletSeed      tlv.Type = 0
	typeWalletNonce     tlv.Type = 1
	typeWalletSalt      tlv.Type = 2
	typeWalletXPub      tlv.Type = 3
	typeWalletAlias     tlv.Type = 4
	typeWalletHint      tlv.Type = 5
	typeWalletFlags     tlv.Type = 6
	typeWalletNetwork   tlv.Type = 7
	typeWalletCreatedAt tlv.Type = 8
)

const (
	flagUsesPassword uint8 = 1 << iota
	flagIsMain
)

func encodeRecords(records ...tlv.Record) ([]byte, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decodeRecords(v []byte, records ...tlv.Record) error {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}
	return stream.Decode(bytes.NewReader(v))
}

// storedBlob is an encrypted blob with its creation time.
type storedBlob struct {
	EncryptedBlob
	created uint64
}

func (b *storedBlob) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeBlobCiphertext, &b.Ciphertext),
		tlv.MakePrimitiveRecord(typeBlobNonce, &b.Nonce),
		tlv.MakePrimitiveRecord(typeBlobSalt, &b.Salt),
		tlv.MakePrimitiveRecord(typeCreated, &b.created),
	}
}

func putBlob(bucket walletdb.ReadWriteBucket, key []byte,
	b *storedBlob) error {

	v, err := encodeRecords(b.records()...)
	if err != nil {
		return vaultError(ErrData, "failed to encode blob", err)
	}
	if err := bucket.Put(key, v); err != nil {
		return vaultError(ErrDatabase, "failed to store blob", err)
	}
	return nil
}

func fetchBlob(bucket walletdb.ReadBucket, key []byte) (*storedBlob, error) {
	v := bucket.Get(key)
	if v == nil {
		return nil, nil
	}
	var b storedBlob
	if err := decodeRecords(v, b.records()...); err != nil {
		return nil, vaultError(ErrData, "failed to decode blob", err)
	}
	return &b, nil
}

// createBuckets creates the vault buckets in ns.
func createBuckets(ns walletdb.ReadWriteBucket) error {
	for _, name := range [][]byte{
		metaBucketName, usersBucketName, recordsBucketName,
		walletsBucketName,
	} {
		if _, err := ns.CreateBucketIfNotExists(name); err != nil {
			return vaultError(ErrDatabase, "failed to create "+
				string(name)+" bucket", err)
		}
	}
	return nil
}

// nested returns the named bucket of ns, or ErrNoVault when the vault was
// never created.
func nested(ns walletdb.ReadBucket, name []byte) (walletdb.ReadBucket,
	error) {

	b := ns.NestedReadBucket(name)
	if b == nil {
		return nil, vaultError(ErrNoVault, "vault not created", nil)
	}
	return b, nil
}

func nestedRW(ns walletdb.ReadWriteBucket, name []byte) (
	walletdb.ReadWriteBucket, error) {

	b := ns.NestedReadWriteBucket(name)
	if b == nil {
		return nil, vaultError(ErrNoVault, "vault not created", nil)
	}
	return b, nil
}
