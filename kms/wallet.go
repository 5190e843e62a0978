// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kms

import (
	"crypto/sha256"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightningnetwork/lnd/tlv"
)

// SeedHash returns the identity of the wallet with the given seed.
func SeedHash(seed []byte) chainhash.Hash {
	return sha256.Sum256(seed)
}

// WalletRecord is the stored form of a wallet: its encrypted seed and the
// public data shown while it is locked.
type WalletRecord struct {
	SeedHash      chainhash.Hash
	EncryptedSeed EncryptedBlob
	MasterXPub    string
	Alias         string
	PasswordHint  string
	UsesPassword  bool
	IsMain        bool
	Network       string
	Created       time.Time
}

// SealSeed encrypts seed under password into rec.  An empty password
// leaves the wallet unprotected.
func SealSeed(rec *WalletRecord, seed, password []byte) error {
	blob, err := EncryptWithPassword(seed, password)
	if err != nil {
		return err
	}

	rec.SeedHash = SeedHash(seed)
	rec.EncryptedSeed = *blob
	rec.UsesPassword = len(password) > 0
	return nil
}

// OpenSeed decrypts the wallet seed.  A wrong password returns
// ErrInvalidCredentials.
func (r *WalletRecord) OpenSeed(password []byte) (*Secret, error) {
	invalid := vaultError(ErrInvalidCredentials, "invalid wallet "+
		"password", nil)
	if r.UsesPassword && len(password) == 0 {
		return nil, invalid
	}

	seed, err := DecryptWithPassword(&r.EncryptedSeed, password)
	switch {
	case IsError(err, ErrDecryption):
		log.Warnf("Wallet unlock failed")
		return nil, invalid
	case err != nil:
		return nil, err
	}

	if SeedHash(seed.Bytes()) != r.SeedHash {
		seed.Zero()
		return nil, vaultError(ErrData, "seed does not match wallet "+
			"record", nil)
	}
	return seed, nil
}

type dbWallet struct {
	seed    []byte
	nonce   []byte
	salt    []byte
	xpub    []byte
	alias   []byte
	hint    []byte
	flags   uint8
	network []byte
	created uint64
}

func (w *dbWallet) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeWalletSeed, &w.seed),
		tlv.MakePrimitiveRecord(typeWalletNonce, &w.nonce),
		tlv.MakePrimitiveRecord(typeWalletSalt, &w.salt),
		tlv.MakePrimitiveRecord(typeWalletXPub, &w.xpub),
		tlv.MakePrimitiveRecord(typeWalletAlias, &w.alias),
		tlv.MakePrimitiveRecord(typeWalletHint, &w.hint),
		tlv.MakePrimitiveRecord(typeWalletFlags, &w.flags),
		tlv.MakePrimitiveRecord(typeWalletNetwork, &w.network),
		tlv.MakePrimitiveRecord(typeWalletCreatedAt, &w.created),
	}
}

// PutWallet stores rec keyed by its seed hash, replacing an existing
// record.
func PutWallet(ns walletdb.ReadWriteBucket, rec *WalletRecord) error {
	bucket, err := ns.CreateBucketIfNotExists(walletsBucketName)
	if err != nil {
		return vaultError(ErrDatabase, "failed to create wallets "+
			"bucket", err)
	}

	d := dbWallet{
		seed:    rec.EncryptedSeed.Ciphertext,
		nonce:   rec.EncryptedSeed.Nonce,
		salt:    rec.EncryptedSeed.Salt,
		xpub:    []byte(rec.MasterXPub),
		alias:   []byte(rec.Alias),
		hint:    []byte(rec.PasswordHint),
		network: []byte(rec.Network),
		created: uint64(rec.Created.Unix()),
	}
	if rec.UsesPassword {
		d.flags |= flagUsesPassword
	}
	if rec.IsMain {
		d.flags |= flagIsMain
	}

	v, err := encodeRecords(d.records()...)
	if err != nil {
		return vaultError(ErrData, "failed to encode wallet", err)
	}
	if err := bucket.Put(rec.SeedHash[:], v); err != nil {
		return vaultError(ErrDatabase, "failed to store wallet", err)
	}
	return nil
}

func readWallet(k, v []byte) (*WalletRecord, error) {
	if len(k) != chainhash.HashSize {
		return nil, vaultError(ErrData, "invalid wallet key", nil)
	}

	var d dbWallet
	if err := decodeRecords(v, d.records()...); err != nil {
		return nil, vaultError(ErrData, "failed to decode wallet", err)
	}

	rec := &WalletRecord{
		EncryptedSeed: EncryptedBlob{
			Ciphertext: d.seed,
			Nonce:      d.nonce,
			Salt:       d.salt,
		},
		MasterXPub:   string(d.xpub),
		Alias:        string(d.alias),
		PasswordHint: string(d.hint),
		UsesPassword: d.flags&flagUsesPassword != 0,
		IsMain:       d.flags&flagIsMain != 0,
		Network:      string(d.network),
		Created:      time.Unix(int64(d.created), 0),
	}
	copy(rec.SeedHash[:], k)
	return rec, nil
}

// FetchWallet returns the wallet with the given seed hash.
func FetchWallet(ns walletdb.ReadBucket,
	seedHash chainhash.Hash) (*WalletRecord, error) {

	notFound := vaultError(ErrNotFound, "no wallet "+seedHash.String(),
		nil)

	bucket := ns.NestedReadBucket(walletsBucketName)
	if bucket == nil {
		return nil, notFound
	}
	v := bucket.Get(seedHash[:])
	if v == nil {
		return nil, notFound
	}
	return readWallet(seedHash[:], v)
}

// ForEachWallet calls f with every stored wallet.
func ForEachWallet(ns walletdb.ReadBucket, f func(*WalletRecord) error) error {
	bucket := ns.NestedReadBucket(walletsBucketName)
	if bucket == nil {
		return nil
	}
	return bucket.ForEach(func(k, v []byte) error {
		rec, err := readWallet(k, v)
		if err != nil {
			return err
		}
		return f(rec)
	})
}

// DeleteWallet removes the wallet with the given seed hash.
func DeleteWallet(ns walletdb.ReadWriteBucket, seedHash chainhash.Hash) error {
	bucket := ns.NestedReadWriteBucket(walletsBucketName)
	if bucket == nil {
		return nil
	}
	if err := bucket.Delete(seedHash[:]); err != nil {
		return vaultError(ErrDatabase, "failed to delete wallet", err)
	}
	return nil
}
