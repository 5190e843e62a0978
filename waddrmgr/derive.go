// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// DerivePrivateKey derives the private key for the given purpose and indices
// from the wallet seed.  The same inputs always produce the same key.
//
// An index that doesn't fit its path level returns an ErrInvalidPath
// ManagerError.  Callers pass indices they computed themselves, so this is
// a programming error rather than a user error.
func DerivePrivateKey(seed []byte, params *chaincfg.Params, purpose Purpose,
	major, minor uint32) (*btcec.PrivateKey, error) {

	path, err := PathFor(purpose, params.HDCoinType, major, minor)
	if err != nil {
		return nil, err
	}

	root, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, managerError(ErrKeyChain, "failed to derive master "+
			"extended key", err)
	}
	defer root.Zero()

	return privKeyAt(root, path)
}

// deriveExtendedKey walks path from key.  Intermediate keys are zeroed, the
// returned key is owned by the caller.
func deriveExtendedKey(key *hdkeychain.ExtendedKey,
	path DerivationPath) (*hdkeychain.ExtendedKey, error) {

	cur := key
	for _, i := range path {
		child, err := cur.Derive(i)
		if err != nil {
			str := fmt.Sprintf("failed to derive child %d of %v",
				i, path)
			return nil, managerError(ErrKeyChain, str, err)
		}
		if cur != key {
			cur.Zero()
		}
		cur = child
	}
	return cur, nil
}

func privKeyAt(root *hdkeychain.ExtendedKey,
	path DerivationPath) (*btcec.PrivateKey, error) {

	extKey, err := deriveExtendedKey(root, path)
	if err != nil {
		return nil, err
	}
	defer extKey.Zero()

	privKey, err := extKey.ECPrivKey()
	if err != nil {
		return nil, managerError(ErrKeyChain, "failed to convert "+
			"extended key to private key", err)
	}
	return privKey, nil
}

// PubKeyHashAddress returns the pay-to-pubkey-hash address of the compressed
// public key.
func PubKeyHashAddress(pubKey *btcec.PublicKey,
	params *chaincfg.Params) (*btcutil.AddressPubKeyHash, error) {

	return btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), params,
	)
}
