// Copyright (c) 2014-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/dashevo/dashcw/internal/prompt"
	"github.com/dashevo/dashcw/internal/zero"
	"github.com/dashevo/dashcw/kms"
	"github.com/dashevo/dashcw/wallet"
)

// createWallet prompts the user for the wallet mnemonic and password and
// stores the new wallet in the registry.
func createWallet(r *wallet.Registry, cfg *config) error {
	reader := bufio.NewReader(os.Stdin)
	seed, password, hint, err := prompt.Setup(reader)
	if err != nil {
		return err
	}
	defer zero.Bytes(seed)
	defer zero.Bytes(password)

	fmt.Println("Creating the wallet...")
	w, err := r.CreateWallet(seed, password, cfg.Alias, hint)
	if err != nil {
		return err
	}

	fmt.Printf("The wallet %v has been created successfully.\n",
		w.SeedHash())
	return nil
}

// selectWallet returns the record of the wallet named by --wallet, either
// by seed hash or by alias, or the main wallet when it is unset.
func selectWallet(r *wallet.Registry, name string) (*kms.WalletRecord,
	error) {

	recs, err := r.WalletRecords()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.New("no wallet exists on this network -- " +
			"run with the --create option to create one")
	}
	if name == "" {
		return recs[0], nil
	}

	hash, hashErr := chainhash.NewHashFromStr(name)
	for _, rec := range recs {
		if hashErr == nil && rec.SeedHash == *hash {
			return rec, nil
		}
		if rec.Alias == name {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("unknown wallet %q", name)
}

// openWallet opens and unlocks the selected wallet, prompting for its
// password when it has one.
func openWallet(r *wallet.Registry, cfg *config) (*wallet.Wallet, error) {
	rec, err := selectWallet(r, cfg.Wallet)
	if err != nil {
		return nil, err
	}

	password := []byte{}
	if rec.UsesPassword {
		password, err = prompt.Password(rec.PasswordHint)
		if err != nil {
			return nil, err
		}
		defer zero.Bytes(password)
	}

	w, err := r.OpenWallet(rec.SeedHash, password)
	if err != nil {
		return nil, err
	}

	log.Infof("Opened wallet %v (%s)", rec.SeedHash, rec.Alias)
	return w, nil
}
