// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/dashevo/dashcw/chain"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/dashevo/dashcw/finality"
	"github.com/dashevo/dashcw/kms"
	"github.com/dashevo/dashcw/waddrmgr"
	"github.com/dashevo/dashcw/wallet/txauthor"
	"github.com/dashevo/dashcw/wtxmgr"
	"github.com/davecgh/go-spew/spew"
)

var (
	// ErrUnknownAssetLock is returned by UseAssetLock when the wallet has
	// no asset lock for the address.
	ErrUnknownAssetLock = errors.New("unknown asset lock")

	// ErrOneTimeKeyUsed is returned when the one-time key of a target
	// already funds an asset lock.  Use UseAssetLock to redeem it.
	ErrOneTimeKeyUsed = errors.New("one-time key already funds an asset " +
		"lock")
)

// Target is the identity an asset lock funds.  It is either a
// Registration or a TopUp.
type Target interface {
	// oneTimeKeyPath returns the derivation of the one-time key.
	oneTimeKeyPath() (waddrmgr.Purpose, uint32, uint32)

	String() string
}

// Registration funds the creation of the identity with the index.
type Registration struct {
	IdentityIndex uint32
}

func (r Registration) oneTimeKeyPath() (waddrmgr.Purpose, uint32, uint32) {
	return waddrmgr.PurposeRegistrationFunding, 0, r.IdentityIndex
}

func (r Registration) String() string {
	return fmt.Sprintf("registration of identity %d", r.IdentityIndex)
}

// TopUp adds credits to an existing identity.  Every top up of an
// identity uses a new TopUpIndex.
type TopUp struct {
	IdentityIndex uint32
	TopUpIndex    uint32
}

func (t TopUp) oneTimeKeyPath() (waddrmgr.Purpose, uint32, uint32) {
	return waddrmgr.PurposeTopUpFunding, t.IdentityIndex, t.TopUpIndex
}

func (t TopUp) String() string {
	return fmt.Sprintf("top up %d of identity %d", t.TopUpIndex,
		t.IdentityIndex)
}

// targetOf returns the target a one-time key record was derived for.
func targetOf(rec *waddrmgr.AddressRecord) (Target, bool) {
	switch rec.Purpose {
	case waddrmgr.PurposeRegistrationFunding:
		return Registration{IdentityIndex: rec.Minor}, true
	case waddrmgr.PurposeTopUpFunding:
		return TopUp{IdentityIndex: rec.Major, TopUpIndex: rec.Minor},
			true
	default:
		return nil, false
	}
}

// FundingMethod selects how FundIdentity obtains an asset lock.  It is one
// of FundWithWallet, FundWithUtxo and UseAssetLock.
type FundingMethod interface {
	isFundingMethod()
}

// FundWithWallet locks Amount from the wallet's unspent outputs.
type FundWithWallet struct {
	Amount btcutil.Amount
	Target Target
}

// FundWithUtxo locks a single wallet output entirely.  The locked amount
// is the output value less the fee and no change is made.
type FundWithUtxo struct {
	OutPoint wire.OutPoint
	TxOut    *wire.TxOut
	Address  btcutil.Address
	Target   Target
}

// UseAssetLock redeems an asset lock funded earlier whose credit output
// pays Address.  Proof and Tx may be nil, in which case the stored record
// of the lock is used.
type UseAssetLock struct {
	Address btcutil.Address
	Proof   finality.Proof
	Tx      *dashwire.MsgTx
}

func (FundWithWallet) isFundingMethod() {}
func (FundWithUtxo) isFundingMethod()   {}
func (UseAssetLock) isFundingMethod()   {}

// FundedAssetLock is a final asset lock and the key platform needs to
// redeem it.
type FundedAssetLock struct {
	Tx         *dashwire.MsgTx
	Proof      finality.Proof
	OneTimeKey *btcec.PrivateKey
	Address    btcutil.Address
	Amount     btcutil.Amount
}

// IdentityID returns the id of the identity the lock registers.
func (f *FundedAssetLock) IdentityID() chainhash.Hash {
	return f.Proof.IdentityID()
}

// oneTimeKeyName is the vault record of the one-time key of txid.
func oneTimeKeyName(txid chainhash.Hash) string {
	return "onetime/" + txid.String()
}

// FundIdentity obtains a final asset lock with the method.  New asset
// locks are registered with the finality tracker, broadcast, and awaited
// for up to the configured proof timeout.  A timeout returns an error
// matching finality.ErrTimeout; the lock stays tracked and can be redeemed
// later with UseAssetLock.
func (w *Wallet) FundIdentity(ctx context.Context,
	method FundingMethod) (*FundedAssetLock, error) {

	if w.IsLocked() {
		return nil, ErrWalletLocked
	}

	switch m := method.(type) {
	case FundWithWallet:
		return w.fundWithWallet(ctx, m)

	case FundWithUtxo:
		return w.fundWithUtxo(ctx, m)

	case UseAssetLock:
		return w.useAssetLock(ctx, m)

	default:
		return nil, fmt.Errorf("unknown funding method %T", method)
	}
}

// oneTimeKey derives the one-time key of the target.  It fails when the
// key already funds an asset lock.
func (w *Wallet) oneTimeKey(target Target) (*waddrmgr.AddressRecord,
	*btcec.PrivateKey, error) {

	if target == nil {
		return nil, nil, errors.New("no funding target")
	}
	purpose, major, minor := target.oneTimeKeyPath()

	var rec *waddrmgr.AddressRecord
	w.mtx.Lock()
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		var err error
		rec, err = w.Manager.AddressAt(
			w.nsRW(tx, waddrmgrNamespaceKey), purpose, major,
			minor,
		)
		return err
	})
	w.mtx.Unlock()
	if err != nil {
		return nil, nil, err
	}

	lock, err := w.assetLockByAddress(rec.Address)
	if err != nil {
		return nil, nil, err
	}
	if lock != nil {
		return nil, nil, fmt.Errorf("%w: %v funds %v", ErrOneTimeKeyUsed,
			rec.Address, lock.TxID)
	}

	key, err := w.Manager.PrivKey(rec.Address)
	if err != nil {
		return nil, nil, err
	}
	return rec, key, nil
}

// changeSource allocates a change address.  It is called by the author
// with the write lock held.
func (w *Wallet) changeSource() (btcutil.Address, error) {
	var rec *waddrmgr.AddressRecord
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		var err error
		rec, err = w.Manager.NextUnusedAddress(
			w.nsRW(tx, waddrmgrNamespaceKey), waddrmgr.RoleChange,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec.Address, nil
}

func (w *Wallet) fundWithWallet(ctx context.Context,
	m FundWithWallet) (*FundedAssetLock, error) {

	if m.Amount <= 0 {
		return nil, fmt.Errorf("invalid asset lock amount %v", m.Amount)
	}
	rec, key, err := w.oneTimeKey(m.Target)
	if err != nil {
		return nil, err
	}

	req := &txauthor.AssetLockRequest{
		Amount:             m.Amount,
		OneTimeKey:         key,
		Fee:                w.cfg.Fee,
		AllowFeeFromAmount: w.cfg.AllowFeeFromAmount,
	}

	authored, err := w.authorAssetLock(req)
	if errors.Is(err, txauthor.ErrInsufficientFunds) {
		// The ledger may lag the node.  Reload it and try once more.
		log.Debugf("Reloading unspent outputs after %v", err)
		if rerr := w.ReloadUtxos(ctx); rerr != nil {
			log.Warnf("Unable to reload unspent outputs: %v", rerr)
		} else {
			authored, err = w.authorAssetLock(req)
		}
	}
	if err != nil {
		key.Zero()
		return nil, err
	}

	w.importAddresses(ctx)
	return w.publish(ctx, authored, rec.Address, m.Target)
}

// authorAssetLock selects and leases the outputs of an asset lock.  Both
// happen under one lock so that concurrent fundings never pick the same
// outputs.
func (w *Wallet) authorAssetLock(
	req *txauthor.AssetLockRequest) (*txauthor.AuthoredAssetLock, error) {

	w.mtx.Lock()
	defer w.mtx.Unlock()

	authored, err := txauthor.NewAssetLock(
		req, w.TxStore, w.changeSource, w.Manager,
	)
	if err != nil {
		return nil, err
	}
	if err := w.TxStore.LockOutPoints(authored.OutPoints()...); err != nil {
		return nil, err
	}
	return authored, nil
}

func (w *Wallet) fundWithUtxo(ctx context.Context,
	m FundWithUtxo) (*FundedAssetLock, error) {

	if m.TxOut == nil || m.Address == nil {
		return nil, errors.New("funding output is incomplete")
	}
	rec, key, err := w.oneTimeKey(m.Target)
	if err != nil {
		return nil, err
	}

	utxo := &wtxmgr.Utxo{
		OutPoint: m.OutPoint,
		Address:  m.Address,
		Value:    btcutil.Amount(m.TxOut.Value),
		PkScript: m.TxOut.PkScript,
	}
	authored, err := txauthor.NewAssetLockFromUtxo(
		utxo, key, w.cfg.Fee, w.Manager,
	)
	if err != nil {
		key.Zero()
		return nil, err
	}

	// The output may not be in the ledger yet when it was just received.
	w.mtx.Lock()
	if _, ok := w.TxStore.Get(m.OutPoint); ok {
		err = w.TxStore.LockOutPoints(m.OutPoint)
	}
	w.mtx.Unlock()
	if err != nil {
		key.Zero()
		return nil, err
	}

	return w.publish(ctx, authored, rec.Address, m.Target)
}

// publish stores and registers an authored asset lock, broadcasts it and
// waits for its proof.
func (w *Wallet) publish(ctx context.Context,
	authored *txauthor.AuthoredAssetLock, addr btcutil.Address,
	target Target) (*FundedAssetLock, error) {

	tx := authored.Tx
	txid := tx.TxHash()
	ops := authored.OutPoints()
	lock := &AssetLockRecord{
		TxID:    txid,
		Tx:      tx,
		Amount:  authored.Amount,
		Address: addr,
		Target:  target,
		Created: w.cfg.Clock.Now(),
	}

	log.Debugf("Authored asset lock %v for %v: %v", txid, target,
		newLogClosure(func() string {
			return spew.Sdump(tx)
		}))

	// The lock is registered before it is broadcast so that no finality
	// event can be missed.
	w.mtx.Lock()
	err := walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		secret, err := kms.NewSecret(authored.OneTimeKey.Serialize())
		if err != nil {
			return err
		}
		defer secret.Zero()

		err = w.Vault.Put(
			w.nsRW(dbtx, vaultNamespaceKey), oneTimeKeyName(txid),
			secret,
		)
		if err != nil {
			return err
		}
		return putAssetLock(w.nsRW(dbtx, wlltNamespaceKey), lock)
	})
	if err == nil {
		w.track(lock)
	}
	w.mtx.Unlock()
	if err != nil {
		w.TxStore.UnlockOutPoints(ops...)
		return nil, err
	}

	_, err = w.cfg.Chain.SendRawTransaction(ctx, tx)
	switch {
	case errors.Is(err, chain.ErrTxAlreadyKnown):
		log.Infof("Asset lock %v already broadcast", txid)

	case err != nil:
		w.abandon(txid, ops)
		return nil, fmt.Errorf("unable to broadcast asset lock %v: %w",
			txid, err)

	default:
		log.Infof("Broadcast asset lock %v locking %v for %v", txid,
			authored.Amount, target)
	}

	// The spent outputs leave the ledger.  Change is recorded once the
	// node reports it.
	w.mtx.Lock()
	err = walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		ns := w.nsRW(dbtx, wtxmgrNamespaceKey)
		for _, op := range ops {
			if _, err := w.TxStore.Remove(ns, op); err != nil {
				return err
			}
		}
		return nil
	})
	w.mtx.Unlock()
	if err != nil {
		log.Errorf("Unable to remove outputs spent by %v: %v", txid, err)
	}

	proof, err := w.awaitProof(ctx, txid)
	if err != nil {
		return nil, fmt.Errorf("asset lock %v: %w", txid, err)
	}

	return &FundedAssetLock{
		Tx:         tx,
		Proof:      proof,
		OneTimeKey: authored.OneTimeKey,
		Address:    addr,
		Amount:     authored.Amount,
	}, nil
}

// abandon forgets an asset lock that could not be broadcast and releases
// its outputs.
func (w *Wallet) abandon(txid chainhash.Hash, ops []wire.OutPoint) {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	w.untrack(txid)
	w.TxStore.UnlockOutPoints(ops...)

	err := walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		err := deleteAssetLock(w.nsRW(dbtx, wlltNamespaceKey), &txid)
		if err != nil {
			return err
		}
		return w.Vault.Delete(
			w.nsRW(dbtx, vaultNamespaceKey), oneTimeKeyName(txid),
		)
	})
	if err != nil {
		log.Errorf("Unable to delete abandoned asset lock %v: %v",
			txid, err)
	}
}

// awaitProof waits for the proof of txid and stores it with the record.
func (w *Wallet) awaitProof(ctx context.Context,
	txid chainhash.Hash) (finality.Proof, error) {

	var (
		proof finality.Proof
		err   error
	)
	if w.cfg.PollProofs {
		proof, err = w.tracker.AwaitProofPolling(
			ctx, txid, w.cfg.ProofTimeout,
		)
	} else {
		proof, err = w.tracker.AwaitProof(ctx, txid, w.cfg.ProofTimeout)
	}
	if err != nil {
		return nil, err
	}

	if err := w.recordProof(txid, proof); err != nil {
		log.Errorf("Unable to store proof of %v: %v", txid, err)
	}
	return proof, nil
}

// recordProof stores proof with the asset lock record of txid.
func (w *Wallet) recordProof(txid chainhash.Hash, proof finality.Proof) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	return walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		ns := w.nsRW(dbtx, wlltNamespaceKey)
		lock, err := fetchAssetLock(ns, &txid, w.cfg.ChainParams)
		if err != nil || lock == nil || lock.Proof != nil {
			return err
		}

		lock.Proof = proof
		log.Infof("Asset lock %v is final: %v", txid, proof)
		return putAssetLock(ns, lock)
	})
}

// assetLockByAddress returns the asset lock whose credit output pays addr,
// or nil.
func (w *Wallet) assetLockByAddress(
	addr btcutil.Address) (*AssetLockRecord, error) {

	locks, err := w.AssetLocks()
	if err != nil {
		return nil, err
	}
	for _, lock := range locks {
		if lock.Address.EncodeAddress() == addr.EncodeAddress() {
			return lock, nil
		}
	}
	return nil, nil
}

// oneTimeKeyOf returns the one-time key of an asset lock, preferring the
// copy kept in the vault.
func (w *Wallet) oneTimeKeyOf(txid chainhash.Hash,
	addr btcutil.Address) (*btcec.PrivateKey, error) {

	var secret *kms.Secret
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		var err error
		secret, err = w.Vault.Get(
			w.ns(tx, vaultNamespaceKey), oneTimeKeyName(txid),
		)
		return err
	})
	switch {
	case kms.IsError(err, kms.ErrNotFound):
		return w.Manager.PrivKey(addr)

	case err != nil:
		return nil, err
	}
	defer secret.Zero()

	key, _ := btcec.PrivKeyFromBytes(secret.Bytes())
	return key, nil
}

func (w *Wallet) useAssetLock(ctx context.Context,
	m UseAssetLock) (*FundedAssetLock, error) {

	if m.Address == nil {
		return nil, errors.New("no asset lock address")
	}
	rec, err := w.Manager.Lookup(m.Address)
	if err != nil {
		return nil, err
	}
	if rec.Role != waddrmgr.RoleIdentityCreation {
		return nil, fmt.Errorf("address %v is not a one-time key "+
			"address", m.Address)
	}

	tx, proof := m.Tx, m.Proof
	if tx == nil || proof == nil {
		lock, err := w.assetLockByAddress(m.Address)
		if err != nil {
			return nil, err
		}
		if lock == nil {
			return nil, fmt.Errorf("%w paying %v", ErrUnknownAssetLock,
				m.Address)
		}
		if tx == nil {
			tx = lock.Tx
		}
		if proof == nil {
			proof = lock.Proof
		}
		if proof == nil {
			proof, err = w.awaitProof(ctx, lock.TxID)
			if err != nil {
				return nil, fmt.Errorf("asset lock %v: %w",
					lock.TxID, err)
			}
		}
	}

	txid := tx.TxHash()
	if proof.LockedOutPoint().Hash != txid {
		return nil, fmt.Errorf("proof %v does not lock %v", proof, txid)
	}

	key, err := w.oneTimeKeyOf(txid, m.Address)
	if err != nil {
		return nil, err
	}
	amount, err := creditTo(tx, key.PubKey())
	if err != nil {
		key.Zero()
		return nil, err
	}

	log.Infof("Using asset lock %v of %v", txid, amount)
	return &FundedAssetLock{
		Tx:         tx,
		Proof:      proof,
		OneTimeKey: key,
		Address:    m.Address,
		Amount:     amount,
	}, nil
}

// creditTo returns the credit the asset lock tx pays to the key.
func creditTo(tx *dashwire.MsgTx, pubKey *btcec.PublicKey) (btcutil.Amount,
	error) {

	payload, err := tx.AssetLockPayload()
	if err != nil {
		return 0, err
	}
	script, err := txauthor.CreditScript(pubKey)
	if err != nil {
		return 0, err
	}

	var amount btcutil.Amount
	for _, out := range payload.CreditOutputs {
		if bytes.Equal(out.PkScript, script) {
			amount += btcutil.Amount(out.Value)
		}
	}
	if amount == 0 {
		return 0, fmt.Errorf("asset lock %v pays no credit to the "+
			"one-time key", tx.TxHash())
	}
	return amount, nil
}
