// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet ties the address book, the unspent output ledger, the key
// vault and the finality tracker of one seed together, and funds platform
// identities with asset locks.
package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/dashevo/dashcw/finality"
	"github.com/dashevo/dashcw/kms"
	"github.com/dashevo/dashcw/waddrmgr"
	"github.com/dashevo/dashcw/wtxmgr"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultProofTimeout is how long FundIdentity waits for an asset
	// lock to become final.
	DefaultProofTimeout = 2 * time.Minute

	// vaultUserID is the vault user created with the wallet.  Further
	// users are added through the Vault.
	vaultUserID = "owner"
)

var (
	// Namespace bucket keys.  Each wallet keeps these below its own top
	// level bucket.
	waddrmgrNamespaceKey = []byte("waddrmgr")
	wtxmgrNamespaceKey   = []byte("wtxmgr")
	vaultNamespaceKey    = []byte("kms")
	wlltNamespaceKey     = []byte("wallet")

	// ErrWalletLocked is returned by operations that need the seed while
	// the wallet is locked.
	ErrWalletLocked = errors.New("wallet is locked")

	errNoNamespace = errors.New("wallet namespace does not exist")
)

// Config holds the settings shared by the wallets of a registry.
type Config struct {
	// ChainParams is the network the wallets are for.
	ChainParams *chaincfg.Params

	// Chain is the node backend.
	Chain ChainClient

	// DeepConfirmations is passed to the finality tracker.
	DeepConfirmations uint32

	// ProofTimeout bounds the wait for asset lock finality.
	ProofTimeout time.Duration

	// PollProofs selects polling over notification when waiting for
	// proofs.
	PollProofs bool

	// Fee overrides wtxmgr.FixedFee when non-zero.
	Fee btcutil.Amount

	// AllowFeeFromAmount lets FundWithWallet deduct the fee from the
	// funded amount when the wallet can't cover both.
	AllowFeeFromAmount bool

	// Clock stamps records and times out awaits.
	Clock clock.Clock
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.ProofTimeout == 0 {
		cfg.ProofTimeout = DefaultProofTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &cfg
}

// namespaceKey is the top level bucket of the wallet with the seed hash.
func namespaceKey(params *chaincfg.Params, seedHash chainhash.Hash) []byte {
	return []byte(params.Name + "/" + seedHash.String())
}

// createNamespaces creates the top level bucket of a new wallet and the
// namespaces below it.
func createNamespaces(tx walletdb.ReadWriteTx,
	key []byte) (walletdb.ReadWriteBucket, error) {

	root, err := tx.CreateTopLevelBucket(key)
	if err != nil {
		return nil, err
	}
	for _, name := range [][]byte{
		waddrmgrNamespaceKey, wtxmgrNamespaceKey, vaultNamespaceKey,
		wlltNamespaceKey,
	} {
		if _, err := root.CreateBucket(name); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// Wallet is a handle to one seed of a registry.
//
// The address book and the ledger are guarded by mtx: reads take the read
// lock and mutations the write lock.  Chain queries are never made while
// mtx is held.
type Wallet struct {
	mtx sync.RWMutex

	cfg    *Config
	db     walletdb.DB
	nsKey  []byte
	record *kms.WalletRecord

	Manager *waddrmgr.Manager
	TxStore *wtxmgr.Store
	Vault   *kms.Vault
	tracker *finality.Tracker

	// seed is nil while the wallet is locked.
	seed *kms.Secret

	// spentBy maps the inputs of tracked asset locks to their txid so
	// that double spends can be detected.
	spentBy map[wire.OutPoint]chainhash.Hash

	// unwatched holds derived addresses not yet imported into the node.
	watchMtx  sync.Mutex
	unwatched []btcutil.Address
}

// openWallet loads the wallet described by rec.  The returned wallet is
// locked.
func openWallet(db walletdb.DB, cfg *Config,
	rec *kms.WalletRecord) (*Wallet, error) {

	w := &Wallet{
		cfg:     cfg,
		db:      db,
		nsKey:   namespaceKey(cfg.ChainParams, rec.SeedHash),
		record:  rec,
		spentBy: make(map[wire.OutPoint]chainhash.Hash),
	}

	trackerCfg := finality.Config{
		DeepConfirmations: cfg.DeepConfirmations,
		Clock:             cfg.Clock,
	}
	if cfg.Chain != nil {
		trackerCfg.TxInfo = txInfoSource{chain: cfg.Chain}
	}
	w.tracker = finality.New(trackerCfg)

	err := walletdb.View(db, func(tx walletdb.ReadTx) error {
		if tx.ReadBucket(w.nsKey) == nil {
			return errNoNamespace
		}

		var err error
		w.Manager, err = waddrmgr.Open(
			w.ns(tx, waddrmgrNamespaceKey), cfg.ChainParams,
			w.queueWatch,
		)
		if err != nil {
			return err
		}
		w.TxStore, err = wtxmgr.Open(
			w.ns(tx, wtxmgrNamespaceKey), cfg.ChainParams,
		)
		if err != nil {
			return err
		}
		w.Vault, err = kms.OpenVault(
			w.ns(tx, vaultNamespaceKey), cfg.Clock,
		)
		if err != nil {
			return err
		}

		// Locks that weren't final when the wallet was closed are
		// tracked again.
		return forEachAssetLock(w.ns(tx, wlltNamespaceKey),
			cfg.ChainParams, func(lock *AssetLockRecord) error {
				if lock.Proof == nil {
					w.track(lock)
				}
				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Opened wallet %v (%s) with %d addresses",
		rec.SeedHash, rec.Alias, len(w.Manager.Addresses()))
	return w, nil
}

func (w *Wallet) ns(tx walletdb.ReadTx, key []byte) walletdb.ReadBucket {
	return tx.ReadBucket(w.nsKey).NestedReadBucket(key)
}

func (w *Wallet) nsRW(tx walletdb.ReadWriteTx,
	key []byte) walletdb.ReadWriteBucket {

	return tx.ReadWriteBucket(w.nsKey).NestedReadWriteBucket(key)
}

// track registers an asset lock with the finality tracker.  The caller
// must hold the write lock or have exclusive access.
func (w *Wallet) track(lock *AssetLockRecord) {
	w.tracker.Register(lock.TxID)
	for _, txIn := range lock.Tx.TxIn {
		w.spentBy[txIn.PreviousOutPoint] = lock.TxID
	}
}

// untrack reverses track.  The caller must hold the write lock.
func (w *Wallet) untrack(txid chainhash.Hash) {
	w.tracker.Forget(txid)
	for op, owner := range w.spentBy {
		if owner == txid {
			delete(w.spentBy, op)
		}
	}
}

// SeedHash identifies the wallet.
func (w *Wallet) SeedHash() chainhash.Hash {
	return w.record.SeedHash
}

// Alias returns the user chosen name of the wallet.
func (w *Wallet) Alias() string {
	return w.record.Alias
}

// ChainParams returns the network of the wallet.
func (w *Wallet) ChainParams() *chaincfg.Params {
	return w.cfg.ChainParams
}

// Tracker returns the finality tracker of the wallet's asset locks.
func (w *Wallet) Tracker() *finality.Tracker {
	return w.tracker
}

// Unlock opens the seed with password and unlocks the address manager and
// the vault.  A wrong password returns an error matching
// kms.ErrInvalidCredentials.
func (w *Wallet) Unlock(password []byte) error {
	seed, err := w.record.OpenSeed(password)
	if err != nil {
		return err
	}
	if err := w.Manager.Unlock(seed.Bytes()); err != nil {
		seed.Zero()
		return err
	}
	err = walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		return w.Vault.Unlock(
			w.ns(tx, vaultNamespaceKey), vaultUserID, password,
		)
	})
	if err != nil {
		w.Manager.Lock()
		seed.Zero()
		return err
	}

	w.mtx.Lock()
	w.seed.Zero()
	w.seed = seed
	w.mtx.Unlock()

	log.Infof("Wallet %v unlocked", w.record.SeedHash)
	return nil
}

// Lock zeroes the seed and every key derived from it.
func (w *Wallet) Lock() {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	w.Manager.Lock()
	w.Vault.Lock()
	w.seed.Zero()
	w.seed = nil
}

// IsLocked returns whether the seed is unavailable.
func (w *Wallet) IsLocked() bool {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	return w.seed == nil
}

// ChangePassword reseals the seed and rewraps the vault master key under
// a new password.  The wallet must be unlocked.
func (w *Wallet) ChangePassword(oldPass, newPass []byte) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.seed == nil {
		return ErrWalletLocked
	}

	rec := *w.record
	if err := kms.SealSeed(&rec, w.seed.Bytes(), newPass); err != nil {
		return err
	}
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		err := w.Vault.ChangePassword(
			w.nsRW(tx, vaultNamespaceKey), vaultUserID, oldPass,
			newPass,
		)
		if err != nil {
			return err
		}
		return kms.PutWallet(
			tx.ReadWriteBucket(registryKey(w.cfg.ChainParams)), &rec,
		)
	})
	if err != nil {
		return err
	}

	w.record = &rec
	return nil
}

// queueWatch is the address manager's watch callback.  It runs with the
// manager lock held, so the import into the node is deferred to
// importAddresses.
func (w *Wallet) queueWatch(rec *waddrmgr.AddressRecord) {
	if rec.Role != waddrmgr.RoleFunding && rec.Role != waddrmgr.RoleChange {
		return
	}

	w.watchMtx.Lock()
	w.unwatched = append(w.unwatched, rec.Address)
	w.watchMtx.Unlock()
}

// importAddresses imports queued addresses into the node.  Addresses that
// fail are queued again.
func (w *Wallet) importAddresses(ctx context.Context) {
	w.watchMtx.Lock()
	addrs := w.unwatched
	w.unwatched = nil
	w.watchMtx.Unlock()

	if w.cfg.Chain == nil {
		return
	}

	var failed []btcutil.Address
	for _, addr := range addrs {
		if err := w.cfg.Chain.ImportAddress(ctx, addr); err != nil {
			log.Warnf("Unable to watch address %v: %v", addr, err)
			failed = append(failed, addr)
			continue
		}
		log.Debugf("Watching address %v", addr)
	}

	if len(failed) > 0 {
		w.watchMtx.Lock()
		w.unwatched = append(w.unwatched, failed...)
		w.watchMtx.Unlock()
	}
}

// NewAddress returns a fresh address of the role and imports it into the
// node.
func (w *Wallet) NewAddress(ctx context.Context,
	role waddrmgr.Role) (btcutil.Address, error) {

	var rec *waddrmgr.AddressRecord
	w.mtx.Lock()
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		var err error
		rec, err = w.Manager.NextUnusedAddress(
			w.nsRW(tx, waddrmgrNamespaceKey), role,
		)
		return err
	})
	w.mtx.Unlock()
	if err != nil {
		return nil, err
	}

	w.importAddresses(ctx)
	return rec.Address, nil
}

// Addresses returns the wallet addresses with the given roles, or every
// address when no role is given.
func (w *Wallet) Addresses(roles ...waddrmgr.Role) []*waddrmgr.AddressRecord {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	return w.Manager.Addresses(roles...)
}

// Balance returns the sum of the unspent outputs of the wallet.
func (w *Wallet) Balance() btcutil.Amount {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	return w.TxStore.Balance()
}

// ReceivedBalance returns the sum of the balances last reported for the
// wallet addresses by RefreshBalances.
func (w *Wallet) ReceivedBalance() btcutil.Amount {
	w.mtx.RLock()
	defer w.mtx.RUnlock()

	return w.Manager.TotalBalance()
}

// AssetLocks returns the stored asset lock records.
func (w *Wallet) AssetLocks() ([]*AssetLockRecord, error) {
	var locks []*AssetLockRecord
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		return forEachAssetLock(w.ns(tx, wlltNamespaceKey),
			w.cfg.ChainParams, func(lock *AssetLockRecord) error {
				locks = append(locks, lock)
				return nil
			},
		)
	})
	return locks, err
}

// AssetLock returns the record of txid, or nil when there is none.
func (w *Wallet) AssetLock(txid chainhash.Hash) (*AssetLockRecord, error) {
	var lock *AssetLockRecord
	err := walletdb.View(w.db, func(tx walletdb.ReadTx) error {
		var err error
		lock, err = fetchAssetLock(
			w.ns(tx, wlltNamespaceKey), &txid, w.cfg.ChainParams,
		)
		return err
	})
	return lock, err
}

// RemoveAssetLock stops tracking a redeemed asset lock and deletes its
// record and one-time key.
func (w *Wallet) RemoveAssetLock(txid chainhash.Hash) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()

	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		err := deleteAssetLock(w.nsRW(tx, wlltNamespaceKey), &txid)
		if err != nil {
			return err
		}
		return w.Vault.Delete(
			w.nsRW(tx, vaultNamespaceKey), oneTimeKeyName(txid),
		)
	})
	if err != nil {
		return err
	}

	w.untrack(txid)
	log.Infof("Removed asset lock %v", txid)
	return nil
}

// close locks the wallet.  The registry closes the database.
func (w *Wallet) close() {
	w.Lock()
	for _, txid := range w.tracker.Pending() {
		w.tracker.Forget(txid)
	}
}
