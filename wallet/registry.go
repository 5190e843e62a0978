// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb" // bbolt driver
	"github.com/dashevo/dashcw/chain"
	"github.com/dashevo/dashcw/internal/cfgutil"
	"github.com/dashevo/dashcw/kms"
	"github.com/dashevo/dashcw/waddrmgr"
)

const (
	// WalletDBName specified the database filename for the wallet.
	WalletDBName = "wallet.db"

	// DefaultDBTimeout is the default timeout value when opening the wallet
	// database.
	DefaultDBTimeout = 60 * time.Second
)

var (
	// ErrNotLoaded describes the error condition of attempting to use a
	// wallet that the registry hasn't opened.
	ErrNotLoaded = errors.New("wallet is not loaded")

	// ErrExists describes the error condition of attempting to create a
	// new wallet when one exists already.
	ErrExists = errors.New("wallet already exists")

	// ErrRegistryClosed is returned by a registry whose database isn't
	// open.
	ErrRegistryClosed = errors.New("wallet registry is not open")
)

// registryKey is the top level bucket holding the wallet records of a
// network.
func registryKey(params *chaincfg.Params) []byte {
	return []byte("registry/" + params.Name)
}

// Registry owns the wallet database and hands out handles to the wallets
// stored in it.  Every handle of a seed is the same *Wallet.
type Registry struct {
	cfg            *Config
	dbDirPath      string
	noFreelistSync bool
	timeout        time.Duration
	localDB        bool

	mu      sync.Mutex
	db      walletdb.DB
	wallets map[chainhash.Hash]*Wallet
}

// NewRegistry returns a registry of the wallet database in dbDirPath.  The
// database is opened by Open.
func NewRegistry(cfg *Config, dbDirPath string, noFreelistSync bool,
	timeout time.Duration) *Registry {

	return &Registry{
		cfg:            cfg.withDefaults(),
		dbDirPath:      dbDirPath,
		noFreelistSync: noFreelistSync,
		timeout:        timeout,
		localDB:        true,
		wallets:        make(map[chainhash.Hash]*Wallet),
	}
}

// NewRegistryWithDB returns a registry using an already open database.
// The registry doesn't close it.
func NewRegistryWithDB(cfg *Config, db walletdb.DB) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("no DB provided")
	}

	r := &Registry{
		cfg:     cfg.withDefaults(),
		db:      db,
		wallets: make(map[chainhash.Hash]*Wallet),
	}
	if err := r.createRegistry(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) createRegistry() error {
	return walletdb.Update(r.db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(registryKey(r.cfg.ChainParams))
		return err
	})
}

// Open opens the database, creating it when it doesn't exist yet.
func (r *Registry) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return nil
	}

	dbPath := filepath.Join(r.dbDirPath, WalletDBName)
	exists, err := cfgutil.FileExists(dbPath)
	if err != nil {
		return err
	}

	if exists {
		r.db, err = walletdb.Open(
			"bdb", dbPath, r.noFreelistSync, r.timeout, false,
		)
	} else {
		if err = os.MkdirAll(r.dbDirPath, 0700); err != nil {
			return err
		}
		r.db, err = walletdb.Create(
			"bdb", dbPath, r.noFreelistSync, r.timeout, false,
		)
	}
	if err != nil {
		log.Errorf("Failed to open database: %v", err)
		return err
	}

	if err := r.createRegistry(); err != nil {
		r.db.Close()
		r.db = nil
		return err
	}
	return nil
}

// CreateWallet stores a new wallet for seed, sealed under password, and
// returns its unlocked handle.  An empty password creates a wallet without
// password protection.  The first wallet of a network is its main wallet.
func (r *Registry) CreateWallet(seed, password []byte, alias,
	hint string) (*Wallet, error) {

	if len(seed) < hdkeychain.MinSeedBytes ||
		len(seed) > hdkeychain.MaxSeedBytes {

		return nil, hdkeychain.ErrInvalidSeedLen
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil, ErrRegistryClosed
	}

	params := r.cfg.ChainParams
	rec := &kms.WalletRecord{
		Alias:        alias,
		PasswordHint: hint,
		Network:      params.Name,
		Created:      r.cfg.Clock.Now(),
	}
	if err := kms.SealSeed(rec, seed, password); err != nil {
		return nil, err
	}

	err := walletdb.Update(r.db, func(tx walletdb.ReadWriteTx) error {
		regNS := tx.ReadWriteBucket(registryKey(params))
		_, err := kms.FetchWallet(regNS, rec.SeedHash)
		switch {
		case err == nil:
			return ErrExists
		case !kms.IsError(err, kms.ErrNotFound):
			return err
		}

		rec.IsMain = true
		err = kms.ForEachWallet(regNS, func(*kms.WalletRecord) error {
			rec.IsMain = false
			return nil
		})
		if err != nil {
			return err
		}

		root, err := createNamespaces(
			tx, namespaceKey(params, rec.SeedHash),
		)
		if err != nil {
			return err
		}
		addrNS := root.NestedReadWriteBucket(waddrmgrNamespaceKey)
		if err := waddrmgr.Create(addrNS, seed, params); err != nil {
			return err
		}
		mgr, err := waddrmgr.Open(addrNS, params, nil)
		if err != nil {
			return err
		}
		rec.MasterXPub = mgr.AccountPubKey()

		err = kms.CreateVault(
			root.NestedReadWriteBucket(vaultNamespaceKey),
			vaultUserID, password, r.cfg.Clock,
		)
		if err != nil {
			return err
		}

		return kms.PutWallet(regNS, rec)
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Created wallet %v (%s) on %s", rec.SeedHash, alias,
		params.Name)

	w, err := openWallet(r.db, r.cfg, rec)
	if err != nil {
		return nil, err
	}
	if err := w.Unlock(password); err != nil {
		return nil, err
	}
	r.wallets[rec.SeedHash] = w
	return w, nil
}

// OpenWallet returns the handle of the wallet with the seed hash, loading
// it on first use.  A non-nil password also unlocks it.
func (r *Registry) OpenWallet(seedHash chainhash.Hash,
	password []byte) (*Wallet, error) {

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil, ErrRegistryClosed
	}

	w, ok := r.wallets[seedHash]
	if !ok {
		rec, err := r.fetchRecord(seedHash)
		if err != nil {
			return nil, err
		}
		w, err = openWallet(r.db, r.cfg, rec)
		if err != nil {
			return nil, err
		}
		r.wallets[seedHash] = w
	}

	if password != nil && w.IsLocked() {
		if err := w.Unlock(password); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (r *Registry) fetchRecord(seedHash chainhash.Hash) (*kms.WalletRecord,
	error) {

	var rec *kms.WalletRecord
	err := walletdb.View(r.db, func(tx walletdb.ReadTx) error {
		var err error
		rec, err = kms.FetchWallet(
			tx.ReadBucket(registryKey(r.cfg.ChainParams)), seedHash,
		)
		return err
	})
	return rec, err
}

// Wallet returns the handle of a loaded wallet.
func (r *Registry) Wallet(seedHash chainhash.Hash) (*Wallet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wallets[seedHash]
	return w, ok
}

// LoadedWallets returns the loaded wallets ordered by seed hash.
func (r *Registry) LoadedWallets() []*Wallet {
	r.mu.Lock()
	defer r.mu.Unlock()

	wallets := make([]*Wallet, 0, len(r.wallets))
	for _, w := range r.wallets {
		wallets = append(wallets, w)
	}
	sort.Slice(wallets, func(i, j int) bool {
		a, b := wallets[i].SeedHash(), wallets[j].SeedHash()
		return a.String() < b.String()
	})
	return wallets
}

// WalletRecords returns the stored wallets of the network, main wallet
// first.
func (r *Registry) WalletRecords() ([]*kms.WalletRecord, error) {
	r.mu.Lock()
	db := r.db
	r.mu.Unlock()

	if db == nil {
		return nil, ErrRegistryClosed
	}

	var recs []*kms.WalletRecord
	err := walletdb.View(db, func(tx walletdb.ReadTx) error {
		return kms.ForEachWallet(
			tx.ReadBucket(registryKey(r.cfg.ChainParams)),
			func(rec *kms.WalletRecord) error {
				recs = append(recs, rec)
				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].IsMain && !recs[j].IsMain
	})
	return recs, nil
}

// UnloadWallet locks a wallet and drops its handle.
func (r *Registry) UnloadWallet(seedHash chainhash.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wallets[seedHash]
	if !ok {
		return ErrNotLoaded
	}
	w.close()
	delete(r.wallets, seedHash)
	return nil
}

// DeleteWallet unloads a wallet and removes everything stored for it.
func (r *Registry) DeleteWallet(seedHash chainhash.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return ErrRegistryClosed
	}
	if w, ok := r.wallets[seedHash]; ok {
		w.close()
		delete(r.wallets, seedHash)
	}

	params := r.cfg.ChainParams
	return walletdb.Update(r.db, func(tx walletdb.ReadWriteTx) error {
		err := tx.DeleteTopLevelBucket(namespaceKey(params, seedHash))
		if err != nil && !errors.Is(err, walletdb.ErrBucketNotFound) {
			return err
		}
		return kms.DeleteWallet(
			tx.ReadWriteBucket(registryKey(params)), seedHash,
		)
	})
}

// HandleNotification applies a chain.ZMQSubscriber notification to every
// loaded wallet.  A chain lock is resolved to a height once.
func (r *Registry) HandleNotification(ctx context.Context,
	n interface{}) error {

	wallets := r.LoadedWallets()
	if len(wallets) == 0 {
		return nil
	}

	if cl, ok := n.(*chain.ChainLockNotification); ok {
		height, err := r.cfg.Chain.GetBlockHeight(ctx, &cl.Hash)
		if err != nil {
			return fmt.Errorf("unable to resolve chain lock %v: %w",
				cl.Hash, err)
		}
		log.Debugf("Chain lock at height %d", height)

		for _, w := range wallets {
			if err := w.OnChainLock(ctx, uint32(height)); err != nil {
				return err
			}
		}
		return nil
	}

	for _, w := range wallets {
		if err := w.HandleNotification(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Close unloads every wallet and closes the database if the registry
// opened it.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, w := range r.wallets {
		w.close()
		delete(r.wallets, hash)
	}

	if !r.localDB || r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// DropUtxoLedgers empties the unspent output ledger of every wallet of the
// network stored in db and returns how many were emptied.  A wallet
// reloads its ledger from the node with ReloadUtxos.  The database must
// not be in use by a registry.
func DropUtxoLedgers(db walletdb.DB, params *chaincfg.Params) (int, error) {
	var dropped int
	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		regNS := tx.ReadWriteBucket(registryKey(params))
		if regNS == nil {
			return nil
		}

		var hashes []chainhash.Hash
		err := kms.ForEachWallet(regNS, func(rec *kms.WalletRecord) error {
			hashes = append(hashes, rec.SeedHash)
			return nil
		})
		if err != nil {
			return err
		}

		for _, hash := range hashes {
			root := tx.ReadWriteBucket(namespaceKey(params, hash))
			if root == nil {
				continue
			}
			err := root.DeleteNestedBucket(wtxmgrNamespaceKey)
			if err != nil && !errors.Is(err, walletdb.ErrBucketNotFound) {
				return err
			}
			if _, err := root.CreateBucket(wtxmgrNamespaceKey); err != nil {
				return err
			}
			dropped++
		}
		return nil
	})
	return dropped, err
}
