// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/dashevo/dashcw/chain"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/dashevo/dashcw/waddrmgr"
	"github.com/dashevo/dashcw/wtxmgr"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentQueries bounds the chain queries RefreshBalances runs at
// once.
const maxConcurrentQueries = 8

// spendable returns the funding and change addresses.  The caller must
// hold the lock.
func (w *Wallet) spendable() []*waddrmgr.AddressRecord {
	return w.Manager.Addresses(waddrmgr.RoleFunding, waddrmgr.RoleChange)
}

// RefreshBalances queries the node for the amount received by each funding
// and change address and stores the results.  The addresses are read
// under the read lock, queried without any lock, and the balances
// committed under the write lock.
func (w *Wallet) RefreshBalances(ctx context.Context) error {
	w.mtx.RLock()
	recs := w.spendable()
	w.mtx.RUnlock()

	balances := make([]btcutil.Amount, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for i, rec := range recs {
		g.Go(func() error {
			amt, err := w.cfg.Chain.GetReceivedByAddress(
				gctx, rec.Address,
			)
			if err != nil {
				return fmt.Errorf("unable to query balance of "+
					"%v: %w", rec.Address, err)
			}
			balances[i] = amt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	var changed int
	err := walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		ns := w.nsRW(tx, waddrmgrNamespaceKey)
		for i, rec := range recs {
			ok, err := w.Manager.SetBalance(
				ns, rec.Address, balances[i],
			)
			if err != nil {
				return err
			}
			if ok {
				changed++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debugf("Refreshed %d balances, %d changed", len(recs), changed)
	return nil
}

// ReloadUtxos replaces the ledger with the unspent outputs the node
// reports for the funding and change addresses.  Outputs leased by an
// in-flight asset lock are kept.
func (w *Wallet) ReloadUtxos(ctx context.Context) error {
	w.mtx.RLock()
	recs := w.spendable()
	w.mtx.RUnlock()

	var current []*wtxmgr.Utxo
	if len(recs) > 0 {
		addrs := make([]btcutil.Address, len(recs))
		for i, rec := range recs {
			addrs[i] = rec.Address
		}
		unspent, err := w.cfg.Chain.ListUnspent(ctx, addrs)
		if err != nil {
			return err
		}

		current = make([]*wtxmgr.Utxo, 0, len(unspent))
		for _, u := range unspent {
			addr, err := btcutil.DecodeAddress(
				u.Address, w.cfg.ChainParams,
			)
			if err != nil {
				return fmt.Errorf("node reported invalid "+
					"address %q: %w", u.Address, err)
			}
			current = append(current, &wtxmgr.Utxo{
				OutPoint: u.OutPoint,
				Address:  addr,
				Value:    u.Amount,
				PkScript: u.PkScript,
			})
		}
	}

	w.mtx.Lock()
	defer w.mtx.Unlock()

	return walletdb.Update(w.db, func(tx walletdb.ReadWriteTx) error {
		added, removed, err := w.TxStore.Reconcile(
			w.nsRW(tx, wtxmgrNamespaceKey), current,
		)
		if err != nil {
			return err
		}

		log.Infof("Reloaded %d unspent outputs (%d added, %d removed)",
			len(current), len(added), len(removed))
		return nil
	})
}

// ProcessTx updates the wallet with a transaction seen by the node.  Wallet
// outputs it spends leave the ledger, outputs paying funding or change
// addresses enter it, and asset locks crediting a one-time key of the
// wallet are tracked.  A transaction spending the input of a tracked asset
// lock invalidates that lock's proof.
func (w *Wallet) ProcessTx(ctx context.Context, tx *dashwire.MsgTx) error {
	txid := tx.TxHash()

	w.mtx.Lock()
	defer w.mtx.Unlock()

	return walletdb.Update(w.db, func(dbtx walletdb.ReadWriteTx) error {
		ns := w.nsRW(dbtx, wtxmgrNamespaceKey)

		for _, txIn := range tx.TxIn {
			op := txIn.PreviousOutPoint
			if owner, ok := w.spentBy[op]; ok && owner != txid {
				log.Warnf("Asset lock %v double spent by %v",
					owner, txid)
				w.tracker.Invalidate(owner)
				err := clearProof(
					w.nsRW(dbtx, wlltNamespaceKey), owner,
					w.cfg.ChainParams,
				)
				if err != nil {
					return err
				}
			}

			removed, err := w.TxStore.Remove(ns, op)
			if err != nil {
				return err
			}
			if removed {
				log.Debugf("Output %v spent by %v", op, txid)
			}
		}

		for i, txOut := range tx.TxOut {
			rec := w.walletAddress(txOut.PkScript)
			if rec == nil || (rec.Role != waddrmgr.RoleFunding &&
				rec.Role != waddrmgr.RoleChange) {

				continue
			}

			u := &wtxmgr.Utxo{
				Address:  rec.Address,
				Value:    btcutil.Amount(txOut.Value),
				PkScript: txOut.PkScript,
			}
			u.OutPoint.Hash = txid
			u.OutPoint.Index = uint32(i)
			if _, err := w.TxStore.Record(ns, u); err != nil {
				return err
			}
		}

		if tx.Type() == dashwire.TxTypeAssetLock {
			return w.matchAssetLock(dbtx, tx)
		}
		return nil
	})
}

// walletAddress returns the record of the single address the script pays,
// or nil when it doesn't pay a wallet address.  The caller must hold the
// lock.
func (w *Wallet) walletAddress(pkScript []byte) *waddrmgr.AddressRecord {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		pkScript, w.cfg.ChainParams,
	)
	if err != nil || len(addrs) != 1 {
		return nil
	}
	rec, err := w.Manager.Lookup(addrs[0])
	if err != nil {
		return nil
	}
	return rec
}

// matchAssetLock tracks an asset lock crediting one of the wallet's
// one-time keys that the wallet has no record of, such as a lock funded
// before a restore.  The caller must hold the write lock.
func (w *Wallet) matchAssetLock(dbtx walletdb.ReadWriteTx,
	tx *dashwire.MsgTx) error {

	txid := tx.TxHash()
	payload, err := tx.AssetLockPayload()
	if err != nil {
		log.Warnf("Ignoring malformed asset lock %v: %v", txid, err)
		return nil
	}

	ns := w.nsRW(dbtx, wlltNamespaceKey)
	for _, out := range payload.CreditOutputs {
		rec := w.walletAddress(out.PkScript)
		if rec == nil || rec.Role != waddrmgr.RoleIdentityCreation {
			continue
		}
		if w.tracker.IsRegistered(txid) {
			log.Debugf("Seen tracked asset lock %v", txid)
			return nil
		}

		lock, err := fetchAssetLock(ns, &txid, w.cfg.ChainParams)
		if err != nil || lock != nil {
			return err
		}
		target, ok := targetOf(rec)
		if !ok {
			continue
		}

		lock = &AssetLockRecord{
			TxID:    txid,
			Tx:      tx,
			Amount:  payload.CreditAmount(),
			Address: rec.Address,
			Target:  target,
			Created: w.cfg.Clock.Now(),
		}
		if err := putAssetLock(ns, lock); err != nil {
			return err
		}
		w.track(lock)

		log.Infof("Found asset lock %v for %v", txid, target)
		return nil
	}
	return nil
}

// OnInstantLock handles an instant locked transaction.
func (w *Wallet) OnInstantLock(ctx context.Context, tx *dashwire.MsgTx,
	lock *dashwire.InstantLock) error {

	if err := w.ProcessTx(ctx, tx); err != nil {
		return err
	}

	txid := tx.TxHash()
	if !w.tracker.IsRegistered(txid) {
		return nil
	}
	if !w.tracker.OnInstantLock(ctx, txid, lock, tx) {
		return nil
	}
	return w.storeProof(txid)
}

// OnChainLock resolves the tracked asset locks that the chain lock at
// height covers.
func (w *Wallet) OnChainLock(ctx context.Context, height uint32) error {
	for _, txid := range w.tracker.Pending() {
		if !w.tracker.OnChainAdvance(ctx, txid, height) {
			continue
		}
		if err := w.storeProof(txid); err != nil {
			return err
		}
	}
	return nil
}

// storeProof persists the tracker's proof of txid.
func (w *Wallet) storeProof(txid chainhash.Hash) error {
	proof, err := w.tracker.Proof(txid).UnwrapOrErr(
		fmt.Errorf("asset lock %v has no proof", txid),
	)
	if err != nil {
		return err
	}
	return w.recordProof(txid, proof)
}

// HandleNotification applies a chain.ZMQSubscriber notification.  Chain
// locks are resolved to a height first.
func (w *Wallet) HandleNotification(ctx context.Context,
	n interface{}) error {

	switch n := n.(type) {
	case *chain.TxNotification:
		return w.ProcessTx(ctx, n.Tx)

	case *chain.InstantLockNotification:
		return w.OnInstantLock(ctx, n.Tx, n.Lock)

	case *chain.ChainLockNotification:
		height, err := w.cfg.Chain.GetBlockHeight(ctx, &n.Hash)
		if err != nil {
			return fmt.Errorf("unable to resolve chain lock %v: %w",
				n.Hash, err)
		}
		return w.OnChainLock(ctx, uint32(height))

	default:
		return fmt.Errorf("unknown notification %T", n)
	}
}
