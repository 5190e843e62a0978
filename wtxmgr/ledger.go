// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
)

// Utxo is an unspent output owned by one of the wallet's addresses.
type Utxo struct {
	// OutPoint is the transaction output that is unspent.
	OutPoint wire.OutPoint

	// Address is the wallet address the output pays.
	Address btcutil.Address

	// Value is the output value in duffs.
	Value btcutil.Amount

	// PkScript is the output script, which is signed over when the output
	// is spent.
	PkScript []byte

	// Height is the height of the block that confirmed the output, or 0
	// while it is unconfirmed.
	Height int32
}

func (u *Utxo) copy() *Utxo {
	c := *u
	c.PkScript = append([]byte(nil), u.PkScript...)
	return &c
}

// TxOut returns the output as a wire output.
func (u *Utxo) TxOut() *wire.TxOut {
	return wire.NewTxOut(int64(u.Value), u.PkScript)
}

// lessOutPoint orders outpoints by hash bytes then index.
func lessOutPoint(a, b *wire.OutPoint) bool {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}

// Store is the ledger of spendable outputs.  It keeps every unspent output
// in memory and mirrors each change into the database namespace passed to
// the mutating methods.
//
// Changes made through a database transaction are only visible to readers
// of the Store once that transaction commits.
//
// Outputs can be leased by an in-flight transaction with LockOutPoints so
// that concurrent selections never pick the same output.  Leases only live
// in memory.
type Store struct {
	mtx sync.RWMutex

	params *chaincfg.Params
	utxos  map[wire.OutPoint]*Utxo
	locked map[wire.OutPoint]struct{}

	staged *staging
}

// staging holds the changes written by the open database transaction tx.
// They are applied to the Store when tx commits.  A staging whose
// transaction rolled back is replaced by the next writer.
type staging struct {
	tx      walletdb.ReadWriteTx
	added   map[wire.OutPoint]*Utxo
	removed map[wire.OutPoint]struct{}
}

// stage returns the staging of the transaction ns belongs to.  It must be
// called with the write lock held.
func (s *Store) stage(ns walletdb.ReadWriteBucket) *staging {
	tx := ns.Tx()
	if s.staged != nil && s.staged.tx == tx {
		return s.staged
	}

	st := &staging{
		tx:      tx,
		added:   make(map[wire.OutPoint]*Utxo),
		removed: make(map[wire.OutPoint]struct{}),
	}
	s.staged = st
	tx.OnCommit(func() {
		s.mtx.Lock()
		defer s.mtx.Unlock()

		for op := range st.removed {
			delete(s.utxos, op)
			delete(s.locked, op)
		}
		for op, u := range st.added {
			s.utxos[op] = u
		}
		if s.staged == st {
			s.staged = nil
		}
	})
	return st
}

// has returns whether op is unspent as seen from inside the staged
// transaction.
func (s *Store) has(st *staging, op wire.OutPoint) bool {
	if _, ok := st.added[op]; ok {
		return true
	}
	if _, ok := st.removed[op]; ok {
		return false
	}
	_, ok := s.utxos[op]
	return ok
}

// Open loads the ledger from the namespace.
func Open(ns walletdb.ReadBucket, params *chaincfg.Params) (*Store, error) {
	s := &Store{
		params: params,
		utxos:  make(map[wire.OutPoint]*Utxo),
		locked: make(map[wire.OutPoint]struct{}),
	}
	err := forEachUnspent(ns, params, func(u *Utxo) error {
		s.utxos[u.OutPoint] = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Loaded %d unspent outputs", len(s.utxos))
	return s, nil
}

// Record adds an unspent output.  Recording an outpoint that is already
// present is a no-op and returns false.
func (s *Store) Record(ns walletdb.ReadWriteBucket, u *Utxo) (bool, error) {
	if u.Address == nil {
		return false, storeError(ErrInput, "unspent output has no "+
			"address", nil)
	}
	if u.Value < 0 || u.Value > btcutil.MaxSatoshi {
		str := fmt.Sprintf("unspent output value %d out of range",
			int64(u.Value))
		return false, storeError(ErrInput, str, nil)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	st := s.stage(ns)
	if s.has(st, u.OutPoint) {
		return false, nil
	}
	if err := putUnspent(ns, u); err != nil {
		return false, err
	}
	delete(st.removed, u.OutPoint)
	st.added[u.OutPoint] = u.copy()

	log.Debugf("Recorded unspent output %v (%v) for %v", u.OutPoint,
		u.Value, u.Address)
	return true, nil
}

// Remove deletes an unspent output.  Removing an unknown outpoint is a no-op
// and returns false.  Any lease on the outpoint is released.
func (s *Store) Remove(ns walletdb.ReadWriteBucket,
	op wire.OutPoint) (bool, error) {

	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.remove(s.stage(ns), ns, op)
}

func (s *Store) remove(st *staging, ns walletdb.ReadWriteBucket,
	op wire.OutPoint) (bool, error) {

	if !s.has(st, op) {
		return false, nil
	}
	if err := deleteUnspent(ns, &op); err != nil {
		return false, err
	}
	delete(st.added, op)
	st.removed[op] = struct{}{}

	log.Debugf("Removed unspent output %v", op)
	return true, nil
}

// Get returns the unspent output at op.
func (s *Store) Get(op wire.OutPoint) (*Utxo, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	u, ok := s.utxos[op]
	if !ok {
		return nil, false
	}
	return u.copy(), true
}

// List returns every unspent output ordered by outpoint.
func (s *Store) List() []*Utxo {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	utxos := make([]*Utxo, 0, len(s.utxos))
	for _, u := range s.utxos {
		utxos = append(utxos, u.copy())
	}
	sort.Slice(utxos, func(i, j int) bool {
		return lessOutPoint(&utxos[i].OutPoint, &utxos[j].OutPoint)
	})
	return utxos
}

// Balance returns the total value of all unspent outputs, leased or not.
func (s *Store) Balance() btcutil.Amount {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var total btcutil.Amount
	for _, u := range s.utxos {
		total += u.Value
	}
	return total
}

// BalanceByAddress returns the total unspent value paying each address.
func (s *Store) BalanceByAddress() map[string]btcutil.Amount {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	balances := make(map[string]btcutil.Amount)
	for _, u := range s.utxos {
		balances[u.Address.EncodeAddress()] += u.Value
	}
	return balances
}

// LockOutPoints leases outputs to an in-flight transaction.  It fails
// without leasing anything if any outpoint is unknown or already leased.
func (s *Store) LockOutPoints(ops ...wire.OutPoint) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, op := range ops {
		if _, ok := s.utxos[op]; !ok {
			str := fmt.Sprintf("outpoint %v is not unspent", op)
			return storeError(ErrInput, str, nil)
		}
		if _, ok := s.locked[op]; ok {
			str := fmt.Sprintf("outpoint %v is already locked", op)
			return storeError(ErrInput, str, nil)
		}
	}
	for _, op := range ops {
		s.locked[op] = struct{}{}
	}
	return nil
}

// UnlockOutPoints releases leases.  Unknown outpoints are ignored.
func (s *Store) UnlockOutPoints(ops ...wire.OutPoint) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, op := range ops {
		delete(s.locked, op)
	}
}

// IsLocked returns whether the outpoint is leased.
func (s *Store) IsLocked(op wire.OutPoint) bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	_, ok := s.locked[op]
	return ok
}

// Reconcile replaces the ledger contents with the given set of unspent
// outputs, as reported by the chain backend.  Outputs missing from the
// ledger are recorded and outputs no longer reported are removed, unless
// they are leased.
func (s *Store) Reconcile(ns walletdb.ReadWriteBucket,
	current []*Utxo) (added, removed []wire.OutPoint, err error) {

	want := make(map[wire.OutPoint]*Utxo, len(current))
	for _, u := range current {
		want[u.OutPoint] = u
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	st := s.stage(ns)
	var known []wire.OutPoint
	for op := range s.utxos {
		known = append(known, op)
	}
	for op := range st.added {
		known = append(known, op)
	}
	for _, op := range known {
		if _, ok := want[op]; ok {
			continue
		}
		if _, ok := s.locked[op]; ok {
			continue
		}
		ok, err := s.remove(st, ns, op)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			removed = append(removed, op)
		}
	}

	for op, u := range want {
		if s.has(st, op) {
			continue
		}
		if err := putUnspent(ns, u); err != nil {
			return nil, nil, err
		}
		delete(st.removed, op)
		st.added[op] = u.copy()
		added = append(added, op)
	}

	sortOutPoints(added)
	sortOutPoints(removed)
	return added, removed, nil
}

func sortOutPoints(ops []wire.OutPoint) {
	sort.Slice(ops, func(i, j int) bool {
		return lessOutPoint(&ops[i], &ops[j])
	})
}
