// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcwallet/walletdb"
)

// AddressRecord is a derived address together with the path it was derived
// at and the balance last observed for it.
type AddressRecord struct {
	Address btcutil.Address
	Path    DerivationPath
	Purpose Purpose
	Role    Role
	Major   uint32
	Minor   uint32
	Balance btcutil.Amount
}

// copy returns a shallow copy with its own path slice.
func (r *AddressRecord) copy() *AddressRecord {
	c := *r
	c.Path = append(DerivationPath(nil), r.Path...)
	return &c
}

// WatchFunc is called with every address the manager derives for the first
// time, once the transaction storing it commits, so it can be registered
// with the chain backend.  It is called with the manager lock held and must
// not block.
type WatchFunc func(rec *AddressRecord)

// branch identifies a run of sequentially allocated indices.
type branch struct {
	purpose Purpose
	major   uint32
}

// Manager is the address book.  It derives addresses for each purpose,
// persists them, and tracks the next unused index of every branch so that
// NextUnusedAddress never returns the same address twice.
//
// Funding and change addresses of account 0 are derived from the stored
// account extended public key, so they can be allocated while the manager
// is locked.  Every other purpose requires the seed.
type Manager struct {
	mtx sync.RWMutex

	params     *chaincfg.Params
	acctPubKey *hdkeychain.ExtendedKey
	root       *hdkeychain.ExtendedKey
	watch      WatchFunc

	addrs map[string]*AddressRecord
	next  map[branch]uint32

	staged *staging
}

// staging holds what the open database transaction tx wrote.  It is merged
// into the manager when tx commits, and a staging whose transaction rolled
// back is replaced by the next writer.
type staging struct {
	tx       walletdb.ReadWriteTx
	addrs    map[string]*AddressRecord
	next     map[branch]uint32
	balances map[string]btcutil.Amount
}

// stage returns the staging of the transaction ns belongs to.  It must be
// called with the write lock held.
func (m *Manager) stage(ns walletdb.ReadWriteBucket) *staging {
	tx := ns.Tx()
	if m.staged != nil && m.staged.tx == tx {
		return m.staged
	}

	st := &staging{
		tx:       tx,
		addrs:    make(map[string]*AddressRecord),
		next:     make(map[branch]uint32),
		balances: make(map[string]btcutil.Amount),
	}
	m.staged = st
	tx.OnCommit(func() {
		m.mtx.Lock()
		defer m.mtx.Unlock()

		for _, rec := range st.addrs {
			m.track(rec)
			if m.watch != nil {
				m.watch(rec.copy())
			}
		}
		for key, balance := range st.balances {
			if rec, ok := m.addrs[key]; ok {
				rec.Balance = balance
			}
		}
		if m.staged == st {
			m.staged = nil
		}
	})
	return st
}

// lookup returns the record of the encoded address as seen from inside the
// staged transaction.
func (m *Manager) lookup(st *staging, key string) (*AddressRecord, bool) {
	if rec, ok := st.addrs[key]; ok {
		return rec, true
	}
	rec, ok := m.addrs[key]
	return rec, ok
}

// nextIndex returns the next unused index of b as seen from inside the
// staged transaction.
func (m *Manager) nextIndex(st *staging, b branch) uint32 {
	if next, ok := st.next[b]; ok {
		return next
	}
	return m.next[b]
}

// accountPath is the path of the BIP44 account 0 key.
func accountPath(params *chaincfg.Params) DerivationPath {
	return DerivationPath{
		hardened(BIP44Purpose), hardened(params.HDCoinType),
		hardened(0),
	}
}

// accountPubKey derives the neutered BIP44 account 0 key from the seed.
func accountPubKey(seed []byte, params *chaincfg.Params) (
	*hdkeychain.ExtendedKey, *hdkeychain.ExtendedKey, error) {

	root, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, nil, managerError(ErrKeyChain, "failed to derive "+
			"master extended key", err)
	}

	acctKey, err := deriveExtendedKey(root, accountPath(params))
	if err != nil {
		root.Zero()
		return nil, nil, err
	}
	defer acctKey.Zero()

	neutered, err := acctKey.Neuter()
	if err != nil {
		root.Zero()
		return nil, nil, managerError(ErrKeyChain, "failed to neuter "+
			"account key", err)
	}

	// The neutered key shares its key and chain code with acctKey, so it
	// is copied before acctKey is zeroed.
	acctPub, err := hdkeychain.NewKeyFromString(neutered.String())
	if err != nil {
		root.Zero()
		return nil, nil, managerError(ErrKeyChain, "failed to copy "+
			"account public key", err)
	}
	return root, acctPub, nil
}

// Create initializes the address manager namespace for the wallet with the
// given seed.  Only public data is written.
func Create(ns walletdb.ReadWriteBucket, seed []byte,
	params *chaincfg.Params) error {

	if _, ok := fetchAccountPubKey(ns); ok {
		return managerError(ErrAlreadyExists, errAlreadyExists, nil)
	}

	root, acctPub, err := accountPubKey(seed, params)
	if err != nil {
		return err
	}
	root.Zero()

	return putAccountPubKey(ns, acctPub.String())
}

// Open loads the address manager from the namespace.  The returned manager
// is locked.
func Open(ns walletdb.ReadBucket, params *chaincfg.Params,
	watch WatchFunc) (*Manager, error) {

	xpub, ok := fetchAccountPubKey(ns)
	if !ok {
		return nil, managerError(ErrNoExist, "the specified address "+
			"manager does not exist", nil)
	}
	acctPub, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, managerError(ErrKeyChain, "failed to parse "+
			"account public key", err)
	}

	m := &Manager{
		params:     params,
		acctPubKey: acctPub,
		watch:      watch,
		addrs:      make(map[string]*AddressRecord),
		next:       make(map[branch]uint32),
	}
	err = forEachAddress(ns, params, func(rec *AddressRecord) error {
		m.track(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Loaded %d addresses", len(m.addrs))
	return m, nil
}

// track adds rec to the in-memory indexes.  The caller must hold the write
// lock or have exclusive access.
func (m *Manager) track(rec *AddressRecord) {
	m.addrs[rec.Address.EncodeAddress()] = rec

	b := branch{purpose: rec.Purpose, major: rec.Major}
	if next, ok := m.next[b]; !ok || rec.Minor >= next {
		m.next[b] = rec.Minor + 1
	}
}

// Unlock makes the seed available for deriving hardened keys.  The seed must
// derive the account key the manager was created with.  The manager keeps
// its own copy of the derived master key, so the caller may zero seed once
// Unlock returns.
func (m *Manager) Unlock(seed []byte) error {
	root, acctPub, err := accountPubKey(seed, m.params)
	if err != nil {
		return err
	}
	if acctPub.String() != m.acctPubKey.String() {
		root.Zero()
		return managerError(ErrWrongSeed, "seed does not match the "+
			"address manager", nil)
	}

	m.mtx.Lock()
	if m.root != nil {
		m.root.Zero()
	}
	m.root = root
	m.mtx.Unlock()
	return nil
}

// Lock zeroes the master key.  Unlocked operations fail with ErrLocked until
// the next Unlock.
func (m *Manager) Lock() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if m.root != nil {
		m.root.Zero()
		m.root = nil
	}
}

// IsLocked returns whether the master key is unavailable.
func (m *Manager) IsLocked() bool {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.root == nil
}

// AccountPubKey returns the serialized BIP44 account 0 extended public key.
func (m *Manager) AccountPubKey() string {
	return m.acctPubKey.String()
}

// Classify returns the role of the derivation path.
func (m *Manager) Classify(path DerivationPath) Role {
	return Classify(path)
}

// NextUnusedAddress derives, stores and returns the address after the
// highest index allocated so far for the role.  Successive calls return
// distinct addresses with increasing indices.
func (m *Manager) NextUnusedAddress(ns walletdb.ReadWriteBucket,
	role Role) (*AddressRecord, error) {

	purpose, ok := role.allocPurpose()
	if !ok {
		str := fmt.Sprintf("addresses can't be allocated for role %v",
			role)
		return nil, managerError(ErrUnsupportedRole, str, nil)
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	st := m.stage(ns)
	index := m.nextIndex(st, branch{purpose: purpose})
	return m.deriveAndStore(st, ns, purpose, 0, index)
}

// AddressAt returns the address at an explicit index, deriving and storing
// it if it isn't known yet.  It is used to regenerate addresses during
// recovery and to derive the one-time key of a particular identity.
func (m *Manager) AddressAt(ns walletdb.ReadWriteBucket, purpose Purpose,
	major, minor uint32) (*AddressRecord, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	return m.deriveAndStore(m.stage(ns), ns, purpose, major, minor)
}

// deriveAndStore must be called with the write lock held.
func (m *Manager) deriveAndStore(st *staging, ns walletdb.ReadWriteBucket,
	purpose Purpose, major, minor uint32) (*AddressRecord, error) {

	path, err := PathFor(purpose, m.params.HDCoinType, major, minor)
	if err != nil {
		return nil, err
	}

	pubKey, err := m.pubKeyAt(path, purpose, major)
	if err != nil {
		return nil, err
	}
	addr, err := PubKeyHashAddress(pubKey, m.params)
	if err != nil {
		return nil, managerError(ErrKeyChain, "failed to create "+
			"address", err)
	}

	key := addr.EncodeAddress()
	if rec, ok := m.lookup(st, key); ok {
		return rec.copy(), nil
	}

	rec := &AddressRecord{
		Address: addr,
		Path:    path,
		Purpose: purpose,
		Role:    purpose.Role(),
		Major:   major,
		Minor:   minor,
	}
	if err := putAddress(ns, rec); err != nil {
		return nil, err
	}
	st.addrs[key] = rec
	b := branch{purpose: purpose, major: major}
	if minor >= m.nextIndex(st, b) {
		st.next[b] = minor + 1
	}

	log.Debugf("Derived %v address %v at %v", rec.Role, addr, path)
	return rec.copy(), nil
}

// pubKeyAt must be called with the lock held.
func (m *Manager) pubKeyAt(path DerivationPath, purpose Purpose,
	major uint32) (*btcec.PublicKey, error) {

	if (purpose == PurposeFunding || purpose == PurposeChange) &&
		major == 0 {

		key, err := deriveExtendedKey(m.acctPubKey, path[3:])
		if err != nil {
			return nil, err
		}
		pubKey, err := key.ECPubKey()
		if err != nil {
			return nil, managerError(ErrKeyChain, "failed to "+
				"convert extended key to public key", err)
		}
		return pubKey, nil
	}

	if m.root == nil {
		return nil, managerError(ErrLocked, errLocked, nil)
	}
	privKey, err := privKeyAt(m.root, path)
	if err != nil {
		return nil, err
	}
	defer privKey.Zero()

	return privKey.PubKey(), nil
}

// Lookup returns the record of a known address.
func (m *Manager) Lookup(addr btcutil.Address) (*AddressRecord, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	rec, ok := m.addrs[addr.EncodeAddress()]
	if !ok {
		str := fmt.Sprintf("address %v not found", addr)
		return nil, managerError(ErrAddressNotFound, str, nil)
	}
	return rec.copy(), nil
}

// Addresses returns copies of the known address records with one of the
// given roles, ordered by path.  No roles selects every address.
func (m *Manager) Addresses(roles ...Role) []*AddressRecord {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	recs := make([]*AddressRecord, 0, len(m.addrs))
	for _, rec := range m.addrs {
		if len(roles) > 0 && !containsRole(roles, rec.Role) {
			continue
		}
		recs = append(recs, rec.copy())
	}
	sort.Slice(recs, func(i, j int) bool {
		return lessPath(recs[i].Path, recs[j].Path)
	})
	return recs
}

func containsRole(roles []Role, r Role) bool {
	for _, role := range roles {
		if role == r {
			return true
		}
	}
	return false
}

func lessPath(a, b DerivationPath) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// SetBalance stores a newly observed balance for the address.  The return
// value reports whether the balance changed; unchanged balances aren't
// written.
func (m *Manager) SetBalance(ns walletdb.ReadWriteBucket,
	addr btcutil.Address, balance btcutil.Amount) (bool, error) {

	m.mtx.Lock()
	defer m.mtx.Unlock()

	st := m.stage(ns)
	key := addr.EncodeAddress()
	rec, ok := m.lookup(st, key)
	if !ok {
		str := fmt.Sprintf("address %v not found", addr)
		return false, managerError(ErrAddressNotFound, str, nil)
	}
	current, ok := st.balances[key]
	if !ok {
		current = rec.Balance
	}
	if current == balance {
		return false, nil
	}

	updated := rec.copy()
	updated.Balance = balance
	if err := putAddress(ns, updated); err != nil {
		return false, err
	}
	st.balances[key] = balance
	return true, nil
}

// TotalBalance sums the cached balances of all addresses.
func (m *Manager) TotalBalance() btcutil.Amount {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	var total btcutil.Amount
	for _, rec := range m.addrs {
		total += rec.Balance
	}
	return total
}

// PrivKey returns the private key of a known address.  The manager must be
// unlocked.
func (m *Manager) PrivKey(addr btcutil.Address) (*btcec.PrivateKey, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	rec, ok := m.addrs[addr.EncodeAddress()]
	if !ok {
		str := fmt.Sprintf("address %v not found", addr)
		return nil, managerError(ErrAddressNotFound, str, nil)
	}
	if m.root == nil {
		return nil, managerError(ErrLocked, errLocked, nil)
	}
	return privKeyAt(m.root, rec.Path)
}

// DeriveKey derives a private key that isn't tracked as an address, such as
// an identity authentication key.  The manager must be unlocked.
func (m *Manager) DeriveKey(purpose Purpose, major,
	minor uint32) (*btcec.PrivateKey, error) {

	path, err := PathFor(purpose, m.params.HDCoinType, major, minor)
	if err != nil {
		return nil, err
	}

	m.mtx.RLock()
	defer m.mtx.RUnlock()

	if m.root == nil {
		return nil, managerError(ErrLocked, errLocked, nil)
	}
	return privKeyAt(m.root, path)
}
