// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package finality tracks broadcast asset lock transactions until an
// instant lock or chain lock makes them redeemable, and hands out the
// resulting proofs.
package finality

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultDeepConfirmations is the number of confirmations after
	// which a chain locked transaction is proven by its chain lock even
	// when an instant lock arrives.
	DefaultDeepConfirmations = 8

	// DefaultPollInterval is the interval of AwaitProofPolling.
	DefaultPollInterval = 200 * time.Millisecond

	// DefaultQueryTimeout bounds a single transaction info query.
	DefaultQueryTimeout = 10 * time.Second
)

var (
	// ErrTimeout is returned when no proof arrives before the await
	// timeout.  The transaction stays registered, so the caller may
	// wait again.
	ErrTimeout = errors.New("timed out waiting for asset lock proof")

	// ErrNotRegistered is returned when awaiting a transaction that was
	// never registered or has been forgotten.
	ErrNotRegistered = errors.New("transaction is not registered")
)

// TxInfo is the chain state of a transaction.
type TxInfo struct {
	// Height is the height of the block that mined the transaction, or
	// 0 while it is in the mempool.
	Height uint32

	// Confirmations is the depth of the transaction in the chain.
	Confirmations uint32

	// ChainLock is set when the mining block is covered by a chain lock.
	ChainLock bool

	// InstantLock is set when the transaction is instant locked.
	InstantLock bool
}

// TxInfoSource looks up the chain state of transactions.
type TxInfoSource interface {
	TxInfo(ctx context.Context, txid *chainhash.Hash) (*TxInfo, error)
}

// Config holds the tracker parameters.  Zero values are replaced by
// defaults.
type Config struct {
	// DeepConfirmations is the depth above which a chain lock is
	// preferred over an instant lock.
	DeepConfirmations uint32

	// TxInfo is queried to check chain lock coverage.  Without it only
	// instant locks resolve entries.
	TxInfo TxInfoSource

	// Clock times out awaits.
	Clock clock.Clock

	// PollInterval is the interval of AwaitProofPolling.
	PollInterval time.Duration

	// NewTicker creates the polling ticker.
	NewTicker func(time.Duration) ticker.Ticker

	// QueryTimeout bounds each TxInfo query.
	QueryTimeout time.Duration
}

type pending struct {
	proof fn.Option[Proof]

	// done is closed once proof is set or the entry is forgotten.
	done chan struct{}
}

func newPending() *pending {
	return &pending{
		proof: fn.None[Proof](),
		done:  make(chan struct{}),
	}
}

// Tracker holds the asset lock transactions that await finality.  Entries
// move from unresolved to resolved exactly once and are only removed by
// Forget.
type Tracker struct {
	cfg Config

	mtx     sync.Mutex
	entries map[chainhash.Hash]*pending
}

// New returns a tracker with no entries.
func New(cfg Config) *Tracker {
	if cfg.DeepConfirmations == 0 {
		cfg.DeepConfirmations = DefaultDeepConfirmations
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = func(d time.Duration) ticker.Ticker {
			return ticker.New(d)
		}
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	return &Tracker{
		cfg:     cfg,
		entries: make(map[chainhash.Hash]*pending),
	}
}

// Register starts tracking txid.  It must be called before the transaction
// is broadcast so that no finality event can be missed.  Registering a
// tracked transaction does nothing.
func (t *Tracker) Register(txid chainhash.Hash) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if _, ok := t.entries[txid]; ok {
		return
	}
	t.entries[txid] = newPending()

	log.Debugf("Tracking asset lock %v", txid)
}

// IsRegistered returns whether txid is tracked.
func (t *Tracker) IsRegistered(txid chainhash.Hash) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	_, ok := t.entries[txid]
	return ok
}

// Proof returns the proof of txid if it is resolved.
func (t *Tracker) Proof(txid chainhash.Hash) fn.Option[Proof] {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	e, ok := t.entries[txid]
	if !ok {
		return fn.None[Proof]()
	}
	return e.proof
}

// Pending returns the unresolved transactions.
func (t *Tracker) Pending() []chainhash.Hash {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	var txids []chainhash.Hash
	for txid, e := range t.entries {
		if e.proof.IsNone() {
			txids = append(txids, txid)
		}
	}
	return txids
}

// unresolved returns whether txid is tracked and still lacks a proof.
func (t *Tracker) unresolved(txid chainhash.Hash) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	e, ok := t.entries[txid]
	return ok && e.proof.IsNone()
}

// resolve sets the proof of txid unless it is already set.  It returns
// whether the proof was set.
func (t *Tracker) resolve(txid chainhash.Hash, proof Proof) bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	e, ok := t.entries[txid]
	if !ok {
		return false
	}

	if e.proof.IsSome() {
		existing := e.proof.UnsafeFromSome()
		if !sameProof(existing, proof) {
			log.Warnf("Ignoring conflicting proof %v for asset lock "+
				"%v already proven by %v", proof, txid, existing)
		}
		return false
	}

	e.proof = fn.Some(proof)
	close(e.done)

	log.Infof("Asset lock %v finalized by %v", txid, proof)
	return true
}

// txInfo queries the chain state of txid without holding the tracker lock.
func (t *Tracker) txInfo(ctx context.Context,
	txid chainhash.Hash) (*TxInfo, error) {

	ctx, cancel := context.WithTimeout(ctx, t.cfg.QueryTimeout)
	defer cancel()

	return t.cfg.TxInfo.TxInfo(ctx, &txid)
}

// OnInstantLock resolves txid with the instant lock of tx.  When the
// transaction is already chain locked deeper than DeepConfirmations the
// entry is resolved with a chain proof instead.  It returns whether the
// entry was resolved by this call.
func (t *Tracker) OnInstantLock(ctx context.Context, txid chainhash.Hash,
	islock *dashwire.InstantLock, tx *dashwire.MsgTx) bool {

	if islock.TxID != txid || tx.TxHash() != txid {
		log.Warnf("Ignoring instant lock for %v delivered as %v",
			islock.TxID, txid)
		return false
	}
	if !t.unresolved(txid) {
		// Report conflicting evidence for resolved entries.
		return t.resolve(txid, &InstantProof{
			InstantLock: islock, Tx: tx,
		})
	}

	if t.cfg.TxInfo != nil {
		info, err := t.txInfo(ctx, txid)
		switch {
		case err != nil:
			log.Debugf("Unable to query %v, using instant lock: %v",
				txid, err)

		case info.ChainLock &&
			info.Confirmations > t.cfg.DeepConfirmations:

			return t.resolve(txid, &ChainProof{
				Height:   info.Height,
				OutPoint: wire.OutPoint{Hash: txid},
			})
		}
	}

	return t.resolve(txid, &InstantProof{
		InstantLock: islock,
		Tx:          tx,
		OutputIndex: 0,
	})
}

// OnChainAdvance resolves txid with a chain proof at height once the
// transaction is mined at or below height and chain locked.  It returns
// whether the entry was resolved by this call.
func (t *Tracker) OnChainAdvance(ctx context.Context, txid chainhash.Hash,
	height uint32) bool {

	if !t.unresolved(txid) || t.cfg.TxInfo == nil {
		return false
	}

	info, err := t.txInfo(ctx, txid)
	if err != nil {
		log.Debugf("Unable to query %v at chain lock height %d: %v",
			txid, height, err)
		return false
	}
	if !info.ChainLock || info.Height == 0 || info.Height > height {
		return false
	}

	return t.resolve(txid, &ChainProof{
		Height:   height,
		OutPoint: wire.OutPoint{Hash: txid},
	})
}

// OnChainLock calls OnChainAdvance for every unresolved entry.  It returns
// the number of entries it resolved.
func (t *Tracker) OnChainLock(ctx context.Context, height uint32) int {
	var n int
	for _, txid := range t.Pending() {
		if t.OnChainAdvance(ctx, txid, height) {
			n++
		}
	}
	return n
}

// Invalidate drops the proof of txid after its transaction was double
// spent.  The entry stays registered and may be resolved again.
func (t *Tracker) Invalidate(txid chainhash.Hash) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	e, ok := t.entries[txid]
	if !ok || e.proof.IsNone() {
		return
	}

	log.Warnf("Invalidating proof %v of asset lock %v",
		e.proof.UnsafeFromSome(), txid)
	t.entries[txid] = newPending()
}

// Forget stops tracking txid.  Waiters return ErrNotRegistered.
func (t *Tracker) Forget(txid chainhash.Hash) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	e, ok := t.entries[txid]
	if !ok {
		return
	}
	if e.proof.IsNone() {
		close(e.done)
	}
	delete(t.entries, txid)
}

// lookup returns the proof of txid, or the done channel to wait on.
func (t *Tracker) lookup(txid chainhash.Hash) (Proof, <-chan struct{},
	error) {

	t.mtx.Lock()
	defer t.mtx.Unlock()

	e, ok := t.entries[txid]
	if !ok {
		return nil, nil, ErrNotRegistered
	}
	if e.proof.IsSome() {
		return e.proof.UnsafeFromSome(), nil, nil
	}
	return nil, e.done, nil
}

// AwaitProof blocks until txid is resolved, the timeout passes or ctx is
// done.  Returning early never unregisters txid.
func (t *Tracker) AwaitProof(ctx context.Context, txid chainhash.Hash,
	timeout time.Duration) (Proof, error) {

	deadline := t.cfg.Clock.TickAfter(timeout)
	for {
		proof, done, err := t.lookup(txid)
		if err != nil || proof != nil {
			return proof, err
		}

		select {
		case <-done:
		case <-deadline:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// AwaitProofPolling is AwaitProof checking the entry every PollInterval
// instead of waiting for its resolution.
func (t *Tracker) AwaitProofPolling(ctx context.Context, txid chainhash.Hash,
	timeout time.Duration) (Proof, error) {

	poll := t.cfg.NewTicker(t.cfg.PollInterval)
	poll.Resume()
	defer poll.Stop()

	deadline := t.cfg.Clock.TickAfter(timeout)
	for {
		proof, _, err := t.lookup(txid)
		if err != nil || proof != nil {
			return proof, err
		}

		select {
		case <-poll.Ticks():
		case <-deadline:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
