// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finality

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/dashevo/dashcw/dashwire"
)

// Proof is an asset lock proof.  It is either an *InstantProof or a
// *ChainProof.
type Proof interface {
	// LockedOutPoint is the asset lock output the proof makes spendable
	// on platform.
	LockedOutPoint() wire.OutPoint

	// IdentityID is the identifier of an identity registered with the
	// proof.
	IdentityID() chainhash.Hash

	// String summarizes the proof for logging.
	String() string

	isProof()
}

// InstantProof proves an asset lock with the instant lock that a quorum
// signed for it.
type InstantProof struct {
	InstantLock *dashwire.InstantLock
	Tx          *dashwire.MsgTx
	OutputIndex uint32
}

// LockedOutPoint implements Proof.
func (p *InstantProof) LockedOutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: p.Tx.TxHash(), Index: p.OutputIndex}
}

// IdentityID implements Proof.
func (p *InstantProof) IdentityID() chainhash.Hash {
	op := p.LockedOutPoint()
	return dashwire.OutPointHash(&op)
}

// String implements Proof.
func (p *InstantProof) String() string {
	return fmt.Sprintf("instant(%v)", p.LockedOutPoint())
}

func (*InstantProof) isProof() {}

// ChainProof proves an asset lock by a chain locked height at or above the
// block that mined it.
type ChainProof struct {
	Height   uint32
	OutPoint wire.OutPoint
}

// LockedOutPoint implements Proof.
func (p *ChainProof) LockedOutPoint() wire.OutPoint {
	return p.OutPoint
}

// IdentityID implements Proof.
func (p *ChainProof) IdentityID() chainhash.Hash {
	return dashwire.OutPointHash(&p.OutPoint)
}

// String implements Proof.
func (p *ChainProof) String() string {
	return fmt.Sprintf("chain(%v@%d)", p.OutPoint, p.Height)
}

func (*ChainProof) isProof() {}

// sameProof reports whether two proofs can both be valid for one asset
// lock.  Proofs of different outputs, or instant locks with different
// signatures, conflict.
func sameProof(a, b Proof) bool {
	if a.LockedOutPoint() != b.LockedOutPoint() {
		return false
	}

	ai, ok := a.(*InstantProof)
	if !ok {
		return true
	}
	bi, ok := b.(*InstantProof)
	if !ok {
		return true
	}
	return ai.InstantLock.Signature == bi.InstantLock.Signature
}
