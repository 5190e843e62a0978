// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wtxmgr

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// FixedFee is the fee paid by every transaction the wallet authors.  Fees
// are not estimated.
const FixedFee btcutil.Amount = 3000

// Selection is a set of unspent outputs that funds a target amount.
//
// Total == Amount + Fee + Change always holds and Change is never negative.
type Selection struct {
	// Utxos are the selected outputs, largest first.
	Utxos []*Utxo

	// Total is the sum of the selected output values.
	Total btcutil.Amount

	// Amount is the amount funded.  It equals the requested amount
	// unless the fee was taken from it.
	Amount btcutil.Amount

	// Fee is the transaction fee.
	Fee btcutil.Amount

	// Change is what remains after the amount and fee.
	Change btcutil.Amount
}

type selectOptions struct {
	fee           btcutil.Amount
	feeFromAmount bool
}

// SelectOption modifies a selection.
type SelectOption func(*selectOptions)

// WithFee replaces FixedFee.
func WithFee(fee btcutil.Amount) SelectOption {
	return func(o *selectOptions) {
		o.fee = fee
	}
}

// WithFeeFromAmount allows the selection to succeed when the outputs cover
// the amount but not the fee.  The fee is then deducted from the amount and
// no change remains.
func WithFeeFromAmount() SelectOption {
	return func(o *selectOptions) {
		o.feeFromAmount = true
	}
}

// SelectFor picks unleased outputs covering amount plus the fee, largest
// value first with ties broken by outpoint so that equal ledgers always
// produce equal selections.  It returns None when all unleased outputs
// together don't cover the target, which callers report as insufficient
// funds.
func (s *Store) SelectFor(amount btcutil.Amount,
	opts ...SelectOption) fn.Option[Selection] {

	o := selectOptions{fee: FixedFee}
	for _, opt := range opts {
		opt(&o)
	}
	if amount <= 0 || o.fee < 0 {
		return fn.None[Selection]()
	}

	s.mtx.RLock()
	candidates := make([]*Utxo, 0, len(s.utxos))
	for op, u := range s.utxos {
		if _, ok := s.locked[op]; ok {
			continue
		}
		candidates = append(candidates, u.copy())
	}
	s.mtx.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Value != candidates[j].Value {
			return candidates[i].Value > candidates[j].Value
		}
		return lessOutPoint(
			&candidates[i].OutPoint, &candidates[j].OutPoint,
		)
	})

	target := amount + o.fee
	sel := Selection{Amount: amount, Fee: o.fee}
	for _, u := range candidates {
		if sel.Total >= target {
			break
		}
		sel.Utxos = append(sel.Utxos, u)
		sel.Total += u.Value
	}

	switch {
	case sel.Total >= target:
		sel.Change = sel.Total - target
		return fn.Some(sel)

	// Every output was taken and still only the amount is covered.
	case o.feeFromAmount && sel.Total >= amount && sel.Total > o.fee:
		sel.Amount = sel.Total - o.fee
		sel.Change = 0
		log.Debugf("Taking fee %v from amount %v, funding %v", o.fee,
			amount, sel.Amount)
		return fn.Some(sel)

	default:
		return fn.None[Selection]()
	}
}
