// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txauthor authors and signs asset lock transactions.
//
// An asset lock spends ordinary wallet outputs into two places.  A burn
// output (OP_RETURN) carries the locked amount so the lock is publicly
// auditable, while the asset lock payload carries the credit output that
// platform later consumes.  The credit output pays the hash of a one-time
// key whose private half proves ownership of the lock on platform.
package txauthor

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/dashevo/dashcw/dashwire"
	"github.com/dashevo/dashcw/wtxmgr"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// CoinSource selects wallet outputs to fund a target amount.
type CoinSource interface {
	SelectFor(amount btcutil.Amount,
		opts ...wtxmgr.SelectOption) fn.Option[wtxmgr.Selection]
}

// ChangeSource returns a fresh change address.  It is only called when the
// transaction has change.
type ChangeSource func() (btcutil.Address, error)

// SecretsSource provides the private keys that sign for wallet addresses.
type SecretsSource interface {
	PrivKey(addr btcutil.Address) (*btcec.PrivateKey, error)
}

// AssetLockRequest describes the asset lock to author.
type AssetLockRequest struct {
	// Amount is the number of duffs to lock as credits.
	Amount btcutil.Amount

	// OneTimeKey is the key whose hash the credit output pays.
	OneTimeKey *btcec.PrivateKey

	// Fee overrides wtxmgr.FixedFee when non-zero.
	Fee btcutil.Amount

	// AllowFeeFromAmount lets the fee be deducted from Amount when the
	// wallet can cover the amount but not the fee.
	AllowFeeFromAmount bool
}

// AuthoredAssetLock is a signed asset lock transaction and the data the
// wallet needs to track it.
type AuthoredAssetLock struct {
	// Tx is the signed transaction.
	Tx *dashwire.MsgTx

	// OneTimeKey is the key that owns the credit output.  Platform
	// requires a signature from it to spend the lock.
	OneTimeKey *btcec.PrivateKey

	// Inputs are the spent outputs, in input order.
	Inputs []*wtxmgr.Utxo

	// ChangeAddress receives the change output, or is nil when there is
	// none.
	ChangeAddress btcutil.Address

	// ChangeIndex is the output index of the change output, or -1.
	ChangeIndex int

	// Amount is the locked amount.  It is lower than the requested
	// amount when the fee was taken from it.
	Amount btcutil.Amount

	// Fee is the fee paid, including any change too small to relay.
	Fee btcutil.Amount

	// TotalInput is the sum of the input values.
	TotalInput btcutil.Amount
}

// OutPoints returns the outpoints of the spent outputs.
func (a *AuthoredAssetLock) OutPoints() []wire.OutPoint {
	ops := make([]wire.OutPoint, len(a.Inputs))
	for i, u := range a.Inputs {
		ops[i] = u.OutPoint
	}
	return ops
}

// CreditScript returns the pay-to-pubkey-hash script of the one-time key.
func CreditScript(oneTimeKey *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(oneTimeKey.SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// NewAssetLock selects outputs, builds the burn, change and credit outputs,
// and signs every input.
//
// It returns an InsufficientFundsError when the coins can't cover the
// amount and fee, and a MissingKeyError when secrets has no key for a
// selected output.
func NewAssetLock(req *AssetLockRequest, coins CoinSource,
	change ChangeSource, secrets SecretsSource) (*AuthoredAssetLock, error) {

	fee := req.Fee
	if fee == 0 {
		fee = wtxmgr.FixedFee
	}

	opts := []wtxmgr.SelectOption{wtxmgr.WithFee(fee)}
	if req.AllowFeeFromAmount {
		opts = append(opts, wtxmgr.WithFeeFromAmount())
	}
	sel, err := coins.SelectFor(req.Amount, opts...).UnwrapOrErr(
		&InsufficientFundsError{Amount: req.Amount, Fee: fee},
	)
	if err != nil {
		return nil, err
	}

	tx, err := newAssetLockTx(req.OneTimeKey, sel.Amount)
	if err != nil {
		return nil, err
	}

	authored := &AuthoredAssetLock{
		Tx:          tx,
		OneTimeKey:  req.OneTimeKey,
		Inputs:      sel.Utxos,
		ChangeIndex: -1,
		Amount:      sel.Amount,
		Fee:         sel.Fee,
		TotalInput:  sel.Total,
	}
	for _, u := range sel.Utxos {
		tx.AddTxIn(wire.NewTxIn(&u.OutPoint, nil, nil))
	}

	if sel.Change > 0 {
		addr, err := change()
		if err != nil {
			return nil, fmt.Errorf("unable to derive change "+
				"address: %w", err)
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}
		changeOut := wire.NewTxOut(int64(sel.Change), script)
		if txrules.IsDustOutput(changeOut, txrules.DefaultRelayFeePerKb) {
			log.Debugf("Adding dust change %v to fee", sel.Change)
			authored.Fee += sel.Change
		} else {
			tx.AddTxOut(changeOut)
			authored.ChangeAddress = addr
			authored.ChangeIndex = len(tx.TxOut) - 1
		}
	}

	checkRelayFee(tx, authored.Fee)

	if err := signInputs(tx, sel.Utxos, secrets); err != nil {
		return nil, err
	}
	if err := checkBalance(authored); err != nil {
		return nil, err
	}
	return authored, nil
}

// NewAssetLockFromUtxo spends a single output entirely into an asset lock.
// The locked amount is the output value minus the fee and there is no
// change.
func NewAssetLockFromUtxo(utxo *wtxmgr.Utxo, oneTimeKey *btcec.PrivateKey,
	fee btcutil.Amount, secrets SecretsSource) (*AuthoredAssetLock, error) {

	if fee == 0 {
		fee = wtxmgr.FixedFee
	}
	if utxo.Value <= fee {
		return nil, &InsufficientFundsError{Amount: utxo.Value, Fee: fee}
	}
	amount := utxo.Value - fee

	tx, err := newAssetLockTx(oneTimeKey, amount)
	if err != nil {
		return nil, err
	}
	tx.AddTxIn(wire.NewTxIn(&utxo.OutPoint, nil, nil))

	inputs := []*wtxmgr.Utxo{utxo}
	if err := signInputs(tx, inputs, secrets); err != nil {
		return nil, err
	}

	authored := &AuthoredAssetLock{
		Tx:          tx,
		OneTimeKey:  oneTimeKey,
		Inputs:      inputs,
		ChangeIndex: -1,
		Amount:      amount,
		Fee:         fee,
		TotalInput:  utxo.Value,
	}
	if err := checkBalance(authored); err != nil {
		return nil, err
	}
	return authored, nil
}

// newAssetLockTx returns an input-less asset lock with its burn output and
// payload set.
func newAssetLockTx(oneTimeKey *btcec.PrivateKey,
	amount btcutil.Amount) (*dashwire.MsgTx, error) {

	burnScript, err := txscript.NullDataScript(nil)
	if err != nil {
		return nil, err
	}
	creditScript, err := CreditScript(oneTimeKey.PubKey())
	if err != nil {
		return nil, err
	}

	tx := dashwire.NewMsgTx(dashwire.TxTypeAssetLock)
	tx.AddTxOut(wire.NewTxOut(int64(amount), burnScript))

	payload := dashwire.NewAssetLockPayload(
		wire.NewTxOut(int64(amount), creditScript),
	)
	if err := tx.SetAssetLockPayload(payload); err != nil {
		return nil, err
	}
	return tx, nil
}

// signInputs signs input i with the key of inputs[i].Address.  The
// transaction must be complete since every signature commits to all inputs,
// outputs and the payload.
func signInputs(tx *dashwire.MsgTx, inputs []*wtxmgr.Utxo,
	secrets SecretsSource) error {

	sigScripts := make([][]byte, len(inputs))
	for i, u := range inputs {
		key, err := secrets.PrivKey(u.Address)
		if err != nil {
			return &MissingKeyError{
				OutPoint: u.OutPoint,
				Address:  u.Address,
				Err:      err,
			}
		}

		sigScript, err := SignatureScript(tx, i, u.PkScript, key)
		key.Zero()
		if err != nil {
			return err
		}
		sigScripts[i] = sigScript
	}

	for i, sigScript := range sigScripts {
		tx.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

// SignatureScript returns the pay-to-pubkey-hash signature script spending
// input idx: the DER signature with the SigHashAll byte followed by the
// compressed public key.
func SignatureScript(tx *dashwire.MsgTx, idx int, prevScript []byte,
	key *btcec.PrivateKey) ([]byte, error) {

	hash, err := dashwire.CalcSignatureHash(
		prevScript, txscript.SigHashAll, tx, idx,
	)
	if err != nil {
		return nil, err
	}

	sig := ecdsa.Sign(key, hash[:]).Serialize()
	sig = append(sig, byte(txscript.SigHashAll))

	return txscript.NewScriptBuilder().
		AddData(sig).
		AddData(key.PubKey().SerializeCompressed()).
		Script()
}

// checkRelayFee logs when the fixed fee is below the minimum relay fee for
// the transaction size.  Such a transaction is unlikely to be relayed.
func checkRelayFee(tx *dashwire.MsgTx, fee btcutil.Amount) {
	size := len(tx.TxIn)*txsizes.RedeemP2PKHInputSize +
		txsizes.SumOutputSerializeSizes(tx.TxOut) + len(tx.Payload) + 16
	minFee := txrules.FeeForSerializeSize(txrules.DefaultRelayFeePerKb, size)
	if fee < minFee {
		log.Warnf("Fee %v is below the relay fee %v for an estimated "+
			"%d byte transaction", fee, minFee, size)
	}
}

// checkBalance asserts the value invariants of an authored asset lock.
func checkBalance(a *AuthoredAssetLock) error {
	var outputs btcutil.Amount
	for _, out := range a.Tx.TxOut {
		outputs += btcutil.Amount(out.Value)
	}

	payload, err := a.Tx.AssetLockPayload()
	if err != nil {
		return err
	}

	switch {
	case a.TotalInput != outputs+a.Fee:
		return fmt.Errorf("%w: inputs %v != outputs %v + fee %v",
			ErrInvariantViolation, a.TotalInput, outputs, a.Fee)

	case payload.CreditAmount() != a.Amount:
		return fmt.Errorf("%w: credit %v != amount %v",
			ErrInvariantViolation, payload.CreditAmount(), a.Amount)

	case a.Tx.TxOut[0].Value != int64(a.Amount):
		return fmt.Errorf("%w: burn %v != amount %v",
			ErrInvariantViolation, a.Tx.TxOut[0].Value, a.Amount)
	}
	return nil
}
