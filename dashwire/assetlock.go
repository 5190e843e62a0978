// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dashwire

import (
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// AssetLockPayloadVersion is the only asset lock payload version.
const AssetLockPayloadVersion = 1

// maxCreditOutputs bounds the credit output count read from the wire so a
// corrupt payload can't force a huge allocation.
const maxCreditOutputs = 1000

// AssetLockPayload is the extra payload of an asset lock transaction.  Its
// credit outputs are spendable on platform, not on the core chain.
type AssetLockPayload struct {
	Version       uint8
	CreditOutputs []*wire.TxOut
}

// NewAssetLockPayload returns a payload with the current version and the
// given credit outputs.
func NewAssetLockPayload(outputs ...*wire.TxOut) *AssetLockPayload {
	return &AssetLockPayload{
		Version:       AssetLockPayloadVersion,
		CreditOutputs: outputs,
	}
}

// CreditAmount returns the sum of the credit outputs.
func (p *AssetLockPayload) CreditAmount() btcutil.Amount {
	var total btcutil.Amount
	for _, out := range p.CreditOutputs {
		total += btcutil.Amount(out.Value)
	}
	return total
}

// Serialize writes the payload to w.
func (p *AssetLockPayload) Serialize(w io.Writer) error {
	if _, err := w.Write([]byte{p.Version}); err != nil {
		return err
	}
	err := wire.WriteVarInt(w, 0, uint64(len(p.CreditOutputs)))
	if err != nil {
		return err
	}
	for _, out := range p.CreditOutputs {
		if err := wire.WriteTxOut(w, 0, 0, out); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize reads a payload from r.
func (p *AssetLockPayload) Deserialize(r io.Reader) error {
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return err
	}
	if version[0] != AssetLockPayloadVersion {
		return fmt.Errorf("unsupported asset lock payload version %d",
			version[0])
	}

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count == 0 {
		return errors.New("asset lock payload has no credit outputs")
	}
	if count > maxCreditOutputs {
		return fmt.Errorf("too many credit outputs: %d", count)
	}

	p.Version = version[0]
	p.CreditOutputs = make([]*wire.TxOut, count)
	for i := range p.CreditOutputs {
		var out wire.TxOut
		if err := wire.ReadTxOut(r, 0, 0, &out); err != nil {
			return err
		}
		p.CreditOutputs[i] = &out
	}
	return nil
}
