// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// DuffsPerDash is the number of duffs in one dash.
const DuffsPerDash = btcutil.SatoshiPerBitcoin

// AmountFlag embeds a btcutil.Amount denominated in duffs and implements the
// flags.Marshaler and Unmarshaler interfaces so it can be used as a config
// struct field.
//
// Values are parsed as an integer number of duffs unless they carry a
// " DASH" suffix, in which case they are parsed as a decimal number of dash.
type AmountFlag struct {
	btcutil.Amount
}

// NewAmountFlag creates an AmountFlag with a default btcutil.Amount.
func NewAmountFlag(defaultValue btcutil.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return strconv.FormatInt(int64(a.Amount), 10), nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSpace(value)
	if dash, ok := strings.CutSuffix(value, " DASH"); ok {
		valueF64, err := strconv.ParseFloat(dash, 64)
		if err != nil {
			return err
		}
		amount, err := btcutil.NewAmount(valueF64)
		if err != nil {
			return err
		}
		a.Amount = amount
		return nil
	}

	duffs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return err
	}
	if duffs < 0 {
		return fmt.Errorf("negative amount %d", duffs)
	}
	a.Amount = btcutil.Amount(duffs)
	return nil
}
