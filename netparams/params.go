// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// Dash network magic values as they appear on the wire.
const (
	MainNet wire.BitcoinNet = 0xbd6b0cbf
	TestNet wire.BitcoinNet = 0xffcae2ce
	RegTest wire.BitcoinNet = 0xdcb7c1fc
)

// BIP44 coin types registered for dash.  Every test network shares the
// testnet coin type.
const (
	MainNetCoinType = 5
	TestNetCoinType = 1
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params
	RPCClientPort string
}

// MainNetParams contains parameters specific to running dashcw against
// dashd on the main network.
var MainNetParams = Params{
	Params: &chaincfg.Params{
		Name:             "mainnet",
		Net:              MainNet,
		DefaultPort:      "9999",
		PubKeyHashAddrID: 0x4c,                            // starts with X
		ScriptHashAddrID: 0x10,                            // starts with 7
		PrivateKeyID:     0xcc,                            // starts with 7 or X
		HDPrivateKeyID:   [4]byte{0x04, 0x88, 0xad, 0xe4}, // xprv
		HDPublicKeyID:    [4]byte{0x04, 0x88, 0xb2, 0x1e}, // xpub
		HDCoinType:       MainNetCoinType,
	},
	RPCClientPort: "9998",
}

// TestNetParams contains parameters specific to running dashcw against
// dashd on the test network.
var TestNetParams = Params{
	Params: &chaincfg.Params{
		Name:             "testnet",
		Net:              TestNet,
		DefaultPort:      "19999",
		PubKeyHashAddrID: 0x8c,                            // starts with y
		ScriptHashAddrID: 0x13,                            // starts with 8 or 9
		PrivateKeyID:     0xef,                            // starts with 9 or c
		HDPrivateKeyID:   [4]byte{0x04, 0x35, 0x83, 0x94}, // tprv
		HDPublicKeyID:    [4]byte{0x04, 0x35, 0x87, 0xcf}, // tpub
		HDCoinType:       TestNetCoinType,
	},
	RPCClientPort: "19998",
}

// RegTestParams contains parameters specific to running dashcw against
// dashd in regression test mode.
var RegTestParams = Params{
	Params: &chaincfg.Params{
		Name:             "regtest",
		Net:              RegTest,
		DefaultPort:      "19899",
		PubKeyHashAddrID: 0x8c,
		ScriptHashAddrID: 0x13,
		PrivateKeyID:     0xef,
		HDPrivateKeyID:   [4]byte{0x04, 0x35, 0x83, 0x94},
		HDPublicKeyID:    [4]byte{0x04, 0x35, 0x87, 0xcf},
		HDCoinType:       TestNetCoinType,
	},
	RPCClientPort: "19898",
}

// ByName returns the parameters for the named network.  The second return
// value is false when the name is unknown.
func ByName(name string) (*Params, bool) {
	switch name {
	case MainNetParams.Name:
		return &MainNetParams, true
	case TestNetParams.Name:
		return &TestNetParams, true
	case RegTestParams.Name:
		return &RegTestParams, true
	default:
		return nil, false
	}
}
