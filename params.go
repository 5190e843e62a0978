// Copyright (c) 2013-2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import "github.com/dashevo/dashcw/netparams"

// activeNet is the network selected by the --testnet and --regtest
// options.
var activeNet = &netparams.MainNetParams
