// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/dashevo/dashcw/chain"
	"github.com/dashevo/dashcw/finality"
	"github.com/dashevo/dashcw/wallet"
	"golang.org/x/sync/errgroup"
)

var cfg *config

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Work around defer not working after os.Exit.
	if err := walletMain(); err != nil {
		os.Exit(1)
	}
}

// walletMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func walletMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	ctx := interruptContext()

	// The client doesn't connect before Start, so it is created early to
	// be handed to the wallets.
	rpcc, err := chain.NewRPCClient(&chain.RPCConfig{
		ChainParams: activeNet.Params,
		Host:        cfg.RPCConnect,
		User:        cfg.RPCUser,
		Pass:        cfg.RPCPass,
		DisableTLS:  true,
	})
	if err != nil {
		log.Errorf("Cannot create dashd RPC client: %v", err)
		return err
	}
	defer rpcc.Stop()

	walletCfg := cfg.walletConfig()
	walletCfg.Chain = rpcc
	registry := wallet.NewRegistry(
		walletCfg, cfg.netDir(), false, wallet.DefaultDBTimeout,
	)
	if err := registry.Open(); err != nil {
		log.Errorf("Unable to open wallet database: %v", err)
		return err
	}
	defer registry.Close()

	if cfg.Create {
		if err := createWallet(registry, cfg); err != nil {
			fmt.Fprintln(os.Stderr, "Unable to create wallet:", err)
			return err
		}
		return nil
	}

	w, err := openWallet(registry, cfg)
	if err != nil {
		log.Errorf("Unable to open wallet: %v", err)
		return err
	}

	if err := rpcc.Start(ctx); err != nil {
		log.Errorf("Unable to connect to dashd: %v", err)
		return err
	}
	if err := syncWallet(ctx, w); err != nil {
		log.Errorf("Unable to sync wallet: %v", err)
		return err
	}

	zmq := chain.NewZMQSubscriber(chain.ZMQConfig{
		TxHost:          cfg.ZMQTx,
		InstantLockHost: cfg.ZMQLock,
		ChainLockHost:   cfg.ZMQChainLock,
	})
	if err := zmq.Start(); err != nil {
		log.Errorf("Unable to subscribe to dashd: %v", err)
		return err
	}
	defer zmq.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return handleNotifications(gctx, registry, zmq)
	})
	if cfg.Fund.Amount > 0 {
		g.Go(func() error {
			// The daemon exits once the asset lock is final.
			defer simulateInterrupt()
			return fundIdentity(gctx, w)
		})
	}

	err = g.Wait()
	log.Info("Shutdown complete")
	return err
}

// syncWallet loads the unspent outputs and balances of the wallet from the
// node and reports asset locks still waiting for their proof.
func syncWallet(ctx context.Context, w *wallet.Wallet) error {
	if err := w.ReloadUtxos(ctx); err != nil {
		return err
	}
	if err := w.RefreshBalances(ctx); err != nil {
		return err
	}
	log.Infof("Wallet balance: %v spendable, %v received", w.Balance(),
		w.ReceivedBalance())

	locks, err := w.AssetLocks()
	if err != nil {
		return err
	}
	for _, lock := range locks {
		if lock.Proof == nil {
			log.Infof("Asset lock %v for %v is waiting for its proof",
				lock.TxID, lock.Target)
		}
	}
	return nil
}

// handleNotifications applies the subscriber's notifications to the loaded
// wallets until ctx is done.
func handleNotifications(ctx context.Context, r *wallet.Registry,
	zmq *chain.ZMQSubscriber) error {

	for {
		select {
		case n := <-zmq.Notifications():
			if err := r.HandleNotification(ctx, n); err != nil {
				log.Errorf("Unable to handle %T: %v", n, err)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// fundIdentity funds the identity selected by the options and prints what
// the platform needs to use the asset lock.
func fundIdentity(ctx context.Context, w *wallet.Wallet) error {
	target := cfg.fundingTarget()
	log.Infof("Funding %v with %v", target, cfg.Fund.Amount)

	funded, err := w.FundIdentity(ctx, wallet.FundWithWallet{
		Amount: cfg.Fund.Amount,
		Target: target,
	})
	switch {
	case errors.Is(err, finality.ErrTimeout):
		log.Warnf("%v -- the asset lock is kept and its proof "+
			"recorded once it is final", err)
		return err

	case err != nil:
		log.Errorf("Unable to fund %v: %v", target, err)
		return err
	}

	proof, err := finality.ProofBytes(funded.Proof)
	if err != nil {
		return err
	}
	wif, err := btcutil.NewWIF(funded.OneTimeKey, activeNet.Params, true)
	if err != nil {
		return err
	}
	id := funded.IdentityID()

	fmt.Printf("Asset lock:   %v\n", funded.Tx.TxHash())
	fmt.Printf("Amount:       %v\n", funded.Amount)
	fmt.Printf("Identity:     %s\n", base58.Encode(id[:]))
	fmt.Printf("Proof:        %v\n", funded.Proof)
	fmt.Printf("Proof bytes:  %x\n", proof)
	fmt.Printf("One-time key: %s\n", wif)
	return nil
}
