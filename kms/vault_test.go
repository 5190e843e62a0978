// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kms

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var namespaceKey = []byte("kms")

func setupDB(t *testing.T) walletdb.DB {
	t.Helper()

	db, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "kms.db"), true,
		10*time.Second, false,
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		_, err := tx.CreateTopLevelBucket(namespaceKey)
		return err
	})
	require.NoError(t, err)
	return db
}

func update(t *testing.T, db walletdb.DB,
	f func(ns walletdb.ReadWriteBucket) error) error {

	t.Helper()
	return walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return f(tx.ReadWriteBucket(namespaceKey))
	})
}

func view(t *testing.T, db walletdb.DB,
	f func(ns walletdb.ReadBucket) error) error {

	t.Helper()
	return walletdb.View(db, func(tx walletdb.ReadTx) error {
		return f(tx.ReadBucket(namespaceKey))
	})
}

func createVault(t *testing.T, db walletdb.DB, clk clock.Clock,
	user, password string) *Vault {

	t.Helper()

	err := update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return CreateVault(ns, user, []byte(password), clk)
	})
	require.NoError(t, err)

	var v *Vault
	err = view(t, db, func(ns walletdb.ReadBucket) error {
		var err error
		v, err = OpenVault(ns, clk)
		return err
	})
	require.NoError(t, err)
	require.True(t, v.IsLocked())
	return v
}

func (v *Vault) unlock(t *testing.T, db walletdb.DB, user,
	password string) error {

	t.Helper()
	return view(t, db, func(ns walletdb.ReadBucket) error {
		return v.Unlock(ns, user, []byte(password))
	})
}

func TestVaultUnlock(t *testing.T) {
	t.Parallel()

	db := setupDB(t)
	clk := clock.NewTestClock(time.Unix(1700000000, 0))
	v := createVault(t, db, clk, "user123", "securepassword")
	require.True(t, v.UsesPassword())

	// Records need an unlocked vault.
	secret, err := NewSecret([]byte("private key"))
	require.NoError(t, err)
	err = update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return v.Put(ns, "key/0", secret)
	})
	require.ErrorIs(t, err, ErrLocked)

	require.ErrorIs(t, v.unlock(t, db, "user123", "wrong"),
		ErrInvalidCredentials)
	require.ErrorIs(t, v.unlock(t, db, "nobody", "securepassword"),
		ErrInvalidCredentials)
	require.ErrorIs(t, v.unlock(t, db, "user123", ""),
		ErrInvalidCredentials)
	require.True(t, v.IsLocked())

	require.NoError(t, v.unlock(t, db, "user123", "securepassword"))
	require.False(t, v.IsLocked())

	err = update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return v.Put(ns, "key/0", secret)
	})
	require.NoError(t, err)

	v.Lock()
	require.True(t, v.IsLocked())

	// Unlocking now also checks the stored record.
	require.NoError(t, v.unlock(t, db, "user123", "securepassword"))
	err = view(t, db, func(ns walletdb.ReadBucket) error {
		got, err := v.Get(ns, "key/0")
		if err != nil {
			return err
		}
		require.Equal(t, []byte("private key"), got.Bytes())

		_, err = v.Get(ns, "key/1")
		require.ErrorIs(t, err, ErrNotFound)

		names, err := v.Names(ns)
		require.Equal(t, []string{"key/0"}, names)
		return err
	})
	require.NoError(t, err)

	err = update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return v.Delete(ns, "key/0")
	})
	require.NoError(t, err)
}

func TestVaultCreateTwice(t *testing.T) {
	t.Parallel()

	db := setupDB(t)
	clk := clock.NewDefaultClock()
	createVault(t, db, clk, "a", "pw")

	err := update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return CreateVault(ns, "b", []byte("pw"), clk)
	})
	require.ErrorIs(t, err, ErrAlreadyExists)

	err = view(t, setupDB(t), func(ns walletdb.ReadBucket) error {
		_, err := OpenVault(ns, clk)
		return err
	})
	require.ErrorIs(t, err, ErrNoVault)
}

// TestVaultWithoutPassword checks that only vaults created without a
// password accept an empty one.
func TestVaultWithoutPassword(t *testing.T) {
	t.Parallel()

	db := setupDB(t)
	v := createVault(t, db, clock.NewDefaultClock(), "local", "")
	require.False(t, v.UsesPassword())

	require.ErrorIs(t, v.unlock(t, db, "local", "guess"),
		ErrInvalidCredentials)
	require.NoError(t, v.unlock(t, db, "local", ""))
}

func TestVaultUsers(t *testing.T) {
	t.Parallel()

	db := setupDB(t)
	clk := clock.NewTestClock(time.Unix(1700000000, 0))
	v := createVault(t, db, clk, "alice", "pw-a")
	require.NoError(t, v.unlock(t, db, "alice", "pw-a"))

	secret, err := NewSecret([]byte("shared"))
	require.NoError(t, err)

	clk.SetTime(time.Unix(1700000100, 0))
	err = update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := v.Put(ns, "shared", secret); err != nil {
			return err
		}
		if err := v.AddUser(ns, "bob", []byte("pw-b")); err != nil {
			return err
		}
		err := v.AddUser(ns, "bob", []byte("pw-b"))
		require.ErrorIs(t, err, ErrAlreadyExists)

		err = v.AddUser(ns, "carol", nil)
		require.ErrorIs(t, err, ErrInvalidCredentials)
		return nil
	})
	require.NoError(t, err)

	err = view(t, db, func(ns walletdb.ReadBucket) error {
		users, err := v.ListUsers(ns)
		require.Equal(t, []UserInfo{
			{ID: "alice", Created: time.Unix(1700000000, 0)},
			{ID: "bob", Created: time.Unix(1700000100, 0)},
		}, users)
		return err
	})
	require.NoError(t, err)

	// Bob reads the record alice stored.
	v.Lock()
	require.NoError(t, v.unlock(t, db, "bob", "pw-b"))
	err = view(t, db, func(ns walletdb.ReadBucket) error {
		got, err := v.Get(ns, "shared")
		require.NoError(t, err)
		require.Equal(t, []byte("shared"), got.Bytes())
		return nil
	})
	require.NoError(t, err)

	err = update(t, db, func(ns walletdb.ReadWriteBucket) error {
		err := v.ChangePassword(ns, "bob", []byte("bad"), []byte("x"))
		require.ErrorIs(t, err, ErrInvalidCredentials)

		return v.ChangePassword(ns, "bob", []byte("pw-b"),
			[]byte("pw-b2"))
	})
	require.NoError(t, err)

	v.Lock()
	require.ErrorIs(t, v.unlock(t, db, "bob", "pw-b"),
		ErrInvalidCredentials)
	require.NoError(t, v.unlock(t, db, "bob", "pw-b2"))

	err = update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := v.RemoveUser(ns, "alice"); err != nil {
			return err
		}
		require.ErrorIs(t, v.RemoveUser(ns, "alice"), ErrNotFound)
		require.ErrorIs(t, v.RemoveUser(ns, "bob"), ErrLastUser)
		return nil
	})
	require.NoError(t, err)

	v.Lock()
	require.ErrorIs(t, v.unlock(t, db, "alice", "pw-a"),
		ErrInvalidCredentials)
}

func TestWalletRecord(t *testing.T) {
	t.Parallel()

	db := setupDB(t)
	seed := make([]byte, 64)
	for i := range seed {
		seed[i] = byte(i)
	}

	rec := &WalletRecord{
		MasterXPub:   "tpubtest",
		Alias:        "main",
		PasswordHint: "the usual",
		IsMain:       true,
		Network:      "testnet",
		Created:      time.Unix(1700000000, 0),
	}
	require.NoError(t, SealSeed(rec, seed, []byte("pw")))
	require.True(t, rec.UsesPassword)
	require.Equal(t, SeedHash(seed), rec.SeedHash)

	err := update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return PutWallet(ns, rec)
	})
	require.NoError(t, err)

	var stored *WalletRecord
	err = view(t, db, func(ns walletdb.ReadBucket) error {
		var err error
		stored, err = FetchWallet(ns, rec.SeedHash)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, rec, stored)

	_, err = stored.OpenSeed([]byte("wrong"))
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = stored.OpenSeed(nil)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	got, err := stored.OpenSeed([]byte("pw"))
	require.NoError(t, err)
	require.Equal(t, seed, got.Bytes())

	var count int
	err = view(t, db, func(ns walletdb.ReadBucket) error {
		return ForEachWallet(ns, func(*WalletRecord) error {
			count++
			return nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)

	err = update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return DeleteWallet(ns, rec.SeedHash)
	})
	require.NoError(t, err)
	err = view(t, db, func(ns walletdb.ReadBucket) error {
		_, err := FetchWallet(ns, rec.SeedHash)
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
}
