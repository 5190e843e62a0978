// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kms

import (
	"crypto/rand"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/dashevo/dashcw/internal/zero"
	"github.com/lightningnetwork/lnd/clock"
)

// UserInfo describes a vault user.
type UserInfo struct {
	ID      string
	Created time.Time
}

// Vault stores named secrets sealed under a random master key.  Each user
// holds a copy of the master key sealed under a key derived from their id
// and password, so any user can unlock the vault and passwords can change
// without re-encrypting the records.
//
// A vault opens locked.  Unlock verifies the credentials and keeps the
// master key in memory until Lock.
type Vault struct {
	mtx sync.Mutex

	clock        clock.Clock
	usesPassword bool
	masterKey    *Secret
}

// CreateVault initializes a vault in ns with its first user.  An empty
// password creates a vault without password protection.
func CreateVault(ns walletdb.ReadWriteBucket, userID string,
	password []byte, clk clock.Clock) error {

	if ns.NestedReadBucket(metaBucketName) != nil {
		return vaultError(ErrAlreadyExists, "vault already exists", nil)
	}
	if err := createBuckets(ns); err != nil {
		return err
	}

	usesPassword := len(password) > 0
	meta := ns.NestedReadWriteBucket(metaBucketName)
	flag := []byte{0}
	if usesPassword {
		flag[0] = 1
	}
	if err := meta.Put(usesPasswordKey, flag); err != nil {
		return vaultError(ErrDatabase, "failed to store vault flags", err)
	}
	created := uint64(clk.Now().Unix())
	if err := meta.Put(createdKey, binary.BigEndian.AppendUint64(
		nil, created,
	)); err != nil {
		return vaultError(ErrDatabase, "failed to store vault time", err)
	}

	var mk [KeySize]byte
	defer zero.Bytea32(&mk)
	if _, err := rand.Read(mk[:]); err != nil {
		return vaultError(ErrEncryption, "master key generation "+
			"failed", err)
	}
	masterKey, err := NewSecret(mk[:])
	if err != nil {
		return err
	}
	defer masterKey.Zero()

	if err := putUser(ns, userID, password, masterKey, clk); err != nil {
		return err
	}

	log.Infof("Created key vault (password protected: %v)", usesPassword)
	return nil
}

// OpenVault loads the vault in ns.  The vault is locked.
func OpenVault(ns walletdb.ReadBucket, clk clock.Clock) (*Vault, error) {
	meta, err := nested(ns, metaBucketName)
	if err != nil {
		return nil, err
	}
	flag := meta.Get(usesPasswordKey)
	if len(flag) != 1 {
		return nil, vaultError(ErrData, "missing vault flags", nil)
	}

	return &Vault{
		clock:        clk,
		usesPassword: flag[0] == 1,
	}, nil
}

// UsesPassword returns whether the vault was created with a password.
func (v *Vault) UsesPassword() bool {
	return v.usesPassword
}

// IsLocked returns whether the master key is unavailable.
func (v *Vault) IsLocked() bool {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	return v.masterKey == nil
}

// Lock clears the master key from memory.
func (v *Vault) Lock() {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	v.masterKey.Zero()
	v.masterKey = nil
}

// openMasterKey derives the key of userID and opens their copy of the
// master key.  Every failure is reported as ErrInvalidCredentials.
func (v *Vault) openMasterKey(ns walletdb.ReadBucket, userID string,
	password []byte) (*Secret, error) {

	invalid := vaultError(ErrInvalidCredentials, "invalid user or "+
		"password", nil)

	if v.usesPassword && len(password) == 0 {
		return nil, invalid
	}

	users, err := nested(ns, usersBucketName)
	if err != nil {
		return nil, err
	}
	blob, err := fetchBlob(users, []byte(userID))
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, invalid
	}

	key, err := DeriveKey([]byte(userID), password)
	if err != nil {
		return nil, invalid
	}
	defer key.Zero()

	masterKey, err := Decrypt(&blob.EncryptedBlob, key)
	if err != nil {
		return nil, invalid
	}
	return masterKey, nil
}

// Unlock verifies the credentials of userID by opening their master key
// and one stored record, then keeps the master key until Lock.
func (v *Vault) Unlock(ns walletdb.ReadBucket, userID string,
	password []byte) error {

	masterKey, err := v.openMasterKey(ns, userID, password)
	if err != nil {
		log.Warnf("Vault unlock failed")
		return err
	}

	// Any record works for the check, so take the first.
	records, err := nested(ns, recordsBucketName)
	if err != nil {
		masterKey.Zero()
		return err
	}
	var first []byte
	cursor := records.ReadCursor()
	if k, _ := cursor.First(); k != nil {
		first = k
	}
	if first != nil {
		blob, err := fetchBlob(records, first)
		if err != nil {
			masterKey.Zero()
			return err
		}
		secret, err := Decrypt(&blob.EncryptedBlob, masterKey)
		if err != nil {
			masterKey.Zero()
			log.Warnf("Vault unlock failed")
			return vaultError(ErrInvalidCredentials, "invalid "+
				"user or password", nil)
		}
		secret.Zero()
	}

	v.mtx.Lock()
	v.masterKey.Zero()
	v.masterKey = masterKey
	v.mtx.Unlock()

	log.Debugf("Vault unlocked")
	return nil
}

// key returns a copy of the master key.
func (v *Vault) key() (*Secret, error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	if v.masterKey == nil {
		return nil, vaultError(ErrLocked, "vault is locked", nil)
	}
	return NewSecret(v.masterKey.Bytes())
}

// Put seals secret under the master key and stores it as name, replacing
// any record of that name.
func (v *Vault) Put(ns walletdb.ReadWriteBucket, name string,
	secret *Secret) error {

	key, err := v.key()
	if err != nil {
		return err
	}
	defer key.Zero()

	records, err := nestedRW(ns, recordsBucketName)
	if err != nil {
		return err
	}
	blob, err := Encrypt(secret.Bytes(), key)
	if err != nil {
		return err
	}
	return putBlob(records, []byte(name), &storedBlob{
		EncryptedBlob: *blob,
		created:       uint64(v.clock.Now().Unix()),
	})
}

// Get opens the record name.
func (v *Vault) Get(ns walletdb.ReadBucket, name string) (*Secret, error) {
	key, err := v.key()
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	records, err := nested(ns, recordsBucketName)
	if err != nil {
		return nil, err
	}
	blob, err := fetchBlob(records, []byte(name))
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, vaultError(ErrNotFound, "no record "+name, nil)
	}

	secret, err := Decrypt(&blob.EncryptedBlob, key)
	if err != nil {
		log.Errorf("Unable to decrypt record %s: %v", name, err)
		return nil, err
	}
	return secret, nil
}

// Delete removes the record name.  Deleting a missing record does nothing.
func (v *Vault) Delete(ns walletdb.ReadWriteBucket, name string) error {
	records, err := nestedRW(ns, recordsBucketName)
	if err != nil {
		return err
	}
	if err := records.Delete([]byte(name)); err != nil {
		return vaultError(ErrDatabase, "failed to delete record", err)
	}
	return nil
}

// Names returns the record names in order.
func (v *Vault) Names(ns walletdb.ReadBucket) ([]string, error) {
	records, err := nested(ns, recordsBucketName)
	if err != nil {
		return nil, err
	}
	var names []string
	err = records.ForEach(func(k, _ []byte) error {
		names = append(names, string(k))
		return nil
	})
	return names, err
}

// putUser seals masterKey for userID.
func putUser(ns walletdb.ReadWriteBucket, userID string, password []byte,
	masterKey *Secret, clk clock.Clock) error {

	users, err := nestedRW(ns, usersBucketName)
	if err != nil {
		return err
	}

	key, err := DeriveKey([]byte(userID), password)
	if err != nil {
		return err
	}
	defer key.Zero()

	blob, err := Encrypt(masterKey.Bytes(), key)
	if err != nil {
		return err
	}
	return putBlob(users, []byte(userID), &storedBlob{
		EncryptedBlob: *blob,
		created:       uint64(clk.Now().Unix()),
	})
}

// AddUser gives userID access to the unlocked vault.
func (v *Vault) AddUser(ns walletdb.ReadWriteBucket, userID string,
	password []byte) error {

	if v.usesPassword && len(password) == 0 {
		return vaultError(ErrInvalidCredentials, "password required",
			nil)
	}

	users, err := nested(ns, usersBucketName)
	if err != nil {
		return err
	}
	if users.Get([]byte(userID)) != nil {
		return vaultError(ErrAlreadyExists, "user "+userID+
			" already exists", nil)
	}

	key, err := v.key()
	if err != nil {
		return err
	}
	defer key.Zero()

	if err := putUser(ns, userID, password, key, v.clock); err != nil {
		return err
	}

	log.Infof("Added vault user %s", userID)
	return nil
}

// RemoveUser revokes the access of userID.  The last user can't be
// removed.
func (v *Vault) RemoveUser(ns walletdb.ReadWriteBucket, userID string) error {
	users, err := nestedRW(ns, usersBucketName)
	if err != nil {
		return err
	}
	if users.Get([]byte(userID)) == nil {
		return vaultError(ErrNotFound, "no user "+userID, nil)
	}

	var count int
	err = users.ForEach(func(_, _ []byte) error {
		count++
		return nil
	})
	if err != nil {
		return vaultError(ErrDatabase, "failed to count users", err)
	}
	if count == 1 {
		return vaultError(ErrLastUser, "can't remove the last user", nil)
	}

	if err := users.Delete([]byte(userID)); err != nil {
		return vaultError(ErrDatabase, "failed to delete user", err)
	}

	log.Infof("Removed vault user %s", userID)
	return nil
}

// ChangePassword reseals the master key of userID under a new password.
// The vault doesn't need to be unlocked.
func (v *Vault) ChangePassword(ns walletdb.ReadWriteBucket, userID string,
	oldPassword, newPassword []byte) error {

	if v.usesPassword && len(newPassword) == 0 {
		return vaultError(ErrInvalidCredentials, "password required",
			nil)
	}

	masterKey, err := v.openMasterKey(ns, userID, oldPassword)
	if err != nil {
		return err
	}
	defer masterKey.Zero()

	return putUser(ns, userID, newPassword, masterKey, v.clock)
}

// ListUsers returns the vault users ordered by id.
func (v *Vault) ListUsers(ns walletdb.ReadBucket) ([]UserInfo, error) {
	users, err := nested(ns, usersBucketName)
	if err != nil {
		return nil, err
	}

	var infos []UserInfo
	err = users.ForEach(func(k, _ []byte) error {
		blob, err := fetchBlob(users, k)
		if err != nil {
			return err
		}
		infos = append(infos, UserInfo{
			ID:      string(k),
			Created: time.Unix(int64(blob.created), 0),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}
