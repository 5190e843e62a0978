// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/stretchr/testify/require"
)

// TestPathFor checks the path template of every purpose on testnet.
func TestPathFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		purpose      Purpose
		major, minor uint32
		want         string
		role         Role
	}{
		{PurposeFunding, 0, 5, "m/44'/1'/0'/0/5", RoleFunding},
		{PurposeChange, 2, 1, "m/44'/1'/2'/1/1", RoleChange},
		{PurposeIdentityAuth, 3, 4, "m/9'/1'/5'/0'/0'/3'/4'", RoleSystem},
		{PurposeRegistrationFunding, 0, 7, "m/9'/1'/5'/1'/7",
			RoleIdentityCreation},
		{PurposeTopUpFunding, 2, 9, "m/9'/1'/5'/2'/2'/9",
			RoleIdentityCreation},
		{PurposeInvitationFunding, 0, 1, "m/9'/1'/5'/3'/1",
			RoleIdentityCreation},
		{PurposeProviderPayout, 0, 0, "m/9'/1'/3'/0'/0", RoleSystem},
		{PurposeProviderVoting, 0, 3, "m/9'/1'/3'/1'/3", RoleSystem},
		{PurposeProviderOwner, 0, 2, "m/9'/1'/3'/2'/2", RoleSystem},
	}

	for _, test := range tests {
		path, err := PathFor(test.purpose, 1, test.major, test.minor)
		require.NoError(t, err, test.purpose)
		require.Equal(t, test.want, path.String())
		require.Equal(t, test.role, Classify(path), test.purpose)

		info, ok := ParsePath(path)
		require.True(t, ok, test.purpose)
		require.Equal(t, PathInfo{
			Purpose:  test.purpose,
			CoinType: 1,
			Major:    test.major,
			Minor:    test.minor,
		}, info)
	}
}

// TestPathForInvalid checks that out of range indices are rejected.
func TestPathForInvalid(t *testing.T) {
	t.Parallel()

	_, err := PathFor(PurposeFunding, 1, 0, hdkeychain.HardenedKeyStart)
	require.True(t, IsError(err, ErrInvalidPath))

	_, err = PathFor(PurposeChange, 1, hdkeychain.HardenedKeyStart+1, 0)
	require.True(t, IsError(err, ErrInvalidPath))

	_, err = PathFor(PurposeRegistrationFunding, 1, 1, 0)
	require.True(t, IsError(err, ErrInvalidPath))

	_, err = PathFor(Purpose(200), 1, 0, 0)
	require.True(t, IsError(err, ErrInvalidPath))
}

// TestClassifyUnknown checks that paths of any other shape are system
// paths.
func TestClassifyUnknown(t *testing.T) {
	t.Parallel()

	h := hardened
	tests := []DerivationPath{
		nil,
		{h(44)},
		{h(44), h(1), h(0), 2, 0},
		{h(44), h(1), h(0), 0, h(1)},
		{h(84), h(1), h(0), 0, 0},
		{h(9), h(1), h(5), h(1), h(0)},
		{h(9), h(1), h(5), h(7), 0},
		{h(9), h(1), h(4), h(1), 0},
		{h(9), h(1), h(5), h(0), h(1), h(0), h(0)},
	}
	for _, path := range tests {
		require.Equal(t, RoleSystem, Classify(path), path.String())
	}
}

func TestRoleString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "funding", RoleFunding.String())
	require.Equal(t, "identity-creation", RoleIdentityCreation.String())
	require.Equal(t, "system", Role(99).String())
	require.Equal(t, "topup-funding", PurposeTopUpFunding.String())
}
