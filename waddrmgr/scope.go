// Copyright (c) 2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package waddrmgr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const (
	// BIP44Purpose is the purpose level of BIP44 wallet paths.
	BIP44Purpose = 44

	// FeaturePurpose is the DIP9 purpose level under which dash keeps
	// every non-BIP44 key family.
	FeaturePurpose = 9

	// DIP9 feature numbers.
	featureProviderKeys = 3
	featureIdentities   = 5

	// Branches below m/9'/coin'/5'.
	identityAuthBranch         = 0
	identityRegistrationBranch = 1
	identityTopUpBranch        = 2
	identityInvitationBranch   = 3

	// Branches below m/9'/coin'/3'.
	providerFundsBranch  = 0
	providerVotingBranch = 1
	providerOwnerBranch  = 2

	// keyTypeECDSA selects ECDSA identity authentication keys.
	keyTypeECDSA = 0

	// ExternalBranch and InternalBranch are the BIP44 change levels.
	ExternalBranch = 0
	InternalBranch = 1
)

// Purpose is a key family.  Each purpose lives under its own derivation
// branch so that two purposes never produce the same key.
type Purpose uint8

const (
	// PurposeFunding is the BIP44 receive branch,
	// m/44'/coin'/account'/0/index.
	PurposeFunding Purpose = iota + 1

	// PurposeChange is the BIP44 change branch,
	// m/44'/coin'/account'/1/index.
	PurposeChange

	// PurposeIdentityAuth holds ECDSA identity authentication keys,
	// m/9'/coin'/5'/0'/0'/identity'/key'.
	PurposeIdentityAuth

	// PurposeRegistrationFunding holds the one-time keys of asset locks
	// that fund identity registrations, m/9'/coin'/5'/1'/index.
	PurposeRegistrationFunding

	// PurposeTopUpFunding holds the one-time keys of asset locks that top
	// up an existing identity, m/9'/coin'/5'/2'/identity'/index.
	PurposeTopUpFunding

	// PurposeInvitationFunding holds the one-time keys of asset locks
	// that fund invitations, m/9'/coin'/5'/3'/index.
	PurposeInvitationFunding

	// PurposeProviderPayout holds masternode payout and transfer keys,
	// m/9'/coin'/3'/0'/index.
	PurposeProviderPayout

	// PurposeProviderVoting holds masternode voting keys,
	// m/9'/coin'/3'/1'/index.
	PurposeProviderVoting

	// PurposeProviderOwner holds masternode owner keys,
	// m/9'/coin'/3'/2'/index.
	PurposeProviderOwner
)

var purposeStrings = map[Purpose]string{
	PurposeFunding:             "funding",
	PurposeChange:              "change",
	PurposeIdentityAuth:        "identity-auth",
	PurposeRegistrationFunding: "registration-funding",
	PurposeTopUpFunding:        "topup-funding",
	PurposeInvitationFunding:   "invitation-funding",
	PurposeProviderPayout:      "provider-payout",
	PurposeProviderVoting:      "provider-voting",
	PurposeProviderOwner:       "provider-owner",
}

// String returns the purpose name.
func (p Purpose) String() string {
	if s, ok := purposeStrings[p]; ok {
		return s
	}
	return "purpose(" + strconv.Itoa(int(p)) + ")"
}

// Role returns the address book classification of keys with this purpose.
func (p Purpose) Role() Role {
	switch p {
	case PurposeFunding:
		return RoleFunding
	case PurposeChange:
		return RoleChange
	case PurposeRegistrationFunding, PurposeTopUpFunding,
		PurposeInvitationFunding:

		return RoleIdentityCreation
	default:
		return RoleSystem
	}
}

// Role is the classification of an address by the shape of its path.
type Role uint8

const (
	// RoleSystem covers every path the wallet does not spend from or
	// fund with, including unknown paths.
	RoleSystem Role = iota

	// RoleFunding is an external BIP44 address that receives funds.
	RoleFunding

	// RoleChange is an internal BIP44 address that receives change.
	RoleChange

	// RoleIdentityCreation is an asset lock one-time key.
	RoleIdentityCreation
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleFunding:
		return "funding"
	case RoleChange:
		return "change"
	case RoleIdentityCreation:
		return "identity-creation"
	default:
		return "system"
	}
}

// allocPurpose returns the purpose NextUnusedAddress derives from for the
// role.
func (r Role) allocPurpose() (Purpose, bool) {
	switch r {
	case RoleFunding:
		return PurposeFunding, true
	case RoleChange:
		return PurposeChange, true
	case RoleIdentityCreation:
		return PurposeRegistrationFunding, true
	default:
		return 0, false
	}
}

// DerivationPath is a BIP32 path from the master key.  Hardened elements
// include hdkeychain.HardenedKeyStart.
type DerivationPath []uint32

func hardened(i uint32) uint32 {
	return i + hdkeychain.HardenedKeyStart
}

// String returns the path in m/44'/1'/0'/0/5 notation.
func (p DerivationPath) String() string {
	var b strings.Builder
	b.WriteString("m")
	for _, i := range p {
		b.WriteByte('/')
		if i >= hdkeychain.HardenedKeyStart {
			b.WriteString(strconv.FormatUint(
				uint64(i-hdkeychain.HardenedKeyStart), 10,
			))
			b.WriteByte('\'')
			continue
		}
		b.WriteString(strconv.FormatUint(uint64(i), 10))
	}
	return b.String()
}

// Equal returns whether both paths have the same elements.
func (p DerivationPath) Equal(o DerivationPath) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// PathInfo is the decomposition of a wallet derivation path.  Major is the
// BIP44 account or the identity index; it is zero for single level
// branches.  Minor is the key index.
type PathInfo struct {
	Purpose  Purpose
	CoinType uint32
	Major    uint32
	Minor    uint32
}

// PathFor returns the derivation path of a key.  Every index must be below
// hdkeychain.HardenedKeyStart, and major must be zero for the purposes that
// have no account or identity level.
func PathFor(purpose Purpose, coinType, major, minor uint32) (DerivationPath,
	error) {

	if coinType >= hdkeychain.HardenedKeyStart {
		return nil, pathError("coin type", coinType)
	}
	if major >= hdkeychain.HardenedKeyStart {
		return nil, pathError(purpose.String()+" account", major)
	}
	if minor >= hdkeychain.HardenedKeyStart {
		return nil, pathError(purpose.String()+" key", minor)
	}

	coin := hardened(coinType)
	identities := []uint32{hardened(FeaturePurpose), coin,
		hardened(featureIdentities)}
	provider := []uint32{hardened(FeaturePurpose), coin,
		hardened(featureProviderKeys)}

	singleLevel := func(prefix []uint32, branch uint32) (DerivationPath,
		error) {

		if major != 0 {
			return nil, pathError(purpose.String()+" account",
				major)
		}
		return append(prefix, hardened(branch), minor), nil
	}

	switch purpose {
	case PurposeFunding:
		return DerivationPath{hardened(BIP44Purpose), coin,
			hardened(major), ExternalBranch, minor}, nil

	case PurposeChange:
		return DerivationPath{hardened(BIP44Purpose), coin,
			hardened(major), InternalBranch, minor}, nil

	case PurposeIdentityAuth:
		return append(identities, hardened(identityAuthBranch),
			hardened(keyTypeECDSA), hardened(major),
			hardened(minor)), nil

	case PurposeRegistrationFunding:
		return singleLevel(identities, identityRegistrationBranch)

	case PurposeTopUpFunding:
		return append(identities, hardened(identityTopUpBranch),
			hardened(major), minor), nil

	case PurposeInvitationFunding:
		return singleLevel(identities, identityInvitationBranch)

	case PurposeProviderPayout:
		return singleLevel(provider, providerFundsBranch)

	case PurposeProviderVoting:
		return singleLevel(provider, providerVotingBranch)

	case PurposeProviderOwner:
		return singleLevel(provider, providerOwnerBranch)

	default:
		return nil, managerError(ErrInvalidPath,
			fmt.Sprintf("unknown purpose %v", purpose), nil)
	}
}

// ParsePath decomposes a path produced by PathFor.  The second return value
// is false for any path of another shape.
func ParsePath(p DerivationPath) (PathInfo, bool) {
	isHard := func(i uint32) bool { return i >= hdkeychain.HardenedKeyStart }
	soft := func(i uint32) uint32 { return i - hdkeychain.HardenedKeyStart }

	if len(p) < 3 || !isHard(p[0]) || !isHard(p[1]) {
		return PathInfo{}, false
	}
	info := PathInfo{CoinType: soft(p[1])}

	switch soft(p[0]) {
	case BIP44Purpose:
		if len(p) != 5 || !isHard(p[2]) || isHard(p[3]) || isHard(p[4]) {
			return PathInfo{}, false
		}
		switch p[3] {
		case ExternalBranch:
			info.Purpose = PurposeFunding
		case InternalBranch:
			info.Purpose = PurposeChange
		default:
			return PathInfo{}, false
		}
		info.Major, info.Minor = soft(p[2]), p[4]
		return info, true

	case FeaturePurpose:
	default:
		return PathInfo{}, false
	}

	if len(p) < 5 || !isHard(p[2]) || !isHard(p[3]) {
		return PathInfo{}, false
	}
	feature, branch := soft(p[2]), soft(p[3])

	// Single level branches end in one normal key index.
	single := func(purpose Purpose) (PathInfo, bool) {
		if len(p) != 5 || isHard(p[4]) {
			return PathInfo{}, false
		}
		info.Purpose, info.Minor = purpose, p[4]
		return info, true
	}

	switch {
	case feature == featureIdentities && branch == identityAuthBranch:
		if len(p) != 7 || !isHard(p[4]) || !isHard(p[5]) ||
			!isHard(p[6]) || soft(p[4]) != keyTypeECDSA {

			return PathInfo{}, false
		}
		info.Purpose = PurposeIdentityAuth
		info.Major, info.Minor = soft(p[5]), soft(p[6])
		return info, true

	case feature == featureIdentities &&
		branch == identityRegistrationBranch:

		return single(PurposeRegistrationFunding)

	case feature == featureIdentities && branch == identityTopUpBranch:
		if len(p) != 6 || !isHard(p[4]) || isHard(p[5]) {
			return PathInfo{}, false
		}
		info.Purpose = PurposeTopUpFunding
		info.Major, info.Minor = soft(p[4]), p[5]
		return info, true

	case feature == featureIdentities &&
		branch == identityInvitationBranch:

		return single(PurposeInvitationFunding)

	case feature == featureProviderKeys && branch == providerFundsBranch:
		return single(PurposeProviderPayout)

	case feature == featureProviderKeys && branch == providerVotingBranch:
		return single(PurposeProviderVoting)

	case feature == featureProviderKeys && branch == providerOwnerBranch:
		return single(PurposeProviderOwner)
	}

	return PathInfo{}, false
}

// Classify returns the role of a path from its shape alone.  Paths that
// don't match any wallet branch are RoleSystem.
func Classify(p DerivationPath) Role {
	info, ok := ParsePath(p)
	if !ok {
		return RoleSystem
	}
	return info.Purpose.Role()
}
