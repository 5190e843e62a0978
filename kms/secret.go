// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kms

import (
	"fmt"

	"github.com/dashevo/dashcw/internal/zero"
)

// MaxSecretSize is the largest secret a Secret holds.
const MaxSecretSize = 4096

// Secret is a bounded buffer of secret bytes.  Call Zero once the secret
// is no longer needed.
type Secret struct {
	b []byte
}

// NewSecret copies b into a new secret.  The caller should clear b.
func NewSecret(b []byte) (*Secret, error) {
	if len(b) > MaxSecretSize {
		str := fmt.Sprintf("secret of %d bytes exceeds %d bytes",
			len(b), MaxSecretSize)
		return nil, vaultError(ErrTooLarge, str, nil)
	}
	return &Secret{b: append(make([]byte, 0, len(b)), b...)}, nil
}

// Bytes returns the secret bytes.  They are cleared by Zero and must not
// be retained.
func (s *Secret) Bytes() []byte {
	return s.b
}

// Len returns the secret size.
func (s *Secret) Len() int {
	return len(s.b)
}

// Zero clears the secret.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	zero.Bytes(s.b)
	s.b = s.b[:0]
}

// String hides the secret from format verbs.
func (s *Secret) String() string {
	return fmt.Sprintf("Secret(%d bytes)", len(s.b))
}
