package seal

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint layout is part of the persisted storage contract: audit rows
// index and dedup on the full prefixed hex string. Changing prefix or width
// invalidates prior dedup comparisons and is a breaking migration.
const (
	Prefix = "0x"
	HexLen = sha256.Size * 2
	Width  = len(Prefix) + HexLen
)

// Fingerprint is the 0x-prefixed lowercase SHA-256 hex of a record's
// canonical bytes: 66 characters, always.
type Fingerprint string

// Compute hashes canonical bytes into a Fingerprint. Deterministic:
// Compute(b1) == Compute(b2) iff b1 == b2 (up to hash collisions).
func Compute(canonical []byte) Fingerprint {
	sum := sha256.Sum256(canonical)
	return Fingerprint(Prefix + hex.EncodeToString(sum[:]))
}

func (f Fingerprint) String() string { return string(f) }

// Valid reports whether f has the persisted layout: the constant prefix
// followed by exactly HexLen lowercase hex digits.
func (f Fingerprint) Valid() bool {
	if len(f) != Width || string(f[:len(Prefix)]) != Prefix {
		return false
	}
	for _, r := range f[len(Prefix):] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// Sealer bundles canonicalization and hashing: the one unit record services
// call per logical mutation.
type Sealer struct {
	canon *Canonicalizer
}

func NewSealer(exclude []string) *Sealer {
	if len(exclude) == 0 {
		exclude = DefaultExclusions
	}
	return &Sealer{canon: NewCanonicalizer(exclude)}
}

// Fingerprint canonicalizes fields and hashes the result. A
// *CanonicalizationError aborts the attempt with an empty fingerprint,
// never a partial or garbage one.
func (s *Sealer) Fingerprint(fields map[string]any) (Fingerprint, error) {
	canonical, err := s.canon.Canonicalize(fields)
	if err != nil {
		return "", err
	}
	return Compute(canonical), nil
}

// Canonicalize exposes the underlying canonical bytes, mainly for tests and
// debugging drift reports.
func (s *Sealer) Canonicalize(fields map[string]any) ([]byte, error) {
	return s.canon.Canonicalize(fields)
}
