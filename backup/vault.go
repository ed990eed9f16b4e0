// Package backup generates and verifies single-use MFA recovery codes.
//
// Only digests are meant to be stored. Plaintext codes leave this package once,
// at generation time, and are shown to the principal a single time.
package backup

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// DefaultCount is the number of codes in a set.
const DefaultCount = 8

const codeBytes = 4

// ErrInvalidCount is returned for a non-positive set size.
var ErrInvalidCount = errors.New("backup: code count must be positive")

// Digest is the hex-encoded SHA-256 of a normalized code.
type Digest string

// Set is a freshly generated batch. Codes and Digests are index-aligned.
type Set struct {
	Codes   []string
	Digests []Digest
}

// Vault produces code sets of a fixed size.
type Vault struct {
	count int
}

// NewVault returns a Vault that produces count codes per set.
func NewVault(count int) (*Vault, error) {
	if count <= 0 {
		return nil, ErrInvalidCount
	}
	return &Vault{count: count}, nil
}

// Count returns the set size.
func (v *Vault) Count() int {
	return v.count
}

// Generate returns count pairwise distinct codes formatted XXXX-XXXX.
func (v *Vault) Generate() ([]string, error) {
	set, err := v.Regenerate()
	if err != nil {
		return nil, err
	}
	return set.Codes, nil
}

// Regenerate returns a fresh set with digests. The caller replaces any previous
// set wholesale.
func (v *Vault) Regenerate() (Set, error) {
	set := Set{
		Codes:   make([]string, 0, v.count),
		Digests: make([]Digest, 0, v.count),
	}
	seen := make(map[Digest]struct{}, v.count)
	buf := make([]byte, codeBytes)
	for len(set.Codes) < v.count {
		if _, err := rand.Read(buf); err != nil {
			return Set{}, err
		}
		encoded := strings.ToUpper(hex.EncodeToString(buf))
		code := encoded[:4] + "-" + encoded[4:]
		digest := Hash(code)
		if _, dup := seen[digest]; dup {
			continue
		}
		seen[digest] = struct{}{}
		set.Codes = append(set.Codes, code)
		set.Digests = append(set.Digests, digest)
	}
	return set, nil
}

// Normalize uppercases code and drops dashes and whitespace.
func Normalize(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Hash returns the digest of the normalized code.
func Hash(code string) Digest {
	sum := sha256.Sum256([]byte(Normalize(code)))
	return Digest(hex.EncodeToString(sum[:]))
}

// Verify reports which stored digest code matches. Every digest is compared so
// the scan time does not depend on the match position.
func Verify(code string, digests []Digest) (Digest, bool) {
	if strings.TrimSpace(code) == "" || len(digests) == 0 {
		return "", false
	}
	candidate := []byte(Hash(code))
	var matched Digest
	found := false
	for _, d := range digests {
		if subtle.ConstantTimeCompare(candidate, []byte(d)) == 1 && !found {
			matched = d
			found = true
		}
	}
	return matched, found
}

// Remove returns digests without the first occurrence of d.
func Remove(digests []Digest, d Digest) ([]Digest, bool) {
	for i, existing := range digests {
		if existing == d {
			out := make([]Digest, 0, len(digests)-1)
			out = append(out, digests[:i]...)
			return append(out, digests[i+1:]...), true
		}
	}
	return digests, false
}
