// Package evidence computes and checks the content digest that binds a
// custody photograph to the event it was submitted with.
package evidence

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"custody_tracker/internal/apperr"
)

// HashHexLength is the length of every supported digest in hex characters.
const HashHexLength = 64

type Algorithm string

const (
	SHA256     Algorithm = "sha256"
	SHA3_256   Algorithm = "sha3-256"
	BLAKE2b256 Algorithm = "blake2b-256"
)

func (a Algorithm) IsValid() bool {
	switch a {
	case SHA256, SHA3_256, BLAKE2b256:
		return true
	}
	return false
}

// Hasher computes digests with a fixed algorithm.
type Hasher struct {
	alg Algorithm
}

// NewHasher returns a Hasher for alg; an empty alg selects SHA256.
func NewHasher(alg Algorithm) (*Hasher, error) {
	if alg == "" {
		alg = SHA256
	}
	if !alg.IsValid() {
		return nil, apperr.Validation("unsupported evidence hash algorithm %q", alg)
	}
	return &Hasher{alg: alg}, nil
}

func (h *Hasher) Algorithm() Algorithm {
	return h.alg
}

// ComputeHash returns the lowercase hex digest of data.
func (h *Hasher) ComputeHash(data []byte) string {
	d := h.newDigest()
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil))
}

// Verify reports whether declared matches the digest of data.
func (h *Hasher) Verify(declared string, data []byte) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if len(declared) != HashHexLength {
		return false
	}
	computed := h.ComputeHash(data)
	return subtle.ConstantTimeCompare([]byte(declared), []byte(computed)) == 1
}

// CheckDeclared returns the computed digest when declared matches data. A
// malformed declared hash is a validation failure; a well-formed one that does
// not match is an integrity failure.
func (h *Hasher) CheckDeclared(declared string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperr.Validation("evidence image is empty")
	}
	norm := strings.ToLower(strings.TrimSpace(declared))
	if !isHex(norm) {
		return "", apperr.Validation("evidence hash must be %d hex characters", HashHexLength)
	}
	if !h.Verify(norm, data) {
		return "", apperr.New(apperr.CodeIntegrity, "evidence hash does not match received image")
	}
	return norm, nil
}

func (h *Hasher) newDigest() hash.Hash {
	switch h.alg {
	case SHA3_256:
		return sha3.New256()
	case BLAKE2b256:
		d, _ := blake2b.New256(nil)
		return d
	default:
		return sha256.New()
	}
}

func isHex(s string) bool {
	if len(s) != HashHexLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
