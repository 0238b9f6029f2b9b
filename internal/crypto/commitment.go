// Package crypto implements the privacy-preserving derivations used by the
// verification core: salted commitments, circuit-compatible hash fields, and
// claim hashes binding attested values to a specific document.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

// bn254ScalarField is the scalar field modulus of the BN254 curve. Hash
// fields are reduced into it so zero-knowledge circuits can reference a
// document without embedding raw hash bytes.
var bn254ScalarField, _ = new(big.Int).SetString(
	"21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

// Commitment returns the SHA-256 hex digest of "VALUE:salt" after
// normalization. Deterministic, non-reversible, salted per user.
func Commitment(value, salt string) string {
	sum := sha256.Sum256([]byte(value + ":" + salt))
	return hex.EncodeToString(sum[:])
}

// NormalizeDocumentNumber strips non-alphanumerics and uppercases, so
// "001-1234567-8" and "00112345678" commit identically.
func NormalizeDocumentNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// ToHashField converts a hex document hash into a decimal field element in
// the BN254 scalar field.
func ToHashField(documentHash string) (string, error) {
	raw, err := hex.DecodeString(documentHash)
	if err != nil {
		return "", fmt.Errorf("decode document hash: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("document hash is empty")
	}
	n := new(big.Int).SetBytes(raw)
	n.Mod(n, bn254ScalarField)
	return n.String(), nil
}

// ClaimHash binds a claimed value to a document hash field. Pure function:
// identical inputs always produce identical output, and changing either
// input changes the digest.
func ClaimHash(value string, hashField string) string {
	sum := sha256.Sum256([]byte(value + "|" + hashField))
	return hex.EncodeToString(sum[:])
}
