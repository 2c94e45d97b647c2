// Package ecdsautil provides the detached "r.s" hex ECDSA signature
// encoding shared by audit and policy, plus JWK-based public
// key recovery for verification against KeyManager's published keys.
package ecdsautil

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

// Sign produces the "r.s" hex-encoded detached signature over data.
func Sign(priv *ecdsa.PrivateKey, data []byte, signFn func(digest []byte) (r, s *big.Int, err error)) (string, error) {
	digest := sha256.Sum256(data)
	r, s, err := signFn(digest[:])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x.%x", r.Bytes(), s.Bytes()), nil
}

// Parse splits a "r.s" hex signature into its two big.Int components.
func Parse(sig string) (r, s *big.Int, ok bool) {
	parts := strings.SplitN(sig, ".", 2)
	if len(parts) != 2 {
		return nil, nil, false
	}
	r, okR := new(big.Int).SetString(parts[0], 16)
	s, okS := new(big.Int).SetString(parts[1], 16)
	if !okR || !okS {
		return nil, nil, false
	}
	return r, s, true
}

// Verify checks a "r.s" hex detached signature over data against a
// single ECDSA public key.
func Verify(pub *ecdsa.PublicKey, data []byte, sig string) bool {
	r, s, ok := Parse(sig)
	if !ok {
		return false
	}
	digest := sha256.Sum256(data)
	return ecdsa.Verify(pub, digest[:], r, s)
}

// PublicKeyFromJWK extracts the ECDSA public key embedded in a
// marshaled JSON Web Key, as published by KeyManager.
func PublicKeyFromJWK(jwkJSON []byte) (*ecdsa.PublicKey, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(jwkJSON); err != nil {
		return nil, err
	}
	pub, ok := jwk.Key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwk does not carry an ecdsa public key")
	}
	return pub, nil
}
