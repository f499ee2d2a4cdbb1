package crypto

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// ElGamal shares its multiplicative group with the DH exchange in
// dh.go (the 256-byte public encryption key has the same width as the
// DH public value); see DESIGN.md for why this is
// implemented directly over math/big rather than via a third-party
// library: nothing on pkg.go.dev ships a maintained classic ElGamal
// implementation over an explicit prime-order group.

// ElGamalKeySize is the width of an ElGamal public or private key.
const ElGamalKeySize = 256

// ErrPlaintextTooLarge is returned when a plaintext does not fit the
// group (must be strictly less than the prime modulus).
var ErrPlaintextTooLarge = errors.New("crypto: elgamal plaintext too large for group")

// ElGamalPrivateKey is an exponent x; ElGamalPublicKey is g^x mod p.
type ElGamalPrivateKey struct {
	X [ElGamalKeySize]byte
}

type ElGamalPublicKey struct {
	Y [ElGamalKeySize]byte
}

// GenerateElGamalKeyPair draws a fresh private exponent and its matching
// public value.
func GenerateElGamalKeyPair() (*ElGamalPrivateKey, *ElGamalPublicKey, error) {
	x, err := rand.Int(rand.Reader, dhPrime)
	if err != nil {
		return nil, nil, err
	}
	y := new(big.Int).Exp(dhGen, x, dhPrime)

	priv := &ElGamalPrivateKey{}
	pub := &ElGamalPublicKey{}
	x.FillBytes(priv.X[:])
	y.FillBytes(pub.Y[:])
	return priv, pub, nil
}

// ElGamalCiphertext is the (a, b) pair of an ElGamal encryption.
type ElGamalCiphertext struct {
	A [ElGamalKeySize]byte
	B [ElGamalKeySize]byte
}

// Bytes serializes the ciphertext as a || b.
func (c *ElGamalCiphertext) Bytes() []byte {
	out := make([]byte, 0, 2*ElGamalKeySize)
	out = append(out, c.A[:]...)
	out = append(out, c.B[:]...)
	return out
}

// ParseElGamalCiphertext is the inverse of Bytes.
func ParseElGamalCiphertext(data []byte) (*ElGamalCiphertext, error) {
	if len(data) != 2*ElGamalKeySize {
		return nil, ErrPlaintextTooLarge
	}
	c := &ElGamalCiphertext{}
	copy(c.A[:], data[:ElGamalKeySize])
	copy(c.B[:], data[ElGamalKeySize:])
	return c, nil
}

// Encrypt encrypts a plaintext (which must be strictly less than the group
// modulus) under an ElGamal public key, drawing a fresh per-message
// ephemeral exponent k.
func ElGamalEncrypt(pub *ElGamalPublicKey, plaintext []byte) (*ElGamalCiphertext, error) {
	m := new(big.Int).SetBytes(plaintext)
	if m.Cmp(dhPrime) >= 0 {
		return nil, ErrPlaintextTooLarge
	}

	k, err := rand.Int(rand.Reader, dhPrime)
	if err != nil {
		return nil, err
	}

	y := new(big.Int).SetBytes(pub.Y[:])
	a := new(big.Int).Exp(dhGen, k, dhPrime)
	s := new(big.Int).Exp(y, k, dhPrime)
	b := new(big.Int).Mod(new(big.Int).Mul(m, s), dhPrime)

	ct := &ElGamalCiphertext{}
	a.FillBytes(ct.A[:])
	b.FillBytes(ct.B[:])
	return ct, nil
}

// Decrypt recovers the plaintext integer (as big-endian bytes, left-padded
// to ElGamalKeySize) from a ciphertext under the matching private key.
func ElGamalDecrypt(priv *ElGamalPrivateKey, ct *ElGamalCiphertext) []byte {
	a := new(big.Int).SetBytes(ct.A[:])
	b := new(big.Int).SetBytes(ct.B[:])
	x := new(big.Int).SetBytes(priv.X[:])

	s := new(big.Int).Exp(a, x, dhPrime)
	sInv := new(big.Int).ModInverse(s, dhPrime)
	if sInv == nil {
		return make([]byte, ElGamalKeySize)
	}
	m := new(big.Int).Mod(new(big.Int).Mul(b, sInv), dhPrime)

	out := make([]byte, ElGamalKeySize)
	m.FillBytes(out)
	return out
}
