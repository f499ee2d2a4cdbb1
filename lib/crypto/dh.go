package crypto

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// DHPublicSize is the fixed width of a serialized DH public value.
const DHPublicSize = 256

// dhPrimeHex is the RFC 3526 2048-bit MODP group prime; the fixed
// 2048-bit DH group every handshake in this core uses.
const dhPrimeHex = "" +
	"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E0" +
	"88A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A43" +
	"1B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C4" +
	"2E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B" +
	"1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD" +
	"24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E77" +
	"2C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581" +
	"7183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF"

var (
	dhPrime *big.Int
	dhGen   = big.NewInt(2)
)

func init() {
	dhPrime, _ = new(big.Int).SetString(dhPrimeHex, 16)
	if dhPrime == nil {
		panic("crypto: malformed DH prime literal")
	}
}

// DHKeyPair is one half of a completed-or-in-progress DH exchange. It is
// move-only in spirit: the peer manager's DH pool hands these out and
// takes them back rather than sharing a pointer across reactors.
type DHKeyPair struct {
	private *big.Int
	Public  [DHPublicSize]byte
}

// GenerateDHKeyPair draws a fresh private exponent and computes the
// matching public value g^x mod p.
func GenerateDHKeyPair() (*DHKeyPair, error) {
	priv, err := rand.Int(rand.Reader, dhPrime)
	if err != nil {
		return nil, err
	}
	pub := new(big.Int).Exp(dhGen, priv, dhPrime)
	kp := &DHKeyPair{private: priv}
	pub.FillBytes(kp.Public[:])
	return kp, nil
}

// ErrDegenerateSecret is returned when a DH agreement produces a shared
// secret whose leading bytes cannot be turned into a usable AES key
// (more than 32 leading zero bytes).
var ErrDegenerateSecret = errors.New("crypto: degenerate DH shared secret")

// Agree computes the shared secret with a peer's public value, returning
// the raw big-endian bytes (left-padded to DHPublicSize).
func (kp *DHKeyPair) Agree(peerPublic []byte) []byte {
	y := new(big.Int).SetBytes(peerPublic)
	s := new(big.Int).Exp(y, kp.private, dhPrime)
	buf := make([]byte, DHPublicSize)
	s.FillBytes(buf)
	return buf
}

// SessionKeyFromSecret derives the 32-byte AES session key from a raw DH
// shared secret:
//
//	if high bit of S[0] set:        key = 0x00 || S[0..31]
//	else if S[0] != 0:               key = S[0..32]
//	else:                             skip leading zero bytes, take 32
//
// more than the first 32 bytes being zero is treated as degenerate.
func SessionKeyFromSecret(secret []byte) ([SessionKeySize]byte, error) {
	var key [SessionKeySize]byte
	if len(secret) == 0 {
		return key, ErrDegenerateSecret
	}
	if secret[0]&0x80 != 0 {
		copy(key[1:], secret[:SessionKeySize-1])
		return key, nil
	}
	if secret[0] != 0 {
		copy(key[:], secret[:SessionKeySize])
		return key, nil
	}
	// Leading zero: skip zero bytes; more than 32 of them is degenerate.
	skip := 0
	for skip <= SessionKeySize && skip < len(secret) && secret[skip] == 0 {
		skip++
	}
	if skip > SessionKeySize {
		return key, ErrDegenerateSecret
	}
	if len(secret) < skip+SessionKeySize {
		return key, ErrDegenerateSecret
	}
	copy(key[:], secret[skip:skip+SessionKeySize])
	return key, nil
}
