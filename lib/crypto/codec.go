// Package crypto implements the primitive codecs and cryptographic
// operations the transport core is built on: AES-256-CBC, Adler-32,
// SHA-256, HMAC-MD5, a 2048-bit Diffie-Hellman group, ElGamal, the
// signature-type dispatch table, and the I2P-flavoured Base32/Base64
// alphabets. Every primitive here maps to a single Go stdlib package;
// see DESIGN.md for why no third-party crypto library was substituted.
package crypto

import (
	"encoding/base32"
	"encoding/base64"
)

// i2pBase64Alphabet is the standard Base64 alphabet with '+' and '/'
// replaced by '-' and '~' respectively. I2P uses
// this alphabet (unpadded) everywhere a destination, key, or router-info
// is rendered as text.
const i2pBase64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-~"

var b64Encoding = base64.NewEncoding(i2pBase64Alphabet).WithPadding(base64.NoPadding)

// Base64Encode renders data using the I2P Base64 alphabet.
func Base64Encode(data []byte) string {
	return b64Encoding.EncodeToString(data)
}

// Base64Decode parses data rendered with the I2P Base64 alphabet.
func Base64Decode(s string) ([]byte, error) {
	return b64Encoding.DecodeString(s)
}

// i2pBase32Alphabet is RFC 4648's Base32 alphabet lowercased, as used for
// ".b32.i2p" addresses.
const i2pBase32Alphabet = "abcdefghijklmnopqrstuvwxyz234567"

var b32Encoding = base32.NewEncoding(i2pBase32Alphabet).WithPadding(base32.NoPadding)

// Base32Encode renders data using the lowercase Base32 alphabet I2P uses
// for ".b32.i2p" destination hashes.
func Base32Encode(data []byte) string {
	return b32Encoding.EncodeToString(data)
}

// Base32Decode parses a lowercase Base32 string.
func Base32Decode(s string) ([]byte, error) {
	return b32Encoding.DecodeString(s)
}
