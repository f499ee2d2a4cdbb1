package crypto

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"hash/adler32"
)

// HashSize is the width of every identity hash and routing key in this
// core: SHA-256.
const HashSize = sha256.Size

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) [HashSize]byte {
	return sha256.Sum256(data)
}

// SHA256Concat hashes the concatenation of several byte slices without an
// intermediate allocation of the joined buffer.
func SHA256Concat(parts ...[]byte) [HashSize]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// XORHash returns the bytewise XOR of two equal-length hashes, the
// Kademlia distance metric used throughout netDb routing.
func XORHash(a, b [HashSize]byte) [HashSize]byte {
	var out [HashSize]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// LessDistance reports whether hash a is strictly closer to the origin
// (all-zero) than hash b under byte-lexicographic comparison, used to
// compare XOR distances produced by XORHash.
func LessDistance(a, b [HashSize]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Adler32 computes the Adler-32 checksum used to trail every NTCP frame.
func Adler32(data []byte) uint32 {
	return adler32.Checksum(data)
}

// HMACMD5 computes an HMAC-MD5 MAC over data using key. The IPAD
// 0x36.../OPAD 0x5C... constants are the standard HMAC ones crypto/hmac
// applies internally.
func HMACMD5(key, data []byte) [md5.Size]byte {
	mac := hmac.New(md5.New, key)
	mac.Write(data)
	var out [md5.Size]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyHMACMD5 reports whether mac is the HMAC-MD5 of data under key
// using a constant-time comparison.
func VerifyHMACMD5(key, data []byte, mac []byte) bool {
	expected := HMACMD5(key, data)
	return hmac.Equal(expected[:], mac)
}

// ChecksumByte returns the low byte of SHA-256(payload), the I2NP
// payload-checksum field. "Low byte" is the first
// byte of the digest, hash[0].
func ChecksumByte(payload []byte) byte {
	sum := SHA256(payload)
	return sum[0]
}
