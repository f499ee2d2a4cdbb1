package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// SessionKeySize is the width of an AES-256 session key and of the MAC
// key used alongside it.
const SessionKeySize = 32

// BlockSize is the AES/CBC block size every framed protocol in this core
// aligns to.
const BlockSize = aes.BlockSize

// ErrBlockAlignment is returned when a buffer handed to the CBC helpers is
// not a multiple of BlockSize.
var ErrBlockAlignment = errors.New("crypto: buffer is not block-aligned")

// CBCEncrypt encrypts plaintext in place style (returns a new buffer) under
// AES-CBC with the given 32-byte key and 16-byte IV. len(plaintext) must be
// a multiple of BlockSize; callers are responsible for padding (every wire
// format in this core pads to the block size itself).
func CBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	if len(plaintext)%BlockSize != 0 {
		return nil, ErrBlockAlignment
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// CBCDecrypt is the inverse of CBCEncrypt.
func CBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%BlockSize != 0 {
		return nil, ErrBlockAlignment
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// PadTo16 right-pads data with zero bytes to the next multiple of
// BlockSize and returns the padded buffer (data itself when already
// aligned); callers recover the original length from framing metadata.
func PadTo16(data []byte) []byte {
	rem := len(data) % BlockSize
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+(BlockSize-rem))
	copy(padded, data)
	return padded
}
