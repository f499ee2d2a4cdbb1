// Package ntcp implements the TCP-oriented stream transport: the
// 4-phase Diffie-Hellman handshake, framed AES-CBC steady state, and
// the termination/ban timers around it.
package ntcp

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/peer"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// phase1Size is |X| (256) + |HXxorHI| (32).
const phase1Size = crypto.DHPublicSize + crypto.HashSize

// phase2PlaintextSize is |hash(X||Y)| (32) + timestamp (4) + padding (12).
const phase2PlaintextSize = crypto.HashSize + 4 + 12

// phase2Size is |Y| (256) + the encrypted phase2 body (48, block-aligned).
const phase2Size = crypto.DHPublicSize + phase2PlaintextSize

func newBlockModes(key []byte, encryptIV, decryptIV []byte) (cipher.BlockMode, cipher.BlockMode, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	return cipher.NewCBCEncrypter(block, encryptIV), cipher.NewCBCDecrypter(block, decryptIV), nil
}

// InitiatorHandshake runs the 4-phase handshake as "A" against an already
// dialed connection to "B", whose identity must be known in advance.
func InitiatorHandshake(conn net.Conn, ownKeys *identity.PrivateKeys, remoteIdentity *identity.Identity, dhPool *peer.DHPool) (*Session, error) {
	kp, err := dhPool.Acquire()
	if err != nil {
		return nil, err
	}
	defer dhPool.Return()

	x := kp.Public
	remoteHash := remoteIdentity.Hash()
	hx := crypto.SHA256(x[:])
	hi := crypto.SHA256(remoteHash[:])
	hxXorHi := crypto.XORHash(hx, hi)

	phase1 := make([]byte, 0, phase1Size)
	phase1 = append(phase1, x[:]...)
	phase1 = append(phase1, hxXorHi[:]...)
	if _, err := conn.Write(phase1); err != nil {
		return nil, err
	}

	phase2, err := readFull(conn, phase2Size)
	if err != nil {
		return nil, err
	}
	var y [crypto.DHPublicSize]byte
	copy(y[:], phase2[:crypto.DHPublicSize])
	encBody := phase2[crypto.DHPublicSize:]

	secret := kp.Agree(y[:])
	aesKey, err := crypto.SessionKeyFromSecret(secret)
	if err != nil {
		return nil, xerrors.NewProtocolError("ntcp-phase2", xerrors.ErrCryptoFailure)
	}

	encryptor, decryptor, err := newBlockModes(aesKey[:], hxXorHi[crypto.HashSize-crypto.BlockSize:], y[len(y)-crypto.BlockSize:])
	if err != nil {
		return nil, err
	}

	plainBody := make([]byte, len(encBody))
	decryptor.CryptBlocks(plainBody, encBody)
	wantHash := crypto.SHA256Concat(x[:], y[:])
	var gotHash [crypto.HashSize]byte
	copy(gotHash[:], plainBody[:crypto.HashSize])
	if gotHash != wantHash {
		return nil, xerrors.NewProtocolError("ntcp-phase2-verify", xerrors.ErrProtocolViolation)
	}
	tsB := binary.BigEndian.Uint32(plainBody[crypto.HashSize : crypto.HashSize+4])

	ownIdentBytes := ownKeys.Identity.Serialize()
	tsA := uint32(time.Now().Unix())
	sigMsg := buildPhaseSigMessage(x[:], y[:], remoteHash, tsA, tsB)
	sig, err := ownKeys.Sign(sigMsg)
	if err != nil {
		return nil, err
	}

	content := encodePhase3Content(ownIdentBytes, tsA, sig)
	if _, err := conn.Write(encryptPadded(encryptor, content)); err != nil {
		return nil, err
	}

	sigLen := crypto.SignatureSize(remoteIdentity.SigType)
	phase4Plain, err := readDecrypted(conn, decryptor, sigLen)
	if err != nil {
		return nil, err
	}

	ownHash := ownKeys.Identity.Hash()
	expectSigMsg := buildPhaseSigMessage(x[:], y[:], ownHash, tsA, tsB)
	if !remoteIdentity.Verify(expectSigMsg, phase4Plain) {
		return nil, xerrors.NewProtocolError("ntcp-phase4-verify", xerrors.ErrProtocolViolation)
	}

	return newSession(conn, remoteIdentity, aesKey, encryptor, decryptor), nil
}

// ResponderHandshake runs the 4-phase handshake as "B" against an
// accepted connection, verifying phase 1 against ownKeys' own identity
// hash.
func ResponderHandshake(conn net.Conn, ownKeys *identity.PrivateKeys, dhPool *peer.DHPool) (*Session, error) {
	phase1, err := readFull(conn, phase1Size)
	if err != nil {
		return nil, err
	}
	var x [crypto.DHPublicSize]byte
	copy(x[:], phase1[:crypto.DHPublicSize])
	var hxXorHi [crypto.HashSize]byte
	copy(hxXorHi[:], phase1[crypto.DHPublicSize:])

	hx := crypto.SHA256(x[:])
	ownHash := ownKeys.Identity.Hash()
	hi := crypto.SHA256(ownHash[:])
	if crypto.XORHash(hx, hi) != hxXorHi {
		return nil, xerrors.NewProtocolError("ntcp-phase1-verify", xerrors.ErrProtocolViolation)
	}

	kp, err := dhPool.Acquire()
	if err != nil {
		return nil, err
	}
	defer dhPool.Return()
	y := kp.Public

	secret := kp.Agree(x[:])
	aesKey, err := crypto.SessionKeyFromSecret(secret)
	if err != nil {
		return nil, xerrors.NewProtocolError("ntcp-phase2", xerrors.ErrCryptoFailure)
	}

	encryptor, decryptor, err := newBlockModes(aesKey[:], y[len(y)-crypto.BlockSize:], hxXorHi[crypto.HashSize-crypto.BlockSize:])
	if err != nil {
		return nil, err
	}

	tsB := uint32(time.Now().Unix())
	hashXY := crypto.SHA256Concat(x[:], y[:])
	phase2Plain := make([]byte, 0, phase2PlaintextSize)
	phase2Plain = append(phase2Plain, hashXY[:]...)
	var tsBBuf [4]byte
	binary.BigEndian.PutUint32(tsBBuf[:], tsB)
	phase2Plain = append(phase2Plain, tsBBuf[:]...)
	phase2Plain = append(phase2Plain, make([]byte, 12)...) // padding

	phase2Cipher := make([]byte, len(phase2Plain))
	encryptor.CryptBlocks(phase2Cipher, phase2Plain)

	out := make([]byte, 0, phase2Size)
	out = append(out, y[:]...)
	out = append(out, phase2Cipher...)
	if _, err := conn.Write(out); err != nil {
		return nil, err
	}

	remoteIdentity, tsA, sig, err := readPhase3(conn, decryptor)
	if err != nil {
		return nil, err
	}

	remoteHash := remoteIdentity.Hash()
	sigMsg := buildPhaseSigMessage(x[:], y[:], ownHash, tsA, tsB)
	if !remoteIdentity.Verify(sigMsg, sig) {
		return nil, xerrors.NewProtocolError("ntcp-phase3-verify", xerrors.ErrProtocolViolation)
	}

	ownSigMsg := buildPhaseSigMessage(x[:], y[:], remoteHash, tsA, tsB)
	ownSig, err := ownKeys.Sign(ownSigMsg)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(encryptPadded(encryptor, ownSig)); err != nil {
		return nil, err
	}

	return newSession(conn, remoteIdentity, aesKey, encryptor, decryptor), nil
}

// encodePhase3Content builds {uint16 content-length, identity, uint32
// tsA, signature}, where content-length covers everything after itself.
func encodePhase3Content(ident []byte, tsA uint32, sig []byte) []byte {
	body := make([]byte, 0, len(ident)+4+len(sig))
	body = append(body, ident...)
	var tsBuf [4]byte
	binary.BigEndian.PutUint32(tsBuf[:], tsA)
	body = append(body, tsBuf[:]...)
	body = append(body, sig...)

	out := make([]byte, 2, 2+len(body))
	binary.BigEndian.PutUint16(out, uint16(len(body)))
	return append(out, body...)
}

// readPhase3 decrypts phase 3's framed content and splits it into the
// sender's identity, its claimed timestamp, and its signature, without
// needing the signature's width known in advance (it's recovered from
// the parsed identity's signing-key type).
func readPhase3(conn net.Conn, decryptor cipher.BlockMode) (*identity.Identity, uint32, []byte, error) {
	firstBlock, err := readDecrypted(conn, decryptor, crypto.BlockSize)
	if err != nil {
		return nil, 0, nil, err
	}
	contentLen := int(binary.BigEndian.Uint16(firstBlock[:2]))
	have := firstBlock[2:]

	totalLen := 2 + contentLen
	remainingPadded := paddedLen(totalLen) - crypto.BlockSize
	if remainingPadded > 0 {
		rest, err := readFull(conn, remainingPadded)
		if err != nil {
			return nil, 0, nil, err
		}
		plain := make([]byte, remainingPadded)
		decryptor.CryptBlocks(plain, rest)
		have = append(have, plain...)
	}
	if len(have) < contentLen {
		return nil, 0, nil, xerrors.NewDecodeError("ntcp phase3 content", nil)
	}
	content := have[:contentLen]

	ident, err := identity.Parse(content)
	if err != nil {
		return nil, 0, nil, err
	}
	identLen := len(ident.Serialize())
	if len(content) < identLen+4 {
		return nil, 0, nil, xerrors.NewDecodeError("ntcp phase3 timestamp", nil)
	}
	tsA := binary.BigEndian.Uint32(content[identLen : identLen+4])
	sigLen := crypto.SignatureSize(ident.SigType)
	if len(content) < identLen+4+sigLen {
		return nil, 0, nil, xerrors.NewDecodeError("ntcp phase3 signature", nil)
	}
	sig := append([]byte(nil), content[identLen+4:identLen+4+sigLen]...)
	return ident, tsA, sig, nil
}

func buildPhaseSigMessage(x, y []byte, otherPartyHash [crypto.HashSize]byte, tsA, tsB uint32) []byte {
	msg := make([]byte, 0, len(x)+len(y)+crypto.HashSize+8)
	msg = append(msg, x...)
	msg = append(msg, y...)
	msg = append(msg, otherPartyHash[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint32(ts[0:4], tsA)
	binary.BigEndian.PutUint32(ts[4:8], tsB)
	msg = append(msg, ts[:]...)
	return msg
}

func paddedLen(n int) int {
	rem := n % crypto.BlockSize
	if rem == 0 {
		return n
	}
	return n + (crypto.BlockSize - rem)
}

func readFull(conn net.Conn, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readDecrypted(conn net.Conn, decryptor cipher.BlockMode, n int) ([]byte, error) {
	padded := paddedLen(n)
	cipherBuf, err := readFull(conn, padded)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, padded)
	decryptor.CryptBlocks(plain, cipherBuf)
	return plain[:n], nil
}

func encryptPadded(encryptor cipher.BlockMode, content []byte) []byte {
	padded := crypto.PadTo16(content)
	out := make([]byte, len(padded))
	encryptor.CryptBlocks(out, padded)
	return out
}
