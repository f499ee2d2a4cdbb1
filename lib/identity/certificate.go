// Package identity implements router identity parsing, serialization, and
// the matching private-key container.
package identity

import (
	"encoding/binary"

	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// CertType is the certificate type byte trailing every serialized identity.
type CertType uint8

const (
	CertNull CertType = 0
	CertKey  CertType = 5
)

// CryptoType identifies the public-key encryption scheme; this core only
// ever emits/accepts ElGamal.
const CryptoElGamal uint16 = 0

// certificate is the trailing {type, length, payload} descriptor. A
// CertKey payload is {sigType uint16, cryptoType uint16}; CertNull carries
// no payload.
type certificate struct {
	Type    CertType
	Payload []byte
}

func (c certificate) bytes() []byte {
	out := make([]byte, 3+len(c.Payload))
	out[0] = byte(c.Type)
	binary.BigEndian.PutUint16(out[1:3], uint16(len(c.Payload)))
	copy(out[3:], c.Payload)
	return out
}

func parseCertificate(buf []byte) (certificate, int, error) {
	if len(buf) < 3 {
		return certificate{}, 0, xerrors.NewDecodeError("certificate header", nil)
	}
	length := binary.BigEndian.Uint16(buf[1:3])
	if len(buf) < 3+int(length) {
		return certificate{}, 0, xerrors.NewDecodeError("certificate payload", nil)
	}
	c := certificate{Type: CertType(buf[0]), Payload: append([]byte(nil), buf[3:3+length]...)}
	return c, 3 + int(length), nil
}
