package identity

import (
	"encoding/binary"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// legacySigSlotSize is the fixed width of the signing-key slot inherited
// from the original DSA-only identity format; every other signature type
// either fits inside it (zero-padded on the left) or spills its remainder
// into an extension appended after the certificate.
const legacySigSlotSize = 128

// MinSerializedSize is the smallest a serialized identity can be: 256-byte
// ElGamal key, 128-byte legacy signing slot, 3-byte null certificate.
const MinSerializedSize = crypto.ElGamalKeySize + legacySigSlotSize + 3

// Identity is a router's public key package: an ElGamal encryption key, a
// signing public key of whatever width its SigType demands, and the
// certificate that records which signature scheme is in play.
type Identity struct {
	EncPublic [crypto.ElGamalKeySize]byte
	SigType   crypto.SignatureType
	SigPublic []byte
}

// Parse decodes a serialized identity's fixed byte
// layout: encryption key, legacy signing slot, certificate, optional
// signing-key extension.
func Parse(buf []byte) (*Identity, error) {
	if len(buf) < MinSerializedSize {
		return nil, xerrors.NewDecodeError("identity", nil)
	}
	id := &Identity{}
	copy(id.EncPublic[:], buf[:crypto.ElGamalKeySize])
	legacy := buf[crypto.ElGamalKeySize : crypto.ElGamalKeySize+legacySigSlotSize]
	rest := buf[crypto.ElGamalKeySize+legacySigSlotSize:]

	cert, certLen, err := parseCertificate(rest)
	if err != nil {
		return nil, err
	}
	rest = rest[certLen:]

	switch cert.Type {
	case CertNull:
		id.SigType = crypto.SigDSASHA1
		id.SigPublic = append([]byte(nil), legacy...)

	case CertKey:
		if len(cert.Payload) < 4 {
			return nil, xerrors.NewDecodeError("key certificate payload", nil)
		}
		id.SigType = crypto.SignatureType(binary.BigEndian.Uint16(cert.Payload[0:2]))
		if !crypto.IsKnownSignatureType(id.SigType) {
			return nil, xerrors.NewDecodeError("signing key type", xerrors.ErrUnsupported)
		}
		sigLen := crypto.PublicKeySize(id.SigType)
		switch {
		case sigLen <= legacySigSlotSize:
			id.SigPublic = append([]byte(nil), legacy[legacySigSlotSize-sigLen:]...)
		default:
			extra := sigLen - legacySigSlotSize
			if len(rest) < extra {
				return nil, xerrors.NewDecodeError("extended signing key", nil)
			}
			id.SigPublic = make([]byte, sigLen)
			copy(id.SigPublic[:legacySigSlotSize], legacy)
			copy(id.SigPublic[legacySigSlotSize:], rest[:extra])
		}

	default:
		return nil, xerrors.NewDecodeError("certificate type", xerrors.ErrUnsupported)
	}

	return id, nil
}

// Serialize is the inverse of Parse: the serialized form always round
// trips byte-exact.
func (id *Identity) Serialize() []byte {
	sigLen := len(id.SigPublic)
	legacy := make([]byte, legacySigSlotSize)
	var extra []byte

	if sigLen <= legacySigSlotSize {
		copy(legacy[legacySigSlotSize-sigLen:], id.SigPublic)
	} else {
		copy(legacy, id.SigPublic[:legacySigSlotSize])
		extra = id.SigPublic[legacySigSlotSize:]
	}

	var cert certificate
	if id.SigType == crypto.SigDSASHA1 && sigLen == legacySigSlotSize {
		cert = certificate{Type: CertNull}
	} else {
		payload := make([]byte, 4)
		binary.BigEndian.PutUint16(payload[0:2], uint16(id.SigType))
		binary.BigEndian.PutUint16(payload[2:4], CryptoElGamal)
		cert = certificate{Type: CertKey, Payload: payload}
	}

	out := make([]byte, 0, crypto.ElGamalKeySize+legacySigSlotSize+3+len(cert.Payload)+len(extra))
	out = append(out, id.EncPublic[:]...)
	out = append(out, legacy...)
	out = append(out, cert.bytes()...)
	out = append(out, extra...)
	return out
}

// Hash returns the SHA-256 of the full serialized identity, the 32-byte
// value used as routing key and peer identifier throughout this core.
func (id *Identity) Hash() [crypto.HashSize]byte {
	return crypto.SHA256(id.Serialize())
}

// Verify checks a signature over msg under this identity's signing key.
func (id *Identity) Verify(msg, sig []byte) bool {
	return crypto.Verify(id.SigType, id.SigPublic, msg, sig)
}
