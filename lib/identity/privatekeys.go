package identity

import (
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// PrivateKeys pairs an Identity with the private halves needed to sign
// and decrypt on its behalf. Invariant: signatures produced
// by Sign verify under Identity.
type PrivateKeys struct {
	Identity
	EncPrivate [crypto.ElGamalKeySize]byte
	SigPrivate []byte
}

// Generate creates a fresh identity and matching private keys under the
// given signing scheme, pairing it with a freshly generated ElGamal
// encryption keypair.
func Generate(sigType crypto.SignatureType) (*PrivateKeys, error) {
	encPriv, encPub, err := crypto.GenerateElGamalKeyPair()
	if err != nil {
		return nil, err
	}
	sigPub, sigPriv, err := crypto.GenerateSigningKey(sigType)
	if err != nil {
		return nil, err
	}

	pk := &PrivateKeys{}
	pk.EncPublic = encPub.Y
	pk.EncPrivate = encPriv.X
	pk.SigType = sigType
	pk.SigPublic = sigPub
	pk.SigPrivate = sigPriv
	return pk, nil
}

// Sign produces a signature over msg under this router's signing key.
func (pk *PrivateKeys) Sign(msg []byte) ([]byte, error) {
	return crypto.Sign(pk.SigType, pk.SigPublic, pk.SigPrivate, msg)
}

// Decrypt recovers the plaintext (left-padded to ElGamalKeySize) of an
// ElGamal ciphertext encrypted under this identity's encryption key.
func (pk *PrivateKeys) Decrypt(ct *crypto.ElGamalCiphertext) []byte {
	priv := &crypto.ElGamalPrivateKey{X: pk.EncPrivate}
	return crypto.ElGamalDecrypt(priv, ct)
}

// ParsePrivateKeys decodes the raw PrivateKeys buffer persisted alongside
// a created router-info: serialized Identity immediately
// followed by the ElGamal private exponent and the raw signing private
// key, both fixed-width for the identity's SigType.
func ParsePrivateKeys(buf []byte) (*PrivateKeys, error) {
	id, err := Parse(buf)
	if err != nil {
		return nil, err
	}
	idLen := len(id.Serialize())
	sigPrivLen := crypto.PrivateKeySize(id.SigType)
	need := idLen + crypto.ElGamalKeySize + sigPrivLen
	if len(buf) < need {
		return nil, xerrors.NewDecodeError("private keys", nil)
	}

	pk := &PrivateKeys{Identity: *id}
	copy(pk.EncPrivate[:], buf[idLen:idLen+crypto.ElGamalKeySize])
	pk.SigPrivate = append([]byte(nil), buf[idLen+crypto.ElGamalKeySize:need]...)
	return pk, nil
}

// Bytes serializes the PrivateKeys container back to the persisted form
// ParsePrivateKeys reads.
func (pk *PrivateKeys) Bytes() []byte {
	out := append([]byte(nil), pk.Identity.Serialize()...)
	out = append(out, pk.EncPrivate[:]...)
	out = append(out, pk.SigPrivate...)
	return out
}
