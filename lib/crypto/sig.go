package crypto

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"math/big"

	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// SignatureType identifies one of the router identity signing schemes
// this core supports. The numeric values match the certificate
// extended-key-type codes used on the wire.
type SignatureType uint16

const (
	SigDSASHA1         SignatureType = 0
	SigECDSAP256SHA256 SignatureType = 1
	SigECDSAP384SHA384 SignatureType = 2
	SigECDSAP521SHA512 SignatureType = 3
	SigRSASHA5124096   SignatureType = 4
	SigEd25519SHA512   SignatureType = 7
)

// DefaultSignatureType is Ed25519, the default for newly generated
// routers.
const DefaultSignatureType = SigEd25519SHA512

// scheme describes the fixed-size key/signature layout for one
// SignatureType. Construction of the underlying crypto.Signer is
// deliberately left to GenerateSigningKey/Sign/Verify (never cached at
// package scope) so a router holding many identities is not forced to
// keep every verifier warm in memory; verifiers stay lazy and
// drop-able.
type scheme struct {
	pubLen, privLen, sigLen int
}

var schemes = map[SignatureType]scheme{
	SigDSASHA1:         {pubLen: 128, privLen: 20, sigLen: 40},
	SigECDSAP256SHA256: {pubLen: 64, privLen: 32, sigLen: 64},
	SigECDSAP384SHA384: {pubLen: 96, privLen: 48, sigLen: 96},
	SigECDSAP521SHA512: {pubLen: 132, privLen: 66, sigLen: 132},
	SigRSASHA5124096:   {pubLen: 512, privLen: 512, sigLen: 512},
	SigEd25519SHA512:   {pubLen: ed25519.PublicKeySize, privLen: ed25519.SeedSize, sigLen: ed25519.SignatureSize},
}

// Fixed 1024-bit DSA domain parameters shared by every legacy DSA-SHA1
// identity in this core: only the public value Y varies per router.
var (
	dsaP, _ = new(big.Int).SetString("CBDDF4FB6ADEDE561E2D582C4763C0475333F9B5832E48EFA2BEEA4171E208E92608136B3798060357964C09FEAF764505EEAAE1DE8DC38F453413D5E9438ADD90A9B0D6E28778D4F2E478638E295B1AC7AE68B67F8B95DB981FC6E3F7BA00AC943A2DD5373F78EFA5B53621CA5EBF9BF40BB371B977A8770145884C30C1F3D5", 16)
	dsaQ, _ = new(big.Int).SetString("EB116916CFDA984A4CEDFE5671331EA031B77147", 16)
	dsaG, _ = new(big.Int).SetString("692D5CC38EE7FEF6F369E5E3B102A8B0BD7A7948FB0CF5462CB5213130D952392A6387EC5DEA7AAC98D04984C70D920C83533E6E634698EEB8ECAAFB509FA1F9D0F8E5E046C8FE017479BD98132B2F1BB9C4E2CCBE506AFB77D87993E2E5324A38170CC52215F3D1706654B0CD768AE9E420663DBB44BD773251205A246E582C", 16)
)

func dsaParams() dsa.Parameters {
	return dsa.Parameters{P: dsaP, Q: dsaQ, G: dsaG}
}

// PublicKeySize returns the fixed serialized public-key width for t, or 0
// if t is unrecognized.
func PublicKeySize(t SignatureType) int { return schemes[t].pubLen }

// PrivateKeySize returns the fixed serialized private-key width for t.
func PrivateKeySize(t SignatureType) int { return schemes[t].privLen }

// SignatureSize returns the fixed serialized signature width for t.
func SignatureSize(t SignatureType) int { return schemes[t].sigLen }

// IsKnownSignatureType reports whether t has a registered scheme.
func IsKnownSignatureType(t SignatureType) bool {
	_, ok := schemes[t]
	return ok
}

// GenerateSigningKey creates a fresh keypair for t, returning the
// fixed-width serialized public and private halves.
func GenerateSigningKey(t SignatureType) (pub, priv []byte, err error) {
	if !IsKnownSignatureType(t) {
		return nil, nil, xerrors.ErrUnsupported
	}
	switch t {
	case SigEd25519SHA512:
		public, private, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return []byte(public), private.Seed(), nil

	case SigECDSAP256SHA256, SigECDSAP384SHA384, SigECDSAP521SHA512:
		curve := curveFor(t)
		key, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		half := schemes[t].privLen
		pub = encodeECDSAPublic(&key.PublicKey, 2*half)
		priv = make([]byte, half)
		key.D.FillBytes(priv)
		return pub, priv, nil

	case SigRSASHA5124096:
		key, err := rsa.GenerateKey(rand.Reader, 4096)
		if err != nil {
			return nil, nil, err
		}
		sz := schemes[t].pubLen
		pub = make([]byte, sz)
		key.PublicKey.N.FillBytes(pub)
		priv = make([]byte, sz)
		key.D.FillBytes(priv)
		return pub, priv, nil

	case SigDSASHA1:
		params := dsaParams()
		var key dsa.PrivateKey
		key.Parameters = params
		if err := dsa.GenerateKey(&key, rand.Reader); err != nil {
			return nil, nil, err
		}
		pub = make([]byte, schemes[t].pubLen)
		key.Y.FillBytes(pub)
		priv = make([]byte, schemes[t].privLen)
		key.X.FillBytes(priv)
		return pub, priv, nil
	}
	return nil, nil, xerrors.ErrUnsupported
}

func curveFor(t SignatureType) elliptic.Curve {
	switch t {
	case SigECDSAP256SHA256:
		return elliptic.P256()
	case SigECDSAP384SHA384:
		return elliptic.P384()
	case SigECDSAP521SHA512:
		return elliptic.P521()
	}
	return nil
}

func encodeECDSAPublic(pub *ecdsa.PublicKey, totalLen int) []byte {
	half := totalLen / 2
	out := make([]byte, totalLen)
	pub.X.FillBytes(out[:half])
	pub.Y.FillBytes(out[half:])
	return out
}

func decodeECDSAPublic(curve elliptic.Curve, data []byte) *ecdsa.PublicKey {
	half := len(data) / 2
	x := new(big.Int).SetBytes(data[:half])
	y := new(big.Int).SetBytes(data[half:])
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
}

func digestFor(t SignatureType, msg []byte) ([]byte, crypto.Hash) {
	switch t {
	case SigDSASHA1:
		sum := sha1.Sum(msg)
		return sum[:], crypto.SHA1
	case SigECDSAP256SHA256:
		sum := sha256.Sum256(msg)
		return sum[:], crypto.SHA256
	case SigECDSAP384SHA384:
		sum := sha512.Sum384(msg)
		return sum[:], crypto.SHA384
	case SigECDSAP521SHA512, SigRSASHA5124096:
		sum := sha512.Sum512(msg)
		return sum[:], crypto.SHA512
	}
	return nil, 0
}

// Sign produces a fixed-width signature over msg under the given
// signature type. pub is required alongside priv for RSA (to recover the
// modulus N) and DSA (to recover Y, carried through for symmetry); it may
// be nil for Ed25519 and ECDSA, which recompute it from the scalar.
func Sign(t SignatureType, pub, priv []byte, msg []byte) ([]byte, error) {
	if !IsKnownSignatureType(t) {
		return nil, xerrors.ErrUnsupported
	}
	switch t {
	case SigEd25519SHA512:
		if len(priv) != ed25519.SeedSize {
			return nil, xerrors.NewDecodeError("ed25519 private key", nil)
		}
		key := ed25519.NewKeyFromSeed(priv)
		return ed25519.Sign(key, msg), nil

	case SigECDSAP256SHA256, SigECDSAP384SHA384, SigECDSAP521SHA512:
		curve := curveFor(t)
		d := new(big.Int).SetBytes(priv)
		key := &ecdsa.PrivateKey{D: d, PublicKey: ecdsa.PublicKey{Curve: curve}}
		key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
		digest, _ := digestFor(t, msg)
		r, s, err := ecdsa.Sign(rand.Reader, key, digest)
		if err != nil {
			return nil, err
		}
		half := schemes[t].sigLen / 2
		out := make([]byte, schemes[t].sigLen)
		r.FillBytes(out[:half])
		s.FillBytes(out[half:])
		return out, nil

	case SigRSASHA5124096:
		if len(pub) != schemes[t].pubLen {
			return nil, xerrors.NewDecodeError("rsa public modulus", nil)
		}
		n := new(big.Int).SetBytes(pub)
		d := new(big.Int).SetBytes(priv)
		key := &rsa.PrivateKey{PublicKey: rsa.PublicKey{N: n, E: 65537}, D: d}
		digest, hashID := digestFor(t, msg)
		return rsa.SignPKCS1v15(rand.Reader, key, hashID, digest)

	case SigDSASHA1:
		if len(pub) != schemes[t].pubLen {
			return nil, xerrors.NewDecodeError("dsa public value", nil)
		}
		params := dsaParams()
		key := &dsa.PrivateKey{
			PublicKey: dsa.PublicKey{Parameters: params, Y: new(big.Int).SetBytes(pub)},
			X:         new(big.Int).SetBytes(priv),
		}
		digest, _ := digestFor(t, msg)
		r, s, err := dsa.Sign(rand.Reader, key, digest)
		if err != nil {
			return nil, err
		}
		half := schemes[t].sigLen / 2
		out := make([]byte, schemes[t].sigLen)
		r.FillBytes(out[:half])
		s.FillBytes(out[half:])
		return out, nil
	}
	return nil, xerrors.ErrUnsupported
}

// Verify checks a fixed-width signature over msg under the given
// signature type and serialized public key.
func Verify(t SignatureType, pub []byte, msg, sig []byte) bool {
	if !IsKnownSignatureType(t) {
		return false
	}
	if len(pub) != schemes[t].pubLen || len(sig) != schemes[t].sigLen {
		return false
	}
	switch t {
	case SigEd25519SHA512:
		return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)

	case SigECDSAP256SHA256, SigECDSAP384SHA384, SigECDSAP521SHA512:
		curve := curveFor(t)
		key := decodeECDSAPublic(curve, pub)
		half := len(sig) / 2
		r := new(big.Int).SetBytes(sig[:half])
		s := new(big.Int).SetBytes(sig[half:])
		digest, _ := digestFor(t, msg)
		return ecdsa.Verify(key, digest, r, s)

	case SigRSASHA5124096:
		n := new(big.Int).SetBytes(pub)
		pk := &rsa.PublicKey{N: n, E: 65537}
		digest, hashID := digestFor(t, msg)
		return rsa.VerifyPKCS1v15(pk, hashID, digest, sig) == nil

	case SigDSASHA1:
		half := len(sig) / 2
		r := new(big.Int).SetBytes(sig[:half])
		s := new(big.Int).SetBytes(sig[half:])
		pk := &dsa.PublicKey{Parameters: dsaParams(), Y: new(big.Int).SetBytes(pub)}
		digest, _ := digestFor(t, msg)
		return dsa.Verify(pk, digest, r, s)
	}
	return false
}
