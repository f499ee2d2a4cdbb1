// Package ssu implements the datagram transport: the
// MAC-then-encrypt packet layer, the three-message session handshake,
// the reliable fragmented data subprotocol with ACK bitfields, and the
// relay / peer-test NAT-traversal subprotocols.
package ssu

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// Packet layout widths: 16-byte HMAC-MD5 MAC, 16-byte IV, then the
// AES-CBC encrypted body.
const (
	macSize = 16
	ivSize  = 16

	// headerOverhead is the cleartext packet prefix: MAC plus IV.
	headerOverhead = macSize + ivSize

	// bodyPrefixSize is the flag byte plus the 4-byte unix-seconds
	// timestamp every encrypted body starts with.
	bodyPrefixSize = 5
)

// Payload types carried in the high nibble of the body's flag byte.
const (
	payloadSessionRequest   uint8 = 0
	payloadSessionCreated   uint8 = 1
	payloadSessionConfirmed uint8 = 2
	payloadRelayRequest     uint8 = 3
	payloadRelayResponse    uint8 = 4
	payloadRelayIntro       uint8 = 5
	payloadData             uint8 = 6
	payloadPeerTest         uint8 = 7
	payloadSessionDestroyed uint8 = 8
)

// Flag-byte low-nibble bits.
const (
	flagRekey    = 0x08
	flagExtended = 0x04
)

// rekeyDataSize is the width of the optional new keying material block
// following the timestamp when flagRekey is set.
const rekeyDataSize = 64

// ipBytes renders an address's IP in the 4- or 16-byte form the MAC
// covers.
func ipBytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

// macInput assembles the bytes the packet MAC covers: encrypted body,
// IV, body length, then destination and source endpoints.
func macInput(encrypted, iv []byte, dst, src *net.UDPAddr) []byte {
	out := make([]byte, 0, len(encrypted)+ivSize+2+2*(16+2))
	out = append(out, encrypted...)
	out = append(out, iv...)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(encrypted)))
	out = append(out, l[:]...)
	out = append(out, ipBytes(dst.IP)...)
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], uint16(dst.Port))
	out = append(out, p[:]...)
	out = append(out, ipBytes(src.IP)...)
	binary.BigEndian.PutUint16(p[:], uint16(src.Port))
	out = append(out, p[:]...)
	return out
}

// buildPacket assembles one complete datagram: MAC ‖ IV ‖ AES-CBC(flag,
// timestamp, payload, zero padding). dst/src are the endpoints the MAC
// binds the packet to, as the sender sees them.
func buildPacket(macKey, aesKey [crypto.SessionKeySize]byte, payloadType uint8, payload []byte, dst, src *net.UDPAddr) ([]byte, error) {
	body := make([]byte, 0, bodyPrefixSize+len(payload)+crypto.BlockSize)
	body = append(body, payloadType<<4)
	var ts [4]byte
	binary.BigEndian.PutUint32(ts[:], uint32(time.Now().Unix()))
	body = append(body, ts[:]...)
	body = append(body, payload...)
	body = crypto.PadTo16(body)

	var iv [ivSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return nil, err
	}
	encrypted, err := crypto.CBCEncrypt(aesKey[:], iv[:], body)
	if err != nil {
		return nil, err
	}

	mac := crypto.HMACMD5(macKey[:], macInput(encrypted, iv[:], dst, src))
	out := make([]byte, 0, macSize+ivSize+len(encrypted))
	out = append(out, mac[:]...)
	out = append(out, iv[:]...)
	out = append(out, encrypted...)
	return out, nil
}

// parsedPacket is a verified, decrypted datagram body.
type parsedPacket struct {
	payloadType uint8
	timestamp   uint32
	rekeyData   []byte
	extOptions  []byte
	payload     []byte
}

// parsePacket verifies the MAC and decrypts the body. dst/src are the
// endpoints as the *sender* saw them: the receiver's own address is dst,
// the remote address is src.
func parsePacket(macKey, aesKey [crypto.SessionKeySize]byte, datagram []byte, dst, src *net.UDPAddr) (*parsedPacket, error) {
	if len(datagram) < headerOverhead+crypto.BlockSize {
		return nil, xerrors.NewDecodeError("ssu packet", nil)
	}
	mac := datagram[:macSize]
	iv := datagram[macSize : macSize+ivSize]
	encrypted := datagram[macSize+ivSize:]
	if len(encrypted)%crypto.BlockSize != 0 {
		return nil, xerrors.NewDecodeError("ssu body alignment", nil)
	}

	if !crypto.VerifyHMACMD5(macKey[:], macInput(encrypted, iv, dst, src), mac) {
		return nil, xerrors.NewProtocolError("ssu-mac", xerrors.ErrCryptoFailure)
	}
	body, err := crypto.CBCDecrypt(aesKey[:], iv, encrypted)
	if err != nil {
		return nil, err
	}
	if len(body) < bodyPrefixSize {
		return nil, xerrors.NewDecodeError("ssu body prefix", nil)
	}

	p := &parsedPacket{
		payloadType: body[0] >> 4,
		timestamp:   binary.BigEndian.Uint32(body[1:5]),
	}
	rest := body[bodyPrefixSize:]
	if body[0]&flagRekey != 0 {
		if len(rest) < rekeyDataSize {
			return nil, xerrors.NewDecodeError("ssu rekey data", nil)
		}
		p.rekeyData = rest[:rekeyDataSize]
		rest = rest[rekeyDataSize:]
	}
	if body[0]&flagExtended != 0 {
		if len(rest) < 1 || len(rest) < 1+int(rest[0]) {
			return nil, xerrors.NewDecodeError("ssu extended options", nil)
		}
		p.extOptions = rest[1 : 1+int(rest[0])]
		rest = rest[1+int(rest[0]):]
	}
	p.payload = rest
	return p, nil
}
