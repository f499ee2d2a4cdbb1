// Package i2np implements the internal network-protocol message envelope:
// the fixed 16-byte header, its 5-byte short-header variant used by the
// datagram transport, and the message type registry the dispatcher
// recognizes.
package i2np

import (
	"encoding/binary"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// Message types the dispatcher must recognize.
const (
	TypeDatabaseStore             uint8 = 1
	TypeDatabaseLookup            uint8 = 2
	TypeDatabaseSearchReply       uint8 = 3
	TypeDeliveryStatus            uint8 = 10
	TypeGarlic                    uint8 = 11
	TypeTunnelData                uint8 = 18
	TypeTunnelGateway             uint8 = 19
	TypeData                      uint8 = 20
	TypeTunnelBuild               uint8 = 21
	TypeTunnelBuildReply          uint8 = 22
	TypeVariableTunnelBuild       uint8 = 23
	TypeVariableTunnelBuildReply  uint8 = 24
)

// MaxMessageSize is the largest payload a full-header message may carry.
const MaxMessageSize = 32 * 1024

// MaxShortMessageSize is the largest payload a short-header message may
// carry (the datagram transport's per-packet budget forces the cap).
const MaxShortMessageSize = 4 * 1024

// HeaderSize is the width of the full 16-byte header.
const HeaderSize = 16

// ShortHeaderSize is the width of the 5-byte short header.
const ShortHeaderSize = 5

// Message is one I2NP protocol unit: a type, an identifier, an expiry,
// and an opaque payload. The wire-facing accessors below read and write
// the header fields directly; Payload is the caller-owned body.
type Message struct {
	Type       uint8
	MessageID  uint32
	Expiration time.Time
	Payload    []byte
}

// Checksum returns the low byte of SHA-256(payload), the field the full
// header carries and the short header omits.
func (m *Message) Checksum() byte {
	return crypto.ChecksumByte(m.Payload)
}

// Serialize writes the full 16-byte header followed by the payload.
func (m *Message) Serialize() ([]byte, error) {
	if len(m.Payload) > MaxMessageSize {
		return nil, xerrors.NewProtocolError("i2np-serialize", xerrors.ErrProtocolViolation)
	}
	out := make([]byte, HeaderSize+len(m.Payload))
	out[0] = m.Type
	binary.BigEndian.PutUint32(out[1:5], m.MessageID)
	binary.BigEndian.PutUint64(out[5:13], uint64(m.Expiration.UnixMilli()))
	binary.BigEndian.PutUint16(out[13:15], uint16(len(m.Payload)))
	out[15] = m.Checksum()
	copy(out[HeaderSize:], m.Payload)
	return out, nil
}

// Parse decodes a full-header message and validates its checksum and
// declared length against the supplied buffer.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < HeaderSize {
		return nil, xerrors.NewDecodeError("i2np header", nil)
	}
	size := binary.BigEndian.Uint16(buf[13:15])
	if int(size) > MaxMessageSize || len(buf) < HeaderSize+int(size) {
		return nil, xerrors.NewDecodeError("i2np payload length", nil)
	}
	payload := append([]byte(nil), buf[HeaderSize:HeaderSize+int(size)]...)
	m := &Message{
		Type:       buf[0],
		MessageID:  binary.BigEndian.Uint32(buf[1:5]),
		Expiration: time.UnixMilli(int64(binary.BigEndian.Uint64(buf[5:13]))),
		Payload:    payload,
	}
	if m.Checksum() != buf[15] {
		return nil, xerrors.NewProtocolError("i2np-checksum", xerrors.ErrProtocolViolation)
	}
	return m, nil
}

// ToShort serializes m using the 5-byte short header the datagram
// transport uses: type, 4-byte expiration-seconds. Message-id and
// checksum are omitted and must be recovered by the receiver out of band
// (FromShort).
func (m *Message) ToShort() ([]byte, error) {
	if len(m.Payload) > MaxShortMessageSize {
		return nil, xerrors.NewProtocolError("i2np-short-serialize", xerrors.ErrProtocolViolation)
	}
	out := make([]byte, ShortHeaderSize+len(m.Payload))
	out[0] = m.Type
	binary.BigEndian.PutUint32(out[1:5], uint32(m.Expiration.Unix()))
	copy(out[ShortHeaderSize:], m.Payload)
	return out, nil
}

// FromShort promotes a received short-headed buffer to a full Message,
// assigning the caller-supplied message id (recovered from the datagram
// transport's own framing) and computing the checksum over the payload.
func FromShort(buf []byte, msgID uint32) (*Message, error) {
	if len(buf) < ShortHeaderSize {
		return nil, xerrors.NewDecodeError("i2np short header", nil)
	}
	if len(buf)-ShortHeaderSize > MaxShortMessageSize {
		return nil, xerrors.NewDecodeError("i2np short payload length", nil)
	}
	payload := append([]byte(nil), buf[ShortHeaderSize:]...)
	return &Message{
		Type:       buf[0],
		MessageID:  msgID,
		Expiration: time.Unix(int64(binary.BigEndian.Uint32(buf[1:5])), 0),
		Payload:    payload,
	}, nil
}

// IsKnownType reports whether t is one of the dispatcher-recognized
// message types.
func IsKnownType(t uint8) bool {
	switch t {
	case TypeDatabaseStore, TypeDatabaseLookup, TypeDatabaseSearchReply,
		TypeDeliveryStatus, TypeGarlic, TypeTunnelData, TypeTunnelGateway,
		TypeData, TypeTunnelBuild, TypeTunnelBuildReply,
		TypeVariableTunnelBuild, TypeVariableTunnelBuildReply:
		return true
	}
	return false
}
