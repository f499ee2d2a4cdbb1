package ssu

import (
	"encoding/binary"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// Data-payload header flags, the second byte of the encrypted body
// after the common prefix.
const (
	dataFlagExplicitACKs    = 0x80
	dataFlagACKBitfields    = 0x40
	dataFlagECN             = 0x10 // unused
	dataFlagRequestPrevACKs = 0x08 // unused
	dataFlagExtended        = 0x04
	dataFlagWantReply       = 0x02
)

// fragment is one piece of a fragmented message on the wire.
type fragment struct {
	MessageID uint32
	Number    uint8
	IsLast    bool
	Data      []byte
}

// ackBitfield records which fragments of one message the peer has
// received: bit i set means fragment i is ACKed.
type ackBitfield struct {
	MessageID uint32
	Bits      []bool
}

// dataPayload is a decoded type-6 payload: any combination of explicit
// ACKs, ACK bitfields, and fragments, plus the want-reply flag.
type dataPayload struct {
	ExplicitACKs []uint32
	Bitfields    []ackBitfield
	Fragments    []fragment
	WantReply    bool
}

// maxFragmentNumber bounds fragment-number arithmetic: the 3-byte
// fragment-info field carries a 7-bit fragment number.
const maxFragmentNumber = 127

// fragmentInfo packs {bits 23..17 fragment-number, bit 16 is-last,
// bits 13..0 fragment-size} into 3 big-endian bytes.
func fragmentInfo(number uint8, isLast bool, size int) [3]byte {
	v := uint32(number)<<17 | uint32(size)&0x3FFF
	if isLast {
		v |= 1 << 16
	}
	var out [3]byte
	out[0] = byte(v >> 16)
	out[1] = byte(v >> 8)
	out[2] = byte(v)
	return out
}

func parseFragmentInfo(b []byte) (number uint8, isLast bool, size int) {
	v := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	return uint8(v >> 17), v&(1<<16) != 0, int(v & 0x3FFF)
}

func (d *dataPayload) serialize() []byte {
	var flags byte
	if len(d.ExplicitACKs) > 0 {
		flags |= dataFlagExplicitACKs
	}
	if len(d.Bitfields) > 0 {
		flags |= dataFlagACKBitfields
	}
	if d.WantReply {
		flags |= dataFlagWantReply
	}

	out := []byte{flags}
	if len(d.ExplicitACKs) > 0 {
		out = append(out, byte(len(d.ExplicitACKs)))
		for _, id := range d.ExplicitACKs {
			var u32 [4]byte
			binary.BigEndian.PutUint32(u32[:], id)
			out = append(out, u32[:]...)
		}
	}
	if len(d.Bitfields) > 0 {
		out = append(out, byte(len(d.Bitfields)))
		for _, bf := range d.Bitfields {
			var u32 [4]byte
			binary.BigEndian.PutUint32(u32[:], bf.MessageID)
			out = append(out, u32[:]...)
			out = append(out, encodeBitfield(bf.Bits)...)
		}
	}
	out = append(out, byte(len(d.Fragments)))
	for _, f := range d.Fragments {
		var u32 [4]byte
		binary.BigEndian.PutUint32(u32[:], f.MessageID)
		out = append(out, u32[:]...)
		info := fragmentInfo(f.Number, f.IsLast, len(f.Data))
		out = append(out, info[:]...)
		out = append(out, f.Data...)
	}
	return out
}

// encodeBitfield packs bits into 7-bit groups, high bit of each byte set
// while more groups follow.
func encodeBitfield(bits []bool) []byte {
	groups := (len(bits) + 6) / 7
	if groups == 0 {
		groups = 1
	}
	out := make([]byte, groups)
	for i, set := range bits {
		if set {
			out[i/7] |= 1 << uint(i%7)
		}
	}
	for i := 0; i < groups-1; i++ {
		out[i] |= 0x80
	}
	return out
}

func decodeBitfield(buf []byte) (bits []bool, consumed int, err error) {
	for {
		if consumed >= len(buf) {
			return nil, 0, xerrors.NewDecodeError("ack bitfield", nil)
		}
		b := buf[consumed]
		consumed++
		for i := 0; i < 7; i++ {
			bits = append(bits, b&(1<<uint(i)) != 0)
		}
		if b&0x80 == 0 {
			return bits, consumed, nil
		}
	}
}

func parseDataPayload(buf []byte) (*dataPayload, error) {
	if len(buf) < 1 {
		return nil, xerrors.NewDecodeError("data payload", nil)
	}
	d := &dataPayload{WantReply: buf[0]&dataFlagWantReply != 0}
	flags := buf[0]
	off := 1

	if flags&dataFlagExplicitACKs != 0 {
		if len(buf) < off+1 {
			return nil, xerrors.NewDecodeError("explicit ack count", nil)
		}
		count := int(buf[off])
		off++
		if len(buf) < off+4*count {
			return nil, xerrors.NewDecodeError("explicit acks", nil)
		}
		for i := 0; i < count; i++ {
			d.ExplicitACKs = append(d.ExplicitACKs, binary.BigEndian.Uint32(buf[off:off+4]))
			off += 4
		}
	}

	if flags&dataFlagACKBitfields != 0 {
		if len(buf) < off+1 {
			return nil, xerrors.NewDecodeError("ack bitfield count", nil)
		}
		count := int(buf[off])
		off++
		for i := 0; i < count; i++ {
			if len(buf) < off+4 {
				return nil, xerrors.NewDecodeError("ack bitfield message id", nil)
			}
			bf := ackBitfield{MessageID: binary.BigEndian.Uint32(buf[off : off+4])}
			off += 4
			bits, n, err := decodeBitfield(buf[off:])
			if err != nil {
				return nil, err
			}
			bf.Bits = bits
			off += n
			d.Bitfields = append(d.Bitfields, bf)
		}
	}

	if flags&dataFlagExtended != 0 {
		if len(buf) < off+1 || len(buf) < off+1+int(buf[off]) {
			return nil, xerrors.NewDecodeError("extended data", nil)
		}
		off += 1 + int(buf[off])
	}

	if len(buf) < off+1 {
		return nil, xerrors.NewDecodeError("fragment count", nil)
	}
	count := int(buf[off])
	off++
	for i := 0; i < count; i++ {
		if len(buf) < off+7 {
			return nil, xerrors.NewDecodeError("fragment header", nil)
		}
		f := fragment{MessageID: binary.BigEndian.Uint32(buf[off : off+4])}
		off += 4
		var size int
		f.Number, f.IsLast, size = parseFragmentInfo(buf[off : off+3])
		off += 3
		if len(buf) < off+size {
			return nil, xerrors.NewDecodeError("fragment data", nil)
		}
		f.Data = append([]byte(nil), buf[off:off+size]...)
		off += size
		d.Fragments = append(d.Fragments, f)
	}
	return d, nil
}

// incompleteMessage tracks a partially received fragmented message
//: fragments accepted so far in order, plus saved
// out-of-order fragments keyed by fragment number. The buffer is grown
// only through ordered appends; out-of-order data is held aside until
// its turn, so the assembled bytes are always contiguous.
type incompleteMessage struct {
	messageID    uint32
	nextFragment uint8
	lastInsert   time.Time
	buf          []byte
	saved        map[uint8]fragment
	complete     bool
}

// incompleteMessageTimeout destroys a reassembly entry that has not seen
// a fragment for this long.
const incompleteMessageTimeout = 30 * time.Second

func newIncompleteMessage(msgID uint32, sizeHint int) *incompleteMessage {
	return &incompleteMessage{
		messageID:  msgID,
		lastInsert: time.Now(),
		buf:        make([]byte, 0, sizeHint),
		saved:      make(map[uint8]fragment),
	}
}

// accept feeds one fragment. It returns done=true once the last fragment
// has been appended in order, and dup=true when the fragment precedes
// the reassembly cursor (already consumed; ACK but do not store).
func (im *incompleteMessage) accept(f fragment) (done, dup bool) {
	im.lastInsert = time.Now()
	switch {
	case f.Number < im.nextFragment:
		return im.complete, true
	case f.Number > im.nextFragment:
		im.saved[f.Number] = f
		return false, false
	}

	im.append(f)
	// Drain any saved fragments that are now in order.
	for {
		next, ok := im.saved[im.nextFragment]
		if !ok {
			break
		}
		delete(im.saved, im.nextFragment)
		im.append(next)
	}
	return im.complete, false
}

func (im *incompleteMessage) append(f fragment) {
	im.buf = append(im.buf, f.Data...)
	im.nextFragment = f.Number + 1
	if f.IsLast {
		im.complete = true
	}
}

// sentMessage tracks a transmitted message awaiting acknowledgment
//: one prebuilt resendable packet per fragment (cleared to
// nil when that fragment is ACKed), the next resend time, and the resend
// count.
type sentMessage struct {
	fragments   [][]byte // nil slot = ACKed
	nextResend  time.Time
	resendCount int
}

const (
	resendInterval   = 3 * time.Second
	maxResendCount   = 5
	recentMessageCap = 1000
	recentMessageAge = 20 * time.Second
)

// allAcked reports whether every fragment slot has been cleared.
func (sm *sentMessage) allAcked() bool {
	for _, f := range sm.fragments {
		if f != nil {
			return false
		}
	}
	return true
}

// applyBitfield clears the fragment slots the peer's bitfield covers.
func (sm *sentMessage) applyBitfield(bits []bool) {
	for i, acked := range bits {
		if acked && i < len(sm.fragments) {
			sm.fragments[i] = nil
		}
	}
}
