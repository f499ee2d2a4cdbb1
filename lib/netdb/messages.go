package netdb

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// Database-store entry types.
const (
	storeTypeRouterInfo uint8 = 0
	storeTypeLeaseSet   uint8 = 1
)

// databaseStore is the decoded payload of an I2NP database-store: the
// key, an optional reply token (with the tunnel/gateway a
// delivery-status should travel back through), and the stored record.
// Router-infos travel gzip-compressed with a length prefix
//; lease sets travel raw.
type databaseStore struct {
	Key          [crypto.HashSize]byte
	EntryType    uint8
	ReplyToken   uint32
	ReplyTunnel  uint32
	ReplyGateway [crypto.HashSize]byte
	Data         []byte // decompressed record bytes
}

func (ds *databaseStore) serialize() ([]byte, error) {
	out := make([]byte, 0, crypto.HashSize+9+len(ds.Data))
	out = append(out, ds.Key[:]...)
	out = append(out, ds.EntryType)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], ds.ReplyToken)
	out = append(out, u32[:]...)
	if ds.ReplyToken != 0 {
		binary.BigEndian.PutUint32(u32[:], ds.ReplyTunnel)
		out = append(out, u32[:]...)
		out = append(out, ds.ReplyGateway[:]...)
	}

	if ds.EntryType == storeTypeRouterInfo {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(ds.Data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		var u16 [2]byte
		binary.BigEndian.PutUint16(u16[:], uint16(zbuf.Len()))
		out = append(out, u16[:]...)
		out = append(out, zbuf.Bytes()...)
	} else {
		out = append(out, ds.Data...)
	}
	return out, nil
}

func parseDatabaseStore(buf []byte) (*databaseStore, error) {
	if len(buf) < crypto.HashSize+5 {
		return nil, xerrors.NewDecodeError("database store", nil)
	}
	ds := &databaseStore{}
	copy(ds.Key[:], buf[:crypto.HashSize])
	off := crypto.HashSize
	ds.EntryType = buf[off]
	off++
	ds.ReplyToken = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	if ds.ReplyToken != 0 {
		if len(buf) < off+4+crypto.HashSize {
			return nil, xerrors.NewDecodeError("database store reply", nil)
		}
		ds.ReplyTunnel = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
		copy(ds.ReplyGateway[:], buf[off:off+crypto.HashSize])
		off += crypto.HashSize
	}

	if ds.EntryType == storeTypeRouterInfo {
		if len(buf) < off+2 {
			return nil, xerrors.NewDecodeError("database store length", nil)
		}
		zlen := int(binary.BigEndian.Uint16(buf[off : off+2]))
		off += 2
		if len(buf) < off+zlen {
			return nil, xerrors.NewDecodeError("database store body", nil)
		}
		zr, err := gzip.NewReader(bytes.NewReader(buf[off : off+zlen]))
		if err != nil {
			return nil, xerrors.NewDecodeError("database store gzip", err)
		}
		data, err := io.ReadAll(io.LimitReader(zr, 64*1024))
		zr.Close()
		if err != nil {
			return nil, xerrors.NewDecodeError("database store gzip body", err)
		}
		ds.Data = data
	} else {
		ds.Data = append([]byte(nil), buf[off:]...)
	}
	return ds, nil
}

// Database-lookup flag bits.
const (
	lookupFlagTunnelReply    = 0x01
	lookupFlagExploratory    = 0x02
	lookupFlagEncryptedReply = 0x04
)

// databaseLookup is the decoded payload of an I2NP database-lookup: the
// target key, the caller to reply to, an exclusion list, and optional
// tunnel-reply routing and garlic-encryption material.
type databaseLookup struct {
	Key         [crypto.HashSize]byte
	From        [crypto.HashSize]byte
	Exploratory bool
	ReplyTunnel uint32 // 0 = reply direct
	Excluded    [][crypto.HashSize]byte
	SessionKey  [crypto.SessionKeySize]byte // garlic-encrypted reply
	SessionTag  [32]byte
	Encrypted   bool
}

func (dl *databaseLookup) serialize() []byte {
	out := make([]byte, 0, 2*crypto.HashSize+7+len(dl.Excluded)*crypto.HashSize)
	out = append(out, dl.Key[:]...)
	out = append(out, dl.From[:]...)
	var flags byte
	if dl.ReplyTunnel != 0 {
		flags |= lookupFlagTunnelReply
	}
	if dl.Exploratory {
		flags |= lookupFlagExploratory
	}
	if dl.Encrypted {
		flags |= lookupFlagEncryptedReply
	}
	out = append(out, flags)
	if dl.ReplyTunnel != 0 {
		var u32 [4]byte
		binary.BigEndian.PutUint32(u32[:], dl.ReplyTunnel)
		out = append(out, u32[:]...)
	}
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(dl.Excluded)))
	out = append(out, count[:]...)
	for _, h := range dl.Excluded {
		out = append(out, h[:]...)
	}
	if dl.Encrypted {
		out = append(out, dl.SessionKey[:]...)
		out = append(out, dl.SessionTag[:]...)
	}
	return out
}

func parseDatabaseLookup(buf []byte) (*databaseLookup, error) {
	if len(buf) < 2*crypto.HashSize+3 {
		return nil, xerrors.NewDecodeError("database lookup", nil)
	}
	dl := &databaseLookup{}
	copy(dl.Key[:], buf[:crypto.HashSize])
	copy(dl.From[:], buf[crypto.HashSize:2*crypto.HashSize])
	off := 2 * crypto.HashSize
	flags := buf[off]
	off++
	dl.Exploratory = flags&lookupFlagExploratory != 0
	dl.Encrypted = flags&lookupFlagEncryptedReply != 0
	if flags&lookupFlagTunnelReply != 0 {
		if len(buf) < off+4 {
			return nil, xerrors.NewDecodeError("database lookup tunnel", nil)
		}
		dl.ReplyTunnel = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	if len(buf) < off+2 {
		return nil, xerrors.NewDecodeError("database lookup excluded count", nil)
	}
	count := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf) < off+count*crypto.HashSize {
		return nil, xerrors.NewDecodeError("database lookup excluded", nil)
	}
	for i := 0; i < count; i++ {
		var h [crypto.HashSize]byte
		copy(h[:], buf[off:off+crypto.HashSize])
		dl.Excluded = append(dl.Excluded, h)
		off += crypto.HashSize
	}
	if dl.Encrypted {
		if len(buf) < off+crypto.SessionKeySize+32 {
			return nil, xerrors.NewDecodeError("database lookup session key", nil)
		}
		copy(dl.SessionKey[:], buf[off:off+crypto.SessionKeySize])
		off += crypto.SessionKeySize
		copy(dl.SessionTag[:], buf[off:off+32])
	}
	return dl, nil
}

// databaseSearchReply is the decoded payload of an I2NP
// database-search-reply: the key that was not found, closer peers to
// ask, and the replying router.
type databaseSearchReply struct {
	Key    [crypto.HashSize]byte
	Hashes [][crypto.HashSize]byte
	From   [crypto.HashSize]byte
}

func (sr *databaseSearchReply) serialize() []byte {
	out := make([]byte, 0, 2*crypto.HashSize+1+len(sr.Hashes)*crypto.HashSize)
	out = append(out, sr.Key[:]...)
	out = append(out, byte(len(sr.Hashes)))
	for _, h := range sr.Hashes {
		out = append(out, h[:]...)
	}
	out = append(out, sr.From[:]...)
	return out
}

func parseDatabaseSearchReply(buf []byte) (*databaseSearchReply, error) {
	if len(buf) < crypto.HashSize+1+crypto.HashSize {
		return nil, xerrors.NewDecodeError("database search reply", nil)
	}
	sr := &databaseSearchReply{}
	copy(sr.Key[:], buf[:crypto.HashSize])
	count := int(buf[crypto.HashSize])
	off := crypto.HashSize + 1
	if len(buf) < off+count*crypto.HashSize+crypto.HashSize {
		return nil, xerrors.NewDecodeError("database search reply hashes", nil)
	}
	for i := 0; i < count; i++ {
		var h [crypto.HashSize]byte
		copy(h[:], buf[off:off+crypto.HashSize])
		sr.Hashes = append(sr.Hashes, h)
		off += crypto.HashSize
	}
	copy(sr.From[:], buf[off:off+crypto.HashSize])
	return sr, nil
}
