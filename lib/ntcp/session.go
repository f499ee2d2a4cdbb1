package ntcp

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/peer"
)

// terminationTimeout is how long a stream session tolerates silence
// before it is torn down.
const terminationTimeout = 120 * time.Second

// timeSyncInterval is how often a session sends an empty time-sync
// frame to let the peer keep its clock-skew estimate current.
const timeSyncInterval = 10 * time.Minute

// lengthFieldSize, checksumSize frame a steady-state NTCP message:
// uint16 length ‖ payload ‖ Adler-32(payload), padded to a block.
const (
	lengthFieldSize = 2
	checksumSize    = 4
)

// Session is an established NTCP connection: a continuing AES-CBC
// stream cipher pair in each direction carrying length-prefixed,
// Adler-32-trailed frames.
type Session struct {
	conn           net.Conn
	remoteIdentity *identity.Identity
	aesKey         [crypto.SessionKeySize]byte

	writeMu   sync.Mutex
	encryptor cipher.BlockMode
	pending   [][]byte // frames queued while a write is already in flight
	writing   bool

	readMu    sync.Mutex
	decryptor cipher.BlockMode
	readBuf   []byte

	closeOnce sync.Once
	closed    chan struct{}

	bans *peer.BanList
	log  *logrus.Entry

	lastActivity atomic.Int64 // unix nanos

	onMessage func(*i2np.Message)
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func newSession(conn net.Conn, remoteIdentity *identity.Identity, aesKey [crypto.SessionKeySize]byte, encryptor, decryptor cipher.BlockMode) *Session {
	s := &Session{
		conn:           conn,
		remoteIdentity: remoteIdentity,
		aesKey:         aesKey,
		encryptor:      encryptor,
		decryptor:      decryptor,
		closed:         make(chan struct{}),
		log:            logrus.WithField("component", "ntcp-session").WithField("remote", conn.RemoteAddr().String()),
	}
	s.touch()
	return s
}

// SetBanList attaches the ban list the read loop reports protocol
// violations to.
func (s *Session) SetBanList(b *peer.BanList) { s.bans = b }

// OnMessage installs the callback the read loop delivers decoded I2NP
// messages to. Must be set before Serve is called.
func (s *Session) OnMessage(fn func(*i2np.Message)) { s.onMessage = fn }

// RemoteAddr satisfies peer.Transport.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// RemoteIdentity returns the authenticated peer identity.
func (s *Session) RemoteIdentity() *identity.Identity { return s.remoteIdentity }

// AESKey returns the session key derived during the handshake.
func (s *Session) AESKey() [crypto.SessionKeySize]byte { return s.aesKey }

// Send frames and writes each message in submission order, gathering
// any messages submitted while a write is already in flight into the
// next single write.
func (s *Session) Send(msgs []*i2np.Message) error {
	frames := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		payload, err := m.Serialize()
		if err != nil {
			return err
		}
		frames = append(frames, s.frame(payload))
	}

	s.writeMu.Lock()
	if s.writing {
		s.pending = append(s.pending, frames...)
		s.writeMu.Unlock()
		return nil
	}
	s.writing = true
	toWrite := append(s.pending, frames...)
	s.pending = nil
	s.writeMu.Unlock()

	return s.drainWrites(toWrite)
}

func (s *Session) drainWrites(frames [][]byte) error {
	for {
		var buf []byte
		for _, f := range frames {
			buf = append(buf, f...)
		}
		if _, err := s.conn.Write(buf); err != nil {
			s.writeMu.Lock()
			s.writing = false
			s.pending = nil
			s.writeMu.Unlock()
			return err
		}
		s.touch()

		s.writeMu.Lock()
		if len(s.pending) == 0 {
			s.writing = false
			s.writeMu.Unlock()
			return nil
		}
		frames = s.pending
		s.pending = nil
		s.writeMu.Unlock()
	}
}

// frame encrypts payload ‖ Adler-32(payload), length-prefixed and
// padded to a block boundary, continuing this direction's cipher
// stream.
func (s *Session) frame(payload []byte) []byte {
	body := make([]byte, lengthFieldSize, lengthFieldSize+len(payload)+checksumSize)
	binary.BigEndian.PutUint16(body, uint16(len(payload)))
	body = append(body, payload...)
	var sumBuf [checksumSize]byte
	binary.BigEndian.PutUint32(sumBuf[:], crypto.Adler32(payload))
	body = append(body, sumBuf[:]...)

	padded := crypto.PadTo16(body)
	out := make([]byte, len(padded))
	s.writeMu.Lock()
	s.encryptor.CryptBlocks(out, padded)
	s.writeMu.Unlock()
	return out
}

// timeSyncFrame is a length=0 frame whose "payload" is the 4-byte
// current Unix time, used to keep the peer's clock-skew estimate fresh
// without carrying an I2NP message.
func (s *Session) timeSyncFrame() []byte {
	body := make([]byte, lengthFieldSize, lengthFieldSize+4+checksumSize)
	binary.BigEndian.PutUint16(body, 0)
	var tsBuf [4]byte
	binary.BigEndian.PutUint32(tsBuf[:], uint32(time.Now().Unix()))
	body = append(body, tsBuf[:]...)
	var sumBuf [checksumSize]byte
	binary.BigEndian.PutUint32(sumBuf[:], crypto.Adler32(tsBuf[:]))
	body = append(body, sumBuf[:]...)

	padded := crypto.PadTo16(body)
	out := make([]byte, len(padded))
	s.writeMu.Lock()
	s.encryptor.CryptBlocks(out, padded)
	s.writeMu.Unlock()
	return out
}

// Serve runs the session's read loop until the connection closes, a
// framing error bans the peer, or the inactivity timer expires. It
// blocks the calling goroutine; callers run it via go session.Serve().
func (s *Session) Serve() {
	defer s.Close()

	idleCheck := time.NewTicker(terminationTimeout / 4)
	defer idleCheck.Stop()
	syncTicker := time.NewTicker(timeSyncInterval)
	defer syncTicker.Stop()

	frameErr := make(chan error, 1)
	go s.readLoop(frameErr)

	for {
		select {
		case <-s.closed:
			return
		case err := <-frameErr:
			if err != nil {
				s.banRemote()
			}
			return
		case <-idleCheck.C:
			last := time.Unix(0, s.lastActivity.Load())
			if time.Since(last) > terminationTimeout {
				return
			}
		case <-syncTicker.C:
			s.writeMu.Lock()
			writing := s.writing
			s.writeMu.Unlock()
			if !writing {
				_, _ = s.conn.Write(s.timeSyncFrame())
			}
		}
	}
}

func (s *Session) banRemote() {
	if s.bans == nil {
		return
	}
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		host = s.conn.RemoteAddr().String()
	}
	s.bans.Ban(host)
}

// readLoop decrypts steady-state frames one block at a time, handing
// complete messages to onMessage, and reports a non-nil error on the
// channel only for protocol violations (checksum mismatch, oversized
// frame) that should ban the peer; a clean EOF reports nil.
func (s *Session) readLoop(done chan<- error) {
	block := make([]byte, crypto.BlockSize)
	for {
		if _, err := readInto(s.conn, block); err != nil {
			done <- nil
			return
		}
		s.touch()
		plain := make([]byte, crypto.BlockSize)
		s.readMu.Lock()
		s.decryptor.CryptBlocks(plain, block)
		s.readBuf = append(s.readBuf, plain...)
		s.readMu.Unlock()

		for {
			frame, consumed, ok, err := s.tryParseFrame()
			if err != nil {
				done <- err
				return
			}
			if !ok {
				break
			}
			s.readMu.Lock()
			s.readBuf = s.readBuf[consumed:]
			s.readMu.Unlock()
			if frame != nil && s.onMessage != nil {
				s.onMessage(frame)
			}
		}
	}
}

// tryParseFrame attempts to pull one complete frame out of readBuf. It
// returns ok=false when more blocks are needed. A length of 0 is a
// time-sync frame and yields a nil message with ok=true.
func (s *Session) tryParseFrame() (*i2np.Message, int, bool, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(s.readBuf) < lengthFieldSize {
		return nil, 0, false, nil
	}
	length := int(binary.BigEndian.Uint16(s.readBuf[:lengthFieldSize]))
	if length > i2np.MaxMessageSize {
		return nil, 0, false, fmt.Errorf("ntcp: frame length %d exceeds maximum", length)
	}
	total := paddedLen(lengthFieldSize + length + checksumSize)
	if len(s.readBuf) < total {
		return nil, 0, false, nil
	}

	payload := s.readBuf[lengthFieldSize : lengthFieldSize+length]
	wantSum := binary.BigEndian.Uint32(s.readBuf[lengthFieldSize+length : lengthFieldSize+length+checksumSize])
	if crypto.Adler32(payload) != wantSum {
		return nil, 0, false, fmt.Errorf("ntcp: adler32 mismatch")
	}

	if length == 0 {
		return nil, total, true, nil
	}
	msg, err := i2np.Parse(payload)
	if err != nil {
		return nil, 0, false, err
	}
	return msg, total, true, nil
}

func readInto(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Close idempotently tears down the connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

var _ peer.Transport = (*Session)(nil)
