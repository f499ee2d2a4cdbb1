// Package peer implements the peer manager: the
// identity-hash-keyed peer map, per-peer sessions, the DH keypair pool,
// and the IP ban list, each guarded by its own mutex.
package peer

import (
	"sync"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateUnknown State = iota
	StateIntroduced
	StateEstablished
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateIntroduced:
		return "introduced"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown-state"
	}
}

// Transport is the minimum a stream or datagram session implementation
// must offer the peer manager: enqueue messages for the wire and tear the
// connection down. NTCP and SSU sessions each satisfy this.
type Transport interface {
	Send(msgs []*i2np.Message) error
	Close() error
	RemoteAddr() string
}

// Session is one peer-per-transport connection.
// Created by the peer manager, destroyed on timeout, failure, or
// graceful close.
type Session struct {
	mu sync.RWMutex

	state     State
	aesKey    [32]byte
	macKey    [32]byte
	createdAt time.Time

	bytesSent uint64
	bytesRecv uint64

	remoteIdentity *identity.Identity
	transport      Transport
}

// NewSession constructs a Session in the established state, wrapping an
// already-completed transport handshake.
func NewSession(remote *identity.Identity, aesKey, macKey [32]byte, transport Transport) *Session {
	return &Session{
		state:          StateEstablished,
		aesKey:         aesKey,
		macKey:         macKey,
		createdAt:      time.Now(),
		remoteIdentity: remote,
		transport:      transport,
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// RemoteIdentity returns the peer identity this session authenticated.
func (s *Session) RemoteIdentity() *identity.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteIdentity
}

// AESKey and MACKey return the session's derived symmetric keys.
func (s *Session) AESKey() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aesKey
}

func (s *Session) MACKey() [32]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.macKey
}

// Send forwards messages to the wire in caller-submission order.
func (s *Session) Send(msgs []*i2np.Message) error {
	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return nil
	}
	if err := t.Send(msgs); err != nil {
		return err
	}
	var n uint64
	for _, m := range msgs {
		n += uint64(i2np.HeaderSize + len(m.Payload))
	}
	s.mu.Lock()
	s.bytesSent += n
	s.mu.Unlock()
	return nil
}

// RecordReceived adds n bytes to the session's receive counter.
func (s *Session) RecordReceived(n uint64) {
	s.mu.Lock()
	s.bytesRecv += n
	s.mu.Unlock()
}

// Counters returns the session's cumulative send/receive byte counts.
func (s *Session) Counters() (sent, recv uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytesSent, s.bytesRecv
}

// Close transitions the session to closed and tears down its transport.
// After Close no further message is delivered upward from this session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	t := s.transport
	s.mu.Unlock()
	if t != nil {
		return t.Close()
	}
	return nil
}
