package peer

import (
	"github.com/go-i2p/go-i2p-core/lib/crypto"
)

// dhPoolSize is the number of precomputed DH keypairs the producer keeps
// warm.
const dhPoolSize = 5

// DHPool hands out precomputed DH keypairs to handshake initiators so the
// modexp cost is paid off the reactor thread. Finished keypairs are not
// taken back or reused.
type DHPool struct {
	ch chan *crypto.DHKeyPair
}

// NewDHPool starts the background producer and returns the pool.
func NewDHPool() *DHPool {
	p := &DHPool{ch: make(chan *crypto.DHKeyPair, dhPoolSize)}
	go p.produce()
	return p
}

func (p *DHPool) produce() {
	for {
		kp, err := crypto.GenerateDHKeyPair()
		if err != nil {
			continue
		}
		p.ch <- kp
	}
}

// Acquire draws a precomputed keypair, generating one inline if the pool
// is momentarily empty.
func (p *DHPool) Acquire() (*crypto.DHKeyPair, error) {
	select {
	case kp := <-p.ch:
		return kp, nil
	default:
		return crypto.GenerateDHKeyPair()
	}
}

// Return marks the end of a handshake's use of its keypair. It takes no
// keypair and does nothing: nothing goes back to the pool, and the
// producer keeps generating fresh pairs.
func (p *DHPool) Return() {
	// The producer always generates fresh pairs; Return exists to
	// document the move-only hand-off, and gives a seam for a future
	// pool that recycles the big.Int allocation.
}
