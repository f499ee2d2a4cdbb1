// Package netdb implements the network database: the
// router-info and lease-set stores, Kademlia XOR routing over day-salted
// routing keys, the flood-fill set, pending exploratory lookups, and
// per-peer profiles.
package netdb

import (
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
)

// RoutingKey derives the Kademlia routing key for an identity hash:
// SHA-256(hash ‖ current-day-string). The day salt rotates every
// router's neighborhood daily.
func RoutingKey(hash [crypto.HashSize]byte, day time.Time) [crypto.HashSize]byte {
	return crypto.SHA256Concat(hash[:], []byte(day.UTC().Format("20060102")))
}

// closerTo reports whether a's routing key is strictly closer to target
// than b's, under the XOR distance metric.
func closerTo(target, a, b [crypto.HashSize]byte) bool {
	return crypto.LessDistance(crypto.XORHash(a, target), crypto.XORHash(b, target))
}

// candidate pairs an identity hash with its precomputed routing key for
// one selection pass.
type candidate struct {
	hash [crypto.HashSize]byte
	key  [crypto.HashSize]byte
}

// selectClosest returns up to n hashes from candidates, closest first
// by XOR distance of routing key to target, skipping excluded hashes.
// The set is scanned on demand rather than kept sorted; n is always
// small.
func selectClosest(target [crypto.HashSize]byte, candidates []candidate, n int, excluded map[[crypto.HashSize]byte]bool) [][crypto.HashSize]byte {
	var out [][crypto.HashSize]byte
	taken := make(map[[crypto.HashSize]byte]bool, n)
	for len(out) < n {
		var best *candidate
		for i := range candidates {
			c := &candidates[i]
			if taken[c.hash] || (excluded != nil && excluded[c.hash]) {
				continue
			}
			if best == nil || closerTo(target, c.key, best.key) {
				best = c
			}
		}
		if best == nil {
			break
		}
		taken[best.hash] = true
		out = append(out, best.hash)
	}
	return out
}
