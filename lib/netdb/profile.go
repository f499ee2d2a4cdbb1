package netdb

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
)

// profileExpiry drops profiles untouched for this long.
const profileExpiry = 72 * time.Hour

// profileCacheSize bounds the in-memory profile cache in front of the
// on-disk store.
const profileCacheSize = 4096

// Profile is one peer's accumulated behavior record:
// tunnel-participation counters and usage counters.
type Profile struct {
	mu sync.Mutex

	hash [crypto.HashSize]byte

	TunnelsAgreed     uint64
	TunnelsDeclined   uint64
	TunnelsNonReplied uint64
	TimesTaken        uint64
	TimesRejected     uint64

	LastUpdate time.Time
}

// TunnelAgreed records a successful tunnel-build participation.
func (p *Profile) TunnelAgreed() {
	p.mu.Lock()
	p.TunnelsAgreed++
	p.LastUpdate = time.Now()
	p.mu.Unlock()
}

// TunnelDeclined records a declined tunnel build.
func (p *Profile) TunnelDeclined() {
	p.mu.Lock()
	p.TunnelsDeclined++
	p.LastUpdate = time.Now()
	p.mu.Unlock()
}

// TunnelNonReplied records a tunnel-build request the peer never
// answered.
func (p *Profile) TunnelNonReplied() {
	p.mu.Lock()
	p.TunnelsNonReplied++
	p.LastUpdate = time.Now()
	p.mu.Unlock()
}

// Taken records the peer being selected for use.
func (p *Profile) Taken() {
	p.mu.Lock()
	p.TimesTaken++
	p.LastUpdate = time.Now()
	p.mu.Unlock()
}

// IsBad reports whether the peer has misbehaved enough to avoid:
// agreed = 0 and declined >= 5, or declined > 4*agreed. A true result
// increments the reject counter; a peer whose rejects have outrun its
// takes by 10x is reset rather than condemned forever.
func (p *Profile) IsBad() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	bad := (p.TunnelsAgreed == 0 && p.TunnelsDeclined >= 5) ||
		p.TunnelsDeclined > 4*p.TunnelsAgreed
	if !bad {
		return false
	}
	p.TimesRejected++
	p.LastUpdate = time.Now()
	if p.TimesRejected > 10*p.TimesTaken && p.TimesTaken > 0 {
		p.TunnelsAgreed = 0
		p.TunnelsDeclined = 0
		p.TunnelsNonReplied = 0
		p.TimesRejected = 0
		return false
	}
	return true
}

// ProfileStore persists profiles under
// peerProfiles/pXX/profile-<base64-hash>.txt, with an LRU cache in front
// of the disk path. Profiles load lazily on first reference and save on
// shutdown.
type ProfileStore struct {
	root  string
	cache *lru.Cache[[crypto.HashSize]byte, *Profile]
}

// NewProfileStore creates the profile directory under dataDir.
func NewProfileStore(dataDir string) (*ProfileStore, error) {
	root := filepath.Join(dataDir, "peerProfiles")
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	cache, err := lru.New[[crypto.HashSize]byte, *Profile](profileCacheSize)
	if err != nil {
		return nil, err
	}
	return &ProfileStore{root: root, cache: cache}, nil
}

func (ps *ProfileStore) pathFor(hash [crypto.HashSize]byte) string {
	b64 := crypto.Base64Encode(hash[:])
	bucket := "p--"
	if len(b64) >= 2 {
		bucket = "p" + strings.ToLower(b64[:2])
	}
	return filepath.Join(ps.root, bucket, "profile-"+b64+".txt")
}

// Get returns the profile for hash, loading it from disk on first
// reference and creating a fresh one if none is stored.
func (ps *ProfileStore) Get(hash [crypto.HashSize]byte) *Profile {
	if p, ok := ps.cache.Get(hash); ok {
		return p
	}
	p := ps.load(hash)
	if p == nil {
		p = &Profile{hash: hash, LastUpdate: time.Now()}
	}
	ps.cache.Add(hash, p)
	return p
}

func (ps *ProfileStore) load(hash [crypto.HashSize]byte) *Profile {
	f, err := os.Open(ps.pathFor(hash))
	if err != nil {
		return nil
	}
	defer f.Close()

	p := &Profile{hash: hash}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key, val := line[:eq], line[eq+1:]
		switch key {
		case "agreed":
			p.TunnelsAgreed, _ = strconv.ParseUint(val, 10, 64)
		case "declined":
			p.TunnelsDeclined, _ = strconv.ParseUint(val, 10, 64)
		case "nonreplied":
			p.TunnelsNonReplied, _ = strconv.ParseUint(val, 10, 64)
		case "taken":
			p.TimesTaken, _ = strconv.ParseUint(val, 10, 64)
		case "rejected":
			p.TimesRejected, _ = strconv.ParseUint(val, 10, 64)
		case "lastupdatetime":
			p.LastUpdate, _ = time.Parse(time.RFC3339, val)
		}
	}
	if time.Since(p.LastUpdate) > profileExpiry {
		_ = os.Remove(ps.pathFor(hash))
		return nil
	}
	return p
}

// Save writes one profile atomically (temp file, then rename).
func (ps *ProfileStore) Save(p *Profile) error {
	p.mu.Lock()
	body := fmt.Sprintf(
		"lastupdatetime=%s\n[participation]\nagreed=%d\ndeclined=%d\nnonreplied=%d\n[usage]\ntaken=%d\nrejected=%d\n",
		p.LastUpdate.UTC().Format(time.RFC3339),
		p.TunnelsAgreed, p.TunnelsDeclined, p.TunnelsNonReplied,
		p.TimesTaken, p.TimesRejected,
	)
	hash := p.hash
	p.mu.Unlock()

	path := ps.pathFor(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveAll flushes every cached profile, called on shutdown.
func (ps *ProfileStore) SaveAll() {
	for _, hash := range ps.cache.Keys() {
		if p, ok := ps.cache.Peek(hash); ok {
			_ = ps.Save(p)
		}
	}
}
