package netdb

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/routerinfo"
)

// Storage is the on-disk router-info store: netDb/rXX/router_info_<b64>.dat,
// where XX is the first two Base64 characters of the identity hash,
// always lowercased. Lowercasing picks one canonical bucket name so
// case-insensitive filesystems never need the historical uppercase/
// lowercase split subtrees.
type Storage struct {
	root string
}

// NewStorage creates the netDb directory under dataDir if needed.
func NewStorage(dataDir string) (*Storage, error) {
	root := filepath.Join(dataDir, "netDb")
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	return &Storage{root: root}, nil
}

func bucketName(b64 string) string {
	if len(b64) < 2 {
		return "r--"
	}
	return "r" + strings.ToLower(b64[:2])
}

func (s *Storage) pathFor(hash [crypto.HashSize]byte) string {
	b64 := crypto.Base64Encode(hash[:])
	return filepath.Join(s.root, bucketName(b64), "router_info_"+b64+".dat")
}

// Save writes a router-info atomically: temp file in the bucket, then
// rename.
func (s *Storage) Save(ri *routerinfo.RouterInfo) error {
	path := s.pathFor(ri.Identity.Hash())
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, ri.SaveTo(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads one stored router-info by hash.
func (s *Storage) Load(hash [crypto.HashSize]byte) (*routerinfo.RouterInfo, error) {
	buf, err := os.ReadFile(s.pathFor(hash))
	if err != nil {
		return nil, err
	}
	return routerinfo.LoadFrom(buf)
}

// Remove deletes one stored router-info.
func (s *Storage) Remove(hash [crypto.HashSize]byte) error {
	err := os.Remove(s.pathFor(hash))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// LoadAll walks every bucket and parses every stored router-info,
// skipping files that fail to parse (a bad file leaves prior state
// unchanged).
func (s *Storage) LoadAll() ([]*routerinfo.RouterInfo, error) {
	var out []*routerinfo.RouterInfo
	buckets, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	for _, bucket := range buckets {
		if !bucket.IsDir() || !strings.HasPrefix(bucket.Name(), "r") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, bucket.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasPrefix(f.Name(), "router_info_") || !strings.HasSuffix(f.Name(), ".dat") {
				continue
			}
			buf, err := os.ReadFile(filepath.Join(s.root, bucket.Name(), f.Name()))
			if err != nil {
				continue
			}
			ri, err := routerinfo.LoadFrom(buf)
			if err != nil {
				continue
			}
			out = append(out, ri)
		}
	}
	return out, nil
}
