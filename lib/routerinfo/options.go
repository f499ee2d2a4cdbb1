// Package routerinfo implements the router-info and lease-set records,
// their fixed byte-layout codec, and address-compatibility rules.
package routerinfo

import (
	"encoding/binary"
	"sort"
	"strings"

	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// encodeOptions serializes a key=value map as length-prefixed UTF-8
// pairs separated by ';', with a leading uint16 length for the whole
// block. Keys are sorted for a deterministic, round-trippable
// encoding.
func encodeOptions(opts map[string]string) []byte {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var body strings.Builder
	for i, k := range keys {
		if i > 0 {
			body.WriteByte(';')
		}
		body.WriteString(k)
		body.WriteByte('=')
		body.WriteString(opts[k])
	}

	raw := []byte(body.String())
	out := make([]byte, 2+len(raw))
	binary.BigEndian.PutUint16(out, uint16(len(raw)))
	copy(out[2:], raw)
	return out
}

// decodeOptions is the inverse of encodeOptions, returning the map and the
// number of bytes consumed from buf.
func decodeOptions(buf []byte) (map[string]string, int, error) {
	if len(buf) < 2 {
		return nil, 0, xerrors.NewDecodeError("options length", nil)
	}
	length := int(binary.BigEndian.Uint16(buf))
	if len(buf) < 2+length {
		return nil, 0, xerrors.NewDecodeError("options body", nil)
	}
	opts := make(map[string]string)
	raw := string(buf[2 : 2+length])
	if raw != "" {
		for _, pair := range strings.Split(raw, ";") {
			eq := strings.IndexByte(pair, '=')
			if eq < 0 {
				return nil, 0, xerrors.NewDecodeError("options pair", nil)
			}
			opts[pair[:eq]] = pair[eq+1:]
		}
	}
	return opts, 2 + length, nil
}
