package routerinfo

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// Transport style tags.
const (
	StyleStream   = "NTCP"
	StyleDatagram = "SSU"
)

// Introducer is one entry in a firewalled router's introducer list:
// a reachable helper that can relay a hole-punch on its behalf.
type Introducer struct {
	Host string
	Port uint16
	Key  [32]byte
	Tag  uint32
}

// Address is one published way to reach a router: a transport style, an
// endpoint, and transport-specific options (MTU, intro key, introducers)
// carried in a generic options map so the fixed byte layout does not need
// a distinct shape per style.
type Address struct {
	Style       string
	Cost        uint8
	Expiration  uint64
	Host        string
	Port        uint16
	MTU         uint16 // datagram only; 0 = unset
	IntroKey    [32]byte
	HasIntroKey bool
	Introducers []Introducer
}

// IP parses Host as an IP address; ok is false for hostnames, which
// need asynchronous DNS resolution before dialing.
func (a Address) IP() (ip net.IP, ok bool) {
	ip = net.ParseIP(a.Host)
	return ip, ip != nil
}

// Compatible reports whether two addresses can be used together: same
// transport style, and if both resolve to literal IPs, matching address
// families.
func (a Address) Compatible(b Address) bool {
	if a.Style != b.Style {
		return false
	}
	ipA, okA := a.IP()
	ipB, okB := b.IP()
	if !okA || !okB {
		return true
	}
	return (ipA.To4() != nil) == (ipB.To4() != nil)
}

func (a Address) serialize() []byte {
	opts := map[string]string{
		"host": a.Host,
		"port": strconv.Itoa(int(a.Port)),
	}
	if a.MTU != 0 {
		opts["mtu"] = strconv.Itoa(int(a.MTU))
	}
	if a.HasIntroKey {
		opts["key"] = fmt.Sprintf("%x", a.IntroKey[:])
	}
	for i, in := range a.Introducers {
		opts[fmt.Sprintf("ihost%d", i)] = in.Host
		opts[fmt.Sprintf("iport%d", i)] = strconv.Itoa(int(in.Port))
		opts[fmt.Sprintf("ikey%d", i)] = fmt.Sprintf("%x", in.Key[:])
		opts[fmt.Sprintf("itag%d", i)] = strconv.FormatUint(uint64(in.Tag), 10)
	}

	styleBytes := []byte(a.Style)
	out := make([]byte, 0, 1+8+1+len(styleBytes)+32)
	out = append(out, a.Cost)
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], a.Expiration)
	out = append(out, exp[:]...)
	out = append(out, byte(len(styleBytes)))
	out = append(out, styleBytes...)
	out = append(out, encodeOptions(opts)...)
	return out
}

func parseAddress(buf []byte) (Address, int, error) {
	if len(buf) < 10 {
		return Address{}, 0, xerrors.NewDecodeError("address header", nil)
	}
	a := Address{}
	a.Cost = buf[0]
	a.Expiration = binary.BigEndian.Uint64(buf[1:9])
	styleLen := int(buf[9])
	off := 10
	if len(buf) < off+styleLen {
		return Address{}, 0, xerrors.NewDecodeError("address style", nil)
	}
	a.Style = string(buf[off : off+styleLen])
	off += styleLen

	opts, n, err := decodeOptions(buf[off:])
	if err != nil {
		return Address{}, 0, err
	}
	off += n

	a.Host = opts["host"]
	if p, err := strconv.Atoi(opts["port"]); err == nil {
		a.Port = uint16(p)
	}
	if m, ok := opts["mtu"]; ok {
		if v, err := strconv.Atoi(m); err == nil {
			a.MTU = uint16(v)
		}
	}
	if k, ok := opts["key"]; ok {
		var raw [32]byte
		if _, err := fmt.Sscanf(k, "%x", &raw); err == nil {
			a.IntroKey = raw
			a.HasIntroKey = true
		}
	}
	for i := 0; ; i++ {
		host, ok := opts[fmt.Sprintf("ihost%d", i)]
		if !ok {
			break
		}
		in := Introducer{Host: host}
		if p, err := strconv.Atoi(opts[fmt.Sprintf("iport%d", i)]); err == nil {
			in.Port = uint16(p)
		}
		if k, ok := opts[fmt.Sprintf("ikey%d", i)]; ok {
			var raw [32]byte
			if _, err := fmt.Sscanf(k, "%x", &raw); err == nil {
				in.Key = raw
			}
		}
		if tag, err := strconv.ParseUint(opts[fmt.Sprintf("itag%d", i)], 10, 32); err == nil {
			in.Tag = uint32(tag)
		}
		a.Introducers = append(a.Introducers, in)
	}

	return a, off, nil
}
