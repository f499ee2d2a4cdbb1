// Package config parses the option surface the transport core consumes
// into an Options value the node is constructed from.
package config

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// Port range a router without an explicit port draws from.
const (
	minAutoPort = 9111
	maxAutoPort = 30777
)

// bandwidthCaps are the accepted bandwidth capability characters.
const bandwidthCaps = "KLMNOPX"

// Options is the parsed configuration surface consumed by the
// transports, peer manager, and network database.
type Options struct {
	DataDir     string
	KovriConf   string
	TunnelsConf string

	Host string
	Port uint16

	Floodfill bool
	Bandwidth string // one of K L M N O P X

	EnableSSU  bool
	EnableNTCP bool

	SSUIntroducer bool
	SSUTesting    bool

	ReseedURLs []string
}

// Defaults returns the option set a bare invocation runs with: both
// transports on, low bandwidth, a random port.
func Defaults() *Options {
	return &Options{
		DataDir:    defaultDataDir(),
		Host:       "127.0.0.1",
		Port:       RandomPort(),
		Bandwidth:  "L",
		EnableSSU:  true,
		EnableNTCP: true,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".i2pcore"
	}
	return home + string(os.PathSeparator) + ".i2pcore"
}

// RandomPort draws a port from the configured auto-assign range.
func RandomPort() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return minAutoPort
	}
	span := uint32(maxAutoPort - minAutoPort + 1)
	return uint16(minAutoPort + binary.BigEndian.Uint16(b[:])%uint16(span))
}

// Bind registers every option on fs, returning the Options the parsed
// values land in.
func Bind(fs *pflag.FlagSet) *Options {
	o := Defaults()
	fs.StringVar(&o.DataDir, "datadir", o.DataDir, "data directory (netDb, peer profiles, keys)")
	fs.StringVar(&o.KovriConf, "kovriconf", "", "router configuration file (validated, not parsed here)")
	fs.StringVar(&o.TunnelsConf, "tunnelsconf", "", "tunnels configuration file (validated, not parsed here)")
	fs.StringVar(&o.Host, "host", o.Host, "external address to publish")
	fs.Uint16Var(&o.Port, "port", o.Port, "port to listen on")
	fs.BoolVar(&o.Floodfill, "floodfill", false, "participate as a flood-fill router")
	fs.StringVar(&o.Bandwidth, "bandwidth", o.Bandwidth, "bandwidth capability (K|L|M|N|O|P|X)")
	fs.BoolVar(&o.EnableSSU, "enable-ssu", o.EnableSSU, "enable the datagram transport")
	fs.BoolVar(&o.EnableNTCP, "enable-ntcp", o.EnableNTCP, "enable the stream transport")
	fs.BoolVar(&o.SSUIntroducer, "ssu-introducer", false, "offer introductions to firewalled peers")
	fs.BoolVar(&o.SSUTesting, "ssu-testing", false, "answer peer-test probes")
	fs.StringSliceVar(&o.ReseedURLs, "reseed-urls", nil, "bootstrap reseed URLs")
	return o
}

// Validate rejects option combinations the core cannot run with.
func (o *Options) Validate() error {
	if !o.EnableSSU && !o.EnableNTCP {
		return fmt.Errorf("config: at least one transport must be enabled")
	}
	if len(o.Bandwidth) != 1 || !strings.ContainsAny(o.Bandwidth, bandwidthCaps) {
		return fmt.Errorf("config: bandwidth must be one of %s, got %q", bandwidthCaps, o.Bandwidth)
	}
	if o.Port == 0 {
		return fmt.Errorf("config: port must be nonzero")
	}
	for _, path := range []string{o.KovriConf, o.TunnelsConf} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	}
	return nil
}

// Caps renders the capability string a router-info publishes under these
// options.
func (o *Options) Caps() string {
	caps := o.Bandwidth
	if o.Floodfill {
		caps += "f"
	}
	caps += "R"
	if o.SSUTesting {
		caps += "B"
	}
	if o.SSUIntroducer {
		caps += "C"
	}
	return caps
}
