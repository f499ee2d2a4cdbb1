package config

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestBindAndValidate(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o := Bind(fs)
	if err := fs.Parse([]string{
		"--host", "192.0.2.1",
		"--port", "10100",
		"--floodfill",
		"--bandwidth", "P",
		"--enable-ntcp=false",
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if o.Host != "192.0.2.1" || o.Port != 10100 || !o.Floodfill {
		t.Fatalf("flags not bound: %+v", o)
	}
	if o.EnableNTCP {
		t.Fatalf("enable-ntcp=false not applied")
	}
}

func TestValidateRejectsNoTransport(t *testing.T) {
	o := Defaults()
	o.EnableSSU = false
	o.EnableNTCP = false
	if err := o.Validate(); err == nil {
		t.Fatalf("expected error with both transports disabled")
	}
}

func TestValidateRejectsBadBandwidth(t *testing.T) {
	o := Defaults()
	o.Bandwidth = "Z"
	if err := o.Validate(); err == nil {
		t.Fatalf("expected error for unknown bandwidth class")
	}
}

func TestRandomPortInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		p := RandomPort()
		if p < minAutoPort || p > maxAutoPort {
			t.Fatalf("port %d outside [%d, %d]", p, minAutoPort, maxAutoPort)
		}
	}
}

func TestCapsString(t *testing.T) {
	o := Defaults()
	o.Bandwidth = "P"
	o.Floodfill = true
	o.SSUTesting = true
	o.SSUIntroducer = true
	caps := o.Caps()
	for _, c := range []string{"P", "f", "R", "B", "C"} {
		if !strings.Contains(caps, c) {
			t.Fatalf("caps %q missing %q", caps, c)
		}
	}
}
