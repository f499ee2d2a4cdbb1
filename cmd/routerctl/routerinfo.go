package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/routerinfo"
)

func newRouterInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routerinfo <file>...",
		Short: "Describe stored router-info files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := describeRouterInfo(cmd, path); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.AddCommand(newRouterInfoCreateCmd())
	return cmd
}

func describeRouterInfo(cmd *cobra.Command, path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ri, err := routerinfo.LoadFrom(buf)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	hash := ri.Identity.Hash()
	fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", path)
	fmt.Fprintf(cmd.OutOrStdout(), "  hash:      %s\n", crypto.Base64Encode(hash[:]))
	fmt.Fprintf(cmd.OutOrStdout(), "  published: %s\n", time.UnixMilli(int64(ri.Timestamp)).UTC().Format(time.RFC3339))
	fmt.Fprintf(cmd.OutOrStdout(), "  caps:      %s\n", ri.Options["caps"])
	fmt.Fprintf(cmd.OutOrStdout(), "  floodfill: %v\n", ri.IsFloodfill())
	for _, a := range ri.Addresses {
		fmt.Fprintf(cmd.OutOrStdout(), "  address:   %s %s:%d", a.Style, a.Host, a.Port)
		if a.MTU != 0 {
			fmt.Fprintf(cmd.OutOrStdout(), " mtu=%d", a.MTU)
		}
		if len(a.Introducers) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), " introducers=%d", len(a.Introducers))
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	for k, v := range ri.Options {
		if k == "caps" {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  option:    %s=%s\n", k, v)
	}
	return nil
}

func newRouterInfoCreateCmd() *cobra.Command {
	var (
		host          string
		port          uint16
		floodfill     bool
		bandwidth     string
		enableSSU     bool
		enableNTCP    bool
		ssuIntroducer bool
		ssuTesting    bool
	)

	cmd := &cobra.Command{
		Use:   "create [filename]",
		Short: "Generate a keypair and signed router-info",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &config.Options{
				Host:          host,
				Port:          port,
				Floodfill:     floodfill,
				Bandwidth:     bandwidth,
				EnableSSU:     enableSSU,
				EnableNTCP:    enableNTCP,
				SSUIntroducer: ssuIntroducer,
				SSUTesting:    ssuTesting,
			}
			if opts.Port == 0 {
				opts.Port = config.RandomPort()
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			filename := "routerInfo.dat"
			if len(args) == 1 {
				filename = args[0]
			}

			keys, err := identity.Generate(crypto.DefaultSignatureType)
			if err != nil {
				return err
			}

			var addrs []routerinfo.Address
			if opts.EnableNTCP {
				addrs = append(addrs, routerinfo.Address{
					Style: routerinfo.StyleStream, Host: opts.Host, Port: opts.Port,
				})
			}
			if opts.EnableSSU {
				var introKey [32]byte
				if _, err := rand.Read(introKey[:]); err != nil {
					return err
				}
				addrs = append(addrs, routerinfo.Address{
					Style: routerinfo.StyleDatagram, Host: opts.Host, Port: opts.Port,
					IntroKey: introKey, HasIntroKey: true,
				})
			}

			ri, err := routerinfo.CreateFor(keys, addrs, opts.Caps(), uint64(time.Now().UnixMilli()))
			if err != nil {
				return err
			}

			if err := os.WriteFile(filename, ri.SaveTo(), 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(filename+".key", keys.Bytes(), 0o600); err != nil {
				return err
			}

			hash := ri.Identity.Hash()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s.key\n", filename, filename)
			fmt.Fprintf(cmd.OutOrStdout(), "identity hash: %s\n", crypto.Base64Encode(hash[:]))
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "address to publish")
	cmd.Flags().Uint16Var(&port, "port", 0, "port to publish (0 = random)")
	cmd.Flags().BoolVar(&floodfill, "floodfill", false, "mark the router as flood-fill")
	cmd.Flags().StringVar(&bandwidth, "bandwidth", "L", "bandwidth capability (K|L|M|N|O|P|X)")
	cmd.Flags().BoolVar(&enableSSU, "enable-ssu", true, "publish a datagram address")
	cmd.Flags().BoolVar(&enableNTCP, "enable-ntcp", true, "publish a stream address")
	cmd.Flags().BoolVar(&ssuIntroducer, "ssuintroducer", false, "publish the introducer capability")
	cmd.Flags().BoolVar(&ssuTesting, "ssutesting", false, "publish the peer-testing capability")
	return cmd
}
