// Package main provides the entry point for the transport-core daemon:
// it brings up both wire transports, the network database, and the peer
// manager, and runs until interrupted.
//
// Usage:
//
//	i2pcore [flags]
//
// The flag surface mirrors the recognized configuration options: data
// directory, external host/port, transport enable switches, flood-fill
// participation, and the bandwidth capability class.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/node"
)

// logHash renders the short identity-hash prefix used in log lines.
func logHash(b []byte) string {
	s := crypto.Base64Encode(b)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

func main() {
	var debug bool
	var opts *config.Options

	root := &cobra.Command{
		Use:     "i2pcore",
		Short:   "I2P-compatible transport core daemon",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			log.SetOutput(os.Stdout)
			if debug {
				log.SetLevel(logrus.DebugLevel)
				log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			} else {
				log.SetLevel(logrus.InfoLevel)
			}

			n, err := node.New(opts, nil, prometheus.DefaultRegisterer, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hash := n.Keys.Identity.Hash()
			log.WithFields(logrus.Fields{
				"port":      opts.Port,
				"floodfill": opts.Floodfill,
				"hash":      logHash(hash[:]),
			}).Info("transport core starting")

			return n.Run(ctx)
		},
	}

	opts = config.Bind(root.Flags())
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("transport core exited")
		os.Exit(1)
	}
}
