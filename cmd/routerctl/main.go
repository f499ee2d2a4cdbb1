// Package main provides routerctl, the administrative companion to the
// transport-core daemon: Base32/Base64 stream codecs and router-info
// inspection/creation.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "routerctl",
		Short:         "Administrative tools for the transport core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBase64Cmd(), newBase32Cmd(), newRouterInfoCmd())

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("routerctl failed")
		os.Exit(1)
	}
}
