package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/amikos-tech/onnx-channel/ortlib"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Skip config loading so version works with a broken config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "onnx-channel %s (%s, %s/%s, onnxruntime %s)\n",
				version, runtime.Version(), runtime.GOOS, runtime.GOARCH, ortlib.DefaultOnnxRuntimeVersion)
			return err
		},
	}
}
