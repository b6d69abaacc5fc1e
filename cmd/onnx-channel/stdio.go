package main

import (
	"github.com/spf13/cobra"

	"github.com/amikos-tech/onnx-channel/adapter"
	"github.com/amikos-tech/onnx-channel/channel"
	"github.com/amikos-tech/onnx-channel/transport/stdio"
)

func newStdioCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the channel as JSON lines on stdin/stdout",
		Long: `Read one method call per line from stdin and write one reply envelope per line
to stdout. Logs go to stderr. Resources are disposed when stdin closes.

Example:
  echo '{"id":"1","method":"checkOrt"}' | onnx-channel stdio`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := adapter.New(c.opener(), adapter.WithLogger(c.logger.Named("adapter")))
			ch := channel.New(c.cfg.Channel.Name, channel.WithLogger(c.logger.Named("channel")))
			channel.Bind(ch, a)

			if c.cfg.Model.Path != "" {
				if _, err := a.Initialize(c.cfg.Model.Path); err != nil {
					a.Dispose()
					return err
				}
			}

			srv := stdio.New(ch, a, c.logger.Named("stdio"))
			return srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
