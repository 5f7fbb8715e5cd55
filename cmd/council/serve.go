package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/theory-council/pkg/council"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.OutOrStdout(), root.logLevel)
			if err != nil {
				return err
			}

			c, err := council.New(
				council.WithLogger(logger),
				council.WithFileConfig(root.configPath),
			)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := c.Start(ctx); err != nil {
				return err
			}
			if err := c.Run(ctx, shutdownTimeout); err != nil {
				return err
			}

			logger.Info("theory council stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Time allowed for in-flight requests to finish on shutdown")
	return cmd
}
