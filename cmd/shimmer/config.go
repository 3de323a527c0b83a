package main

import (
	"github.com/spf13/cobra"

	"github.com/hazyhaar/shimmer/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := config.Dump(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	engineFlags(cmd.Flags())
	cmd.Flags().String("addr", ":8090", "listen address")
	return cmd
}
