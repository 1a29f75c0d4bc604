// Package auth provides commands for checking source credentials.
package auth

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/cmsbridge/internal/app"
	"github.com/tphakala/cmsbridge/internal/conf"
	"github.com/tphakala/cmsbridge/internal/logger"
)

// Command creates the auth command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect source authentication",
	}
	cmd.AddCommand(checkCommand(settings))
	return cmd
}

func checkCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Negotiate credentials with the source and report the winning strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			side, err := app.NewSourceSide(settings, logger.Global(), nil)
			if err != nil {
				return err
			}
			defer side.Close()

			h, err := side.Broker.Client(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "authenticated with %s strategy\n", h.Strategy())
			return err
		},
	}
}
