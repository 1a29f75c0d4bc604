// Package migrate provides the migrate command.
package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/cmsbridge/internal/app"
	"github.com/tphakala/cmsbridge/internal/conf"
	"github.com/tphakala/cmsbridge/internal/logger"
	"github.com/tphakala/cmsbridge/internal/stages"
)

// Command creates the migrate command. Without arguments every stage runs
// in dependency order.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [stage...]",
		Short:     "Run migration stages",
		Long:      fmt.Sprintf("Run migration stages. Valid stages, in run order: %v", stages.Names()),
		ValidArgs: stages.Names(),
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := app.New(settings, logger.Global())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()
			return a.Migrate(cmd.Context(), cmd.OutOrStdout(), args...)
		},
	}
	return cmd
}
