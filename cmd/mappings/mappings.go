// Package mappings provides commands for inspecting identity maps.
package mappings

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/tphakala/cmsbridge/internal/conf"
	"github.com/tphakala/cmsbridge/internal/identity"
	"github.com/tphakala/cmsbridge/internal/logger"
)

// Command creates the mappings command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Inspect source to target identity maps",
	}
	cmd.AddCommand(listCommand(settings), showCommand(settings))
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List entities with identity maps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := identity.Open(settings.CSVDir(), logger.Global().Module("identity"))
			if err != nil {
				return err
			}
			return list(cmd.OutOrStdout(), store)
		},
	}
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entity>",
		Short: "Print the identity map of one entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := identity.Open(settings.CSVDir(), logger.Global().Module("identity"))
			if err != nil {
				return err
			}
			return show(cmd.OutOrStdout(), store, args[0])
		},
	}
}

func list(w io.Writer, store *identity.Store) error {
	entities, err := store.Entities()
	if err != nil {
		return err
	}
	table := uitable.New()
	table.AddRow("ENTITY", "RECORDS", "FILE")
	for _, e := range entities {
		ids, err := store.Load(e)
		if err != nil {
			return err
		}
		table.AddRow(e, humanize.Comma(int64(len(ids))), store.Path(e))
	}
	_, err = fmt.Fprintln(w, table)
	return err
}

func show(w io.Writer, store *identity.Store, entity string) error {
	ids, err := store.Load(entity)
	if err != nil {
		return err
	}
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("SOURCE", "TARGET")
	for _, k := range slices.Sorted(maps.Keys(ids)) {
		table.AddRow(k, ids[k])
	}
	_, err = fmt.Fprintln(w, table)
	return err
}
