package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bmiptools/pkg/plugin"
	"bmiptools/pkg/registry"
)

func newPluginsCommand(reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List the registered operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(reg.Names()))
			for _, name := range reg.Names() {
				entry, err := reg.Lookup(name)
				if err != nil {
					return err
				}
				p, err := entry.New(nil)
				if err != nil {
					return err
				}
				_, optimizable := p.(plugin.Optimizable)
				rows = append(rows, []string{
					name,
					strconv.FormatBool(entry.Fitter),
					strconv.FormatBool(optimizable),
					strconv.Itoa(len(entry.Default.Paths())),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Operation", "Fit", "Optimizable", "Keys"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <operation>",
		Short: "Print the default configuration of an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := reg.Lookup(args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(entry.Default, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})
	return cmd
}
