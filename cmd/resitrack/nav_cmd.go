package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"resitrack.org/internal/navigation"
)

func newNavCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "nav",
		Short: "Show the menu and dashboard tiles available to the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			layout := navigation.Compose(s.Permissions)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, layout)
			}
			fmt.Fprintf(out, "%s (%s)\n", s.Username, s.Service)
			for _, sec := range layout.Sections {
				fmt.Fprintf(out, "\n%s\n", sec.Title)
				for _, it := range sec.Items {
					fmt.Fprintf(out, "  - %s  %s\n", it.Label, it.Path)
				}
			}
			if len(layout.Sections) == 0 {
				fmt.Fprintln(out, "\naucune section accessible")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the layout as JSON")
	return cmd
}
