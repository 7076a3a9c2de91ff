package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/ember/internal/discovery"
)

type pathView struct {
	Path   string `json:"path"`
	Origin string `json:"origin"`
	Exists bool   `json:"exists"`
}

var pathsCmd = &cobra.Command{
	Use:   "paths [resource-type]",
	Short: "Show the discovery search path",
	Long: `Lists the directories searched for handler scripts, strongest first.
The resource type defaults to "hooks".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		paths := a.Paths()
		if len(args) == 1 {
			paths = a.Config().Paths(args[0])
		}

		existing := make(map[string]bool)
		for _, p := range paths.ExistingPaths() {
			existing[p] = true
		}
		views := sourceViews(paths, existing)

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), views)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ORIGIN\tPATH\tEXISTS")
		for _, v := range views {
			fmt.Fprintf(tw, "%s\t%s\t%t\n", v.Origin, v.Path, v.Exists)
		}
		return tw.Flush()
	},
}

func sourceViews(paths *discovery.Paths, existing map[string]bool) []pathView {
	sources := paths.Sources()
	views := make([]pathView, 0, len(sources))
	for _, s := range sources {
		views = append(views, pathView{Path: s.Path, Origin: s.Origin.String(), Exists: existing[s.Path]})
	}
	return views
}

func init() {
	rootCmd.AddCommand(pathsCmd)
}
