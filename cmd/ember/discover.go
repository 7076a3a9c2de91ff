package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dshills/ember/internal/registry"
)

type discoverView struct {
	Handlers int                 `json:"handlers"`
	Files    map[string][]string `json:"files"`
	Shadowed map[string][]string `json:"shadowed,omitempty"`
	Problems []string            `json:"problems,omitempty"`
}

var discoverCustom []string

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Load handler scripts and report what was found",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, name := range discoverCustom {
			if _, err := a.Registry().DiscoverCustom(cmd.Context(), name); err != nil {
				return err
			}
		}

		view := newDiscoverView(a.Registry(), a.Bus().Len())
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), view)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d handlers from %d files\n", view.Handlers, len(view.Files))
		for _, path := range sortedKeys(view.Files) {
			fmt.Fprintf(out, "  %s\n", path)
			for _, name := range view.Files[path] {
				fmt.Fprintf(out, "    %s\n", name)
			}
		}
		for _, name := range sortedKeys(view.Shadowed) {
			fmt.Fprintf(out, "shadowed %s: %v\n", name, view.Shadowed[name])
		}
		for _, p := range view.Problems {
			fmt.Fprintf(out, "skipped: %s\n", p)
		}
		return nil
	},
}

func newDiscoverView(reg *registry.Registry, handlers int) discoverView {
	view := discoverView{
		Handlers: handlers,
		Files:    reg.Provenance(),
		Shadowed: reg.Shadowed(),
	}
	for _, err := range reg.Problems() {
		view.Problems = append(view.Problems, err.Error())
	}
	return view
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	discoverCmd.Flags().StringSliceVar(&discoverCustom, "custom", nil, "also discover handlers namespaced under these custom events")
	rootCmd.AddCommand(discoverCmd)
}
