package main

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/artifact"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/fault"
	"github.com/roomfulmoshe/Vertiport-Planner/internal/geometry"
)

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <tract-id>",
	Short: "Print the published neighbor set of a tract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		includeSelf, _ := cmd.Flags().GetBool("include-self")
		asJSON, _ := cmd.Flags().GetBool("json")

		list, err := artifact.ReadAdjacencyList(cfg.Output.Dir)
		if err != nil {
			return err
		}
		id := geometry.NormalizeID(args[0], cfg.Geometry.Tracts.IDWidth, cfg.Geometry.Tracts.IDSuffix)
		ns, err := neighborhood(list, id, includeSelf)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return json.NewEncoder(out).Encode(ns)
		}
		for _, n := range ns {
			_, _ = fmt.Fprintln(out, n)
		}
		return nil
	},
}

func init() {
	neighborsCmd.Flags().Bool("include-self", false, "include the tract itself in its neighborhood")
	neighborsCmd.Flags().Bool("json", false, "print a JSON array")
	rootCmd.AddCommand(neighborsCmd)
}

// neighborhood looks id up in a published adjacency list. Tracts outside
// the list are a NotFoundError; tracts without neighbors are not.
func neighborhood(list map[string][]string, id string, includeSelf bool) ([]string, error) {
	ns, ok := list[id]
	if !ok {
		return nil, fault.NewNotFoundError("neighbors", "tract", id)
	}
	out := slices.Clone(ns)
	if out == nil {
		out = []string{}
	}
	if includeSelf {
		i, _ := slices.BinarySearchFunc(out, id, geometry.CompareIDs)
		out = slices.Insert(out, i, id)
	}
	return out, nil
}
