// Command flowc drives the flow-instruction compiler standalone, outside
// the HTTP server, for local iteration and CI golden-file checks.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/duragraph/duragraph/internal/compiler/config"
	"github.com/duragraph/duragraph/internal/compiler/ir"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flowc",
		Short: "Compile service statement graphs into flow instructions",
	}
	root.AddCommand(newCompileCmd(), newScheduleCmd())
	return root
}

func loadGraph(path string) (ir.ServiceGraph, error) {
	var sg ir.ServiceGraph
	data, err := os.ReadFile(path)
	if err != nil {
		return sg, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &sg); err != nil {
		return sg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return sg, nil
}

// newCompileCmd runs the full pipeline (schedule, export-hoist, lower, plus
// timer/delay/timeout synthesis) and prints the resulting ServiceHandler.
func newCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <graph.json>",
		Short: "Compile a service graph into a ServiceHandler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sg, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			handler, err := ir.Compile(sg, config.Load())
			if err != nil {
				return err
			}
			return printJSON(cmd, handler)
		},
	}
}

// newScheduleCmd compiles one or more individual arriving flows (--active,
// default: every arrival) and prints each one's lowered FlowInstruction
// tree, keyed by flow name. The tree has already been through export
// hoisting and lowering; the raw Synced schedule is not printed, and the
// service delay handler is not included.
func newScheduleCmd() *cobra.Command {
	var active string
	cmd := &cobra.Command{
		Use:   "schedule <graph.json>",
		Short: "Print the compiled flow handler for one or more arriving flows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sg, err := loadGraph(args[0])
			if err != nil {
				return err
			}
			builder, arrivals, err := ir.Build(sg, config.Load())
			if err != nil {
				return err
			}

			names := splitActive(active)
			if len(names) == 0 {
				for _, a := range arrivals {
					names = append(names, a.Name)
				}
			}

			byName := make(map[string]struct{}, len(names))
			for _, n := range names {
				byName[n] = struct{}{}
			}

			out := make(map[string]interface{}, len(names))
			for _, a := range arrivals {
				if _, ok := byName[a.Name]; !ok {
					continue
				}
				id, err := builder.StmtIDForImport(a.Name)
				if err != nil {
					return err
				}
				instrTree, err := builder.Compile(id)
				if err != nil {
					return fmt.Errorf("scheduling %s: %w", a.Name, err)
				}
				out[a.Name] = instrTree
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&active, "active", "", "comma-separated flow names to schedule (default: all arriving flows)")
	return cmd
}

func splitActive(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
