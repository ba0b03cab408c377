package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/graph"
)

// GraphOptions holds flags for the graph subcommands.
type GraphOptions struct {
	*RootOptions
	File string
}

// GraphInfo is the JSON view of a graph.
type GraphInfo struct {
	Valid       bool         `json:"valid"`
	DefaultTier int          `json:"default_tier"`
	Tables      []GraphTable `json:"tables,omitempty"`
}

// GraphTable is one table of the deletion order.
type GraphTable struct {
	Name       string   `json:"name"`
	Tier       int      `json:"tier"`
	Junction   bool     `json:"junction,omitempty"`
	References []string `json:"references,omitempty"`
}

// NewGraphCommand creates the graph command group.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect the table dependency graph",
		Long: `Inspect the table dependency graph that orders compensation and purges.

The graph comes from --file, else graph.path in the config, else the
built-in Test Lab graph. Tier files may be YAML, JSON or CUE.`,
	}
	cmd.PersistentFlags().StringVar(&opts.File, "file", "", "tier file (.yaml, .yml, .json or .cue)")

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate a tier file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraphCheck(opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print tables in deletion order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraphShow(opts, cmd)
		},
	})

	return cmd
}

func (o *GraphOptions) load() (*graph.Graph, error) {
	path := o.File
	if path == "" && o.Config != nil {
		path = o.Config.Graph.Path
	}
	return loadGraph(path)
}

func runGraphCheck(opts *GraphOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	g, err := opts.load()
	if err != nil {
		if graph.IsInvariantError(err) {
			return formatter.Fail(ExitFailure, ErrCodeGraph, "graph invalid", err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeGraph, "failed to load graph", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(GraphInfo{Valid: true, DefaultTier: g.DefaultTier()})
	}
	fmt.Fprintf(formatter.Writer, "✓ Graph valid (%d tables, default tier %d)\n", len(g.Tables()), g.DefaultTier())
	return nil
}

func runGraphShow(opts *GraphOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	g, err := opts.load()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGraph, "failed to load graph", err)
	}
	order := g.Order(g.Tables())

	if formatter.Format == "json" {
		info := GraphInfo{Valid: true, DefaultTier: g.DefaultTier()}
		for _, t := range order {
			info.Tables = append(info.Tables, GraphTable{
				Name:       t,
				Tier:       g.Tier(t),
				Junction:   g.IsJunction(t),
				References: g.References(t),
			})
		}
		return formatter.Success(info)
	}
	return g.Render(formatter.Writer, order)
}
