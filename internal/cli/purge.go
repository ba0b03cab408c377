package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/graph"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/purge"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	RunIDs []string
	Reason string
	Actor  string
	DryRun bool
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every record tracked under test runs",
		Long: `Delete every record tracked under the given test runs, children first.

The purge is all-or-nothing per table: the first table that cannot be
deleted aborts the purge and nothing after it is touched. Every purge
that passes validation is written to the audit log.

Example:
  testlab purge --run qa-2025-01-15 --reason "sprint reset" --actor ada
  testlab purge --run r1 --run r2 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.RunIDs, "run", nil, "test run id (repeatable)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the runs are purged (required unless --dry-run)")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "who requested the purge (required unless --dry-run)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the deletion plan without deleting")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func runPurge(ctx context.Context, opts *PurgeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	env, err := openEnvironment(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to open environment", err)
	}
	defer env.Close()

	if opts.DryRun {
		formatter.VerboseLog("Planning purge of %v", opts.RunIDs)
		plan, err := env.purger.Plan(ctx, opts.RunIDs)
		if err != nil {
			return purgeFailure(formatter, err)
		}
		return formatter.Success(plan)
	}

	formatter.VerboseLog("Purging %v", opts.RunIDs)
	res, err := env.purger.Purge(ctx, purge.Request{
		RunIDs:  opts.RunIDs,
		Reason:  opts.Reason,
		ActorID: opts.Actor,
	})
	if err != nil {
		return purgeFailure(formatter, err)
	}
	return formatter.Success(purgeReport{Result: res, graph: env.graph})
}

func purgeFailure(formatter *OutputFormatter, err error) error {
	if purge.IsValidationError(err) {
		return formatter.Fail(ExitCommandError, ErrCodeValidation, err.Error(), nil)
	}
	if table, ok := purge.FailedTable(err); ok {
		return formatter.Fail(ExitFailure, ErrCodePurge, fmt.Sprintf("purge aborted at table %s", table), err)
	}
	return formatter.Fail(ExitFailure, ErrCodeGeneric, "purge failed", err)
}

// purgeReport renders a purge result in deletion order.
type purgeReport struct {
	*purge.Result
	graph *graph.Graph
}

func (r purgeReport) Render(w io.Writer) error {
	tables := make([]string, 0, len(r.DeletedCounts))
	for t := range r.DeletedCounts {
		tables = append(tables, t)
	}
	for _, t := range r.graph.Order(tables) {
		if _, err := fmt.Fprintf(w, "  %-22s %d\n", t, r.DeletedCounts[t]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "✓ Purged %d row(s) from %d table(s)\n", r.TotalDeleted, len(tables))
	return err
}
