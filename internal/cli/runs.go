package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
)

const cliTimeFormat = "2006-01-02 15:04:05"

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List test runs and their purge status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runRuns(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	env, err := openEnvironment(ctx, opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to open environment", err)
	}
	defer env.Close()

	runs, err := env.backend.ListRuns(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to list runs", err)
	}
	return formatter.Success(runTable(runs))
}

type runTable []resource.RunSummary

func (t runTable) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tBY\tRECORDS\tPURGED")
	for _, r := range t {
		purged := "-"
		if r.PurgedAt != nil {
			purged = fmt.Sprintf("%s by %s", r.PurgedAt.Format(cliTimeFormat), r.PurgedBy)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.RunID, r.CreatedAt.Format(cliTimeFormat), r.CreatedBy, r.Records, purged)
	}
	return tw.Flush()
}

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Limit int
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the purge audit log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd.Context(), opts, cmd)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum entries (0 for all)")
	return cmd
}

func runAudit(ctx context.Context, opts *AuditOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	env, err := openEnvironment(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to open environment", err)
	}
	defer env.Close()

	entries, err := env.backend.ListPurgeAudit(ctx, opts.Limit)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to read audit log", err)
	}
	return formatter.Success(auditTable(entries))
}

type auditTable []resource.PurgeAuditEntry

func (t auditTable) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAT\tACTOR\tOUTCOME\tDELETED\tRUNS\tREASON")
	for _, e := range t {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.OccurredAt.Format(cliTimeFormat), e.ActorID, e.Outcome,
			e.TotalDeleted, strings.Join(e.RunIDs, ","), e.Reason)
	}
	return tw.Flush()
}
