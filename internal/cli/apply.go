package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/saga"
	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/workflow"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Fixture string
	RunID   string
	Actor   string

	// RunIDs generates a run id when neither --run nor the fixture names
	// one. Defaults to UUIDv7.
	RunIDs resource.IDGenerator
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Submit fixture applications under a tracked test run",
		Long: `Submit every application in a YAML fixture file through the
application workflow. Each record created is tracked under the run so a
later "testlab purge --run <id>" removes it.

A failing application is rolled back and stops the command; applications
submitted before it stay in place under the run.

Example:
  testlab apply --fixture fixtures/smoke.yaml --run qa-smoke --actor ada`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Fixture, "fixture", "", "YAML fixture file (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "test run id (default: fixture run_id, else generated)")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "who creates the records (default: fixture actor)")
	_ = cmd.MarkFlagRequired("fixture")

	return cmd
}

// ApplyResult is the output of the apply command.
type ApplyResult struct {
	RunID       string                 `json:"run_id"`
	Submissions []*workflow.Submission `json:"submissions"`
}

func (r *ApplyResult) Render(w io.Writer) error {
	for i, s := range r.Submissions {
		if _, err := fmt.Fprintf(w, "%2d. company=%s deal=%s project=%s records=%d\n",
			i+1, s.CompanyID, s.DealID, s.ProjectID, countCreated(s.Outcome)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "✓ Submitted %d application(s) under run %s\n", len(r.Submissions), r.RunID)
	return err
}

func countCreated(out *saga.Outcome) int {
	if out == nil {
		return 0
	}
	n := 0
	for _, e := range out.Created {
		n += len(e.IDs)
	}
	return n
}

func runApply(ctx context.Context, opts *ApplyOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	fixtures, err := workflow.LoadFixtures(opts.Fixture)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeValidation, "invalid fixture file", err)
	}

	runID := firstNonEmpty(opts.RunID, fixtures.RunID)
	if runID == "" {
		gen := opts.RunIDs
		if gen == nil {
			gen = resource.UUIDv7Generator{}
		}
		runID = gen.Generate()
	}
	actor := firstNonEmpty(opts.Actor, fixtures.Actor, "cli")

	env, err := openEnvironment(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "failed to open environment", err)
	}
	defer env.Close()

	submitter := env.submitter()
	result := &ApplyResult{RunID: runID, Submissions: []*workflow.Submission{}}
	for i, app := range fixtures.Applications {
		formatter.VerboseLog("Submitting application %d (%s)", i+1, app.Company.Name)
		sub, err := submitter.Submit(ctx, app, runID, actor)
		if err != nil {
			step, _ := saga.FailedStep(err)
			return formatter.Fail(ExitFailure, ErrCodeSaga,
				fmt.Sprintf("application %d failed at step %q and was rolled back", i+1, step), err)
		}
		result.Submissions = append(result.Submissions, sub)
	}
	return formatter.Success(result)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
