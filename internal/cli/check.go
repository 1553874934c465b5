package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/namegraph/internal/harness"
)

// CheckResult holds the overall result of a scenario suite.
type CheckResult struct {
	Scenarios []harness.SuiteResult `json:"scenarios"`
	Passed    int                   `json:"passed"`
	Failed    int                   `json:"failed"`
	Total     int                   `json:"total"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <scenario|dir>...",
		Short: "Run event scenarios and their assertions",
		Long: `Run YAML event scenarios against a fresh in-memory database and
evaluate their final-state assertions.

A directory argument runs every *.yaml and *.yml file in it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing scenario files, etc.)

Examples:
  namegraph check ./scenarios
  namegraph check ./scenarios/migration.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runCheck(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	wd, err := os.Getwd()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to get working directory", err)
	}
	files, err := harness.Discover(paths, wd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	results := harness.RunSuite(cmd.Context(), files)
	summary := CheckResult{Scenarios: results, Total: len(results)}
	for _, r := range results {
		if r.Passed() {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	if out.Format == "json" {
		if err := out.Success(summary); err != nil {
			return err
		}
	} else {
		writeCheckText(out, summary)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", summary.Failed, summary.Total))
	}
	return nil
}

func writeCheckText(out *OutputFormatter, summary CheckResult) {
	w := out.Writer
	if summary.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, r := range summary.Scenarios {
		name := r.Name
		if name == "" {
			name = r.Path
		}
		if r.Passed() {
			fmt.Fprintf(w, "✓ %s\n", name)
			if r.Result != nil {
				out.VerboseLog("  %d events traced", len(r.Result.Trace))
			}
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", name)
		if r.Err != "" {
			fmt.Fprintf(w, "  %s\n", r.Err)
		}
		if r.Result != nil {
			for _, e := range r.Result.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
}
