package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool"
)

// NewAskCmd creates the "ask" subcommand.
func NewAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <text...>",
		Short: "Pick a tool for a free-text request and run it",
		Long: "ask ranks the worker's tools against the request, extracts arguments " +
			"(amounts, currencies, identifiers, limits) from the text and invokes the best match.",
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}
	cmd.Flags().Duration("timeout", 0, "Call timeout (default from config)")
	cmd.Flags().Bool("dry-run", false, "Show the chosen tool and arguments without invoking it")
	cmd.Flags().Bool("json", false, "Print machine-readable JSON")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	asJSON, _ := cmd.Flags().GetBool("json")

	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.close(cmd.Context())

	if dryRun {
		return writeAskPlan(cmd, sess.service.FindRelevant(text), text, asJSON)
	}

	result := sess.service.Ask(cmd.Context(), text, timeout)
	if asJSON {
		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if result.Result.IsError {
			return writeInvokeResult(io.Discard, result.Tool, result.Result, true)
		}
		return nil
	}

	if result.Tool != "" {
		fmt.Fprintf(infoWriter(cmd), "%s %s\n", styleAccent.Sprint("→"), describeCall(result.Tool, result.Arguments))
	}
	if len(result.Problems) > 0 {
		fmt.Fprintf(infoWriter(cmd), "  %s\n", styleFaint.Sprint("missing or invalid: "+strings.Join(result.Problems, "; ")))
	}
	return writeInvokeResult(cmd.OutOrStdout(), result.Tool, result.Result, false)
}

// writeAskPlan prints what ask would run without running it.
func writeAskPlan(cmd *cobra.Command, candidates []tool.Tool, text string, asJSON bool) error {
	plan := tool.AskResult{}
	if len(candidates) > 0 {
		chosen := candidates[0]
		plan.Tool = chosen.Name
		plan.Arguments = tool.Extract(chosen, text)
		for _, candidate := range candidates {
			plan.Candidates = append(plan.Candidates, candidate.Name)
		}
		if problems, err := tool.CheckArguments(chosen, plan.Arguments); err == nil {
			plan.Problems = problems
		}
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), plan)
	}
	if plan.Tool == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No tool matches that request.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styleBold.Sprint("would run:"), describeCall(plan.Tool, plan.Arguments))
	if len(plan.Candidates) > 1 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styleFaint.Sprint("other candidates:"), strings.Join(plan.Candidates[1:], ", "))
	}
	for _, problem := range plan.Problems {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styleFaint.Sprint("problem:"), problem)
	}
	return nil
}

func describeCall(name string, args map[string]any) string {
	data, err := json.Marshal(tool.RedactArguments(args))
	if err != nil || len(args) == 0 {
		return name + "()"
	}
	return name + string(data)
}
