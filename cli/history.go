package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool"
)

// NewHistoryCmd creates the "history" subcommand.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent tool invocations",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of invocations to show")
	cmd.Flags().Bool("json", false, "Print machine-readable JSON")
	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	if limit <= 0 {
		return exitError(exitValidation, "--limit must be positive")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.HistoryDisabled {
		return exitError(exitValidation, "invocation history is disabled in %s", dashIfEmpty(cfg.Path))
	}
	store, err := openHistoryStore(cfg)
	if err != nil {
		return exitError(exitRuntime, "opening history: %v", err)
	}
	defer store.Close()

	records, err := store.ListInvocations(cmd.Context(), limit)
	if err != nil {
		return exitError(exitRuntime, "reading history: %v", err)
	}

	if asJSON {
		if records == nil {
			records = []tool.InvocationRecord{}
		}
		return writeJSON(cmd.OutOrStdout(), records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No invocations recorded yet.")
		return nil
	}

	now := time.Now()
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "WHEN\tTOOL\tSTATUS\tDURATION\tARGUMENTS")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			humanize.RelTime(rec.CreatedAt, now, "ago", "from now"),
			rec.ToolName,
			statusLabel(rec.IsError, rec.ErrorCode),
			(time.Duration(rec.DurationMS) * time.Millisecond).String(),
			formatArguments(rec.Arguments),
		)
	}
	return writer.Flush()
}

func formatArguments(args map[string]any) string {
	if len(args) == 0 {
		return "-"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "-"
	}
	return truncate(string(data), 80)
}
