package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool"
)

// NewToolsCmd creates the "tools" command group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List, search and invoke worker tools",
	}
	cmd.PersistentFlags().Bool("json", false, "Print machine-readable JSON")

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsFindCmd())
	cmd.AddCommand(newToolsSchemaCmd())
	cmd.AddCommand(newToolsInvokeCmd())
	cmd.AddCommand(newToolsRefreshCmd())

	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tools the worker offers",
		Args:  cobra.NoArgs,
		RunE:  runToolsList,
	}
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.close(cmd.Context())

	return writeToolTable(cmd, sess.service.ListTools())
}

func writeToolTable(cmd *cobra.Command, tools []tool.Tool) error {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if tools == nil {
			tools = []tool.Tool{}
		}
		return writeJSON(cmd.OutOrStdout(), tools)
	}
	if len(tools) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tools available.")
		return nil
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tDESCRIPTION\tPARAMETERS")
	for _, t := range tools {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\n",
			t.Name,
			dashIfEmpty(truncate(t.Description, 60)),
			dashIfEmpty(strings.Join(t.Properties(), ",")),
		)
	}
	return writer.Flush()
}

func newToolsFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <text...>",
		Short: "Rank tools against free text",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runToolsFind,
	}
}

func runToolsFind(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.close(cmd.Context())

	matches := sess.service.FindRelevant(strings.Join(args, " "))
	if len(matches) == 0 {
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), []tool.Tool{})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No matching tools.")
		return nil
	}
	return writeToolTable(cmd, matches)
}

func newToolsSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <name>",
		Short: "Print a tool's input schema",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsSchema,
	}
}

func runToolsSchema(cmd *cobra.Command, args []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.close(cmd.Context())

	name := strings.TrimSpace(args[0])
	t, ok := sess.service.Registry().Lookup(name)
	if !ok {
		return exitError(exitValidation, "%s", tool.UserMessage(name, &tool.ToolError{Code: tool.ErrorCodeUnknownTool}))
	}
	schema := t.InputSchema
	if schema == nil {
		schema = map[string]any{}
	}
	return writeJSON(cmd.OutOrStdout(), schema)
}

func newToolsInvokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoke <name>",
		Short: "Invoke a tool with explicit arguments",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsInvoke,
	}
	cmd.Flags().StringArray("arg", nil, "Argument key=value; JSON values are decoded (repeatable)")
	cmd.Flags().String("args-json", "", "Arguments as a JSON object")
	cmd.Flags().Duration("timeout", 0, "Call timeout (default from config)")
	return cmd
}

func runToolsInvoke(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	argsJSON, _ := cmd.Flags().GetString("args-json")
	pairs, _ := cmd.Flags().GetStringArray("arg")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	asJSON, _ := cmd.Flags().GetBool("json")

	callArgs, err := parseInvokeArgs(argsJSON, pairs)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.close(cmd.Context())

	if t, ok := sess.service.Registry().Lookup(name); ok {
		if problems, err := tool.CheckArguments(t, callArgs); err == nil && len(problems) > 0 {
			sess.logger.Warn("cli.tools.invoke.argument_problems", "tool", name, "problems", problems)
		}
	}

	result := sess.service.Invoke(cmd.Context(), name, callArgs, timeout)
	return writeInvokeResult(cmd.OutOrStdout(), name, result, asJSON)
}

func parseInvokeArgs(argsJSON string, pairs []string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return nil, fmt.Errorf("parsing --args-json: %w", err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q (want key=value)", pair)
		}
		args[key] = parseArgValue(value)
	}
	return args, nil
}

// parseArgValue decodes JSON scalars and documents, keeping anything else
// as a plain string.
func parseArgValue(value string) any {
	var decoded any
	if err := json.Unmarshal([]byte(value), &decoded); err == nil {
		return decoded
	}
	return value
}

func newToolsRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-run tool discovery and store the catalog",
		Args:  cobra.NoArgs,
		RunE:  runToolsRefresh,
	}
}

func runToolsRefresh(cmd *cobra.Command, _ []string) error {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.close(cmd.Context())

	// Start already ran discovery once; run it again so failures surface.
	if err := sess.service.Refresh(cmd.Context()); err != nil {
		code := exitCodeFor(tool.ErrorCode(err))
		if code == exitSuccess || code == exitValidation {
			code = exitRuntime
		}
		return exitError(code, "refreshing tools: %s", tool.UserMessage("tools/list", err))
	}

	registry := sess.service.Registry()
	fmt.Fprintf(
		infoWriter(cmd),
		"%s %d tools discovered at %s\n",
		styleOK.Sprint("✓"),
		registry.Len(),
		registry.RefreshedAt().Format(time.RFC3339),
	)
	return nil
}
