package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool"
)

var (
	styleAccent = color.New(color.FgYellow)
	styleBold   = color.New(color.Bold)
	styleFaint  = color.New(color.Faint)
	styleOK     = color.New(color.FgGreen)
	styleFailed = color.New(color.FgRed)
)

func writeJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return exitError(exitRuntime, "encoding output: %v", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// writeInvokeResult prints a result and converts failures into an
// ExitError whose code follows the failure kind.
func writeInvokeResult(w io.Writer, toolName string, result tool.InvokeResult, asJSON bool) error {
	if asJSON {
		if err := writeJSON(w, result); err != nil {
			return err
		}
	} else if !result.IsError {
		content := strings.TrimSpace(result.Content)
		if content == "" {
			content = styleFaint.Sprint("(no content)")
		}
		fmt.Fprintln(w, content)
	}

	if !result.IsError {
		return nil
	}
	code := exitCodeFor(result.ErrorCode)
	if code == exitSuccess {
		// The worker ran the tool and reported a failure itself.
		code = exitToolError
	}
	if asJSON {
		return exitError(code, "%s returned an error", toolName)
	}
	return exitError(code, "%s", result.Content)
}

func statusLabel(isError bool, errorCode string) string {
	if !isError {
		return styleOK.Sprint("ok")
	}
	if errorCode == "" {
		return styleFailed.Sprint("tool error")
	}
	return styleFailed.Sprint(strings.ToLower(errorCode))
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
