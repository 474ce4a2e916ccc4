// Package cli implements the payassist command tree.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the payassist command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "payassist",
		Short: "Payment tool assistant CLI",
		Long:  "payassist runs the payment worker, lists the tools it offers and invokes them from free text or explicit arguments.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().String("config", "", "Path to payassist.yaml (default: ./payassist.yaml, then ~/.payassist/config.yaml)")
	root.PersistentFlags().BoolP("verbose", "", false, "Enable verbose/debug logging")
	root.PersistentFlags().BoolP("quiet", "", false, "Suppress all output except errors")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("payassist version %s\n", version))

	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewAskCmd())
	root.AddCommand(NewHistoryCmd())
	root.AddCommand(NewConfigCmd())
	return root
}
