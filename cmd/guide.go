// Copyright © 2024 The zs-debug-adapter authors

package cmd

import (
	"fmt"

	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/warmthdawn/zs-debug-adapter/docs"
)

var guideWidth int

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Show the debugging guide",
	Long: `Print the guide to attaching an editor to a game and debugging its
scripts, including the launch.json attach fields and the expressions the
debug console understands.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), renderGuide(guideWidth))
	},
}

func init() {
	rootCmd.AddCommand(guideCmd)

	guideCmd.Flags().IntVar(&guideWidth, "width", 80,
		"Wrap the guide at this many columns (0 disables wrapping)")
}

func renderGuide(width int) string {
	if width <= 0 {
		return docs.DebuggingGuide
	}
	return wordwrap.String(docs.DebuggingGuide, width)
}
