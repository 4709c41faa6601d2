package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var demoScriptCmd = &cobra.Command{
	Use:   "demo-script",
	Short: "Print the guided demo walkthrough",
	Run: func(cmd *cobra.Command, args []string) {
		svc, cleanup := mustService(context.Background())
		defer cleanup()
		fmt.Print(svc.DemoScript())
	},
}

func init() {
	rootCmd.AddCommand(demoScriptCmd)
}
