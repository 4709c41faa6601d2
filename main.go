package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"dbquery/cmd"
	"dbquery/internal/copilot"
)

// renderMarkdown renders markdown content with glamour for beautiful display
func renderMarkdown(content string, width int) (string, error) {
	// Account for borders, padding, and glamour's internal gutter
	const glamourGutter = 2
	const borderWidth = 4 // 2 for border characters, 2 for padding

	renderWidth := width - borderWidth - glamourGutter
	if renderWidth < 40 {
		renderWidth = 40 // Minimum width for readable content
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(renderWidth),
	)
	if err != nil {
		return "", err
	}

	rendered, err := renderer.Render(content)
	if err != nil {
		return "", err
	}

	return rendered, nil
}

// launchTUI starts the interactive TUI application
func launchTUI(svc *copilot.Service, logger *zap.Logger, demo bool) {
	sess := svc.Sessions().New()
	svc.SetDemoMode(sess, demo)

	settings := svc.Settings()
	fmt.Println("\n📊 DBQuery Configuration:")
	fmt.Printf("   • Data directory: %s\n", svc.DataDir())
	if settings.LLM.APIKey != "" {
		fmt.Printf("   • LLM: ✓ %s\n", settings.LLM.Provider)
	} else {
		fmt.Println("   • LLM: ✗ Not configured (demo generator only)")
	}
	if settings.Databricks.SQLWarehouseReady() || settings.Databricks.JobsReady() {
		fmt.Println("   • Databricks: ✓ Configured")
	} else {
		fmt.Println("   • Databricks: ✗ Not configured (demo warehouse only)")
	}
	fmt.Println()

	p := tea.NewProgram(
		initialModel(svc, sess, logger),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		logger.Error("TUI failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	// Set up cmd package callbacks
	cmd.LaunchTUI = launchTUI
	cmd.StartServer = StartServer

	// Execute the CLI
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
