package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var (
	port     int
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		Long: `Start the HTTP web server.

The web server provides the browser console (prompt, review, result canvas,
pinned insights and the settings cockpit) and the JSON API used by it.`,
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&port, "port", "p", 3000, "Port to run the server on")
}

func runServe() {
	svc, logger, cleanup, err := InitService(context.Background(), true)
	if err != nil {
		HandleError(err, "Failed to initialize")
	}
	defer cleanup()

	fmt.Printf("Starting DBQuery web server...\n")
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Printf("Port: %d\n\n", port)

	if err := StartServer(svc, port, logger); err != nil {
		log.Fatalf("Server failed: %v\n", err)
	}
}
