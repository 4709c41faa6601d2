package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"dbquery/internal/copilot"
	"dbquery/internal/logging"
)

// These variables will be set by main package
var (
	LaunchTUI   func(svc *copilot.Service, logger *zap.Logger, demo bool)
	StartServer func(svc *copilot.Service, port int, logger *zap.Logger) error
)

// InitService sets up logging and opens the copilot service for dataDir.
// console tees log output to stderr; leave it off when the TUI owns the terminal.
func InitService(ctx context.Context, console bool) (*copilot.Service, *zap.Logger, func(), error) {
	logger, err := logging.Setup(dataDir, logging.Options{Console: console && verbose})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	svc, err := copilot.New(ctx, copilot.Options{
		DataDir:      dataDir,
		SettingsPath: configPath,
		Logger:       logger,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Failed to close service", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return svc, logger, cleanup, nil
}

// mustService is InitService for one-shot commands
func mustService(ctx context.Context) (*copilot.Service, func()) {
	svc, _, cleanup, err := InitService(ctx, true)
	if err != nil {
		HandleError(err, "Failed to initialize")
	}
	return svc, cleanup
}

// HandleError prints error and exits
func HandleError(err error, message string) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", message, err)
	os.Exit(1)
}

// printJSON writes v as indented JSON to stdout
func printJSON(v any) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		HandleError(err, "Failed to encode JSON")
	}
	fmt.Println(string(output))
}

func jsonEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}
