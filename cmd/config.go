package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dbquery/internal/config"
)

var adminPassword string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage the settings cockpit",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings with secrets masked",
	Run: func(cmd *cobra.Command, args []string) {
		svc, cleanup := mustService(context.Background())
		defer cleanup()
		printJSON(svc.Settings())
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write the effective settings (file plus environment) to the settings file",
	Long: `Write the effective settings, including values picked up from environment
variables and .env, to the settings file. When an admin password is
configured, pass it with --password.`,
	Run: func(cmd *cobra.Command, args []string) {
		svc, cleanup := mustService(context.Background())
		defer cleanup()

		sess := svc.Sessions().New()
		if err := svc.UnlockAdmin(sess, adminPassword); err != nil {
			HandleError(err, "Failed to unlock settings")
		}
		path, err := svc.SaveSettings(sess)
		if err != nil {
			HandleError(err, "Failed to save settings")
		}
		fmt.Printf("Settings saved to %s\n", path)
	},
}

var configHashCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print the bcrypt hash to use as admin_password_hash",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		hash, err := config.HashPassword(args[0])
		if err != nil {
			HandleError(err, "Failed to hash password")
		}
		fmt.Println(hash)
	},
}

var configTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the Databricks SQL warehouse connection",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		svc, cleanup := mustService(ctx)
		defer cleanup()

		msg, err := svc.TestConnection(ctx)
		if err != nil {
			HandleError(err, "Connection failed")
		}
		fmt.Println(msg)
	},
}

func init() {
	configSaveCmd.Flags().StringVar(&adminPassword, "password", "", "Admin password")
	configCmd.AddCommand(configShowCmd, configSaveCmd, configHashCmd, configTestCmd)
	rootCmd.AddCommand(configCmd)
}
