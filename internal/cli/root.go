package cli

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X ...cli.version=...".
var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "onvotar",
	Short: "WhatsApp responder for polling-place lookups",
	Long: `onvotar answers WhatsApp messages carrying a DNI, birth date and postal
code with the voter's polling place, district, section and table.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file first")
}

// Execute runs the root command with ctx, which should be cancelled on
// shutdown signals.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
