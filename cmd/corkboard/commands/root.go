package commands

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nwhit/corkboard/internal/config"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "corkboard",
	Short: "Corkboard - collaborative planning board sync",
	Long: `Corkboard keeps a shared planning board of notes, images, and text
labels consistent across sessions and machines.

Edits apply locally first and reconcile with the remote document store in
the background, so the board stays fully usable offline. Conflicting edits
resolve by last-writer-wins on per-item timestamps.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Optional .env for local overrides; absence is not an error.
	godotenv.Load()
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to corkboard.yml")
}

// loadConfig loads the configuration named by --config with a friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf(`corkboard.yml not found or invalid

Initialize your project first:
  corkboard init

Then retry.

Error details: %w`, err)
	}
	return cfg, nil
}
